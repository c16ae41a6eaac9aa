package sql

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"truckboard/backend/internal/domain"
	"truckboard/backend/internal/storage"
)

// processedMessage 已处理邮件 ID 表模型，只插入不删除。
type processedMessage struct {
	ID          string    `gorm:"primaryKey;type:varchar(191)"`
	ProcessedAt time.Time `gorm:"index"`
}

// Store SQL 数据库存储实现（支持 MySQL 5.7+ 和 PostgreSQL）
type Store struct {
	db         *sql.DB
	gormDB     *gorm.DB // GORM 实例，仅用于迁移
	driverName string   // "mysql" or "postgres"
}

// NewStore 创建 SQL 数据库存储
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var gormDB *gorm.DB
	if driverName == "mysql" {
		gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: db}), gormConfig)
	} else {
		gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: db}), gormConfig)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	store := &Store{
		db:         db,
		gormDB:     gormDB,
		driverName: driverName,
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func (s *Store) Health() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.Ping()
}

// migrate 执行数据库迁移（使用 GORM AutoMigrate）
func (s *Store) migrate() error {
	if s.gormDB == nil {
		return nil
	}

	return s.gormDB.AutoMigrate(
		&domain.Message{},
		&domain.AvailabilityRecord{},
		&processedMessage{},
	)
}

// placeholder 根据数据库类型返回占位符
func (s *Store) placeholder(n int) string {
	if s.driverName == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// SaveMessage 保存邮件，同一 ID 重复保存返回 ErrMessageExists。
func (s *Store) SaveMessage(message *domain.Message) error {
	var exists int
	query := fmt.Sprintf("SELECT COUNT(1) FROM messages WHERE id = %s", s.placeholder(1))
	if err := s.db.QueryRow(query, message.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check message existence: %w", err)
	}
	if exists > 0 {
		return storage.ErrMessageExists
	}

	insert := fmt.Sprintf(`INSERT INTO messages
		(id, subject, from_name, from_address, body, body_text, received_at, created_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4),
		s.placeholder(5), s.placeholder(6), s.placeholder(7), s.placeholder(8))

	_, err := s.db.Exec(insert,
		message.ID, message.Subject, message.FromName, message.FromAddress,
		message.Body, message.BodyText, message.ReceivedAt, message.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage 根据 ID 获取邮件。
func (s *Store) GetMessage(id string) (*domain.Message, error) {
	query := fmt.Sprintf(`SELECT id, subject, from_name, from_address, body, body_text, received_at, created_at
		FROM messages WHERE id = %s`, s.placeholder(1))

	var m domain.Message
	err := s.db.QueryRow(query, id).Scan(
		&m.ID, &m.Subject, &m.FromName, &m.FromAddress,
		&m.Body, &m.BodyText, &m.ReceivedAt, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query message: %w", err)
	}
	return &m, nil
}

// ListMessages 列出全部邮件，按接收时间升序。
func (s *Store) ListMessages() ([]domain.Message, error) {
	rows, err := s.db.Query(`SELECT id, subject, from_name, from_address, body, body_text, received_at, created_at
		FROM messages ORDER BY received_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.Subject, &m.FromName, &m.FromAddress,
			&m.Body, &m.BodyText, &m.ReceivedAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkProcessed 将邮件 ID 加入已处理集合（重复插入是空操作）。
func (s *Store) MarkProcessed(id string, at time.Time) error {
	var insert string
	if s.driverName == "postgres" {
		insert = fmt.Sprintf(`INSERT INTO processed_messages (id, processed_at) VALUES (%s, %s)
			ON CONFLICT (id) DO NOTHING`, s.placeholder(1), s.placeholder(2))
	} else {
		insert = "INSERT IGNORE INTO processed_messages (id, processed_at) VALUES (?, ?)"
	}

	if _, err := s.db.Exec(insert, id, at); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// IsProcessed 判断邮件 ID 是否已处理。
func (s *Store) IsProcessed(id string) (bool, error) {
	var count int
	query := fmt.Sprintf("SELECT COUNT(1) FROM processed_messages WHERE id = %s", s.placeholder(1))
	if err := s.db.QueryRow(query, id).Scan(&count); err != nil {
		return false, fmt.Errorf("check processed: %w", err)
	}
	return count > 0, nil
}

// SaveRecords 批量保存车源记录（单事务）。
func (s *Store) SaveRecords(records []domain.AvailabilityRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.insertRecordsTx(tx, records); err != nil {
		return err
	}
	return tx.Commit()
}

// insertRecordsTx 在事务内批量插入记录。
func (s *Store) insertRecordsTx(tx *sql.Tx, records []domain.AvailabilityRecord) error {
	insert := fmt.Sprintf(`INSERT INTO availability_records
		(id, message_id, customer_name, customer_email, date, city, state, additional_info, seq, received_at, created_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4),
		s.placeholder(5), s.placeholder(6), s.placeholder(7), s.placeholder(8),
		s.placeholder(9), s.placeholder(10), s.placeholder(11))

	for _, r := range records {
		if _, err := tx.Exec(insert,
			r.ID, r.MessageID, r.CustomerName, r.CustomerEmail,
			r.Date, r.City, r.State, r.AdditionalInfo, r.Seq,
			r.ReceivedAt, r.CreatedAt); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	}
	return nil
}

// ListActiveRecords 列出当前全部有效记录。
func (s *Store) ListActiveRecords() ([]domain.AvailabilityRecord, error) {
	rows, err := s.db.Query(`SELECT id, message_id, customer_name, customer_email, date, city, state, additional_info, seq, received_at, created_at
		FROM availability_records ORDER BY received_at ASC, seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListRecordsBySender 列出指定身份的全部有效记录。
func (s *Store) ListRecordsBySender(address string) ([]domain.AvailabilityRecord, error) {
	query := fmt.Sprintf(`SELECT id, message_id, customer_name, customer_email, date, city, state, additional_info, seq, received_at, created_at
		FROM availability_records WHERE customer_email = %s ORDER BY seq ASC`, s.placeholder(1))

	rows, err := s.db.Query(query, address)
	if err != nil {
		return nil, fmt.Errorf("query records by sender: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// LatestMessageTime 返回指定身份已入库邮件的最新接收时间。
func (s *Store) LatestMessageTime(address string) (time.Time, error) {
	query := fmt.Sprintf("SELECT MAX(received_at) FROM messages WHERE LOWER(from_address) = %s", s.placeholder(1))

	var latest sql.NullTime
	if err := s.db.QueryRow(query, address).Scan(&latest); err != nil {
		return time.Time{}, fmt.Errorf("query latest message time: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, nil
	}
	return latest.Time, nil
}

// DeleteSenderDataBefore 删除指定身份在 before 之前的邮件与派生记录（单事务）。
func (s *Store) DeleteSenderDataBefore(address string, before time.Time) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	removed, err := s.deleteSenderDataTx(tx, address, before)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return removed, nil
}

// ReplaceSenderData 在单事务内删除指定身份更旧的数据并插入新邮件与记录。
//
// 事务保证覆盖操作要么整体生效要么整体回滚，
// 删除成功后的插入失败不会留下"旧数据已删、新数据未入"的中间态。
func (s *Store) ReplaceSenderData(address string, message *domain.Message, records []domain.AvailabilityRecord) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	check := fmt.Sprintf("SELECT COUNT(1) FROM messages WHERE id = %s", s.placeholder(1))
	if err := tx.QueryRow(check, message.ID).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check message existence: %w", err)
	}
	if exists > 0 {
		return 0, storage.ErrMessageExists
	}

	removed, err := s.deleteSenderDataTx(tx, address, message.ReceivedAt)
	if err != nil {
		return 0, err
	}

	insert := fmt.Sprintf(`INSERT INTO messages
		(id, subject, from_name, from_address, body, body_text, received_at, created_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4),
		s.placeholder(5), s.placeholder(6), s.placeholder(7), s.placeholder(8))
	if _, err := tx.Exec(insert,
		message.ID, message.Subject, message.FromName, message.FromAddress,
		message.Body, message.BodyText, message.ReceivedAt, message.CreatedAt); err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}

	if err := s.insertRecordsTx(tx, records); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return removed, nil
}

// deleteSenderDataTx 在事务内删除指定身份更旧的邮件与派生记录。
func (s *Store) deleteSenderDataTx(tx *sql.Tx, address string, before time.Time) (int, error) {
	deleteRecords := fmt.Sprintf(`DELETE FROM availability_records WHERE message_id IN
		(SELECT id FROM (SELECT id FROM messages WHERE LOWER(from_address) = %s AND received_at < %s) AS doomed)`,
		s.placeholder(1), s.placeholder(2))

	result, err := tx.Exec(deleteRecords, address, before)
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	removed, _ := result.RowsAffected()

	deleteMessages := fmt.Sprintf("DELETE FROM messages WHERE LOWER(from_address) = %s AND received_at < %s",
		s.placeholder(1), s.placeholder(2))
	if _, err := tx.Exec(deleteMessages, address, before); err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return int(removed), nil
}

// scanRecords 扫描记录查询结果集。
func scanRecords(rows *sql.Rows) ([]domain.AvailabilityRecord, error) {
	var out []domain.AvailabilityRecord
	for rows.Next() {
		var r domain.AvailabilityRecord
		if err := rows.Scan(&r.ID, &r.MessageID, &r.CustomerName, &r.CustomerEmail,
			&r.Date, &r.City, &r.State, &r.AdditionalInfo, &r.Seq,
			&r.ReceivedAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

package storage

import (
	"errors"
	"time"

	"truckboard/backend/internal/domain"
)

var (
	// ErrMessageNotFound 邮件未找到错误
	ErrMessageNotFound = errors.New("message not found")
	// ErrMessageExists 邮件已存在错误（同一服务商 ID 重复入库）
	ErrMessageExists = errors.New("message already exists")
)

// MessageRepository 定义邮件数据存取操作。
type MessageRepository interface {
	SaveMessage(message *domain.Message) error
	GetMessage(id string) (*domain.Message, error)
	ListMessages() ([]domain.Message, error)
}

// ProcessedRepository 定义已处理邮件 ID 集合的存取操作。
//
// 集合只增不减：邮件被更新的邮件覆盖删除后其 ID 仍保留在集合中，
// 服务商重投同一 ID 是幂等空操作。
type ProcessedRepository interface {
	MarkProcessed(id string, at time.Time) error
	IsProcessed(id string) (bool, error)
}

// RecordRepository 定义车源记录数据存取操作。
type RecordRepository interface {
	SaveRecords(records []domain.AvailabilityRecord) error
	ListActiveRecords() ([]domain.AvailabilityRecord, error)
	ListRecordsBySender(address string) ([]domain.AvailabilityRecord, error)
	// LatestMessageTime 返回指定身份已入库邮件的最新接收时间，
	// 无数据时返回零值时间且不报错。
	LatestMessageTime(address string) (time.Time, error)
	// DeleteSenderDataBefore 删除指定身份在 before 之前收到的全部邮件
	// 及其派生记录，返回删除的记录数。邮件与记录作为整体一起失效。
	DeleteSenderDataBefore(address string, before time.Time) (int, error)
	// ReplaceSenderData 原子地删除指定身份在 message.ReceivedAt 之前的
	// 邮件与派生记录，并插入新邮件及其记录，返回删除的记录数。
	// 任一步失败时整体中止，旧数据保持原样（不产生部分写入）。
	ReplaceSenderData(address string, message *domain.Message, records []domain.AvailabilityRecord) (int, error)
}

// Store 定义完整的存储接口。
type Store interface {
	MessageRepository
	ProcessedRepository
	RecordRepository

	// 工具方法
	Close() error
	Health() error
}

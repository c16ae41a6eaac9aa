package memory

import (
	"sort"
	"sync"
	"time"

	"truckboard/backend/internal/domain"
	"truckboard/backend/internal/storage"
)

// Store 使用内存保存邮件与车源记录，主要用于开发验证与测试。
type Store struct {
	mu        sync.RWMutex
	messages  map[string]*domain.Message                       // messageID -> message
	processed map[string]time.Time                             // 只增不减的已处理 ID 集合
	records   map[string]*domain.AvailabilityRecord            // recordID -> record
	bySender  map[string]map[string]*domain.AvailabilityRecord // address -> recordID -> record
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		messages:  make(map[string]*domain.Message),
		processed: make(map[string]time.Time),
		records:   make(map[string]*domain.AvailabilityRecord),
		bySender:  make(map[string]map[string]*domain.AvailabilityRecord),
	}
}

// SaveMessage 保存邮件，同一 ID 重复保存返回 ErrMessageExists。
func (s *Store) SaveMessage(message *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[message.ID]; ok {
		return storage.ErrMessageExists
	}

	cloned := *message
	s.messages[message.ID] = &cloned
	return nil
}

// GetMessage 根据 ID 获取邮件。
func (s *Store) GetMessage(id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	message, ok := s.messages[id]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}
	cloned := *message
	return &cloned, nil
}

// MarkProcessed 将邮件 ID 加入已处理集合。
func (s *Store) MarkProcessed(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processed[id]; !ok {
		s.processed[id] = at
	}
	return nil
}

// IsProcessed 判断邮件 ID 是否已处理。
func (s *Store) IsProcessed(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.processed[id]
	return ok, nil
}

// ListMessages 列出全部邮件，按接收时间升序。
func (s *Store) ListMessages() ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

// SaveRecords 批量保存车源记录。
func (s *Store) SaveRecords(records []domain.AvailabilityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saveRecordsLocked(records)
	return nil
}

// saveRecordsLocked 在持有写锁的前提下保存记录。
func (s *Store) saveRecordsLocked(records []domain.AvailabilityRecord) {
	for i := range records {
		record := records[i]
		s.records[record.ID] = &record
		bucket, ok := s.bySender[record.CustomerEmail]
		if !ok {
			bucket = make(map[string]*domain.AvailabilityRecord)
			s.bySender[record.CustomerEmail] = bucket
		}
		bucket[record.ID] = &record
	}
}

// ListActiveRecords 列出当前全部有效记录。
func (s *Store) ListActiveRecords() ([]domain.AvailabilityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AvailabilityRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MessageID != out[j].MessageID {
			return out[i].MessageID < out[j].MessageID
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

// ListRecordsBySender 列出指定身份的全部有效记录。
func (s *Store) ListRecordsBySender(address string) ([]domain.AvailabilityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket := s.bySender[address]
	out := make([]domain.AvailabilityRecord, 0, len(bucket))
	for _, r := range bucket {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// LatestMessageTime 返回指定身份已入库邮件的最新接收时间。
func (s *Store) LatestMessageTime(address string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest time.Time
	for _, m := range s.messages {
		if domain.NormalizeAddress(m.FromAddress) == address && m.ReceivedAt.After(latest) {
			latest = m.ReceivedAt
		}
	}
	return latest, nil
}

// DeleteSenderDataBefore 删除指定身份在 before 之前的邮件与派生记录。
func (s *Store) DeleteSenderDataBefore(address string, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deleteSenderDataLocked(address, before), nil
}

// ReplaceSenderData 原子地用新邮件及其记录替换指定身份更旧的数据。
//
// 校验在任何改动之前完成，其后的内存操作不会失败，
// 整个替换在一次写锁内完成，等价于单事务。
func (s *Store) ReplaceSenderData(address string, message *domain.Message, records []domain.AvailabilityRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[message.ID]; ok {
		return 0, storage.ErrMessageExists
	}

	removed := s.deleteSenderDataLocked(address, message.ReceivedAt)

	cloned := *message
	s.messages[message.ID] = &cloned
	s.saveRecordsLocked(records)
	return removed, nil
}

// deleteSenderDataLocked 在持有写锁的前提下删除指定身份更旧的数据。
func (s *Store) deleteSenderDataLocked(address string, before time.Time) int {
	// 找出要删除的邮件
	doomed := make(map[string]bool)
	for id, m := range s.messages {
		if domain.NormalizeAddress(m.FromAddress) == address && m.ReceivedAt.Before(before) {
			doomed[id] = true
		}
	}

	// 删除这些邮件派生的全部记录
	removed := 0
	for id, r := range s.records {
		if doomed[r.MessageID] {
			delete(s.records, id)
			if bucket, ok := s.bySender[r.CustomerEmail]; ok {
				delete(bucket, id)
				if len(bucket) == 0 {
					delete(s.bySender, r.CustomerEmail)
				}
			}
			removed++
		}
	}

	for id := range doomed {
		delete(s.messages, id)
	}

	return removed
}

// Close 关闭存储（内存实现为空操作）。
func (s *Store) Close() error { return nil }

// Health 存储健康检查（内存实现恒为健康）。
func (s *Store) Health() error { return nil }

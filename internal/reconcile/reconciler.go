package reconcile

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"truckboard/backend/internal/domain"
	"truckboard/backend/internal/storage"
)

// Store 定义对账所需的存储操作子集。
type Store interface {
	storage.MessageRepository
	storage.RecordRepository
}

// Result 表示一次对账的结论。
type Result struct {
	// Applied 新邮件是否入账
	Applied bool
	// Superseded 被覆盖删除的旧记录数
	Superseded int
	// Records 入账的记录（未入账时为空）
	Records []domain.AvailabilityRecord
}

// Reconciler 执行"最新邮件覆盖"规则。
//
// 同一客户身份的 读取-比较-删除-插入 序列必须串行化，
// 否则并发更新下旧邮件可能在竞态中幸存；不同身份互不阻塞。
// 实现为按身份键分片的互斥锁。
type Reconciler struct {
	store Store
	log   *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // 身份键 -> 锁
}

// New 创建对账器。
func New(store Store, log *zap.Logger) *Reconciler {
	return &Reconciler{
		store: store,
		log:   log,
		locks: make(map[string]*sync.Mutex),
	}
}

// identityLock 返回指定身份的互斥锁，不存在则创建。
//
// 锁条目不回收：身份数量与客户数同量级，常驻成本可忽略。
func (r *Reconciler) identityLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	return lock
}

// Apply 对一封新邮件及其候选记录执行覆盖规则。
//
// 已存在时间戳且新邮件不严格更新时整体丢弃（no-op）；
// 否则通过存储层的原子替换删除该身份下更旧的邮件与记录，
// 再插入新邮件与新记录。存储失败时中止且不产生部分写入。
func (r *Reconciler) Apply(identity domain.CustomerIdentity, msg *domain.Message, candidates []domain.AvailabilityRecord) (Result, error) {
	key := identity.Key()
	lock := r.identityLock(key)
	lock.Lock()
	defer lock.Unlock()

	latest, err := r.store.LatestMessageTime(key)
	if err != nil {
		return Result{}, fmt.Errorf("read latest message time: %w", err)
	}

	// 最新邮件覆盖，而不是合并：不严格更新的邮件整体丢弃
	if !latest.IsZero() && !msg.ReceivedAt.After(latest) {
		r.log.Info("stale message discarded",
			zap.String("identity", key),
			zap.String("message_id", msg.ID),
			zap.Time("message_time", msg.ReceivedAt),
			zap.Time("latest_stored", latest))
		return Result{Applied: false}, nil
	}

	// 删旧与插新必须是同一个存储原子操作：插入失败时
	// 旧数据不得已被删除，中止后该身份保持替换前的状态。
	superseded, err := r.store.ReplaceSenderData(key, msg, candidates)
	if err != nil {
		return Result{}, fmt.Errorf("replace sender data: %w", err)
	}

	r.log.Info("identity reconciled",
		zap.String("identity", key),
		zap.String("message_id", msg.ID),
		zap.Int("records", len(candidates)),
		zap.Int("superseded", superseded))

	return Result{Applied: true, Superseded: superseded, Records: candidates}, nil
}

// Stale 报告给定时间戳的邮件对该身份是否已过期（仅查询，不加锁）。
func (r *Reconciler) Stale(identity domain.CustomerIdentity, receivedAt time.Time) (bool, error) {
	latest, err := r.store.LatestMessageTime(identity.Key())
	if err != nil {
		return false, err
	}
	return !latest.IsZero() && !receivedAt.After(latest), nil
}

package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"truckboard/backend/internal/domain"
	"truckboard/backend/internal/mail"
	"truckboard/backend/internal/monitoring"
	"truckboard/backend/internal/pool"
	"truckboard/backend/internal/reconcile"
	"truckboard/backend/internal/storage"
)

// initialLookback 首个周期回看的时间窗口
const initialLookback = 24 * time.Hour

// Normalizer 定义抽取规范化引擎接口。
type Normalizer interface {
	Process(ctx context.Context, msg *domain.Message) (domain.ExtractionOutcome, []domain.AvailabilityRecord)
}

// Reconciler 定义身份对账接口。
type Reconciler interface {
	Apply(identity domain.CustomerIdentity, msg *domain.Message, candidates []domain.AvailabilityRecord) (reconcile.Result, error)
}

// Notifier 定义轮询器对分发中心的通知接口。
type Notifier interface {
	// Token 返回最近提交且未过期的委托凭证
	Token(now time.Time) (string, bool)
	ClientCount() int
	SetLastCheck(t time.Time, processedDelta int64)
	NotifyNewEmail(msg *domain.Message, outcome domain.ExtractionOutcome, records []domain.AvailabilityRecord)
	NotifyError(message string)
	Broadcast(evt domain.Event)
}

// Poller 变更检测轮询器。
//
// 固定间隔向邮箱服务商查询上次成功检查之后的新邮件，
// 逐封送入规范化引擎与对账器，并把结果通知分发中心。
// 周期重叠时新的 tick 被跳过而不是排队（single-flight）。
type Poller struct {
	source     mail.Source
	normalizer Normalizer
	reconciler Reconciler
	notifier   Notifier
	store      storage.Store
	workers    *pool.WorkerPool
	metrics    *monitoring.Metrics
	log        *zap.Logger

	interval time.Duration
	pageSize int

	// inFlight 保证同一时刻至多一个检查周期在运行
	inFlight sync.Mutex
	force    chan struct{}

	// since 上次成功检查的查询水位
	sinceMu sync.Mutex
	since   time.Time

	// failures 连续失败周期数，供告警规则读取
	failures atomic.Int64
	now      func() time.Time
}

// New 创建轮询器。
func New(
	source mail.Source,
	normalizer Normalizer,
	reconciler Reconciler,
	notifier Notifier,
	store storage.Store,
	workers *pool.WorkerPool,
	metrics *monitoring.Metrics,
	log *zap.Logger,
	interval time.Duration,
	pageSize int,
) *Poller {
	return &Poller{
		source:     source,
		normalizer: normalizer,
		reconciler: reconciler,
		notifier:   notifier,
		store:      store,
		workers:    workers,
		metrics:    metrics,
		log:        log,
		interval:   interval,
		pageSize:   pageSize,
		force:      make(chan struct{}, 1),
		now:        time.Now,
	}
}

// Run 启动轮询循环，ctx 取消时退出。
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info("poller started", zap.Duration("interval", p.interval))

	for {
		select {
		case <-ctx.Done():
			p.log.Info("poller stopped")
			return
		case <-ticker.C:
			p.runCycle(ctx)
		case <-p.force:
			p.runCycle(ctx)
		}
	}
}

// Force 请求立即执行一次检查，受 single-flight 规则约束。
func (p *Poller) Force() {
	select {
	case p.force <- struct{}{}:
	default:
		// 已有待执行的手动触发
	}
}

// ConsecutiveFailures 返回连续失败的周期数（告警规则用）。
func (p *Poller) ConsecutiveFailures() int64 {
	return p.failures.Load()
}

// runCycle 执行一个检查周期。
//
// 已有周期在运行时直接跳过（不排队、不中止运行中的周期）。
func (p *Poller) runCycle(ctx context.Context) {
	if !p.inFlight.TryLock() {
		p.log.Debug("check already in progress, tick skipped")
		if p.metrics != nil {
			p.metrics.PollSkippedTotal.Inc()
		}
		return
	}
	defer p.inFlight.Unlock()

	if p.metrics != nil {
		p.metrics.PollCyclesTotal.Inc()
	}

	now := p.now()

	// 凭证缺失或过期：跳过本周期并发出警告，不是致命错误
	token, ok := p.notifier.Token(now)
	if !ok {
		p.log.Warn("no valid delegated credential, cycle skipped")
		p.notifier.NotifyError("no valid access token available; mailbox check skipped")
		return
	}

	since := p.currentSince(now)
	messages, err := p.source.FetchSince(ctx, token, since, p.pageSize)
	if err != nil {
		// 瞬时失败只经下一个自然周期重试，从不原地忙重试
		failures := p.failures.Add(1)
		p.log.Error("mailbox fetch failed",
			zap.Error(err),
			zap.Int64("consecutive_failures", failures))
		p.notifier.NotifyError("mailbox check failed: " + err.Error())
		return
	}

	processed := p.processMessages(ctx, messages)

	p.failures.Store(0)
	p.setSince(now)
	p.notifier.SetLastCheck(now, processed)

	// 空结果也要上报："已检查，无新内容" 心跳
	p.notifier.Broadcast(domain.NewEvent(domain.EventHeartbeat, domain.HeartbeatData{
		Timestamp:   p.now().UTC().Format(time.RFC3339),
		LastCheck:   now.UTC().Format(time.RFC3339),
		ClientCount: p.notifier.ClientCount(),
	}))

	p.log.Info("check cycle completed",
		zap.Int("fetched", len(messages)),
		zap.Int64("processed", processed))
}

// processMessages 处理一批邮件，返回实际处理（非跳过）的数量。
//
// 不同邮件经协程池并发处理；同一身份的入账由对账器串行化。
func (p *Poller) processMessages(ctx context.Context, messages []domain.Message) int64 {
	var processed atomic.Int64
	var wg sync.WaitGroup

	for i := range messages {
		msg := messages[i]

		seen, err := p.store.IsProcessed(msg.ID)
		if err != nil {
			p.log.Error("processed check failed", zap.String("message_id", msg.ID), zap.Error(err))
			continue
		}
		if seen {
			// 服务商重投已知 ID：幂等空操作
			continue
		}

		wg.Add(1)
		task := func() {
			defer wg.Done()
			if p.processOne(ctx, &msg) {
				processed.Add(1)
			}
		}
		if p.workers != nil {
			p.workers.Submit(task)
		} else {
			task()
		}
	}

	wg.Wait()
	return processed.Load()
}

// processOne 处理单封邮件：规范化 → 对账 → 通知。
//
// 对账失败时不标记已处理，邮件在下一周期仍视为未见并自然重试；
// 标记已处理发生在入账（或过期丢弃）之后，避免已见但未入库的丢失窗口。
func (p *Poller) processOne(ctx context.Context, msg *domain.Message) bool {
	outcome, candidates := p.normalizer.Process(ctx, msg)
	if p.metrics != nil {
		p.metrics.ExtractionTierTotal.WithLabelValues(string(outcome.Tier)).Inc()
	}

	result, err := p.reconciler.Apply(msg.Identity(), msg, candidates)
	if err != nil {
		p.log.Error("reconciliation failed, will retry next cycle",
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return false
	}

	if err := p.store.MarkProcessed(msg.ID, p.now()); err != nil {
		p.log.Error("failed to mark message processed", zap.String("message_id", msg.ID), zap.Error(err))
	}

	if !result.Applied {
		// 过期邮件被整体丢弃，无需通知
		return true
	}

	if p.metrics != nil {
		p.metrics.MessagesProcessed.Inc()
		p.metrics.RecordsReconciled.Add(float64(len(result.Records)))
	}

	p.notifier.NotifyNewEmail(msg, outcome, result.Records)
	return true
}

// Ingest 处理一封绕过邮箱轮询直接送达的邮件（SMTP 直收路径）。
//
// 与轮询路径共用同一套幂等、规范化与对账逻辑。
func (p *Poller) Ingest(ctx context.Context, msg *domain.Message) {
	seen, err := p.store.IsProcessed(msg.ID)
	if err != nil {
		p.log.Error("processed check failed", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	if seen {
		return
	}

	if p.processOne(ctx, msg) {
		p.notifier.SetLastCheck(p.now(), 1)
	}
}

// currentSince 返回本周期的查询水位。
func (p *Poller) currentSince(now time.Time) time.Time {
	p.sinceMu.Lock()
	defer p.sinceMu.Unlock()

	if p.since.IsZero() {
		return now.Add(-initialLookback)
	}
	return p.since
}

// setSince 推进查询水位到本次成功检查的开始时间。
func (p *Poller) setSince(t time.Time) {
	p.sinceMu.Lock()
	defer p.sinceMu.Unlock()
	p.since = t
}

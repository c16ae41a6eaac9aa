package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"truckboard/backend/internal/domain"
	"truckboard/backend/internal/monitoring"
)

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}

			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				// 没有 Origin 视为同源请求
				return true
			}

			for _, origin := range allowedOrigins {
				if requestOrigin == origin {
					return true
				}
			}
			return false
		},
	}
}

// credential 客户端委托的访问凭证
type credential struct {
	token     string
	expiresAt time.Time
}

// Hub 分发中心：维护订阅会话注册表并向全部在线会话广播类型化事件。
//
// 支持多生产者并发发布（轮询器、存储变更监视器、/notify 端点）；
// 每次广播对会话集合取一致快照，广播期间的注册/注销不会崩溃
// 或重复投递；单个会话的发送失败不影响其余会话，失效会话立即剔除。
type Hub struct {
	sessions   map[string]*Session
	register   chan *Session
	unregister chan *Session
	broadcast  chan []byte
	mu         sync.RWMutex

	log            *zap.Logger
	metrics        *monitoring.Metrics
	allowedOrigins []string

	// 委托凭证：保留任意会话最近提交的一份，轮询器代为使用
	credMu sync.RWMutex
	cred   credential

	// 最近一次检查时间（心跳载荷）
	stateMu   sync.RWMutex
	lastCheck time.Time
	processed int64

	// forceCheck 由轮询器注入，处理 FORCE_CHECK 指令
	forceMu    sync.RWMutex
	forceCheck func()
}

// NewHub 创建分发中心。
func NewHub(allowedOrigins []string, metrics *monitoring.Metrics, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	return &Hub{
		sessions:       make(map[string]*Session),
		register:       make(chan *Session),
		unregister:     make(chan *Session),
		broadcast:      make(chan []byte, 256),
		log:            log,
		metrics:        metrics,
		allowedOrigins: allowedOrigins,
	}
}

// SetForceCheck 注入 FORCE_CHECK 指令的处理函数（通常是轮询器的手动触发）。
func (h *Hub) SetForceCheck(fn func()) {
	h.forceMu.Lock()
	defer h.forceMu.Unlock()
	h.forceCheck = fn
}

// Run 启动分发循环：注册、注销、广播与周期心跳。
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("distribution hub stopped")
			h.closeAllSessions()
			return

		case session := <-h.register:
			h.mu.Lock()
			h.sessions[session.ID] = session
			count := len(h.sessions)
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.SessionsOpen.Set(float64(count))
			}
			h.log.Info("session registered", zap.String("id", session.ID), zap.Int("open", count))

		case session := <-h.unregister:
			h.drop(session)

		case data := <-h.broadcast:
			h.deliver(data)

		case <-ticker.C:
			h.Broadcast(domain.NewEvent(domain.EventHeartbeat, h.heartbeatData()))
		}
	}
}

// Broadcast 向全部在线会话广播一条类型化事件。
func (h *Hub) Broadcast(evt domain.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.log.Error("failed to marshal event", zap.Error(err))
		return
	}
	h.BroadcastRaw(data)
}

// BroadcastRaw 原样广播一段已编码的 JSON（/notify 端点的逐字转发）。
func (h *Hub) BroadcastRaw(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		// 广播队列满，丢弃并记录；心跳会继续
		h.log.Warn("broadcast queue full, event dropped")
	}
}

// deliver 把一帧数据投递到会话集合的一致快照。
//
// 单个会话投递失败立即剔除该会话，不影响其余投递。
func (h *Hub) deliver(data []byte) {
	h.mu.RLock()
	snapshot := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		snapshot = append(snapshot, s)
	}
	h.mu.RUnlock()

	for _, session := range snapshot {
		if !session.enqueue(data) {
			h.log.Warn("session send failed, pruning", zap.String("id", session.ID))
			h.drop(session)
		}
	}

	if h.metrics != nil {
		h.metrics.BroadcastsTotal.Inc()
	}
}

// drop 将会话从注册表移除并关闭其发送通道（立即剔除，不延迟）。
func (h *Hub) drop(session *Session) {
	h.mu.Lock()
	_, ok := h.sessions[session.ID]
	if ok {
		delete(h.sessions, session.ID)
	}
	count := len(h.sessions)
	h.mu.Unlock()

	if !ok {
		return
	}

	session.close()
	if h.metrics != nil {
		h.metrics.SessionsOpen.Set(float64(count))
	}
	h.log.Info("session unregistered", zap.String("id", session.ID), zap.Int("open", count))
}

// closeAllSessions 关闭全部会话连接。
func (h *Hub) closeAllSessions() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, session := range h.sessions {
		session.close()
	}
	h.sessions = make(map[string]*Session)
}

// ClientCount 返回当前在线会话数。
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// SetLastCheck 记录最近一次轮询检查的完成时间与累计处理数。
func (h *Hub) SetLastCheck(t time.Time, processedDelta int64) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	h.lastCheck = t
	h.processed += processedDelta
}

// LastCheck 返回最近一次检查时间。
func (h *Hub) LastCheck() time.Time {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.lastCheck
}

// heartbeatData 构造心跳载荷。
func (h *Hub) heartbeatData() domain.HeartbeatData {
	h.stateMu.RLock()
	lastCheck := h.lastCheck
	h.stateMu.RUnlock()

	last := ""
	if !lastCheck.IsZero() {
		last = lastCheck.UTC().Format(time.RFC3339)
	}

	return domain.HeartbeatData{
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		LastCheck:   last,
		ClientCount: h.ClientCount(),
	}
}

// StatusData 构造状态载荷（STATUS 事件与 /api/v1/status）。
func (h *Hub) StatusData(monitoring bool) domain.StatusData {
	h.stateMu.RLock()
	lastCheck := h.lastCheck
	processed := h.processed
	h.stateMu.RUnlock()

	last := ""
	if !lastCheck.IsZero() {
		last = lastCheck.UTC().Format(time.RFC3339)
	}

	return domain.StatusData{
		Monitoring:  monitoring,
		LastCheck:   last,
		ClientCount: h.ClientCount(),
		Processed:   processed,
	}
}

// NotifyNewEmail 广播新邮件事件：邮件、抽取结果与入账记录。
func (h *Hub) NotifyNewEmail(msg *domain.Message, outcome domain.ExtractionOutcome, records []domain.AvailabilityRecord) {
	h.Broadcast(domain.NewEvent(domain.EventNewEmail, domain.NewEmailData{
		Email:       *msg,
		AIProcessed: outcome,
		Records:     records,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}))
}

// NotifyError 广播非致命运行错误。
func (h *Hub) NotifyError(message string) {
	h.Broadcast(domain.NewEvent(domain.EventError, domain.ErrorData{Message: message}))
}

// Token 返回最近提交且未过期的委托凭证；没有可用凭证时 ok 为假。
//
// 凭证是共享可续期资源：任一会话提交的最新一份对轮询器可见，
// 会话断开不使凭证失效（直到被更新或过期）。
func (h *Hub) Token(now time.Time) (string, bool) {
	h.credMu.RLock()
	defer h.credMu.RUnlock()

	if h.cred.token == "" || !now.Before(h.cred.expiresAt) {
		return "", false
	}
	return h.cred.token, true
}

// setToken 保存会话提交的委托凭证（总是以最新提交覆盖）。
func (h *Hub) setToken(token string, expiresAt time.Time) {
	h.credMu.Lock()
	defer h.credMu.Unlock()
	h.cred = credential{token: token, expiresAt: expiresAt}
}

// triggerForceCheck 转发 FORCE_CHECK 指令。
func (h *Hub) triggerForceCheck() {
	h.forceMu.RLock()
	fn := h.forceCheck
	h.forceMu.RUnlock()
	if fn != nil {
		fn()
	}
}

// HandleWebSocket 处理 WebSocket 连接升级并接入分发中心。
func HandleWebSocket(h *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(h.allowedOrigins)

	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.log.Error("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		session := &Session{
			ID:   uuid.NewString(),
			conn: conn,
			send: make(chan []byte, 256),
			hub:  h,
			log:  h.log,
		}

		h.register <- session

		// 连接确认只发给新会话，建立后发送一次
		session.sendEvent(domain.NewEvent(domain.EventConnectionStatus, domain.ConnectionStatusData{
			Status:    "connected",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}))

		go session.writePump()
		go session.readPump()
	}
}

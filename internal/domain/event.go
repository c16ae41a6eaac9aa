package domain

import (
	"encoding/json"
	"time"
)

// EventType 定义分发中心与客户端之间的线上事件类型。
type EventType string

const (
	// EventConnectionStatus 连接确认，建立连接时发送一次
	EventConnectionStatus EventType = "CONNECTION_STATUS"
	// EventNewEmail 新邮件及其规范化结果
	EventNewEmail EventType = "NEW_EMAIL"
	// EventHeartbeat 周期心跳，携带最近检查时间与在线会话数
	EventHeartbeat EventType = "HEARTBEAT"
	// EventSetAccessToken 客户端提交委托凭证（入站）
	EventSetAccessToken EventType = "SET_ACCESS_TOKEN"
	// EventForceCheck 客户端请求立即执行一次检查（入站）
	EventForceCheck EventType = "FORCE_CHECK"
	// EventError 非致命运行错误通告
	EventError EventType = "ERROR"
	// EventStatus 监控开关与服务端统计
	EventStatus EventType = "STATUS"
	// EventTokenAck 凭证接收确认，仅发给提交凭证的会话
	EventTokenAck EventType = "TOKEN_ACK"
)

// Event 表示一条类型化的推送消息。
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEvent 构造事件，data 编码失败时退化为空对象载荷。
func NewEvent(typ EventType, data any) Event {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte("{}")
	}
	return Event{Type: typ, Data: raw}
}

// ConnectionStatusData 连接确认载荷。
type ConnectionStatusData struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// NewEmailData 新邮件事件载荷：邮件、抽取结果与入账记录。
type NewEmailData struct {
	Email       Message              `json:"email"`
	AIProcessed ExtractionOutcome    `json:"aiProcessed"`
	Records     []AvailabilityRecord `json:"records"`
	Timestamp   string               `json:"timestamp"`
}

// HeartbeatData 心跳载荷。
type HeartbeatData struct {
	Timestamp   string `json:"timestamp"`
	LastCheck   string `json:"lastCheck"`
	ClientCount int    `json:"clientCount"`
}

// AccessTokenData 委托凭证载荷，token 为不透明字符串。
type AccessTokenData struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"` // epoch 毫秒
}

// Expired 判断凭证是否已过期。
func (d AccessTokenData) Expired(now time.Time) bool {
	return d.Token == "" || now.UnixMilli() >= d.ExpiresAt
}

// ErrorData 错误事件载荷。
type ErrorData struct {
	Message string `json:"message"`
}

// StatusData 状态事件载荷。
type StatusData struct {
	Monitoring  bool   `json:"monitoring"`
	LastCheck   string `json:"lastCheck"`
	ClientCount int    `json:"clientCount"`
	Processed   int64  `json:"processed"`
}

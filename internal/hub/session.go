package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"truckboard/backend/internal/domain"
)

// Session 表示一个订阅会话（一条活跃的 WebSocket 连接）。
//
// 连接建立时创建，断开或不可恢复的传输错误时销毁。
type Session struct {
	ID   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
	log  *zap.Logger

	closeOnce sync.Once
	closed    bool
	closeMu   sync.Mutex
}

// enqueue 把一帧数据放入会话发送队列。
//
// 会话已关闭或队列持续拥塞时返回 false，调用方据此剔除会话。
// closeMu 必须覆盖整个入队动作：关闭检查与通道发送之间不能
// 插入并发的 close，否则会向已关闭的通道发送。入队是非阻塞
// select，持锁不会停顿。
func (s *Session) enqueue(data []byte) bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// close 关闭发送通道（幂等），与在途的 enqueue 互斥。
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.closeMu.Lock()
		defer s.closeMu.Unlock()
		s.closed = true
		close(s.send)
	})
}

// sendEvent 编码并入队一条事件（仅发给本会话）。
func (s *Session) sendEvent(evt domain.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		s.log.Error("failed to marshal session event", zap.Error(err))
		return
	}
	if !s.enqueue(data) {
		s.log.Warn("session queue blocked", zap.String("id", s.ID))
	}
}

// readPump 读取并处理客户端指令，连接断开时注销会话。
func (s *Session) readPump() {
	defer func() {
		s.hub.unregister <- s
		s.conn.Close()
	}()

	s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var evt domain.Event
		if err := s.conn.ReadJSON(&evt); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Error("websocket error", zap.String("id", s.ID), zap.Error(err))
			}
			break
		}
		s.handleEvent(&evt)
	}
}

// writePump 将发送队列中的数据写入连接，并维持 ping。
func (s *Session) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleEvent 处理客户端发来的指令。
func (s *Session) handleEvent(evt *domain.Event) {
	switch evt.Type {
	case domain.EventSetAccessToken:
		var data domain.AccessTokenData
		if err := json.Unmarshal(evt.Data, &data); err != nil || data.Token == "" {
			s.sendEvent(domain.NewEvent(domain.EventError, domain.ErrorData{Message: "invalid access token payload"}))
			return
		}
		s.hub.setToken(data.Token, time.UnixMilli(data.ExpiresAt))
		s.log.Info("delegated credential received",
			zap.String("session", s.ID),
			zap.Time("expires_at", time.UnixMilli(data.ExpiresAt)))
		// 凭证确认只回给提交凭证的会话
		s.sendEvent(domain.NewEvent(domain.EventTokenAck, domain.ConnectionStatusData{
			Status:    "token accepted",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}))

	case domain.EventForceCheck:
		s.log.Info("force check requested", zap.String("session", s.ID))
		s.hub.triggerForceCheck()

	default:
		s.log.Warn("unknown event type", zap.String("type", string(evt.Type)))
	}
}

package smtpsource

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"truckboard/backend/internal/domain"
	mailsrc "truckboard/backend/internal/mail"
)

// maxMessageSize 单封邮件大小上限
const maxMessageSize = 10 << 20 // 10MB

// Sink 接收解析后的邮件并送入处理管线
type Sink interface {
	Ingest(ctx context.Context, msg *domain.Message)
}

// Backend 实现 go-smtp 的 Backend 接口。
//
// 这是一个只接收邮件的 SMTP 入口（无中继能力）：
// 只接受发往配置域名的邮件，其余收件地址一律 550 拒绝。
// 收到的邮件被解析为内部 Message 后直接进入规范化/对账管线，
// 作为邮箱轮询之外的第二条送达路径。
type Backend struct {
	domain string
	sink   Sink
	log    *zap.Logger
}

// NewBackend 创建 SMTP 接收后端
func NewBackend(domain string, sink Sink, log *zap.Logger) *Backend {
	return &Backend{
		domain: strings.ToLower(strings.TrimSpace(domain)),
		sink:   sink,
		log:    log,
	}
}

// NewSession 创建新的 SMTP 会话
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	return &session{backend: b}, nil
}

// NewServer 构造监听 SMTP 服务器
func NewServer(addr, domain string, backend *Backend) *gosmtp.Server {
	srv := gosmtp.NewServer(backend)
	srv.Addr = addr
	srv.Domain = domain
	srv.ReadTimeout = 30 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.MaxMessageBytes = maxMessageSize
	srv.MaxRecipients = 10
	srv.AllowInsecureAuth = true
	return srv
}

type session struct {
	backend     *Backend
	fromAddress string
	accepted    bool
}

// Mail 处理 MAIL 命令
func (s *session) Mail(from string, opts *gosmtp.MailOptions) error {
	s.fromAddress = normalizeAddress(from)
	return nil
}

// Rcpt 处理 RCPT 命令。
//
// 只接受发往配置域名的收件人，防止被当作开放中继。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalizeAddress(to)

	parts := strings.Split(addr, "@")
	if len(parts) != 2 {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}

	if !strings.EqualFold(parts[1], s.backend.domain) {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "relay access denied - domain not managed by this server",
		}
	}

	s.accepted = true
	return nil
}

// Data 处理邮件内容：解析并送入管线
func (s *session) Data(r io.Reader) error {
	if !s.accepted {
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
			Message:      "no valid recipients",
		}
	}

	raw, err := io.ReadAll(io.LimitReader(r, maxMessageSize))
	if err != nil {
		return err
	}

	msg, err := parseMessage(raw, s.fromAddress)
	if err != nil {
		return fmt.Errorf("parse email: %w", err)
	}

	s.backend.log.Info("smtp message accepted",
		zap.String("message_id", msg.ID),
		zap.String("from", msg.FromAddress),
		zap.String("subject", msg.Subject))

	go s.backend.sink.Ingest(context.Background(), msg)
	return nil
}

// Reset 重置会话状态
func (s *session) Reset() {
	s.fromAddress = ""
	s.accepted = false
}

// Logout 会话结束
func (s *session) Logout() error {
	return nil
}

// parseMessage 把原始 RFC 5322 邮件解析为内部 Message。
//
// HTML 正文剥离为纯文本；multipart 优先取 text/plain 部分。
// 没有 Message-ID 头时生成一个，保证幂等去重有稳定键。
func parseMessage(raw []byte, envelopeFrom string) (*domain.Message, error) {
	parsed, err := mail.ReadMessage(strings.NewReader(string(raw)))
	if err != nil {
		return nil, err
	}

	header := parsed.Header

	id := strings.Trim(header.Get("Message-ID"), "<> ")
	if id == "" {
		id = uuid.NewString()
	}

	fromName, fromAddress := parseFrom(header.Get("From"), envelopeFrom)

	receivedAt := time.Now()
	if t, err := header.Date(); err == nil {
		receivedAt = t
	}

	body, bodyText := parseBody(parsed)

	return &domain.Message{
		ID:          id,
		Subject:     decodeHeader(header.Get("Subject")),
		FromName:    fromName,
		FromAddress: fromAddress,
		Body:        body,
		BodyText:    bodyText,
		ReceivedAt:  receivedAt,
		CreatedAt:   time.Now(),
	}, nil
}

// parseFrom 解析 From 头，失败时回退到信封地址
func parseFrom(fromHeader, envelopeFrom string) (name, address string) {
	if addr, err := mail.ParseAddress(decodeHeader(fromHeader)); err == nil {
		return addr.Name, strings.ToLower(addr.Address)
	}
	return "", envelopeFrom
}

// parseBody 提取邮件正文：原始正文与剥离后的纯文本
func parseBody(msg *mail.Message) (body, text string) {
	contentType := msg.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		if part, partType, ok := firstTextPart(msg.Body, params["boundary"]); ok {
			if partType == "text/html" {
				return part, mailsrc.StripHTML(part)
			}
			return part, part
		}
		return "", ""
	}

	data, err := io.ReadAll(msg.Body)
	if err != nil {
		return "", ""
	}

	body = string(data)
	if mediaType == "text/html" {
		return body, mailsrc.StripHTML(body)
	}
	return body, body
}

// firstTextPart 返回 multipart 中第一个文本部分，text/plain 优先。
func firstTextPart(r io.Reader, boundary string) (content, mediaType string, ok bool) {
	if boundary == "" {
		return "", "", false
	}

	var htmlPart string
	mr := multipart.NewReader(r, boundary)
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}

		partType, _, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err != nil {
			continue
		}

		data, err := io.ReadAll(io.LimitReader(part, maxMessageSize))
		if err != nil {
			continue
		}

		switch partType {
		case "text/plain":
			return string(data), partType, true
		case "text/html":
			if htmlPart == "" {
				htmlPart = string(data)
			}
		}
	}

	if htmlPart != "" {
		return htmlPart, "text/html", true
	}
	return "", "", false
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}

func decodeHeader(value string) string {
	if value == "" {
		return value
	}
	decoder := new(mime.WordDecoder)
	decoded, err := decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

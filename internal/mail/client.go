package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"truckboard/backend/internal/config"
	"truckboard/backend/internal/domain"
)

// GraphClient 基于 Microsoft Graph 风格 API 的邮箱服务商客户端。
//
// 每次调用携带委托凭证（Bearer token），超时由配置限定；
// 超时与网络错误按普通失败返回，由下一个轮询周期自然重试。
type GraphClient struct {
	baseURL string
	client  *http.Client
}

// NewGraphClient 创建邮箱服务商客户端。
func NewGraphClient(cfg config.MailConfig) *GraphClient {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &GraphClient{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// graphMessage 服务商返回的邮件对象（只取需要的字段）
type graphMessage struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	From    struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
	Body struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	BodyPreview      string    `json:"bodyPreview"`
	ReceivedDateTime time.Time `json:"receivedDateTime"`
}

// graphListResponse 列表响应
type graphListResponse struct {
	Value []graphMessage `json:"value"`
}

// FetchSince 拉取 since 之后收到的邮件，按接收时间升序返回。
func (c *GraphClient) FetchSince(ctx context.Context, token string, since time.Time, max int) ([]domain.Message, error) {
	if max <= 0 {
		max = 50
	}

	params := url.Values{}
	params.Set("$filter", fmt.Sprintf("receivedDateTime gt %s", since.UTC().Format(time.RFC3339)))
	params.Set("$orderby", "receivedDateTime asc")
	params.Set("$top", fmt.Sprintf("%d", max))

	endpoint := fmt.Sprintf("%s/me/messages?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("mail provider rejected credential (401)")
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("mail provider returned %d: %s", resp.StatusCode, snippet)
	}

	var parsed graphListResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode mail response: %w", err)
	}

	out := make([]domain.Message, 0, len(parsed.Value))
	for _, gm := range parsed.Value {
		out = append(out, toDomainMessage(gm))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

// toDomainMessage 把服务商邮件对象转换为领域 Message，HTML 正文剥离为纯文本。
func toDomainMessage(gm graphMessage) domain.Message {
	bodyText := gm.Body.Content
	if gm.Body.ContentType == "html" || gm.Body.ContentType == "HTML" {
		bodyText = StripHTML(gm.Body.Content)
	} else {
		bodyText = normalizeWhitespace(bodyText)
	}
	if bodyText == "" {
		bodyText = gm.BodyPreview
	}

	return domain.Message{
		ID:          gm.ID,
		Subject:     gm.Subject,
		FromName:    gm.From.EmailAddress.Name,
		FromAddress: domain.NormalizeAddress(gm.From.EmailAddress.Address),
		Body:        gm.Body.Content,
		BodyText:    bodyText,
		ReceivedAt:  gm.ReceivedDateTime,
		CreatedAt:   time.Now().UTC(),
	}
}

package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"truckboard/backend/internal/config"
)

// systemPrompt 指示模型从车源邮件中抽取结构化 JSON。
const systemPrompt = `You are a logistics assistant. Extract truck availability from the email below.
Respond with only a JSON object of the shape:
{"customer":"<name>","customerEmail":"<address>","trucks":[{"date":"<text>","city":"<text>","state":"<2-letter>","additionalInfo":"<text>","status":"<text>"}]}
Keep dates exactly as written in the email. Do not invent locations.`

// Client 定义文本理解服务的调用接口。
//
// 返回模型的原始文本输出，解析与恢复由 Normalizer 负责。
type Client interface {
	ExtractAvailability(ctx context.Context, subject, body string) (string, error)
}

// HTTPClient 基于 chat-completions 风格 HTTP API 的抽取客户端。
type HTTPClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewHTTPClient 创建抽取服务客户端，超时由配置限定。
func NewHTTPClient(cfg config.ExtractConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: timeout},
	}
}

// chatRequest chat-completions 请求体
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse chat-completions 响应体（只取需要的字段）
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ExtractAvailability 调用文本理解服务，返回模型原始输出。
//
// 超时与网络错误按普通失败返回，由调用方降级处理。
func (c *HTTPClient) ExtractAvailability(ctx context.Context, subject, body string) (string, error) {
	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Subject: %s\n\n%s", subject, body)},
		},
		Temperature: 0,
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode extraction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("build extraction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call extraction service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("extraction service returned %d: %s", resp.StatusCode, snippet)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode extraction response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("extraction service returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

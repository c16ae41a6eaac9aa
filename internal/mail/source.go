package mail

import (
	"context"
	"time"

	"truckboard/backend/internal/domain"
)

// Source 定义可插拔的邮件数据源。
//
// 轮询器只依赖该接口，邮箱服务商（HTTP 轮询）与 SMTP 直收
// 共用同一条下游管线。
type Source interface {
	// FetchSince 拉取 since 之后收到的邮件，按接收时间升序返回。
	// token 为客户端委托的不透明访问凭证。
	FetchSince(ctx context.Context, token string, since time.Time, max int) ([]domain.Message, error)
}

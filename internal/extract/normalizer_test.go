package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"truckboard/backend/internal/domain"
)

// stubClient 返回固定输出的抽取客户端
type stubClient struct {
	raw   string
	err   error
	calls int
}

func (c *stubClient) ExtractAvailability(ctx context.Context, subject, body string) (string, error) {
	c.calls++
	return c.raw, c.err
}

func testMessage() *domain.Message {
	return &domain.Message{
		ID:          "msg-001",
		Subject:     "Truck availability 9/17",
		FromName:    "Dispatch Desk",
		FromAddress: "Dispatch@Carrier.example",
		BodyText:    "see attached list",
		ReceivedAt:  time.Date(2025, 9, 17, 12, 0, 0, 0, time.UTC),
	}
}

func newTestNormalizer(client Client) *Normalizer {
	return NewNormalizer(client, zap.NewNop())
}

func TestProcessTiers(t *testing.T) {
	msg := testMessage()

	t.Run("严格解析成功", func(t *testing.T) {
		raw := `{"customer":"Acme Logistics","customerEmail":"OPS@Acme.example","trucks":[{"date":"9/17","city":"Dallas","state":"TX","additionalInfo":""}]}`
		n := newTestNormalizer(&stubClient{raw: raw})

		outcome, records := n.Process(context.Background(), msg)

		assert.Equal(t, domain.TierOk, outcome.Tier)
		assert.False(t, outcome.Degraded())
		require.Len(t, records, 1)
		assert.Equal(t, "Dallas", records[0].City)
		assert.Equal(t, "TX", records[0].State)
		assert.Equal(t, "ops@acme.example", records[0].CustomerEmail)
		assert.Equal(t, msg.ID, records[0].MessageID)
	})

	t.Run("结构修复后解析成功", func(t *testing.T) {
		raw := "```json\n{\"customer\": \"Acme\", \"customerEmail\": \"ops@acme.example\", \"trucks\": [{\"date\": \"9/17\", \"city\": \"Dallas\", \"state\": \"TX\", \"additionalInfo\": \"\"},]}\n```"
		n := newTestNormalizer(&stubClient{raw: raw})

		outcome, records := n.Process(context.Background(), msg)

		assert.Equal(t, domain.TierRecovered, outcome.Tier)
		assert.True(t, outcome.Degraded())
		require.Len(t, records, 1)
		assert.Equal(t, "Dallas", records[0].City)
	})

	t.Run("截断输出修复后解析成功", func(t *testing.T) {
		raw := `{"customer": "Acme", "customerEmail": "ops@acme.example", "trucks": [{"date": "9/17", "city": "Dallas", "state": "TX", "additionalInfo": ""}`
		n := newTestNormalizer(&stubClient{raw: raw})

		outcome, records := n.Process(context.Background(), msg)

		assert.Equal(t, domain.TierRecovered, outcome.Tier)
		require.Len(t, records, 1)
	})

	t.Run("正则提取裸字段", func(t *testing.T) {
		raw := "Sorry, here is what I found.\nCustomer: Acme Trucking\ncontact ops@acme.example for details"
		n := newTestNormalizer(&stubClient{raw: raw})

		outcome, records := n.Process(context.Background(), msg)

		assert.Equal(t, domain.TierPatternMatched, outcome.Tier)
		assert.Equal(t, "Acme Trucking", outcome.Result.Customer)
		assert.Equal(t, "ops@acme.example", outcome.Result.CustomerEmail)
		assert.Empty(t, records)
	})

	t.Run("完全无法解析时兜底", func(t *testing.T) {
		n := newTestNormalizer(&stubClient{raw: "??? nothing useful here ???"})

		outcome, records := n.Process(context.Background(), msg)

		assert.Equal(t, domain.TierFallback, outcome.Tier)
		assert.Equal(t, "Dispatch Desk", outcome.Result.Customer)
		assert.Equal(t, "dispatch@carrier.example", outcome.Result.CustomerEmail)
		assert.Empty(t, records)
	})

	t.Run("抽取调用失败时兜底", func(t *testing.T) {
		n := newTestNormalizer(&stubClient{err: errors.New("upstream timeout")})

		outcome, records := n.Process(context.Background(), msg)

		assert.Equal(t, domain.TierFallback, outcome.Tier)
		assert.Equal(t, "dispatch@carrier.example", outcome.Result.CustomerEmail)
		assert.Empty(t, records)
	})

	t.Run("空正文也不报错", func(t *testing.T) {
		empty := testMessage()
		empty.Body = ""
		empty.BodyText = ""
		n := newTestNormalizer(&stubClient{raw: ""})

		outcome, records := n.Process(context.Background(), empty)

		assert.Equal(t, domain.TierFallback, outcome.Tier)
		assert.Empty(t, records)
	})
}

func TestBuildRecords(t *testing.T) {
	msg := testMessage()

	t.Run("数量展开产生独立记录", func(t *testing.T) {
		raw := `{"customer":"Acme","customerEmail":"ops@acme.example","trucks":[{"date":"9/17","city":"Kansas City, MO – X 4","state":"","additionalInfo":""}]}`
		n := newTestNormalizer(&stubClient{raw: raw})

		outcome, records := n.Process(context.Background(), msg)

		assert.Equal(t, domain.TierOk, outcome.Tier)
		require.Len(t, records, 4)

		ids := make(map[string]bool)
		for i, rec := range records {
			assert.Equal(t, "Kansas City", rec.City)
			assert.Equal(t, "MO", rec.State)
			assert.Equal(t, "9/17", rec.Date)
			assert.Equal(t, i, rec.Seq)
			ids[rec.ID] = true
		}
		assert.Len(t, ids, 4, "每条展开记录的派生 ID 必须不同")
	})

	t.Run("附加信息里的数量标记", func(t *testing.T) {
		raw := `{"customer":"Acme","customerEmail":"ops@acme.example","trucks":[{"date":"9/17","city":"Dallas","state":"TX","additionalInfo":"X 3"}]}`
		n := newTestNormalizer(&stubClient{raw: raw})

		_, records := n.Process(context.Background(), msg)

		require.Len(t, records, 3)
		for _, rec := range records {
			assert.Empty(t, rec.AdditionalInfo)
		}
	})

	t.Run("逐字重复行各自成记录", func(t *testing.T) {
		raw := `{"customer":"Acme","customerEmail":"ops@acme.example","trucks":[
			{"date":"9/17","city":"Virginia Beach","state":"VA","additionalInfo":""},
			{"date":"9/17","city":"Virginia Beach","state":"VA","additionalInfo":""},
			{"date":"9/17","city":"Virginia Beach","state":"VA","additionalInfo":""}]}`
		n := newTestNormalizer(&stubClient{raw: raw})

		_, records := n.Process(context.Background(), msg)

		require.Len(t, records, 3)
		ids := make(map[string]bool)
		for i, rec := range records {
			assert.Equal(t, i, rec.Seq)
			ids[rec.ID] = true
		}
		assert.Len(t, ids, 3)
	})

	t.Run("不可用状态被排除", func(t *testing.T) {
		raw := `{"customer":"Acme","customerEmail":"ops@acme.example","trucks":[
			{"date":"9/17","city":"Dallas","state":"TX","additionalInfo":"","status":"Covered"},
			{"date":"9/17","city":"Austin","state":"TX","additionalInfo":"NOT AVAILABLE"},
			{"date":"9/17","city":"Houston","state":"TX","additionalInfo":"","status":"assigned"},
			{"date":"9/17","city":"Waco","state":"TX","additionalInfo":"booked until friday"},
			{"date":"9/17","city":"El Paso","state":"TX","additionalInfo":""}]}`
		n := newTestNormalizer(&stubClient{raw: raw})

		_, records := n.Process(context.Background(), msg)

		require.Len(t, records, 1)
		assert.Equal(t, "El Paso", records[0].City)
	})

	t.Run("城市别名规范化", func(t *testing.T) {
		raw := `{"customer":"Acme","customerEmail":"ops@acme.example","trucks":[
			{"date":"9/17","city":"La Grange","state":"GA","additionalInfo":""},
			{"date":"9/17","city":"LaGrange","state":"GA","additionalInfo":""},
			{"date":"9/18","city":"St Marys","state":"OH","additionalInfo":""}]}`
		n := newTestNormalizer(&stubClient{raw: raw})

		_, records := n.Process(context.Background(), msg)

		require.Len(t, records, 3)
		assert.Equal(t, "LaGrange", records[0].City)
		assert.Equal(t, "LaGrange", records[1].City)
		assert.Equal(t, 1, records[1].Seq, "同一规范化地点的重复行序号递增")
		assert.Equal(t, "St. Marys", records[2].City)
	})

	t.Run("空城市行被跳过", func(t *testing.T) {
		raw := `{"customer":"Acme","customerEmail":"ops@acme.example","trucks":[{"date":"9/17","city":"  ","state":"TX","additionalInfo":""}]}`
		n := newTestNormalizer(&stubClient{raw: raw})

		_, records := n.Process(context.Background(), msg)

		assert.Empty(t, records)
	})
}

func TestFillIdentity(t *testing.T) {
	msg := testMessage()
	n := newTestNormalizer(nil)

	t.Run("缺失客户字段时回退发件人", func(t *testing.T) {
		result := domain.ExtractionResult{}
		n.fillIdentity(&result, msg)

		assert.Equal(t, "Dispatch Desk", result.Customer)
		assert.Equal(t, "dispatch@carrier.example", result.CustomerEmail)
		assert.NotNil(t, result.Trucks)
	})

	t.Run("非法邮箱地址回退发件人", func(t *testing.T) {
		result := domain.ExtractionResult{Customer: "Acme", CustomerEmail: "not-an-email"}
		n.fillIdentity(&result, msg)

		assert.Equal(t, "dispatch@carrier.example", result.CustomerEmail)
	})
}

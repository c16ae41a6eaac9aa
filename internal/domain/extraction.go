package domain

// ExtractionTier 表示抽取结果的置信层级。
//
// 抽取引擎对外部文本理解服务的输出做分层恢复，
// 调用方据此区分结果可信度，而不是默默信任尽力而为的 JSON。
type ExtractionTier string

const (
	// TierOk 严格解析成功
	TierOk ExtractionTier = "ok"
	// TierRecovered 结构修复后解析成功
	TierRecovered ExtractionTier = "recovered"
	// TierPatternMatched 正则从裸文本中提取出客户字段
	TierPatternMatched ExtractionTier = "pattern_matched"
	// TierFallback 全部失败，使用邮件自身发件人构造的最小兜底结果
	TierFallback ExtractionTier = "fallback"
)

// TruckEntry 表示抽取服务返回的一行车源。
type TruckEntry struct {
	Date           string `json:"date"`
	City           string `json:"city"`
	State          string `json:"state"`
	AdditionalInfo string `json:"additionalInfo"`
	// Status 可用状态文本，命中排除词表的行被丢弃
	Status string `json:"status,omitempty"`
}

// ExtractionResult 表示对一封邮件的抽取结果，
// JSON 字段名与推送给客户端的载荷保持一致。
type ExtractionResult struct {
	Customer      string       `json:"customer"`
	CustomerEmail string       `json:"customerEmail"`
	Trucks        []TruckEntry `json:"trucks"`
}

// ExtractionOutcome 把抽取结果与置信层级绑定。
//
// 抽取引擎永不向调用方返回错误，最差情况下 Tier 为 TierFallback。
type ExtractionOutcome struct {
	Tier   ExtractionTier   `json:"tier"`
	Result ExtractionResult `json:"result"`
}

// Degraded 报告结果是否经过降级（非严格解析）。
func (o ExtractionOutcome) Degraded() bool {
	return o.Tier != TierOk
}

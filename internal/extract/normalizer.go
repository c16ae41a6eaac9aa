package extract

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"truckboard/backend/internal/domain"
)

var (
	// countSuffixRe 数量后缀模式："<地点文本> – X 4"（分隔符 + X + 整数）
	countSuffixRe = regexp.MustCompile(`(?i)^(.*?)\s*[-–—]\s*x\s*(\d{1,3})\s*$`)
	// bareCountRe 附加信息里的独立数量标记："X 4"
	bareCountRe = regexp.MustCompile(`(?i)^\s*x\s*(\d{1,3})\s*$`)
	// trailingStateRe 城市字段中附带的州码："Kansas City, MO"
	trailingStateRe = regexp.MustCompile(`^(.*?),\s*([A-Za-z]{2})\.?$`)
	// excludedStatusRe 不可用状态标记的封闭集合
	excludedStatusRe = regexp.MustCompile(`(?i)\b(covered|not\s+available|assigned|booked)\b`)
	// customerFieldRe 三级恢复：从裸文本中拉取 customer 字段
	customerFieldRe = regexp.MustCompile(`(?i)"?customer"?\s*[:=]\s*"?([^",}\r\n]+)`)
	// emailRe 三级恢复：任意位置的邮箱地址
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
)

// Normalizer 抽取规范化引擎。
//
// 负责外部文本理解调用周边的一切：分层解析恢复、城市规范化、
// 数量展开、状态排除、重复行保序。对调用方永不返回错误，
// 最差情况下降级为基于发件人身份的最小兜底结果。
type Normalizer struct {
	client Client
	log    *zap.Logger
	now    func() time.Time
}

// NewNormalizer 创建规范化引擎。
func NewNormalizer(client Client, log *zap.Logger) *Normalizer {
	return &Normalizer{
		client: client,
		log:    log,
		now:    time.Now,
	}
}

// Process 处理一封邮件：调用抽取服务并产出候选车源记录。
//
// 返回的记录尚未与存储对账（由 Reconciler 决定是否入账）。
func (n *Normalizer) Process(ctx context.Context, msg *domain.Message) (domain.ExtractionOutcome, []domain.AvailabilityRecord) {
	body := msg.BodyText
	if body == "" {
		body = msg.Body
	}

	raw, err := n.client.ExtractAvailability(ctx, msg.Subject, body)
	if err != nil {
		n.log.Warn("extraction call failed, using fallback",
			zap.String("message_id", msg.ID),
			zap.Error(err))
		outcome := n.fallback(msg)
		return outcome, n.buildRecords(msg, outcome.Result)
	}

	outcome := n.parseTiered(raw, msg)
	if outcome.Degraded() {
		n.log.Info("extraction output degraded",
			zap.String("message_id", msg.ID),
			zap.String("tier", string(outcome.Tier)))
	}

	return outcome, n.buildRecords(msg, outcome.Result)
}

// parseTiered 对模型原始输出做分层解析恢复。
//
// 每一层只在上一层失败后尝试：
//
//	a) 严格解析
//	b) 结构修复后重新解析
//	c) 正则提取裸 customer / customerEmail 字段
//	d) 基于发件人身份的最小兜底
func (n *Normalizer) parseTiered(raw string, msg *domain.Message) domain.ExtractionOutcome {
	// a) 严格解析
	var result domain.ExtractionResult
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &result); err == nil {
		n.fillIdentity(&result, msg)
		return domain.ExtractionOutcome{Tier: domain.TierOk, Result: result}
	}

	// b) 结构修复
	repaired := repairJSON(raw)
	result = domain.ExtractionResult{}
	if err := json.Unmarshal([]byte(repaired), &result); err == nil {
		n.fillIdentity(&result, msg)
		return domain.ExtractionOutcome{Tier: domain.TierRecovered, Result: result}
	}

	// c) 正则提取
	if matched := n.patternExtract(raw, msg); matched != nil {
		return domain.ExtractionOutcome{Tier: domain.TierPatternMatched, Result: *matched}
	}

	// d) 最小兜底
	return n.fallback(msg)
}

// patternExtract 从无法解析的文本中正则拉取客户字段。
//
// 两个字段都找不到时返回 nil，交给兜底层。
func (n *Normalizer) patternExtract(raw string, msg *domain.Message) *domain.ExtractionResult {
	var name, email string

	if m := customerFieldRe.FindStringSubmatch(raw); m != nil {
		name = strings.TrimSpace(m[1])
	}
	if m := emailRe.FindString(raw); m != "" {
		email = domain.NormalizeAddress(m)
	}

	if name == "" && email == "" {
		return nil
	}

	result := &domain.ExtractionResult{
		Customer:      name,
		CustomerEmail: email,
		Trucks:        []domain.TruckEntry{},
	}
	n.fillIdentity(result, msg)
	return result
}

// fallback 构造基于邮件自身发件人身份的最小兜底结果（零条车源）。
func (n *Normalizer) fallback(msg *domain.Message) domain.ExtractionOutcome {
	identity := msg.Identity()
	return domain.ExtractionOutcome{
		Tier: domain.TierFallback,
		Result: domain.ExtractionResult{
			Customer:      identity.Name,
			CustomerEmail: identity.Address,
			Trucks:        []domain.TruckEntry{},
		},
	}
}

// fillIdentity 补齐缺失的客户字段并归一化邮箱地址。
//
// 身份以邮箱地址为键，模型给出的地址缺失或非法时回退到发件人地址。
func (n *Normalizer) fillIdentity(result *domain.ExtractionResult, msg *domain.Message) {
	identity := msg.Identity()

	result.CustomerEmail = domain.NormalizeAddress(result.CustomerEmail)
	if result.CustomerEmail == "" || !emailRe.MatchString(result.CustomerEmail) {
		result.CustomerEmail = identity.Address
	}
	if strings.TrimSpace(result.Customer) == "" {
		result.Customer = identity.Name
	}
	if result.Trucks == nil {
		result.Trucks = []domain.TruckEntry{}
	}
}

// buildRecords 把抽取结果转换为规范化候选记录。
//
// 顺序处理每一行：状态排除 → 城市/州规范化 → 数量展开；
// 序号按 (city, state, date) 递增，逐字重复行因此各自成记录，
// 修复层引入的相同派生 ID 被折叠为一条。
func (n *Normalizer) buildRecords(msg *domain.Message, result domain.ExtractionResult) []domain.AvailabilityRecord {
	now := n.now().UTC()
	records := make([]domain.AvailabilityRecord, 0, len(result.Trucks))
	seqCounter := make(map[string]int)
	emitted := make(map[string]bool)

	for _, entry := range result.Trucks {
		if isExcluded(entry) {
			continue
		}

		city, state, count, info := normalizeEntry(entry)
		if city == "" {
			continue
		}

		date := strings.TrimSpace(entry.Date)
		key := city + "|" + state + "|" + date

		for i := 0; i < count; i++ {
			seq := seqCounter[key]
			seqCounter[key]++

			id := domain.RecordID(msg.ID, city, state, date, seq)
			if emitted[id] {
				continue
			}
			emitted[id] = true

			records = append(records, domain.AvailabilityRecord{
				ID:             id,
				MessageID:      msg.ID,
				CustomerName:   result.Customer,
				CustomerEmail:  result.CustomerEmail,
				Date:           date,
				City:           city,
				State:          state,
				AdditionalInfo: info,
				Seq:            seq,
				ReceivedAt:     msg.ReceivedAt,
				CreatedAt:      now,
			})
		}
	}

	return records
}

// isExcluded 判断行是否命中不可用状态标记（covered / not available /
// assigned / booked，大小写不敏感）。
func isExcluded(entry domain.TruckEntry) bool {
	if excludedStatusRe.MatchString(entry.Status) {
		return true
	}
	// 有些上游把状态写进附加信息
	return excludedStatusRe.MatchString(entry.AdditionalInfo)
}

// normalizeEntry 规范化一行车源：解析数量后缀、拆出城市字段里
// 附带的州码、执行别名规范化。返回城市、州、展开数量与附加信息。
func normalizeEntry(entry domain.TruckEntry) (city, state string, count int, info string) {
	city = strings.TrimSpace(entry.City)
	state = entry.State
	info = strings.TrimSpace(entry.AdditionalInfo)
	count = 1

	// 数量后缀可能出现在城市文本末尾（"Kansas City, MO – X 4"）
	if m := countSuffixRe.FindStringSubmatch(city); m != nil {
		if v, err := strconv.Atoi(m[2]); err == nil && v > 0 {
			city = strings.TrimSpace(m[1])
			count = v
		}
	} else if m := bareCountRe.FindStringSubmatch(info); m != nil {
		// 或者单独出现在附加信息里（"X 4"）
		if v, err := strconv.Atoi(m[1]); err == nil && v > 0 {
			count = v
			info = ""
		}
	}

	// 城市字段可能携带州码（抽取服务偶尔整行塞进 city）
	if state == "" {
		if m := trailingStateRe.FindStringSubmatch(city); m != nil {
			city = strings.TrimSpace(m[1])
			state = m[2]
		}
	}

	city, state = Canonicalize(city, state)
	return city, state, count, info
}

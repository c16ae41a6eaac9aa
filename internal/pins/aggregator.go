package pins

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"truckboard/backend/internal/domain"
)

// RecordLister 活跃记录来源
type RecordLister interface {
	ListActiveRecords() ([]domain.AvailabilityRecord, error)
}

// Resolver 地点坐标解析（通常是地理缓存）
type Resolver interface {
	Resolve(ctx context.Context, city, state string) (domain.Coordinates, bool)
}

// dateRe 可无歧义解析的日期形式：M/D 或 M/D/YYYY
//
// 带有附加文本的日期（如 "9/08 AM"）不参与过滤匹配，
// 原文在记录里保持逐字不变。
var dateRe = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})(?:/(\d{2,4}))?$`)

// dayKey 月/日的可比较表示
type dayKey int

// parseDay 把自由文本日期规范化为 月/日 键；无法无歧义解析时 ok 为假。
func parseDay(text string) (dayKey, bool) {
	m := dateRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return 0, false
	}

	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return 0, false
	}

	return dayKey(month*100 + day), true
}

// Filter 日期过滤条件：单日或闭区间。零值表示不过滤。
type Filter struct {
	date     dayKey
	from     dayKey
	to       dayKey
	hasDate  bool
	hasRange bool
}

// SingleDate 构造单日过滤。文本无法解析时返回零值过滤器（不过滤）。
func SingleDate(text string) Filter {
	d, ok := parseDay(text)
	if !ok {
		return Filter{}
	}
	return Filter{date: d, hasDate: true}
}

// DateRange 构造闭区间过滤。任一端无法解析时返回零值过滤器。
func DateRange(from, to string) Filter {
	f, ok1 := parseDay(from)
	t, ok2 := parseDay(to)
	if !ok1 || !ok2 {
		return Filter{}
	}
	if f > t {
		f, t = t, f
	}
	return Filter{from: f, to: t, hasRange: true}
}

// Empty 过滤器是否为空（不过滤）
func (f Filter) Empty() bool {
	return !f.hasDate && !f.hasRange
}

// matches 记录日期是否命中过滤条件。
//
// 过滤开启时，日期无法解析的记录视为不命中。
func (f Filter) matches(text string) bool {
	if f.Empty() {
		return true
	}

	d, ok := parseDay(text)
	if !ok {
		return false
	}

	if f.hasDate {
		return d == f.date
	}
	return d >= f.from && d <= f.to
}

// Aggregator 地图标记聚合器
//
// 按规范化的 城市+州 分组活跃记录，每组只解析一次代表地点坐标，
// 输出携带底层记录列表与数量的地图标记。被取代邮件的记录在存储层
// 已删除，天然不会出现在任何聚合里。
type Aggregator struct {
	records  RecordLister
	resolver Resolver
	log      *zap.Logger
}

// NewAggregator 创建聚合器
func NewAggregator(records RecordLister, resolver Resolver, log *zap.Logger) *Aggregator {
	return &Aggregator{
		records:  records,
		resolver: resolver,
		log:      log,
	}
}

// Aggregate 聚合当前活跃记录为地图标记。
//
// 坐标无法解析的地点被跳过（无法放置在地图上），但记录本身不受影响。
func (a *Aggregator) Aggregate(ctx context.Context, filter Filter) ([]domain.LocationPin, error) {
	records, err := a.records.ListActiveRecords()
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]domain.AvailabilityRecord)
	order := make([]string, 0)

	for _, rec := range records {
		if !filter.matches(rec.Date) {
			continue
		}

		key := domain.LocationKey(rec.City, rec.State)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rec)
	}

	pins := make([]domain.LocationPin, 0, len(order))
	for _, key := range order {
		group := groups[key]
		city, state := group[0].City, group[0].State

		coords, ok := a.resolver.Resolve(ctx, city, state)
		if !ok {
			a.log.Debug("location unresolved, pin skipped",
				zap.String("city", city),
				zap.String("state", state),
				zap.Int("records", len(group)))
			continue
		}

		pins = append(pins, domain.LocationPin{
			City:    city,
			State:   state,
			Coords:  coords,
			Count:   len(group),
			Records: group,
		})
	}

	sort.Slice(pins, func(i, j int) bool {
		if pins[i].State != pins[j].State {
			return pins[i].State < pins[j].State
		}
		return pins[i].City < pins[j].City
	})

	return pins, nil
}

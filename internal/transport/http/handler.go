package httptransport

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"truckboard/backend/internal/domain"
	"truckboard/backend/internal/hub"
	"truckboard/backend/internal/pins"
	"truckboard/backend/internal/storage"
)

// maxNotifyBody /notify 请求体大小上限
const maxNotifyBody = 1 << 20 // 1MB

// Checker 手动触发检查接口（由轮询器实现）
type Checker interface {
	Force()
}

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	store      storage.Store
	aggregator *pins.Aggregator
	hub        *hub.Hub
	checker    Checker
	log        *zap.Logger
}

// NewHandler 创建处理器
func NewHandler(store storage.Store, aggregator *pins.Aggregator, h *hub.Hub, checker Checker, log *zap.Logger) *Handler {
	return &Handler{
		store:      store,
		aggregator: aggregator,
		hub:        h,
		checker:    checker,
		log:        log,
	}
}

// Notify 处理外部生产者的广播注入。
//
// 请求体必须是合法 JSON；通过后逐字转发给全部订阅会话，
// 不做结构校验、不重新编码。响应形状是对外契约的一部分。
func (h *Handler) Notify(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxNotifyBody))
	if err != nil || !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	h.hub.BroadcastRaw(body)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ListRecords 返回当前活跃（未被取代）的可用性记录。
//
// 可选 sender 参数按发件人地址过滤。
func (h *Handler) ListRecords(c *gin.Context) {
	sender := c.Query("sender")

	var (
		records []domain.AvailabilityRecord
		err     error
	)
	if sender != "" {
		records, err = h.store.ListRecordsBySender(domain.NormalizeAddress(sender))
	} else {
		records, err = h.store.ListActiveRecords()
	}
	if err != nil {
		h.log.Error("failed to list records", zap.Error(err))
		InternalError(c, "查询记录失败")
		return
	}

	Success(c, gin.H{
		"records": records,
		"total":   len(records),
	})
}

// ListPins 返回按地点聚合的地图标记。
//
// 过滤参数：date=M/D 单日，或 from=M/D&to=M/D 闭区间；都缺省时不过滤。
func (h *Handler) ListPins(c *gin.Context) {
	var filter pins.Filter
	switch {
	case c.Query("date") != "":
		filter = pins.SingleDate(c.Query("date"))
	case c.Query("from") != "" && c.Query("to") != "":
		filter = pins.DateRange(c.Query("from"), c.Query("to"))
	}

	result, err := h.aggregator.Aggregate(c.Request.Context(), filter)
	if err != nil {
		h.log.Error("failed to aggregate pins", zap.Error(err))
		InternalError(c, "聚合地图标记失败")
		return
	}

	Success(c, gin.H{
		"pins":  result,
		"total": len(result),
	})
}

// ForceCheck 手动触发一次邮箱检查（受 single-flight 规则约束）
func (h *Handler) ForceCheck(c *gin.Context) {
	h.checker.Force()
	SuccessWithMsg(c, "检查已触发", nil)
}

// Status 返回运行状态
func (h *Handler) Status(c *gin.Context) {
	Success(c, h.hub.StatusData(true))
}

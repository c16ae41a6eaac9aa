package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"truckboard/backend/internal/config"
	"truckboard/backend/internal/health"
	"truckboard/backend/internal/hub"
	"truckboard/backend/internal/monitoring"
	"truckboard/backend/internal/pins"
	"truckboard/backend/internal/storage"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config     *config.Config
	Store      storage.Store
	Aggregator *pins.Aggregator
	Hub        *hub.Hub
	Checker    Checker
	Health     *health.HealthChecker
	Metrics    *monitoring.Metrics
	Logger     *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	router.Use(RecoveryHandler(deps.Logger))
	router.Use(RequestLogger(deps.Logger))
	router.Use(SecurityHeaders())

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 允许所有来源时需清空凭证支持
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := NewHandler(deps.Store, deps.Aggregator, deps.Hub, deps.Checker, deps.Logger)

	// 外部生产者的广播注入（逐字转发）
	router.POST("/notify", handler.Notify)

	// WebSocket 订阅入口
	router.GET("/ws", hub.HandleWebSocket(deps.Hub))

	api := router.Group("/api/v1")
	{
		api.GET("/records", handler.ListRecords)
		api.GET("/pins", handler.ListPins)
		api.POST("/check", handler.ForceCheck)
		api.GET("/status", handler.Status)
	}

	// 探针与指标
	router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
	router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	return router
}

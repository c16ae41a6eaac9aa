package geo

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"truckboard/backend/internal/domain"
	"truckboard/backend/internal/monitoring"
)

// redisKeyPrefix Redis 二级缓存键前缀
const redisKeyPrefix = "truckboard:geo:"

// redisTTL 二级缓存过期时间
const redisTTL = 30 * 24 * time.Hour

// LocationCache 地点坐标缓存
//
// 同一规范化地点在进程生命周期内至多触发一次外部地理编码调用；
// 解析失败同样缓存（负缓存），避免对无法解析的地点反复请求。
// 并发请求同一地点时经 singleflight 合并为一次调用。
// 配置了 Redis 时，解析结果同时写入跨进程的二级缓存。
type LocationCache struct {
	geocoder Geocoder
	rdb      *redis.Client
	metrics  *monitoring.Metrics
	log      *zap.Logger

	mu      sync.RWMutex
	entries map[string]domain.LocationCacheEntry

	group singleflight.Group
	now   func() time.Time
}

// NewLocationCache 创建地点缓存。rdb 可以为 nil（仅进程内缓存）。
func NewLocationCache(geocoder Geocoder, rdb *redis.Client, metrics *monitoring.Metrics, log *zap.Logger) *LocationCache {
	return &LocationCache{
		geocoder: geocoder,
		rdb:      rdb,
		metrics:  metrics,
		log:      log,
		entries:  make(map[string]domain.LocationCacheEntry),
		now:      time.Now,
	}
}

// Resolve 解析地点坐标。
//
// 返回坐标与是否解析成功；失败的地点被负缓存，后续调用直接返回 ok=false。
func (c *LocationCache) Resolve(ctx context.Context, city, state string) (domain.Coordinates, bool) {
	key := domain.LocationKey(city, state)

	c.mu.RLock()
	entry, hit := c.entries[key]
	c.mu.RUnlock()

	if hit {
		if c.metrics != nil {
			c.metrics.GeocodeHits.Inc()
		}
		return entry.Coords, !entry.Failed
	}

	if c.metrics != nil {
		c.metrics.GeocodeMisses.Inc()
	}

	// 并发未命中合并为一次解析
	v, _, _ := c.group.Do(key, func() (any, error) {
		return c.resolveMiss(ctx, key, city, state), nil
	})

	resolved := v.(domain.LocationCacheEntry)
	return resolved.Coords, !resolved.Failed
}

// Len 返回进程内缓存条目数
func (c *LocationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// resolveMiss 处理缓存未命中：二级缓存 → 外部地理编码。
func (c *LocationCache) resolveMiss(ctx context.Context, key, city, state string) domain.LocationCacheEntry {
	// singleflight 合并窗口内可能已有同 key 写入
	c.mu.RLock()
	if entry, ok := c.entries[key]; ok {
		c.mu.RUnlock()
		return entry
	}
	c.mu.RUnlock()

	if entry, ok := c.lookupRedis(ctx, key); ok {
		c.store(key, entry)
		return entry
	}

	coords, err := c.geocoder.Geocode(ctx, city, state)
	entry := domain.LocationCacheEntry{
		City:       city,
		State:      state,
		Coords:     coords,
		ResolvedAt: c.now(),
	}
	if err != nil {
		// 无法解析的地点负缓存；瞬时错误下次进程重启前也不重试，
		// 但不污染二级缓存
		entry.Failed = true
		entry.Coords = domain.Coordinates{}
		c.log.Warn("geocoding failed",
			zap.String("city", city),
			zap.String("state", state),
			zap.Error(err))
		c.store(key, entry)
		return entry
	}

	c.store(key, entry)
	c.storeRedis(ctx, key, entry)
	return entry
}

// store 写入进程内缓存
func (c *LocationCache) store(key string, entry domain.LocationCacheEntry) {
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// lookupRedis 查询二级缓存
func (c *LocationCache) lookupRedis(ctx context.Context, key string) (domain.LocationCacheEntry, bool) {
	if c.rdb == nil {
		return domain.LocationCacheEntry{}, false
	}

	data, err := c.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("redis geo cache lookup failed", zap.Error(err))
		}
		return domain.LocationCacheEntry{}, false
	}

	var entry domain.LocationCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return domain.LocationCacheEntry{}, false
	}
	return entry, true
}

// storeRedis 写入二级缓存（尽力而为）
func (c *LocationCache) storeRedis(ctx context.Context, key string, entry domain.LocationCacheEntry) {
	if c.rdb == nil {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, redisKeyPrefix+key, data, redisTTL).Err(); err != nil {
		c.log.Warn("redis geo cache store failed", zap.Error(err))
	}
}

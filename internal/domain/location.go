package domain

import "time"

// Coordinates 表示一个经纬度坐标。
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// LocationCacheEntry 表示地理编码缓存中的一条记录。
//
// 以规范化 (city, state) 为键，进程生命周期内不失效（地理位置稳定）。
// Failed 为真时表示负缓存：该输入曾持续解析失败，避免热循环重试。
type LocationCacheEntry struct {
	City       string      `json:"city"`
	State      string      `json:"state"`
	Coords     Coordinates `json:"coords"`
	Failed     bool        `json:"failed"`
	ResolvedAt time.Time   `json:"resolvedAt"`
}

// LocationKey 生成地理缓存键。
func LocationKey(city, state string) string {
	return city + "," + state
}

// LocationPin 表示一个地图图钉：同一规范化地点、同一日期的记录聚合。
type LocationPin struct {
	City    string               `json:"city"`
	State   string               `json:"state"`
	Coords  Coordinates          `json:"coords"`
	Count   int                  `json:"count"`
	Records []AvailabilityRecord `json:"records"`
}

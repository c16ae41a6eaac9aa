package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"truckboard/backend/internal/domain"
)

// ErrNoResult 地理编码服务未能解析该地点
var ErrNoResult = errors.New("geo: no result for location")

// Geocoder 地理编码接口
type Geocoder interface {
	Geocode(ctx context.Context, city, state string) (domain.Coordinates, error)
}

// HTTPGeocoder 基于 HTTP 的地理编码客户端
//
// 出站请求经令牌桶限速，避免触发服务商配额限制。
type HTTPGeocoder struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPGeocoder 创建地理编码客户端
func NewHTTPGeocoder(baseURL, apiKey string, timeout time.Duration, rps float64) *HTTPGeocoder {
	if rps <= 0 {
		rps = 10
	}
	return &HTTPGeocoder{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// geocodeResponse 服务商响应
type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode 解析城市/州为坐标
func (g *HTTPGeocoder) Geocode(ctx context.Context, city, state string) (domain.Coordinates, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return domain.Coordinates{}, err
	}

	params := url.Values{}
	params.Set("address", fmt.Sprintf("%s, %s, USA", city, state))
	params.Set("key", g.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/json?"+params.Encode(), nil)
	if err != nil {
		return domain.Coordinates{}, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return domain.Coordinates{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Coordinates{}, fmt.Errorf("geo: geocode request failed with status %d", resp.StatusCode)
	}

	var body geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.Coordinates{}, err
	}

	if body.Status == "ZERO_RESULTS" || len(body.Results) == 0 {
		return domain.Coordinates{}, ErrNoResult
	}
	if body.Status != "" && body.Status != "OK" {
		return domain.Coordinates{}, fmt.Errorf("geo: geocode status %s", body.Status)
	}

	loc := body.Results[0].Geometry.Location
	return domain.Coordinates{Lat: loc.Lat, Lng: loc.Lng}, nil
}

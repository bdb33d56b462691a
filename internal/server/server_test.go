package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"homewatt/internal/freshness"
	"homewatt/internal/resolver"
	"homewatt/internal/storage"
	"homewatt/internal/totals"
)

func newTestServer(t *testing.T) (*Server, *storage.SQLiteStore) {
	t.Helper()
	store, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "cache.sqlite"), 5*time.Minute)
	if err != nil {
		t.Fatalf("打开测试库失败: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	res := resolver.New(store, nil, resolver.Options{
		SiteID:      "site-1",
		ChannelType: "general",
		Grid:        5 * time.Minute,
		Thresholds:  freshness.DefaultThresholds(),
		MaxForecast: 6,
	}, zerolog.Nop())

	loc, err := time.LoadLocation("Australia/Sydney")
	if err != nil {
		t.Fatalf("加载时区失败: %v", err)
	}
	calc := totals.New(store, loc, "site-1", "general", 30*time.Minute)

	srv := New(res, calc, Options{MaxForecast: 6}, zerolog.Nop())
	return srv, store
}

func getJSON(t *testing.T, srv *Server, path string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	resp := rec.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s 状态码应为 200, 实际 %d", path, resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	return resp, body
}

func insertPrice(t *testing.T, store *storage.SQLiteStore, start time.Time, perKwh string) {
	t.Helper()
	err := store.UpsertPrices(context.Background(), []storage.PriceRecord{{
		SiteID:        "site-1",
		ChannelType:   "general",
		IntervalStart: start,
		IntervalEnd:   start.Add(5 * time.Minute),
		PerKwh:        decimal.RequireFromString(perKwh),
		Descriptor:    "neutral",
		UpdatedAt:     start,
	}})
	if err != nil {
		t.Fatalf("写入价格失败: %v", err)
	}
}

func insertUsage(t *testing.T, store *storage.SQLiteStore, start time.Time, kwh, cost string) {
	t.Helper()
	rec := storage.UsageRecord{
		SiteID:        "site-1",
		ChannelType:   "general",
		IntervalStart: start,
		IntervalEnd:   start.Add(5 * time.Minute),
		Kwh:           decimal.RequireFromString(kwh),
		Quality:       "actual",
		UpdatedAt:     start,
	}
	if cost != "" {
		c := decimal.RequireFromString(cost)
		rec.Cost = &c
	}
	if err := store.UpsertUsage(context.Background(), []storage.UsageRecord{rec}); err != nil {
		t.Fatalf("写入用量失败: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz 应返回 200 ok, 实际 %d %q", rec.Code, rec.Body.String())
	}
}

func TestPriceEndpointCacheHit(t *testing.T) {
	srv, store := newTestServer(t)
	target := storage.FloorToGrid(time.Now(), 5*time.Minute)
	insertPrice(t, store, target, "12.3")

	resp, body := getJSON(t, srv, "/api/price")
	if resp.Header.Get("X-Data-Source") != "cache" {
		t.Fatalf("X-Data-Source 应为 cache, 实际 %q", resp.Header.Get("X-Data-Source"))
	}
	if resp.Header.Get("X-Cache-Stale") != "false" {
		t.Fatalf("当前区间命中不应是 stale, 实际 %q", resp.Header.Get("X-Cache-Stale"))
	}
	if body["per_kwh"].(float64) != 12.3 {
		t.Fatalf("per_kwh 不一致: %v", body["per_kwh"])
	}
	if body["site_id"] != "site-1" {
		t.Fatalf("site_id 不一致: %v", body["site_id"])
	}
}

func TestPriceEndpointNoData(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := getJSON(t, srv, "/api/price")
	if body["no_data"] != true {
		t.Fatalf("空库应返回 no_data 哨兵: %v", body)
	}
	if resp.Header.Get("X-Data-Source") != "cache" {
		t.Fatalf("无数据时来源头应为 cache, 实际 %q", resp.Header.Get("X-Data-Source"))
	}
}

func TestPriceEndpointStaleFallback(t *testing.T) {
	srv, store := newTestServer(t)
	old := storage.FloorToGrid(time.Now().Add(-2*time.Hour), 5*time.Minute)
	insertPrice(t, store, old, "7.7")

	resp, body := getJSON(t, srv, "/api/price")
	if resp.Header.Get("X-Cache-Stale") != "true" {
		t.Fatal("旧区间降级应标记 stale")
	}
	if body["per_kwh"].(float64) != 7.7 {
		t.Fatalf("应返回最近的缓存价: %v", body["per_kwh"])
	}
}

func TestCostEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	target := storage.FloorToGrid(time.Now(), 5*time.Minute)
	insertPrice(t, store, target, "10")
	insertUsage(t, store, target, "0.5", "")

	_, body := getJSON(t, srv, "/api/cost")
	// 0.5 kWh over 5 min is 6 kW; 6 * 10 = 60 cents/hour.
	if body["cost_per_hour"].(float64) != 60 {
		t.Fatalf("cost_per_hour 应为 60, 实际 %v", body["cost_per_hour"])
	}
	if body["usage_kw"].(float64) != 6 {
		t.Fatalf("usage_kw 应为 6, 实际 %v", body["usage_kw"])
	}
	if body["interval_minutes"].(float64) != 5 {
		t.Fatalf("interval_minutes 应为 5, 实际 %v", body["interval_minutes"])
	}
}

func TestHealthEndpointEmpty(t *testing.T) {
	srv, _ := newTestServer(t)

	_, body := getJSON(t, srv, "/api/health")
	if body["status"] != "unknown" {
		t.Fatalf("空库状态应为 unknown, 实际 %v", body["status"])
	}
	if body["data_age_seconds"] != nil {
		t.Fatalf("无数据时 data_age_seconds 应为 null: %v", body["data_age_seconds"])
	}
	if body["app_time"] == nil {
		t.Fatal("app_time 应始终存在")
	}
}

func TestTotalsEndpointWaiting(t *testing.T) {
	srv, _ := newTestServer(t)

	_, body := getJSON(t, srv, "/api/totals")
	if body["month_to_date_cost_cents"] != nil {
		t.Fatalf("无数据时合计应为 null: %v", body["month_to_date_cost_cents"])
	}
	if body["message"] != "Waiting for usage data" {
		t.Fatalf("应返回等待提示: %v", body["message"])
	}
	if body["intervals_count"].(float64) != 0 {
		t.Fatalf("计数应为 0: %v", body["intervals_count"])
	}
}

func TestTotalsEndpointSums(t *testing.T) {
	srv, store := newTestServer(t)
	recent := storage.FloorToGrid(time.Now().Add(-10*time.Minute), 5*time.Minute)
	insertUsage(t, store, recent, "0.4", "25")
	insertUsage(t, store, recent.Add(5*time.Minute), "0.3", "15")

	_, body := getJSON(t, srv, "/api/totals")
	if body["month_to_date_cost_cents"].(float64) != 40 {
		t.Fatalf("合计应为 40, 实际 %v", body["month_to_date_cost_cents"])
	}
	if body["intervals_count"].(float64) != 2 {
		t.Fatalf("计数应为 2, 实际 %v", body["intervals_count"])
	}
	if body["is_delayed"] != false {
		t.Fatal("新数据不应标记 delayed")
	}
}

func TestForecastEndpointClampsHours(t *testing.T) {
	srv, _ := newTestServer(t)

	_, body := getJSON(t, srv, "/api/forecast?hours=99")
	if body["hours"].(float64) != 6 {
		t.Fatalf("hours 应钳制到 6, 实际 %v", body["hours"])
	}

	_, body = getJSON(t, srv, "/api/forecast?hours=0")
	if body["hours"].(float64) != 1 {
		t.Fatalf("hours 下限应为 1, 实际 %v", body["hours"])
	}
}

func TestForecastEndpointServesFutureIntervals(t *testing.T) {
	srv, store := newTestServer(t)
	next := storage.FloorToGrid(time.Now(), 5*time.Minute).Add(5 * time.Minute)
	insertPrice(t, store, next, "25")
	insertPrice(t, store, next.Add(5*time.Minute), "30")

	_, body := getJSON(t, srv, "/api/forecast?hours=1")
	intervals := body["intervals"].([]any)
	if len(intervals) != 2 {
		t.Fatalf("应返回 2 个未来区间, 实际 %d", len(intervals))
	}
	first := intervals[0].(map[string]any)
	if first["per_kwh"].(float64) != 25 {
		t.Fatalf("第一个区间价格应为 25, 实际 %v", first["per_kwh"])
	}
}

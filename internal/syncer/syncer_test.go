package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"homewatt/internal/amber"
	"homewatt/internal/storage"
)

type memStore struct {
	prices []storage.PriceRecord
	usage  []storage.UsageRecord

	pruneCalls  int
	pruneBefore time.Time
	priceErr    error
	usageErr    error
}

func (m *memStore) UpsertPrices(_ context.Context, records []storage.PriceRecord) error {
	if m.priceErr != nil {
		return m.priceErr
	}
	m.prices = append(m.prices, records...)
	return nil
}

func (m *memStore) UpsertUsage(_ context.Context, records []storage.UsageRecord) error {
	if m.usageErr != nil {
		return m.usageErr
	}
	m.usage = append(m.usage, records...)
	return nil
}

func (m *memStore) PriceForInterval(context.Context, string, string, time.Time) (*storage.PriceRecord, error) {
	return nil, nil
}
func (m *memStore) UsageForInterval(context.Context, string, string, time.Time) (*storage.UsageRecord, error) {
	return nil, nil
}
func (m *memStore) LatestPrice(context.Context, string, string, time.Time) (*storage.PriceRecord, error) {
	return nil, nil
}
func (m *memStore) LatestUsage(context.Context, string, string, time.Time) (*storage.UsageRecord, error) {
	return nil, nil
}
func (m *memStore) PricesBetween(context.Context, string, string, time.Time, time.Time) ([]storage.PriceRecord, error) {
	return nil, nil
}
func (m *memStore) UsageBetween(context.Context, string, string, time.Time, time.Time) ([]storage.UsageRecord, error) {
	return nil, nil
}

func (m *memStore) Prune(_ context.Context, before time.Time) (int64, error) {
	m.pruneCalls++
	m.pruneBefore = before
	return 3, nil
}

func (m *memStore) Close() error { return nil }

// lockedStore is a memStore whose advisory lock is already held elsewhere.
type lockedStore struct {
	memStore
}

func (l *lockedStore) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	return nil, false, nil
}

type stubSource struct {
	prices   []amber.PriceInterval
	usage    []amber.UsageInterval
	priceErr error
	usageErr error
}

func (s *stubSource) CurrentPrices(context.Context, string) ([]amber.PriceInterval, error) {
	if s.priceErr != nil {
		return nil, s.priceErr
	}
	return s.prices, nil
}

func (s *stubSource) RecentUsage(context.Context, string, int) ([]amber.UsageInterval, error) {
	if s.usageErr != nil {
		return nil, s.usageErr
	}
	return s.usage, nil
}

func testOptions() Options {
	return Options{
		SiteID:        "site-1",
		ChannelType:   "general",
		Grid:          5 * time.Minute,
		RetentionDays: 14,
		FetchTimeout:  time.Second,
	}
}

func sampleIntervals() ([]amber.PriceInterval, []amber.UsageInterval) {
	start := time.Date(2026, 8, 30, 14, 5, 0, 0, time.UTC)
	prices := []amber.PriceInterval{{
		Type:      "CurrentInterval",
		StartTime: start,
		EndTime:   start.Add(5 * time.Minute),
		PerKwh:    decimal.RequireFromString("12.3"),
	}}
	usage := []amber.UsageInterval{{
		StartTime: start,
		EndTime:   start.Add(5 * time.Minute),
		Kwh:       decimal.RequireFromString("0.42"),
	}}
	return prices, usage
}

func TestRunWritesBothSeriesAndPrunes(t *testing.T) {
	prices, usage := sampleIntervals()
	store := &memStore{}
	job := New(store, &stubSource{prices: prices, usage: usage}, testOptions(), zerolog.Nop())
	fixed := time.Date(2026, 8, 30, 14, 7, 0, 0, time.UTC)
	job.now = func() time.Time { return fixed }

	summary, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}
	if summary.Err() != nil {
		t.Fatalf("各步骤都应成功: %v", summary.Err())
	}
	if summary.PricesWritten != 1 || summary.UsageWritten != 1 {
		t.Fatalf("写入计数不正确: %+v", summary)
	}
	if store.pruneCalls != 1 {
		t.Fatal("每次运行都应清理一次")
	}
	want := fixed.AddDate(0, 0, -14)
	if !store.pruneBefore.Equal(want) {
		t.Fatalf("清理边界应为 14 天前, 实际 %s", store.pruneBefore)
	}
	if summary.Pruned != 3 {
		t.Fatalf("清理行数应透传, 实际 %d", summary.Pruned)
	}
}

func TestRunUsageFailureDoesNotBlockPrune(t *testing.T) {
	prices, _ := sampleIntervals()
	store := &memStore{}
	source := &stubSource{prices: prices, usageErr: errors.New("usage feed down")}
	job := New(store, source, testOptions(), zerolog.Nop())

	summary, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("单序列失败不应导致整体失败: %v", err)
	}
	if summary.PricesWritten != 1 {
		t.Fatal("价格序列应照常写入")
	}
	if summary.UsageErr == nil {
		t.Fatal("用量错误应记录在摘要中")
	}
	if summary.PriceErr != nil {
		t.Fatalf("价格不应受用量失败影响: %v", summary.PriceErr)
	}
	if store.pruneCalls != 1 {
		t.Fatal("拉取失败时仍应执行清理")
	}
	if summary.Err() == nil {
		t.Fatal("摘要 Err 应汇总失败")
	}
}

func TestRunSkipsWhenLockHeld(t *testing.T) {
	prices, usage := sampleIntervals()
	store := &lockedStore{}
	opts := testOptions()
	opts.LockKey = 42
	job := New(store, &stubSource{prices: prices, usage: usage}, opts, zerolog.Nop())

	summary, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("锁被占用不应报错: %v", err)
	}
	if !summary.Skipped {
		t.Fatal("锁被占用时应跳过本轮")
	}
	if len(store.prices) != 0 || store.pruneCalls != 0 {
		t.Fatal("跳过时不应有任何写入或清理")
	}
}

func TestRunWithoutLockerRuns(t *testing.T) {
	prices, usage := sampleIntervals()
	store := &memStore{}
	opts := testOptions()
	opts.LockKey = 42
	job := New(store, &stubSource{prices: prices, usage: usage}, opts, zerolog.Nop())

	summary, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}
	if summary.Skipped {
		t.Fatal("无锁后端不应跳过")
	}
	if len(store.prices) != 1 {
		t.Fatal("应正常写入")
	}
}

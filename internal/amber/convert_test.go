package amber

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestPriceRecordsNormalizeToGrid(t *testing.T) {
	// The feed has historically emitted :01 boundaries.
	offGrid := time.Date(2026, 8, 30, 14, 5, 1, 0, time.UTC)
	updated := time.Date(2026, 8, 30, 14, 7, 0, 0, time.UTC)

	records := PriceRecords([]PriceInterval{{
		StartTime: offGrid,
		EndTime:   offGrid.Add(5 * time.Minute),
		PerKwh:    decimal.RequireFromString("12.3"),
	}}, "site-1", "general", 5*time.Minute, updated)

	if len(records) != 1 {
		t.Fatalf("应产出 1 行, 实际 %d", len(records))
	}
	want := time.Date(2026, 8, 30, 14, 5, 0, 0, time.UTC)
	if !records[0].IntervalStart.Equal(want) {
		t.Fatalf("写入前应归一化到网格, 实际 %s", records[0].IntervalStart)
	}
	if !records[0].IntervalEnd.Equal(want.Add(5 * time.Minute)) {
		t.Fatalf("区间结束应跟随网格, 实际 %s", records[0].IntervalEnd)
	}
	if records[0].ChannelType != "general" {
		t.Fatalf("空渠道应落到默认值, 实际 %q", records[0].ChannelType)
	}
	if !records[0].UpdatedAt.Equal(updated) {
		t.Fatalf("updated_at 应为拉取时间: %s", records[0].UpdatedAt)
	}
}

func TestUsageRecordsPassThroughCostAndQuality(t *testing.T) {
	start := time.Date(2026, 8, 30, 14, 5, 0, 0, time.UTC)
	cost := decimal.RequireFromString("13.5")

	records := UsageRecords([]UsageInterval{{
		StartTime:         start,
		EndTime:           start.Add(5 * time.Minute),
		Kwh:               decimal.RequireFromString("0.42"),
		Cost:              &cost,
		Quality:           "estimated",
		ChannelType:       "controlledLoad",
		ChannelIdentifier: "E2",
	}}, "site-1", "general", 5*time.Minute, start)

	if len(records) != 1 {
		t.Fatalf("应产出 1 行, 实际 %d", len(records))
	}
	rec := records[0]
	if rec.ChannelType != "controlledLoad" {
		t.Fatalf("显式渠道应保留, 实际 %q", rec.ChannelType)
	}
	if rec.Cost == nil || rec.Cost.String() != "13.5" {
		t.Fatalf("cost 应透传: %v", rec.Cost)
	}
	if rec.Quality != "estimated" {
		t.Fatalf("quality 应透传: %q", rec.Quality)
	}
	if rec.ChannelIdentifier != "E2" {
		t.Fatalf("channel identifier 应透传: %q", rec.ChannelIdentifier)
	}
}

package freshness

import (
	"testing"
	"time"
)

func TestPriceThresholds(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		age  time.Duration
		want Status
	}{
		{899 * time.Second, Fresh},
		{900 * time.Second, Fresh},
		{901 * time.Second, Stale},
		{24 * time.Hour, Stale},
	}
	for _, tc := range cases {
		if got := th.Price(tc.age); got != tc.want {
			t.Fatalf("Price(%s) = %s, 期望 %s", tc.age, got, tc.want)
		}
	}
}

func TestUsageThresholds(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		age  time.Duration
		want Status
	}{
		{1799 * time.Second, Fresh},
		{1800 * time.Second, Fresh},
		{1801 * time.Second, Stale},
		{14400 * time.Second, Stale},
		{14401 * time.Second, VeryStale},
	}
	for _, tc := range cases {
		if got := th.Usage(tc.age); got != tc.want {
			t.Fatalf("Usage(%s) = %s, 期望 %s", tc.age, got, tc.want)
		}
	}
}

func TestAggregate(t *testing.T) {
	cases := []struct {
		price Status
		usage Status
		want  Health
	}{
		{Fresh, Fresh, HealthOK},
		{Fresh, Stale, HealthStale},
		{Stale, Fresh, HealthStale},
		{Stale, VeryStale, HealthStale},
		{Unknown, Fresh, HealthUnknown},
		{Fresh, Unknown, HealthUnknown},
		{Unknown, Unknown, HealthUnknown},
	}
	for _, tc := range cases {
		if got := Aggregate(tc.price, tc.usage); got != tc.want {
			t.Fatalf("Aggregate(%s, %s) = %s, 期望 %s", tc.price, tc.usage, got, tc.want)
		}
	}
}

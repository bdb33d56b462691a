package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

const (
	headerDataSource = "X-Data-Source"
	headerCacheStale = "X-Cache-Stale"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) writeStorageError(w http.ResponseWriter, err error) {
	s.logger.Error().Err(err).Msg("storage error")
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage unavailable"})
}

// noDataBody is the sentinel the display renders as "waiting for data".
// Upstream trouble rides along as a string so the display can show it.
func noDataBody(fetchErr error) map[string]any {
	body := map[string]any{"no_data": true}
	if fetchErr != nil {
		body["error"] = fetchErr.Error()
	}
	return body
}

func provenance(w http.ResponseWriter, source string, stale bool) {
	if source == "" {
		source = "cache"
	}
	w.Header().Set(headerDataSource, source)
	w.Header().Set(headerCacheStale, strconv.FormatBool(stale))
}

func isoTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func isoTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := isoTime(*t)
	return &s
}

func optFloat(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	result, err := s.resolver.CurrentPrice(r.Context())
	if err != nil {
		s.writeStorageError(w, err)
		return
	}

	provenance(w, result.Source, result.Stale)
	if result.NoData() {
		s.writeJSON(w, http.StatusOK, noDataBody(result.FetchErr))
		return
	}

	rec := result.Record
	s.writeJSON(w, http.StatusOK, map[string]any{
		"site_id":        rec.SiteID,
		"channel_type":   rec.ChannelType,
		"per_kwh":        rec.PerKwh.InexactFloat64(),
		"interval_start": isoTime(rec.IntervalStart),
		"interval_end":   isoTime(rec.IntervalEnd),
		"renewables":     optFloat(rec.Renewables),
		"descriptor":     rec.Descriptor,
		"source":         result.Source,
		"stale":          result.Stale,
		"freshness":      string(result.Status),
		"fetched_at":     isoTime(s.now()),
	})
}

func (s *Server) handleCost(w http.ResponseWriter, r *http.Request) {
	result, err := s.resolver.CostEstimate(r.Context())
	if err != nil {
		s.writeStorageError(w, err)
		return
	}

	provenance(w, result.Source, result.Stale)
	if result.NoData() {
		s.writeJSON(w, http.StatusOK, noDataBody(result.FetchErr))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"cost_per_hour":    result.CostPerHour.InexactFloat64(),
		"usage_kw":         result.UsageKw.InexactFloat64(),
		"price_per_kwh":    result.PricePerKwh.InexactFloat64(),
		"interval_minutes": result.IntervalMinutes,
		"interval_start":   isoTime(result.IntervalStart),
		"source":           result.Source,
		"stale":            result.Stale,
		"fetched_at":       isoTime(s.now()),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap, err := s.resolver.Health(r.Context())
	if err != nil {
		s.writeStorageError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"app_time":                    isoTime(snap.AppTime),
		"data_source":                 snap.DataSource,
		"latest_price_interval_start": isoTimePtr(snap.LatestPriceStart),
		"latest_usage_interval_start": isoTimePtr(snap.LatestUsageStart),
		"price_age_seconds":           snap.PriceAgeSeconds,
		"usage_age_seconds":           snap.UsageAgeSeconds,
		"data_age_seconds":            snap.DataAgeSeconds,
		"price_status":                string(snap.PriceStatus),
		"usage_status":                string(snap.UsageStatus),
		"status":                      string(snap.Status),
	})
}

func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	result, err := s.totals.MonthToDate(r.Context())
	if err != nil {
		s.writeStorageError(w, err)
		return
	}

	body := map[string]any{
		"month_to_date_cost_cents": nil,
		"intervals_count":          result.Intervals,
		"as_of_interval_end":       isoTimePtr(result.AsOf),
		"is_delayed":               result.Delayed,
		"month_start":              isoTime(result.MonthStart),
		"timezone":                 result.Timezone,
	}
	if result.HasData {
		body["month_to_date_cost_cents"] = result.TotalCost.InexactFloat64()
	} else {
		body["message"] = "Waiting for usage data"
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	hours := 1
	if raw := r.URL.Query().Get("hours"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			hours = n
		}
	}
	if hours < 1 {
		hours = 1
	}
	if hours > s.opts.MaxForecast {
		hours = s.opts.MaxForecast
	}

	result, err := s.resolver.Forecast(r.Context(), hours)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}

	provenance(w, result.Source, false)

	intervals := make([]map[string]any, 0, len(result.Intervals))
	for i := range result.Intervals {
		rec := &result.Intervals[i]
		intervals = append(intervals, map[string]any{
			"interval_start": isoTime(rec.IntervalStart),
			"interval_end":   isoTime(rec.IntervalEnd),
			"per_kwh":        rec.PerKwh.InexactFloat64(),
			"renewables":     optFloat(rec.Renewables),
			"descriptor":     rec.Descriptor,
		})
	}

	body := map[string]any{
		"intervals": intervals,
		"hours":     result.Hours,
		"source":    result.Source,
	}
	if result.FetchErr != nil {
		body["error"] = result.FetchErr.Error()
	}
	s.writeJSON(w, http.StatusOK, body)
}

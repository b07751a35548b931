package anomaly

import (
	"sort"
	"time"

	"gatesight/internal/config"
	"gatesight/internal/model"
)

// Thresholds is passed explicitly into every Detect call, so behavior is
// reproducible per invocation rather than depending on hidden globals.
type Thresholds struct {
	Lookback          time.Duration
	AbsoluteFloor     float64
	RelativeThreshold float64
	TopK              int
}

func ThresholdsFromConfig(cfg config.AnomalyConfig) Thresholds {
	return Thresholds{
		Lookback:          time.Duration(cfg.LookbackMinutes) * time.Minute,
		AbsoluteFloor:     cfg.AbsoluteFloor,
		RelativeThreshold: cfg.RelativeThreshold,
		TopK:              cfg.TopK,
	}
}

type MinuteSource interface {
	MinuteRange(tenantID string, from, to time.Time) []model.MinuteRollup
}

type BaselineSource interface {
	Lookup(tenantID, siteID, doorID string, hourOfWeek int) (model.Baseline, bool)
}

// Detector ranks doors whose recent deny volume spikes above their
// hour-of-week baseline. It reads live state and never mutates anything;
// concurrent calls are safe.
type Detector struct {
	minutes   MinuteSource
	baselines BaselineSource
	loc       *time.Location
}

func NewDetector(minutes MinuteSource, baselines BaselineSource, loc *time.Location) *Detector {
	if loc == nil {
		loc = time.UTC
	}
	return &Detector{minutes: minutes, baselines: baselines, loc: loc}
}

type doorKey struct {
	siteID string
	doorID string
}

type doorWindow struct {
	siteID string
	doorID string
	denies int64
}

// Detect compares each door's deny count over the lookback window against
// the baseline for the current hour-of-week (door level, then site level,
// then none). Results are ordered by spike ratio descending, ties by current
// value descending then door id ascending, truncated to TopK. Identical
// store state and now always yield the identical list.
func (d *Detector) Detect(tenantID string, now time.Time, th Thresholds) []model.AnomalyCandidate {
	if tenantID == "" {
		return nil
	}
	if th.Lookback <= 0 {
		th.Lookback = 60 * time.Minute
	}
	hourOfWeek := model.HourOfWeek(now, d.loc)

	// The in-progress minute bucket is part of the live window.
	from := now.Add(-th.Lookback)
	to := now.Truncate(time.Minute).Add(time.Minute)
	windows := make(map[doorKey]*doorWindow)
	for _, r := range d.minutes.MinuteRange(tenantID, from, to) {
		k := doorKey{siteID: r.SiteID, doorID: r.DoorID}
		w, ok := windows[k]
		if !ok {
			w = &doorWindow{siteID: r.SiteID, doorID: r.DoorID}
			windows[k] = w
		}
		w.denies += r.Denies
	}

	out := make([]model.AnomalyCandidate, 0, len(windows))
	for _, w := range windows {
		current := float64(w.denies)
		if current < th.AbsoluteFloor {
			continue
		}
		base, found := d.baselines.Lookup(tenantID, w.siteID, w.doorID, hourOfWeek)
		if !found {
			base, found = d.baselines.Lookup(tenantID, w.siteID, "", hourOfWeek)
		}
		cand := model.AnomalyCandidate{
			TenantID:     tenantID,
			SiteID:       w.siteID,
			DoorID:       w.doorID,
			Metric:       "denies",
			CurrentValue: current,
		}
		if found {
			cand.HasBaseline = true
			cand.BaselineValue = base.AvgDenies
			if current <= base.AvgDenies*th.RelativeThreshold {
				continue
			}
			if base.AvgDenies > 0 {
				cand.SpikeRatio = current / base.AvgDenies
			} else {
				cand.SpikeRatio = current
			}
		} else {
			// Cold start: no history is a valid state, ranked by raw volume.
			cand.SpikeRatio = current
		}
		out = append(out, cand)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].SpikeRatio != out[j].SpikeRatio {
			return out[i].SpikeRatio > out[j].SpikeRatio
		}
		if out[i].CurrentValue != out[j].CurrentValue {
			return out[i].CurrentValue > out[j].CurrentValue
		}
		if out[i].SiteID != out[j].SiteID {
			return out[i].SiteID < out[j].SiteID
		}
		return out[i].DoorID < out[j].DoorID
	})
	if th.TopK > 0 && len(out) > th.TopK {
		out = out[:th.TopK]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

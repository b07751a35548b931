package rollup

import (
	"sort"
	"sync"
	"time"

	"gatesight/internal/model"
)

// Key addresses one aggregate bucket within a tenant. The tenant itself is
// the outer map key so no cross-tenant iteration is possible by construction.
type Key struct {
	SiteID string
	DoorID string
	Bucket int64 // unix seconds, truncated to the bucket boundary
}

type minuteCell struct {
	total      int64
	grants     int64
	denies     int64
	suspicious int64
	badges     map[string]struct{}
}

type hourCell struct {
	total      int64
	grants     int64
	denies     int64
	suspicious int64
}

// Delta is one additive contribution to a minute bucket. Merging deltas is
// commutative and associative, so apply order never changes the result.
type Delta struct {
	TenantID   string
	SiteID     string
	DoorID     string
	Minute     time.Time
	Total      int64
	Grants     int64
	Denies     int64
	Suspicious int64
	Badges     []string
}

// Store is the shared mutable aggregate state: minute and hour counters per
// (tenant, site, door). Hour cells are maintained from the same deltas as the
// covering minute cells, so the two resolutions always agree.
type Store struct {
	mu      sync.RWMutex
	minutes map[string]map[Key]*minuteCell
	hours   map[string]map[Key]*hourCell
}

func NewStore() *Store {
	return &Store{
		minutes: make(map[string]map[Key]*minuteCell),
		hours:   make(map[string]map[Key]*hourCell),
	}
}

// Apply merges a batch of deltas under one lock acquisition. Counters only
// ever increase here; buckets are removed wholesale by Sweep.
func (s *Store) Apply(deltas []Delta) {
	if len(deltas) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range deltas {
		if d.TenantID == "" {
			continue
		}
		minKey := Key{SiteID: d.SiteID, DoorID: d.DoorID, Bucket: d.Minute.UTC().Truncate(time.Minute).Unix()}
		mc := s.minuteCell(d.TenantID, minKey)
		mc.total += d.Total
		mc.grants += d.Grants
		mc.denies += d.Denies
		mc.suspicious += d.Suspicious
		for _, badge := range d.Badges {
			if badge != "" {
				mc.badges[badge] = struct{}{}
			}
		}
		hourKey := Key{SiteID: d.SiteID, DoorID: d.DoorID, Bucket: d.Minute.UTC().Truncate(time.Hour).Unix()}
		hc := s.hourCell(d.TenantID, hourKey)
		hc.total += d.Total
		hc.grants += d.Grants
		hc.denies += d.Denies
		hc.suspicious += d.Suspicious
	}
}

func (s *Store) minuteCell(tenant string, key Key) *minuteCell {
	byKey, ok := s.minutes[tenant]
	if !ok {
		byKey = make(map[Key]*minuteCell)
		s.minutes[tenant] = byKey
	}
	cell, ok := byKey[key]
	if !ok {
		cell = &minuteCell{badges: make(map[string]struct{})}
		byKey[key] = cell
	}
	return cell
}

func (s *Store) hourCell(tenant string, key Key) *hourCell {
	byKey, ok := s.hours[tenant]
	if !ok {
		byKey = make(map[Key]*hourCell)
		s.hours[tenant] = byKey
	}
	cell, ok := byKey[key]
	if !ok {
		cell = &hourCell{}
		byKey[key] = cell
	}
	return cell
}

// MinuteRange returns minute rollups for one tenant with from <= minute < to,
// ordered by minute, site, door.
func (s *Store) MinuteRange(tenantID string, from, to time.Time) []model.MinuteRollup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.MinuteRollup, 0)
	for key, cell := range s.minutes[tenantID] {
		bucket := time.Unix(key.Bucket, 0).UTC()
		if bucket.Before(from) || !bucket.Before(to) {
			continue
		}
		out = append(out, model.MinuteRollup{
			TenantID:       tenantID,
			SiteID:         key.SiteID,
			DoorID:         key.DoorID,
			Minute:         bucket,
			Total:          cell.total,
			Grants:         cell.grants,
			Denies:         cell.denies,
			Suspicious:     cell.suspicious,
			DistinctBadges: len(cell.badges),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Minute.Equal(out[j].Minute) {
			return out[i].Minute.Before(out[j].Minute)
		}
		if out[i].SiteID != out[j].SiteID {
			return out[i].SiteID < out[j].SiteID
		}
		return out[i].DoorID < out[j].DoorID
	})
	return out
}

// HourRange returns hour rollups for one tenant with from <= hour < to,
// ordered by hour, site, door. DenyRate is 0 when the bucket total is 0.
func (s *Store) HourRange(tenantID string, from, to time.Time) []model.HourRollup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.HourRollup, 0)
	for key, cell := range s.hours[tenantID] {
		bucket := time.Unix(key.Bucket, 0).UTC()
		if bucket.Before(from) || !bucket.Before(to) {
			continue
		}
		out = append(out, model.HourRollup{
			TenantID:   tenantID,
			SiteID:     key.SiteID,
			DoorID:     key.DoorID,
			Hour:       bucket,
			Total:      cell.total,
			Grants:     cell.grants,
			Denies:     cell.denies,
			Suspicious: cell.suspicious,
			DenyRate:   model.DenyRate(cell.denies, cell.total),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Hour.Equal(out[j].Hour) {
			return out[i].Hour.Before(out[j].Hour)
		}
		if out[i].SiteID != out[j].SiteID {
			return out[i].SiteID < out[j].SiteID
		}
		return out[i].DoorID < out[j].DoorID
	})
	return out
}

// Sweep deletes whole buckets older than the cutoff across all tenants and
// returns how many were removed. Partial decrements never happen.
func (s *Store) Sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit := cutoff.UTC().Unix()
	removed := 0
	for tenant, byKey := range s.minutes {
		for key := range byKey {
			if key.Bucket < limit {
				delete(byKey, key)
				removed++
			}
		}
		if len(byKey) == 0 {
			delete(s.minutes, tenant)
		}
	}
	for tenant, byKey := range s.hours {
		for key := range byKey {
			if key.Bucket+int64(time.Hour/time.Second) <= limit {
				delete(byKey, key)
				removed++
			}
		}
		if len(byKey) == 0 {
			delete(s.hours, tenant)
		}
	}
	return removed
}

func (s *Store) Tenants() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.minutes))
	for tenant := range s.minutes {
		out = append(out, tenant)
	}
	sort.Strings(out)
	return out
}

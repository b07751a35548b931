package baseline

import (
	"sort"
	"sync"

	"gatesight/internal/model"
)

type key struct {
	SiteID     string
	DoorID     string
	HourOfWeek int
}

// Store holds the active baseline set per tenant. Replace swaps a tenant's
// whole map in one assignment, so readers see either the previous run or the
// new one, never a mix.
type Store struct {
	mu       sync.RWMutex
	byTenant map[string]map[key]model.Baseline
}

func NewStore() *Store {
	return &Store{byTenant: make(map[string]map[key]model.Baseline)}
}

func (s *Store) Replace(tenantID string, rows []model.Baseline) {
	next := make(map[key]model.Baseline, len(rows))
	for _, row := range rows {
		if row.TenantID != tenantID {
			continue
		}
		next[key{SiteID: row.SiteID, DoorID: row.DoorID, HourOfWeek: row.HourOfWeek}] = row
	}
	s.mu.Lock()
	s.byTenant[tenantID] = next
	s.mu.Unlock()
}

func (s *Store) Lookup(tenantID, siteID, doorID string, hourOfWeek int) (model.Baseline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.byTenant[tenantID][key{SiteID: siteID, DoorID: doorID, HourOfWeek: hourOfWeek}]
	return row, ok
}

func (s *Store) All(tenantID string) []model.Baseline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.byTenant[tenantID]
	out := make([]model.Baseline, 0, len(rows))
	for _, row := range rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SiteID != out[j].SiteID {
			return out[i].SiteID < out[j].SiteID
		}
		if out[i].DoorID != out[j].DoorID {
			return out[i].DoorID < out[j].DoorID
		}
		return out[i].HourOfWeek < out[j].HourOfWeek
	})
	return out
}

func (s *Store) Count(tenantID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byTenant[tenantID])
}

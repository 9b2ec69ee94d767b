// Package memory provides in-process report and session stores for
// single-instance deployments and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/couchcryptid/road-hazard-service/internal/domain"
)

// ReportStore keeps reports in insertion order.
type ReportStore struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]domain.Report
}

// NewReportStore creates an empty store.
func NewReportStore() *ReportStore {
	return &ReportStore{byID: make(map[string]domain.Report)}
}

func (s *ReportStore) Create(_ context.Context, r domain.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[r.ID]; ok {
		return domain.StorageError("create report", fmt.Errorf("duplicate id %s", r.ID))
	}
	s.byID[r.ID] = r
	s.order = append(s.order, r.ID)
	return nil
}

func (s *ReportStore) Get(_ context.Context, id string) (domain.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return domain.Report{}, fmt.Errorf("report %s: %w", id, domain.ErrNotFound)
	}
	return r, nil
}

func (s *ReportStore) Update(_ context.Context, r domain.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[r.ID]; !ok {
		return fmt.Errorf("report %s: %w", r.ID, domain.ErrNotFound)
	}
	s.byID[r.ID] = r
	return nil
}

func (s *ReportStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return fmt.Errorf("report %s: %w", id, domain.ErrNotFound)
	}
	delete(s.byID, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *ReportStore) Scan(_ context.Context) ([]domain.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Report, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out, nil
}

// Ping always succeeds.
func (s *ReportStore) Ping(context.Context) error { return nil }

// Len returns the number of stored reports.
func (s *ReportStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

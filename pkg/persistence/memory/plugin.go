package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/osvaldoandrade/domainscan/pkg/domain"
	"github.com/osvaldoandrade/domainscan/pkg/persistence"
)

// Plugin keeps reports in process memory. Reports are lost on restart.
type Plugin struct {
	mu      sync.RWMutex
	reports map[string]domain.Report
}

// NewPlugin creates a new in-memory persistence plugin
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	return &Plugin{reports: make(map[string]domain.Report)}, nil
}

func (p *Plugin) ReportStorage() persistence.ReportStorage {
	return &reportStorage{plugin: p}
}

// Health always returns nil for in-memory storage
func (p *Plugin) Health(ctx context.Context) error {
	return nil
}

// Close is a no-op for in-memory storage
func (p *Plugin) Close() error {
	return nil
}

func init() {
	persistence.RegisterProvider("memory", NewPlugin)
}

type reportStorage struct {
	plugin *Plugin
}

func (s *reportStorage) Save(ctx context.Context, rep domain.Report) error {
	s.plugin.mu.Lock()
	defer s.plugin.mu.Unlock()
	if _, ok := s.plugin.reports[rep.ID]; ok {
		return persistence.ErrAlreadyExists
	}
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = time.Now().UTC()
	}
	rep.Domains = append([]string(nil), rep.Domains...)
	rep.Results = append([]domain.AnalysisResult(nil), rep.Results...)
	s.plugin.reports[rep.ID] = rep
	return nil
}

func (s *reportStorage) Get(ctx context.Context, id string) (*domain.Report, error) {
	s.plugin.mu.RLock()
	defer s.plugin.mu.RUnlock()
	rep, ok := s.plugin.reports[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &rep, nil
}

func (s *reportStorage) List(ctx context.Context, offset, limit int) ([]domain.ReportSummary, error) {
	s.plugin.mu.RLock()
	all := make([]domain.ReportSummary, 0, len(s.plugin.reports))
	for _, rep := range s.plugin.reports {
		all = append(all, rep.Summary())
	}
	s.plugin.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 50
	}
	if offset >= len(all) {
		return []domain.ReportSummary{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (s *reportStorage) Count(ctx context.Context) (int64, error) {
	s.plugin.mu.RLock()
	defer s.plugin.mu.RUnlock()
	return int64(len(s.plugin.reports)), nil
}

func (s *reportStorage) Delete(ctx context.Context, id string) error {
	s.plugin.mu.Lock()
	defer s.plugin.mu.Unlock()
	if _, ok := s.plugin.reports[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.plugin.reports, id)
	return nil
}

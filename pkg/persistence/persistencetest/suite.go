// Package persistencetest holds the behaviour every report storage plugin
// must share.
package persistencetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/osvaldoandrade/domainscan/pkg/domain"
	"github.com/osvaldoandrade/domainscan/pkg/persistence"
)

func report(id string, at time.Time) domain.Report {
	return domain.Report{
		ID:      id,
		Name:    "report " + id,
		TaskID:  "task-" + id,
		Domains: []string{"example.com", "expired-domain.org"},
		Results: []domain.AnalysisResult{
			{DomainName: "example.com", Fields: map[string]any{"domain_name": "example.com", "years_covered": float64(7)}},
			{DomainName: "expired-domain.org", Fields: map[string]any{"domain_name": "expired-domain.org", "is_expired": true}},
		},
		CreatedAt: at,
	}
}

// RunReportStorage exercises a fresh, empty storage.
func RunReportStorage(t *testing.T, s persistence.ReportStorage) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	if n, err := s.Count(ctx); err != nil || n != 0 {
		t.Fatalf("expected empty storage, got %d %v", n, err)
	}
	for i, id := range []string{"a", "b", "c"} {
		if err := s.Save(ctx, report(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	if err := s.Save(ctx, report("a", base)); !errors.Is(err, persistence.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := s.Get(ctx, "b")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "report b" || got.TaskID != "task-b" || !got.CreatedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("unexpected report %+v", got)
	}
	if len(got.Results) != 2 || got.Results[0].DomainName != "example.com" {
		t.Fatalf("unexpected results %+v", got.Results)
	}
	if years, ok := got.Results[0].Float("years_covered"); !ok || years != 7 {
		t.Fatalf("expected result fields to survive, got %v", got.Results[0].Fields)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	list, err := s.List(ctx, 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].ID != "c" || list[1].ID != "b" || list[2].ID != "a" {
		t.Fatalf("expected newest first, got %+v", list)
	}
	if list[0].DomainCount != 2 {
		t.Fatalf("expected domain count 2, got %d", list[0].DomainCount)
	}
	page, err := s.List(ctx, 2, 5)
	if err != nil || len(page) != 1 || page[0].ID != "a" {
		t.Fatalf("expected last page to hold a, got %+v %v", page, err)
	}

	if err := s.Delete(ctx, "c"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "c"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if n, err := s.Count(ctx); err != nil || n != 2 {
		t.Fatalf("expected 2 reports, got %d %v", n, err)
	}
}

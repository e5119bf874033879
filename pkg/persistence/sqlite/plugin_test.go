package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/osvaldoandrade/domainscan/pkg/domain"
	"github.com/osvaldoandrade/domainscan/pkg/persistence"
	"github.com/osvaldoandrade/domainscan/pkg/persistence/persistencetest"
)

func TestReportStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive", "reports.db")
	raw, _ := json.Marshal(Config{Path: path})
	p, err := persistence.NewPersistence(persistence.ProviderConfig{Type: "sqlite", Config: raw}, persistence.PluginConfig{})
	if err != nil {
		t.Fatalf("new plugin: %v", err)
	}
	defer p.Close()
	if err := p.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	persistencetest.RunReportStorage(t, p.ReportStorage())
}

func TestReportsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.db")
	ctx := context.Background()

	p, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	rep := domain.Report{
		ID:        "r1",
		Name:      "kept",
		TaskID:    "task-1",
		Results:   []domain.AnalysisResult{{DomainName: "example.com", Fields: map[string]any{"domain_name": "example.com"}}},
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := p.ReportStorage().Save(ctx, rep); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	p, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p.Close()
	got, err := p.ReportStorage().Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.Name != "kept" || len(got.Results) != 1 {
		t.Fatalf("unexpected report %+v", got)
	}
}

func TestNewPluginUsesSharedPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	p, err := NewPlugin(persistence.PluginConfig{SQLitePath: path})
	if err != nil {
		t.Fatalf("new plugin: %v", err)
	}
	defer p.Close()
	if _, err := NewPlugin(persistence.PluginConfig{}); err == nil {
		t.Fatalf("expected error without a path")
	}
}

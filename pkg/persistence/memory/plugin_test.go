package memory

import (
	"context"
	"testing"

	"github.com/osvaldoandrade/domainscan/pkg/persistence"
	"github.com/osvaldoandrade/domainscan/pkg/persistence/persistencetest"
)

func TestReportStorage(t *testing.T) {
	p, err := persistence.NewPersistence(persistence.ProviderConfig{Type: "memory"}, persistence.PluginConfig{})
	if err != nil {
		t.Fatalf("new plugin: %v", err)
	}
	defer p.Close()
	if err := p.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	persistencetest.RunReportStorage(t, p.ReportStorage())
}

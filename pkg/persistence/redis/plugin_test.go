package redis

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/osvaldoandrade/domainscan/pkg/persistence"
	"github.com/osvaldoandrade/domainscan/pkg/persistence/persistencetest"

	"github.com/alicebob/miniredis/v2"
)

func TestReportStorage(t *testing.T) {
	mr := miniredis.RunT(t)
	p, err := persistence.NewPersistence(
		persistence.ProviderConfig{Type: "redis", Config: json.RawMessage(`{"keyPrefix":"test"}`)},
		persistence.PluginConfig{RedisAddr: mr.Addr()},
	)
	if err != nil {
		t.Fatalf("new plugin: %v", err)
	}
	defer p.Close()
	if err := p.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	persistencetest.RunReportStorage(t, p.ReportStorage())
	if !mr.Exists("test:reports") {
		t.Fatalf("expected key prefix to be applied, got %v", mr.Keys())
	}
}

func TestNewPluginRequiresAddr(t *testing.T) {
	if _, err := NewPlugin(persistence.PluginConfig{}); err == nil {
		t.Fatalf("expected error without addr")
	}
}

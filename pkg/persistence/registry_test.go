package persistence

import (
	"encoding/json"
	"testing"
)

func TestRegisterProvider(t *testing.T) {
	var got PluginConfig
	RegisterProvider("test", func(config PluginConfig) (PluginPersistence, error) {
		got = config
		return nil, nil
	})

	providers := ListProviders()
	found := false
	for _, p := range providers {
		if p == "test" {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("Expected to find 'test' provider in list, got: %v", providers)
	}

	_, err := NewPersistence(
		ProviderConfig{Type: "test", Config: json.RawMessage(`{"x":1}`)},
		PluginConfig{RedisAddr: "127.0.0.1:6379"},
	)
	if err != nil {
		t.Fatalf("NewPersistence: %v", err)
	}
	if string(got.Config) != `{"x":1}` || got.RedisAddr != "127.0.0.1:6379" {
		t.Errorf("expected provider config merged into plugin config, got %+v", got)
	}
}

func TestNewPersistenceUnknownProvider(t *testing.T) {
	cfg := ProviderConfig{
		Type:   "unknown_provider",
		Config: []byte("{}"),
	}

	_, err := NewPersistence(cfg, PluginConfig{})
	if err == nil {
		t.Error("Expected error for unknown provider, got nil")
	}
}

func TestDecodeConfig(t *testing.T) {
	var dst struct {
		Path string `json:"path"`
	}
	if err := DecodeConfig(nil, &dst); err != nil || dst.Path != "" {
		t.Fatalf("expected empty config to be a no-op, got %+v %v", dst, err)
	}
	if err := DecodeConfig(json.RawMessage(`{"path":"x.db"}`), &dst); err != nil || dst.Path != "x.db" {
		t.Fatalf("expected path, got %+v %v", dst, err)
	}
	if err := DecodeConfig(json.RawMessage(`{`), &dst); err == nil {
		t.Fatalf("expected decode error")
	}
}

package persistence

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// ProviderConfig contains provider-specific configuration
type ProviderConfig struct {
	Type   string          `yaml:"type" json:"type"`
	Config json.RawMessage `yaml:"config" json:"config"`
}

// PluginConfig provides initialization parameters to persistence plugins.
// Plugins read their own section from Config and fall back to the shared
// connection settings below.
type PluginConfig struct {
	Config json.RawMessage

	RedisAddr     string
	RedisPassword string
	SQLitePath    string
}

// PluginFactory creates persistence plugins from configuration
type PluginFactory func(config PluginConfig) (PluginPersistence, error)

var (
	registry = make(map[string]PluginFactory)
	mu       sync.RWMutex
)

// RegisterProvider registers a persistence plugin factory for a provider type
func RegisterProvider(providerType string, factory PluginFactory) {
	mu.Lock()
	defer mu.Unlock()
	registry[providerType] = factory
}

// NewPersistence creates a persistence plugin from provider configuration
func NewPersistence(providerConfig ProviderConfig, pluginConfig PluginConfig) (PluginPersistence, error) {
	mu.RLock()
	factory, ok := registry[providerConfig.Type]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown persistence provider type: %s (registered: %v)", providerConfig.Type, ListProviders())
	}

	pluginConfig.Config = providerConfig.Config
	return factory(pluginConfig)
}

// ListProviders returns registered provider types in name order.
func ListProviders() []string {
	mu.RLock()
	defer mu.RUnlock()

	providers := make([]string, 0, len(registry))
	for name := range registry {
		providers = append(providers, name)
	}
	sort.Strings(providers)
	return providers
}

// DecodeConfig unmarshals a plugin's own config section, treating an empty
// section as "use defaults".
func DecodeConfig(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode persistence config: %w", err)
	}
	return nil
}

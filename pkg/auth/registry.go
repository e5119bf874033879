package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds a validator from the provider's raw JSON settings.
type Factory func(raw json.RawMessage) (Validator, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// RegisterProvider makes a provider available to FromSettings. It panics
// when the name is empty or already taken.
func RegisterProvider(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if name == "" || f == nil {
		panic("auth: RegisterProvider needs a name and a factory")
	}
	if _, dup := factories[name]; dup {
		panic("auth: provider registered twice: " + name)
	}
	factories[name] = f
}

// Providers lists the registered provider names in order.
func Providers() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FromSettings builds the gateway validator. provider is one provider name
// or a comma separated list. With one provider rawConfig is its settings;
// with several it is an object keyed by provider name. Tokens are checked
// against the providers in the listed order. An empty provider yields a nil
// validator.
func FromSettings(provider string, rawConfig string) (Validator, error) {
	names := splitNames(provider)
	if len(names) == 0 {
		return nil, nil
	}
	settings, err := settingsFor(names, json.RawMessage(strings.TrimSpace(rawConfig)))
	if err != nil {
		return nil, err
	}
	chain := make(Chain, 0, len(names))
	for _, name := range names {
		mu.RLock()
		f, ok := factories[name]
		mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("unknown auth provider %q (registered: %s)", name, strings.Join(Providers(), ", "))
		}
		v, err := f(settings[name])
		if err != nil {
			return nil, fmt.Errorf("auth provider %s: %w", name, err)
		}
		chain = append(chain, v)
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	return chain, nil
}

func splitNames(provider string) []string {
	var names []string
	seen := map[string]bool{}
	for _, n := range strings.Split(provider, ",") {
		if n = strings.TrimSpace(n); n != "" && !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	return names
}

func settingsFor(names []string, raw json.RawMessage) (map[string]json.RawMessage, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if len(names) == 1 {
		return map[string]json.RawMessage{names[0]: raw}, nil
	}
	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, fmt.Errorf("auth config for %s must be an object keyed by provider: %w", strings.Join(names, ","), err)
	}
	for _, n := range names {
		if len(keyed[n]) == 0 {
			keyed[n] = json.RawMessage(`{}`)
		}
	}
	return keyed, nil
}

// ErrInvalidToken is returned when no validator accepts a token.
var ErrInvalidToken = errors.New("invalid token")

// Chain accepts a token when any of its validators does, trying them in
// order.
type Chain []Validator

func (c Chain) Validate(token string) (*Claims, error) {
	for _, v := range c {
		if claims, err := v.Validate(token); err == nil {
			return claims, nil
		}
	}
	return nil, ErrInvalidToken
}

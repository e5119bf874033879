package auth

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// tokenSet accepts a fixed set of tokens and names itself as the subject.
type tokenSet struct {
	name   string
	tokens []string
}

func (s tokenSet) Validate(token string) (*Claims, error) {
	for _, t := range s.tokens {
		if t == token {
			return &Claims{Subject: s.name + ":" + token}, nil
		}
	}
	return nil, errors.New("rejected by " + s.name)
}

func tokenSetFactory(name string) Factory {
	return func(raw json.RawMessage) (Validator, error) {
		var tokens []string
		if err := json.Unmarshal(raw, &tokens); err != nil {
			return nil, err
		}
		return tokenSet{name: name, tokens: tokens}, nil
	}
}

// registerTokenSet registers a provider whose settings are a JSON list of
// tokens, once per process.
func registerTokenSet(t *testing.T, name string) {
	t.Helper()
	for _, p := range Providers() {
		if p == name {
			return
		}
	}
	RegisterProvider(name, tokenSetFactory(name))
}

func TestFromSettingsEmptyProvider(t *testing.T) {
	for _, p := range []string{"", " ", " , "} {
		v, err := FromSettings(p, `["x"]`)
		if err != nil || v != nil {
			t.Fatalf("FromSettings(%q) = %v, %v; want nil validator", p, v, err)
		}
	}
}

func TestFromSettingsSingleProvider(t *testing.T) {
	registerTokenSet(t, "single-gw")

	v, err := FromSettings(" single-gw ", `["ops-token"]`)
	if err != nil {
		t.Fatalf("from settings: %v", err)
	}
	if _, isChain := v.(Chain); isChain {
		t.Fatalf("one provider should not be wrapped in a chain")
	}
	claims, err := v.Validate("ops-token")
	if err != nil || claims.Subject != "single-gw:ops-token" {
		t.Fatalf("unexpected claims %+v %v", claims, err)
	}

	if _, err := FromSettings("single-gw", `{"not":"a list"}`); err == nil || !strings.Contains(err.Error(), "single-gw") {
		t.Fatalf("expected factory error naming the provider, got %v", err)
	}
}

func TestFromSettingsChainOrder(t *testing.T) {
	registerTokenSet(t, "chain-primary")
	registerTokenSet(t, "chain-rotated")

	v, err := FromSettings("chain-primary,chain-rotated", `{"chain-primary":["shared","new"],"chain-rotated":["shared","old"]}`)
	if err != nil {
		t.Fatalf("from settings: %v", err)
	}
	tests := []struct {
		token   string
		subject string
	}{
		{"shared", "chain-primary:shared"},
		{"new", "chain-primary:new"},
		{"old", "chain-rotated:old"},
	}
	for _, tt := range tests {
		claims, err := v.Validate(tt.token)
		if err != nil || claims.Subject != tt.subject {
			t.Errorf("Validate(%q) = %+v, %v; want subject %s", tt.token, claims, err, tt.subject)
		}
	}
	if _, err := v.Validate("stolen"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	reversed, err := FromSettings("chain-rotated,chain-primary", `{"chain-primary":["shared"],"chain-rotated":["shared"]}`)
	if err != nil {
		t.Fatalf("from settings: %v", err)
	}
	if claims, _ := reversed.Validate("shared"); claims == nil || claims.Subject != "chain-rotated:shared" {
		t.Fatalf("expected the first listed provider to win, got %+v", claims)
	}
}

func TestFromSettingsChainNeedsKeyedConfig(t *testing.T) {
	registerTokenSet(t, "keyed-a")
	registerTokenSet(t, "keyed-b")

	if _, err := FromSettings("keyed-a,keyed-b", `["flat"]`); err == nil {
		t.Fatalf("expected a flat config to be rejected for several providers")
	}
}

func TestFromSettingsUnknownProvider(t *testing.T) {
	registerTokenSet(t, "known-gw")

	_, err := FromSettings("known-gw,ghost", `{"known-gw":["a"]}`)
	if err == nil || !strings.Contains(err.Error(), `"ghost"`) || !strings.Contains(err.Error(), "known-gw") {
		t.Fatalf("expected unknown provider error listing registered ones, got %v", err)
	}
}

func TestRegisterProviderRejectsDuplicates(t *testing.T) {
	registerTokenSet(t, "dup-gw")
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic on duplicate registration")
		}
	}()
	RegisterProvider("dup-gw", tokenSetFactory("dup-gw"))
}

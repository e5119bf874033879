package auth

import (
	"time"
)

// Claims is what a validator knows about the caller behind a token.
type Claims struct {
	Subject   string
	Email     string
	ExpiresAt time.Time
	Scopes    []string
	Raw       map[string]interface{}
}

// HasScope checks if the claims contain a specific scope
func (c *Claims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Validator validates bearer tokens presented to the gateway.
type Validator interface {
	Validate(token string) (*Claims, error)
}

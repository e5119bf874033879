package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/osvaldoandrade/domainscan/pkg/auth"
	"github.com/osvaldoandrade/domainscan/pkg/config"

	"github.com/gin-gonic/gin"
)

const anonymousUser = "anonymous"

// AuthMiddleware validates the bearer token of every request. A nil
// validator is only accepted in dev and test, where requests run as the
// anonymous user.
func AuthMiddleware(validator auth.Validator, cfg *config.Config) gin.HandlerFunc {
	if validator == nil {
		if cfg != nil && cfg.IsDevLike() {
			return func(c *gin.Context) {
				c.Set("userSubject", anonymousUser)
				c.Next()
			}
		}
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "identity validator not configured"})
		}
	}
	return func(c *gin.Context) {
		claims, err := validateBearer(validator, c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		setUserContext(c, claims)
		c.Next()
	}
}

func validateBearer(validator auth.Validator, authHeader string) (*auth.Claims, error) {
	if strings.TrimSpace(authHeader) == "" {
		return nil, fmt.Errorf("missing Authorization header")
	}
	token := bearerToken(authHeader)
	if token == "" {
		return nil, fmt.Errorf("invalid Authorization format")
	}
	return validator.Validate(token)
}

func setUserContext(c *gin.Context, claims *auth.Claims) {
	c.Set("userClaims", claims)
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		subject = strings.TrimSpace(claims.Email)
	}
	if subject == "" {
		subject = anonymousUser
	}
	c.Set("userSubject", subject)
}

// UserSubject returns the authenticated subject, or "anonymous".
func UserSubject(c *gin.Context) string {
	if v, ok := c.Get("userSubject"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return anonymousUser
}

package analysisapi

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is a non-2xx answer from the analysis service.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
}

func (e *HTTPError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Detail)
}

// Permanent reports whether retrying err cannot help: client errors other
// than timeouts and throttling.
func Permanent(err error) bool {
	var he *HTTPError
	if !errors.As(err, &he) {
		return false
	}
	switch he.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return he.StatusCode >= 400 && he.StatusCode < 500
}

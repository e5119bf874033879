package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/osvaldoandrade/domainscan/internal/tracker"
	"github.com/osvaldoandrade/domainscan/pkg/domain"

	"github.com/gin-gonic/gin"
)

// decodeDomains accepts either a newline separated string or a list of
// strings.
func decodeDomains(raw json.RawMessage) ([]string, bool) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []string{text}, true
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, true
	}
	return nil, false
}

// scanErrorStatus maps tracker and submission errors to HTTP status codes.
func scanErrorStatus(err error) int {
	var verr *domain.ValidationError
	var cerr *domain.CreationError
	var perr *domain.PollingTransportError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &cerr):
		return http.StatusBadGateway
	case errors.As(err, &perr):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrObservationCancelled):
		return http.StatusConflict
	case errors.Is(err, tracker.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeScanError(c *gin.Context, err error, st tracker.State) {
	body := gin.H{"error": err.Error(), "scan": st}
	var cerr *domain.CreationError
	if errors.As(err, &cerr) && strings.TrimSpace(cerr.Detail) != "" {
		body["detail"] = cerr.Detail
	}
	c.JSON(scanErrorStatus(err), body)
}

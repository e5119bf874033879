package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/osvaldoandrade/domainscan/internal/services"

	"github.com/gin-gonic/gin"
)

// HealthChecker is anything that reports its own health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type healthController struct {
	remote  HealthChecker
	archive HealthChecker
	scans   services.ScanService
	timeout time.Duration
}

func NewHealthController(remote, archive HealthChecker, scans services.ScanService) *healthController {
	return &healthController{remote: remote, archive: archive, scans: scans, timeout: 3 * time.Second}
}

func (h *healthController) Handle(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	code := http.StatusOK
	body := gin.H{"status": "ok", "remote": "ok", "archive": "ok"}
	if err := h.remote.Health(ctx); err != nil {
		code = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["remote"] = err.Error()
	}
	if h.archive != nil {
		if err := h.archive.Health(ctx); err != nil {
			code = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["archive"] = err.Error()
		}
	}
	if h.scans != nil {
		body["scan"] = h.scans.Current().Phase
	}
	c.JSON(code, body)
}

package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/osvaldoandrade/domainscan/internal/middleware"
	"github.com/osvaldoandrade/domainscan/internal/services"

	"github.com/gin-gonic/gin"
)

type createScanController struct{ svc services.ScanService }

func NewCreateScanController(svc services.ScanService) *createScanController {
	return &createScanController{svc}
}

type createScanReq struct {
	Domains json.RawMessage `json:"domains" binding:"required"`
}

func (h *createScanController) Handle(c *gin.Context) {
	var req createScanReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	domains, ok := decodeDomains(req.Domains)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "'domains' must be a string or a list of strings"})
		return
	}

	st, err := h.svc.Submit(c.Request.Context(), domains)
	if err != nil {
		middleware.Logger(c).Warn("scan submission rejected", "err", err, "subject", middleware.UserSubject(c))
		writeScanError(c, err, st)
		return
	}
	c.JSON(http.StatusAccepted, st)
}

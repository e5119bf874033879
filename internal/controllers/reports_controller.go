package controllers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/osvaldoandrade/domainscan/internal/middleware"
	"github.com/osvaldoandrade/domainscan/internal/services"

	"github.com/gin-gonic/gin"
)

const (
	defaultReportPageSize = 20
	maxReportPageSize     = 100
)

type reportsController struct{ svc services.ReportsService }

func NewReportsController(svc services.ReportsService) *reportsController {
	return &reportsController{svc}
}

type saveReportReq struct {
	Name string `json:"name"`
}

func (h *reportsController) Save(c *gin.Context) {
	var req saveReportReq
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	rep, err := h.svc.Save(c.Request.Context(), req.Name)
	if err != nil {
		var rerr *services.RemoteSaveError
		switch {
		case errors.Is(err, services.ErrNoCompletedScan):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.As(err, &rerr):
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		default:
			middleware.Logger(c).Error("report save failed", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusCreated, rep)
}

func (h *reportsController) List(c *gin.Context) {
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'offset'"})
		return
	}
	limit, err := queryInt(c, "limit", defaultReportPageSize)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit'"})
		return
	}
	if limit > maxReportPageSize {
		limit = maxReportPageSize
	}
	items, total, err := h.svc.List(c.Request.Context(), offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total, "offset": offset, "limit": limit})
}

func (h *reportsController) Get(c *gin.Context) {
	rep, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, services.ErrReportNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *reportsController) Delete(c *gin.Context) {
	err := h.svc.Delete(c.Request.Context(), c.Param("id"))
	if errors.Is(err, services.ErrReportNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if err != nil {
		middleware.Logger(c).Error("report delete failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

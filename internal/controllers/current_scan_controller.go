package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/domainscan/internal/services"
	"github.com/osvaldoandrade/domainscan/internal/tracker"

	"github.com/gin-gonic/gin"
)

type currentScanController struct{ svc services.ScanService }

func NewCurrentScanController(svc services.ScanService) *currentScanController {
	return &currentScanController{svc}
}

// Get returns the snapshot. A scan whose observation was lost answers 504
// so callers can tell it apart from a task the service reported as failed.
func (h *currentScanController) Get(c *gin.Context) {
	st := h.svc.Current()
	if st.Phase == tracker.PhaseFailed && st.Err != nil {
		if code := scanErrorStatus(st.Err); code == http.StatusGatewayTimeout {
			c.JSON(code, st)
			return
		}
	}
	c.JSON(http.StatusOK, st)
}

func (h *currentScanController) Cancel(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Cancel())
}

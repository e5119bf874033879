package controllers

import (
	"io"

	"github.com/osvaldoandrade/domainscan/internal/services"

	"github.com/gin-gonic/gin"
)

type scanEventsController struct{ svc services.ScanService }

func NewScanEventsController(svc services.ScanService) *scanEventsController {
	return &scanEventsController{svc}
}

// Handle streams "update" events for the current scan and a final
// "complete" event once it reaches a terminal phase.
func (h *scanEventsController) Handle(c *gin.Context) {
	updates, unsubscribe := h.svc.Subscribe()
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case st, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("update", st)
			if st.Phase.IsTerminal() {
				c.SSEvent("complete", st)
				return false
			}
			return true
		}
	})
}

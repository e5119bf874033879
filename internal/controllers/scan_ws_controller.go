package controllers

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/osvaldoandrade/domainscan/internal/middleware"
	"github.com/osvaldoandrade/domainscan/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

type scanWSController struct {
	svc      services.ScanService
	upgrader websocket.Upgrader
}

// NewScanWSController accepts same-origin upgrades, requests without an
// Origin header, and the listed origins. "*" allows any origin.
func NewScanWSController(svc services.ScanService, allowedOrigins []string) *scanWSController {
	return &scanWSController{
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o != "" {
			set[o] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		return set[strings.ToLower(u.Scheme+"://"+u.Host)]
	}
}

// Handle pushes every scan state as a JSON text message until the client
// disconnects. The connection outlives individual scans.
func (h *scanWSController) Handle(c *gin.Context) {
	if upgradeRequired(c) {
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		middleware.Logger(c).Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	updates, unsubscribe := h.svc.Subscribe()
	defer unsubscribe()

	// The reader only watches for the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case st, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(st); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					middleware.Logger(c).Debug("websocket write failed", "err", err)
				}
				return
			}
		}
	}
}

func upgradeRequired(c *gin.Context) bool {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.JSON(http.StatusUpgradeRequired, gin.H{"error": "websocket upgrade required"})
		return true
	}
	return false
}

package app

import (
	"github.com/osvaldoandrade/domainscan/internal/controllers"
	"github.com/osvaldoandrade/domainscan/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupMappings(app *Application) {
	app.Engine.GET("/healthz", controllers.NewHealthController(app.API, app.Archive, app.Scans).Handle)
	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := app.Engine.Group("/v1", middleware.AuthMiddleware(app.Validator, app.Config))
	{
		current := controllers.NewCurrentScanController(app.Scans)
		v1.POST("/scans", middleware.RateLimitSubmit(app.RateLimiter, app.Config), controllers.NewCreateScanController(app.Scans).Handle)
		v1.GET("/scans/current", current.Get)
		v1.DELETE("/scans/current", current.Cancel)
		v1.GET("/scans/current/events", controllers.NewScanEventsController(app.Scans).Handle)
		v1.GET("/scans/current/ws", controllers.NewScanWSController(app.Scans, app.Config.AllowedOrigins).Handle)

		reports := controllers.NewReportsController(app.Reports)
		v1.POST("/reports", reports.Save)
		v1.GET("/reports", reports.List)
		v1.GET("/reports/:id", reports.Get)
		v1.DELETE("/reports/:id", reports.Delete)
	}
}

package api

import (
	"github.com/TreeSnap/Export-Service/cmd/middleware"
	"github.com/TreeSnap/Export-Service/internal/api/handlers"
	"github.com/TreeSnap/Export-Service/internal/privacy"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Disposition, X-Advertised-Count, X-Emitted-Count, X-File-Id")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
			return
		}
		c.Next()
	}
}

type Options struct {
	// Gatherer backs GET /metrics. Nil disables the endpoint.
	Gatherer         prometheus.Gatherer
	ExportsPerMinute int
}

func RegisterRoutes(r *gin.Engine, h *handlers.Handler, opts Options) {
	// Enable CORS for preflight requests
	r.Use(corsMiddleware())

	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	limit := NewRateLimiter(opts.ExportsPerMinute).Middleware()

	api := r.Group("/api")
	{
		api.GET("/health", h.HealthCheck)

		// Map and detail views
		public := api.Group("", middleware.OptionalAuth())
		public.GET("/observations", h.ListObservations)
		public.GET("/observations/:id", h.ShowObservation)

		// Exports. Filter exports are open to anonymous viewers.
		public.GET("/downloads/filters/:id/count", h.FilterCount)
		public.GET("/downloads/filters/:id/:extension", limit, h.FilterExport)

		downloads := api.Group("/downloads", middleware.RequireAuth())
		downloads.GET("/collections/:id/:extension", limit, h.CollectionExport)
		downloads.GET("/observations/:extension", limit, h.MyObservationsExport)

		// Generated files
		files := api.Group("/files", middleware.RequireAuth())
		files.GET("", h.ListFiles)
		files.GET("/:id/download", h.DownloadFile)

		admin := api.Group("/admin", middleware.RequireAuth(), handlers.RequireCapability(privacy.CapAdminView))
		admin.GET("/observations/:id", h.AdminShowObservation)
	}
}

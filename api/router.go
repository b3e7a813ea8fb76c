package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/ingester/api/handler"
	"github.com/use-agent/ingester/api/middleware"
	"github.com/use-agent/ingester/cache"
	"github.com/use-agent/ingester/config"
	"github.com/use-agent/ingester/models"
)

// Deps are the services behind the HTTP routes.
type Deps struct {
	Ingester handler.Ingester
	Busy     handler.BusyReporter
	Scrapers handler.ScraperLister
	Items    handler.ItemGetter
	Cache    *cache.Cache[*models.IngestResponse]
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health sits outside auth so monitoring probes always work.
func NewRouter(deps Deps, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health stays outside auth.
	v1.GET("/health", handler.Health(deps.Busy, startTime))

	// Protected group: auth, then rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	protected.POST("/ingest", handler.Ingest(deps.Ingester, cfg.Ingest, deps.Cache))
	protected.GET("/scrapers", handler.ListScrapers(deps.Scrapers))
	protected.GET("/items/:id", handler.GetItem(deps.Items))

	return r
}

package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/ingester/models"
	"github.com/use-agent/ingester/registry"
)

// ScraperLister lists every registered scraper.
type ScraperLister interface {
	List(ctx context.Context) ([]registry.Record, error)
}

// ListScrapers returns a handler for GET /api/v1/scrapers.
// Records are listed in candidate order; code is never included.
func ListScrapers(reg ScraperLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := reg.List(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		infos := make([]models.ScraperInfo, 0, len(records))
		for _, r := range registry.Order(records) {
			infos = append(infos, models.ScraperInfo{
				ID:         r.ID,
				Label:      r.Label,
				URLPattern: r.URLPattern,
				HasDetect:  r.HasDetect(),
			})
		}
		c.JSON(http.StatusOK, models.ScrapersResponse{Success: true, Scrapers: infos})
	}
}

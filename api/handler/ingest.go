package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/ingester/cache"
	"github.com/use-agent/ingester/config"
	"github.com/use-agent/ingester/ingest"
	"github.com/use-agent/ingester/models"
)

// Ingester runs one ingestion.
type Ingester interface {
	Ingest(ctx context.Context, url string) (*ingest.Result, error)
}

// Ingest returns a handler for POST /api/v1/ingest.
//
// Flow:
//  1. Parse & validate the request.
//  2. Serve from cache when max_age allows it.
//  3. Run the ingestion under the request deadline.
//  4. Store in cache and respond.
func Ingest(ig Ingester, cfg config.IngestConfig, cc *cache.Cache[*models.IngestResponse]) gin.HandlerFunc {
	return func(c *gin.Context) {
		totalStart := time.Now()

		// ── 1. Parse request ────────────────────────────────────────
		var req models.IngestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.IngestResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}

		// ── 2. Cache lookup ─────────────────────────────────────────
		cacheKey := cache.Key(req.URL)
		if cc != nil && req.MaxAge > 0 {
			if cached, hit := cc.Get(cacheKey, time.Duration(req.MaxAge)*time.Millisecond); hit {
				resp := *cached
				resp.CacheStatus = "hit"
				resp.Timing = models.TimingInfo{TotalMs: time.Since(totalStart).Milliseconds()}
				c.JSON(http.StatusOK, resp)
				return
			}
		}

		// ── 3. Ingest ───────────────────────────────────────────────
		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout(req.Timeout, cfg))
		defer cancel()

		result, err := ig.Ingest(ctx, req.URL)
		timing := models.TimingInfo{TotalMs: time.Since(totalStart).Milliseconds()}
		if err != nil {
			status, detail := describeError(err)
			c.JSON(status, models.IngestResponse{
				Success: false,
				URL:     req.URL,
				Timing:  timing,
				Error:   detail,
			})
			return
		}

		resp := models.IngestResponse{
			Success:   true,
			SessionID: result.SessionID,
			URL:       result.URL,
			Scraper:   result.Scraper,
			Items:     result.Items,
			Timing:    timing,
		}
		if result.Primary != nil {
			resp.PrimaryID = result.Primary.ID
		}

		// ── 4. Cache store ──────────────────────────────────────────
		if cc != nil && req.MaxAge > 0 {
			stored := resp
			cc.Set(cacheKey, &stored)
			resp.CacheStatus = "miss"
		}

		c.JSON(http.StatusOK, resp)
	}
}

// requestTimeout resolves the client's timeout in seconds against the
// server default and maximum.
func requestTimeout(seconds int, cfg config.IngestConfig) time.Duration {
	d := cfg.DefaultTimeout
	if seconds > 0 {
		d = time.Duration(seconds) * time.Second
	}
	if cfg.MaxTimeout > 0 && d > cfg.MaxTimeout {
		d = cfg.MaxTimeout
	}
	return d
}

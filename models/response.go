package models

// IngestResponse is the response for POST /api/v1/ingest.
type IngestResponse struct {
	// Success indicates whether the ingestion completed without errors.
	Success bool `json:"success"`

	// SessionID identifies the ingestion session that produced the items.
	SessionID string `json:"session_id,omitempty"`

	// URL is the ingested document's address.
	URL string `json:"url,omitempty"`

	// Scraper is the label of the scraper that handled the document.
	Scraper string `json:"scraper,omitempty"`

	// Items lists every item the scraper created, in creation order.
	Items []Item `json:"items,omitempty"`

	// PrimaryID is the first created item, empty when none was created.
	PrimaryID string `json:"primary_id,omitempty"`

	// Timing provides duration breakdowns for the operation.
	Timing TimingInfo `json:"timing"`

	// CacheStatus indicates whether the response was served from cache.
	// Values: "hit", "miss", or empty (caching not requested).
	CacheStatus string `json:"cache_status,omitempty"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// TimingInfo provides timing breakdowns in milliseconds.
type TimingInfo struct {
	TotalMs int64 `json:"total_ms"`
}

// ScraperInfo summarizes a registry record without its code.
type ScraperInfo struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	URLPattern string `json:"url_pattern,omitempty"`
	HasDetect  bool   `json:"has_detect"`
}

// ScrapersResponse is the response for GET /api/v1/scrapers.
type ScrapersResponse struct {
	Success  bool          `json:"success"`
	Scrapers []ScraperInfo `json:"scrapers"`
	Error    *ErrorDetail  `json:"error,omitempty"`
}

// ItemResponse is the response for GET /api/v1/items/:id.
type ItemResponse struct {
	Success bool         `json:"success"`
	Item    *Item        `json:"item,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  int64  `json:"uptime_seconds"`
	Version string `json:"version"`

	// Busy reports whether an ingestion currently holds the browsing context.
	Busy bool `json:"busy"`
}

// ErrorResponse is written by middleware that rejects a request early.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}

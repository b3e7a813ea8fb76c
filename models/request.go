package models

// IngestRequest is the request body for POST /api/v1/ingest.
type IngestRequest struct {
	// URL is the page to ingest. Must be a valid HTTP(S) URL.
	URL string `json:"url" binding:"required,url"`

	// Timeout is the maximum duration in seconds for the whole ingestion,
	// including follow-up documents loaded by the scraper.
	// Zero means the server default. Capped by the server maximum.
	Timeout int `json:"timeout,omitempty" binding:"omitempty,min=1,max=3600"`

	// MaxAge in milliseconds. If > 0, a cached result younger than this
	// is returned without touching the browser. 0 disables caching.
	MaxAge int64 `json:"max_age,omitempty" binding:"omitempty,min=0"`
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Sandbox   SandboxConfig
	Pipeline  PipelineConfig
	Ingest    IngestConfig
	Storage   StorageConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Webhook   WebhookConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser that hosts the browsing context.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// ControlURL connects to an already running Chrome instead of launching one.
	ControlURL string

	// DefaultProxy is the proxy URL for the browser and the HTTP helpers.
	DefaultProxy string

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Stealth injects evasion scripts into every new document.
	Stealth bool // default: true

	// NavigationTimeout bounds issuing a single navigation.
	NavigationTimeout time.Duration // default: 15s

	// BlockedResourceTypes lists resource types to block.
	// default: ["Image", "Stylesheet", "Font", "Media"]
	BlockedResourceTypes []string

	// BlockAds drops requests to known ad and tracking hosts.
	BlockAds bool // default: true
}

// SandboxConfig controls scraper script evaluation.
type SandboxConfig struct {
	// ScriptTimeout bounds each synchronous script or callback run.
	ScriptTimeout time.Duration // default: 10s

	// HTTPTimeout bounds each HTTPUtilities request.
	HTTPTimeout time.Duration // default: 30s
}

// PipelineConfig controls the document fetch pipeline.
type PipelineConfig struct {
	// DoneDelay defers the completion callback after the last document.
	DoneDelay time.Duration // default: 10ms

	// ErrorPolicy is "continue" (skip the failed URL) or "halt".
	ErrorPolicy string // default: "continue"
}

// IngestConfig controls a single ingestion.
type IngestConfig struct {
	// DefaultTimeout is the deadline for an ingestion when the client sets none.
	DefaultTimeout time.Duration // default: 60s

	// MaxTimeout caps the client-supplied deadline.
	MaxTimeout time.Duration // default: 300s
}

// StorageConfig controls the sqlite database and its seed files.
type StorageConfig struct {
	// DBPath is the sqlite database file.
	DBPath string // default: "ingester.db"

	// MappingFile is an optional YAML field-mapping table.
	MappingFile string

	// ScrapersDir is an optional directory of scraper YAML files imported at startup.
	ScrapersDir string

	// SnapshotMaxTokens caps the Markdown snapshot stored with each item.
	// Zero keeps snapshots whole; negative disables them.
	SnapshotMaxTokens int // default: 4000
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 2

	// Burst is the maximum burst size per API key.
	Burst int // default: 5
}

// CacheConfig controls the ingest result cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached results.
	MaxEntries int // default: 1000

	// TTL evicts results older than this.
	TTL time.Duration // default: 1h
}

// WebhookConfig controls completion notifications.
type WebhookConfig struct {
	// URL receives an ingest.completed event per successful ingestion.
	URL string

	// Secret signs the payload with HMAC-SHA256 when set.
	Secret string
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("INGESTER_HOST", "0.0.0.0"),
			Port: envIntOr("INGESTER_PORT", 8080),
			Mode: envOr("INGESTER_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:          envBoolOr("INGESTER_HEADLESS", true),
			ControlURL:        os.Getenv("INGESTER_CDP_URL"),
			DefaultProxy:      os.Getenv("INGESTER_PROXY"),
			NoSandbox:         envBoolOr("INGESTER_NO_SANDBOX", false),
			BrowserBin:        os.Getenv("INGESTER_BROWSER_BIN"),
			Stealth:           envBoolOr("INGESTER_STEALTH", true),
			NavigationTimeout: envDurationOr("INGESTER_NAV_TIMEOUT", 15*time.Second),
			BlockedResourceTypes: envSliceOr("INGESTER_BLOCKED_RESOURCES", []string{
				"Image", "Stylesheet", "Font", "Media",
			}),
			BlockAds: envBoolOr("INGESTER_BLOCK_ADS", true),
		},
		Sandbox: SandboxConfig{
			ScriptTimeout: envDurationOr("INGESTER_SCRIPT_TIMEOUT", 10*time.Second),
			HTTPTimeout:   envDurationOr("INGESTER_HTTP_TIMEOUT", 30*time.Second),
		},
		Pipeline: PipelineConfig{
			DoneDelay:   envDurationOr("INGESTER_DONE_DELAY", 10*time.Millisecond),
			ErrorPolicy: envOr("INGESTER_ERROR_POLICY", "continue"),
		},
		Ingest: IngestConfig{
			DefaultTimeout: envDurationOr("INGESTER_DEFAULT_TIMEOUT", 60*time.Second),
			MaxTimeout:     envDurationOr("INGESTER_MAX_TIMEOUT", 300*time.Second),
		},
		Storage: StorageConfig{
			DBPath:      envOr("INGESTER_DB_PATH", "ingester.db"),
			MappingFile: os.Getenv("INGESTER_MAPPING_FILE"),
			ScrapersDir: os.Getenv("INGESTER_SCRAPERS_DIR"),

			SnapshotMaxTokens: envIntOr("INGESTER_SNAPSHOT_MAX_TOKENS", 4000),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("INGESTER_AUTH_ENABLED", true),
			APIKeys: envSliceOr("INGESTER_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("INGESTER_RATE_RPS", 2.0),
			Burst:             envIntOr("INGESTER_RATE_BURST", 5),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("INGESTER_CACHE_MAX_ENTRIES", 1000),
			TTL:        envDurationOr("INGESTER_CACHE_TTL", time.Hour),
		},
		Webhook: WebhookConfig{
			URL:    os.Getenv("INGESTER_WEBHOOK_URL"),
			Secret: os.Getenv("INGESTER_WEBHOOK_SECRET"),
		},
		Log: LogConfig{
			Level:  envOr("INGESTER_LOG_LEVEL", "info"),
			Format: envOr("INGESTER_LOG_FORMAT", "json"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}

// Package browser hosts the browsing context: one Chrome tab driven over
// the DevTools protocol.
package browser

import (
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/ingester/config"
	"github.com/use-agent/ingester/models"
)

// Browser owns the Chrome process (or the connection to an external one).
type Browser struct {
	browser *rod.Browser
	cfg     config.BrowserConfig
	// external browsers are disconnected on Close, never killed.
	external bool
}

// Launch starts a headless Chrome, or connects to cfg.ControlURL when set.
func Launch(cfg config.BrowserConfig) (*Browser, error) {
	controlURL := cfg.ControlURL
	external := controlURL != ""

	if !external {
		l := launcher.New().
			Headless(cfg.Headless).
			NoSandbox(cfg.NoSandbox)
		if cfg.BrowserBin != "" {
			l = l.Bin(cfg.BrowserBin)
		}
		if cfg.DefaultProxy != "" {
			l = l.Proxy(cfg.DefaultProxy)
		}

		l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
		l.Delete(flags.Flag("enable-automation"))
		l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
		l.Set(flags.Flag("disable-popup-blocking"))
		l.Set(flags.Flag("disable-prompt-on-repost"))
		l.Set(flags.Flag("disable-background-timer-throttling"))
		l.Set(flags.Flag("disable-component-update"))
		l.Set(flags.Flag("disable-default-apps"))
		l.Set(flags.Flag("disable-dev-shm-usage"))
		l.Set(flags.Flag("disable-extensions"))
		l.Set(flags.Flag("no-first-run"))

		var err error
		controlURL, err = l.Launch()
		if err != nil {
			return nil, models.NewIngestError(models.ErrCodeBrowserCrash, "failed to launch browser", err)
		}
		slog.Info("browser launched", "controlURL", controlURL)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, models.NewIngestError(models.ErrCodeBrowserCrash, "failed to connect to browser", err)
	}
	return &Browser{browser: b, cfg: cfg, external: external}, nil
}

// NewTab opens a tab prepared for scraping: stealth scripts installed,
// resource blocking mounted and page lifecycle events enabled.
func (b *Browser) NewTab() (*Tab, error) {
	page, err := b.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, models.NewIngestError(models.ErrCodeBrowserCrash, "failed to open tab", err)
	}

	if b.cfg.Stealth {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
		}
	}
	if err := (proto.PageEnable{}).Call(page); err != nil {
		_ = page.Close()
		return nil, models.NewIngestError(models.ErrCodeBrowserCrash, "failed to enable page domain", err)
	}
	if err := (proto.PageSetLifecycleEventsEnabled{Enabled: true}).Call(page); err != nil {
		_ = page.Close()
		return nil, models.NewIngestError(models.ErrCodeBrowserCrash, "failed to enable lifecycle events", err)
	}

	return newTab(page, b.cfg), nil
}

// Close shuts the browser down, or only disconnects from an external one.
func (b *Browser) Close() {
	if b.external {
		slog.Info("browser: disconnecting from external browser")
	} else {
		slog.Info("browser: closing")
	}
	if err := b.browser.Close(); err != nil {
		slog.Warn("browser: close failed", "error", err)
	}
}

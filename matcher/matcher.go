// Package matcher picks the scraper that applies to a loaded document.
package matcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/use-agent/ingester/cache"
	"github.com/use-agent/ingester/document"
	"github.com/use-agent/ingester/models"
	"github.com/use-agent/ingester/registry"
)

// Detector evaluates detect code against the document being matched.
// *sandbox.Sandbox satisfies it.
type Detector interface {
	Detect(code string) (bool, error)
}

// patternMatchTimeout bounds one pattern evaluation.
const patternMatchTimeout = time.Second

// Patterns caches compiled URL patterns. One instance is shared by the
// matchers of every session.
type Patterns struct {
	compiled *cache.Cache[*regexp2.Regexp]
}

// NewPatterns creates a pattern cache holding at most maxEntries patterns.
func NewPatterns(maxEntries int) *Patterns {
	return &Patterns{compiled: cache.New[*regexp2.Regexp](maxEntries, 0)}
}

// compile returns pattern as a case-insensitive ECMAScript regexp, the
// dialect scraper authors write for.
func (p *Patterns) compile(pattern string) (*regexp2.Regexp, error) {
	if re, ok := p.compiled.Get(pattern, 0); ok {
		return re, nil
	}
	re, err := regexp2.Compile(pattern, regexp2.ECMAScript|regexp2.IgnoreCase)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = patternMatchTimeout
	p.compiled.Set(pattern, re)
	return re, nil
}

// Matcher walks candidate scrapers in order and returns the first that
// accepts the document.
type Matcher struct {
	detector Detector
	patterns *Patterns
}

// New creates a Matcher whose detect code runs in detector. A nil
// patterns gets a private cache.
func New(detector Detector, patterns *Patterns) *Matcher {
	if patterns == nil {
		patterns = NewPatterns(64)
	}
	return &Matcher{detector: detector, patterns: patterns}
}

// Select returns the first candidate that accepts doc, or nil when none
// does. A candidate accepts when:
//   - it has a URL pattern matching the document URL (case-insensitive) and
//     no detect code, or
//   - it has detect code (run only if there is no pattern or the pattern
//     matched) whose result is truthy.
//
// Candidates with neither a pattern nor detect code never match. A failing
// detect script or an invalid pattern aborts the selection.
func (m *Matcher) Select(ctx context.Context, doc *document.Document, candidates []registry.Record) (*registry.Record, error) {
	target := doc.URL()
	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec := candidates[i]
		ok, err := m.accepts(target, rec)
		if err != nil {
			return nil, err
		}
		if ok {
			slog.Debug("matcher: scraper selected", "scraper", rec.Label, "url", target)
			return &rec, nil
		}
	}
	slog.Debug("matcher: no scraper accepted document", "url", target, "candidates", len(candidates))
	return nil, nil
}

func (m *Matcher) accepts(target string, rec registry.Record) (bool, error) {
	if !rec.HasPattern() && !rec.HasDetect() {
		return false, nil
	}

	matched := false
	if rec.HasPattern() {
		re, err := m.patterns.compile(rec.URLPattern)
		if err != nil {
			return false, models.NewScriptError(models.ErrCodeInvalidPattern, rec.Label, "invalid url pattern", err)
		}
		matched, err = re.MatchString(target)
		if err != nil {
			return false, models.NewScriptError(models.ErrCodeInvalidPattern, rec.Label, "url pattern did not finish", err)
		}
	}

	if rec.HasDetect() && (!rec.HasPattern() || matched) {
		if m.detector == nil {
			return false, models.NewScriptError(models.ErrCodeDetectScript, rec.Label, "no sandbox for detect code", nil)
		}
		verdict, err := m.detector.Detect(rec.DetectCode)
		if err != nil {
			return false, models.NewScriptError(models.ErrCodeDetectScript, rec.Label, "detect code failed", err)
		}
		return verdict, nil
	}
	return matched, nil
}

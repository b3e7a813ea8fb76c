package utility

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	tls "github.com/refraction-networking/utls"
	"github.com/use-agent/ingester/models"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// maxBody caps response bodies handed to scrapers.
const maxBody = 10 << 20

// StatusFunc receives a non-200 status code and its text.
type StatusFunc func(code int, text string)

// DoneFunc receives the full response body.
type DoneFunc func(body string)

// chromeH1Spec is a Chrome-like TLS ClientHello with ALPN forced to
// http/1.1, computed once and reused for every connection.
var chromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	// Go's http.Transport cannot speak h2 over a utls connection.
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// HTTP performs the asynchronous GET/POST/OPTIONS helpers. Each call runs
// on its own goroutine and reports through the supplied callbacks.
type HTTP struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTP creates helpers that dial TLS with a Chrome fingerprint.
// proxy may be empty.
func NewHTTP(proxy string, timeout time.Duration) *HTTP {
	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 10 * time.Second}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, _ := net.SplitHostPort(addr)
			tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
			if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
				conn.Close()
				return nil, fmt.Errorf("utility: apply tls spec: %w", err)
			}
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
		ForceAttemptHTTP2: false,
	}
	if proxy != "" {
		if proxyURL, err := url.Parse(proxy); err == nil && (proxyURL.Scheme == "http" || proxyURL.Scheme == "https") {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return NewHTTPWithClient(&http.Client{Transport: transport}, timeout)
}

// NewHTTPWithClient uses the given client as-is.
func NewHTTPWithClient(client *http.Client, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTP{client: client, timeout: timeout}
}

// Get issues a GET request.
func (h *HTTP) Get(ctx context.Context, target string, onStatus StatusFunc, onDone DoneFunc) {
	go h.do(ctx, http.MethodGet, target, "", onStatus, onDone)
}

// Post issues a POST request with body.
func (h *HTTP) Post(ctx context.Context, target, body string, onStatus StatusFunc, onDone DoneFunc) {
	go h.do(ctx, http.MethodPost, target, body, onStatus, onDone)
}

// Options issues an OPTIONS request with body.
func (h *HTTP) Options(ctx context.Context, target, body string, onStatus StatusFunc, onDone DoneFunc) {
	go h.do(ctx, http.MethodOptions, target, body, onStatus, onDone)
}

// do calls onStatus once when the status is not 200 and abandons the
// response; otherwise onDone receives the body once. Transport failures
// and callback panics are logged only.
func (h *HTTP) do(ctx context.Context, method, target, body string, onStatus StatusFunc, onDone DoneFunc) {
	helper := "http" + strings.ToLower(method[:1]) + method[1:]
	defer func() {
		if r := recover(); r != nil {
			logFailure(helper, models.NewIngestError(models.ErrCodeUtility, "callback panicked", fmt.Errorf("%v", r)))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		logFailure(helper, fmt.Errorf("build request: %w", err))
		return
	}
	req.Header.Set("User-Agent", chromeUA)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		logFailure(helper, fmt.Errorf("request %s: %w", target, err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && onStatus != nil {
		onStatus(resp.StatusCode, http.StatusText(resp.StatusCode))
		return
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		logFailure(helper, fmt.Errorf("read body: %w", err))
		return
	}
	if onDone != nil {
		onDone(string(data))
	}
}

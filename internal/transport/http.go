package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/time/rate"

	"github.com/Fenveireth/lightspark/internal/urlinfo"
)

// HTTPConfig tunes the HTTP/HTTPS fetcher.
type HTTPConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	RPS          float64
	Burst        int
	UserAgent    string
}

// DefaultHTTPConfig returns the fetcher defaults.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:      30 * time.Second,
		MaxRedirects: 10,
		RetryMax:     2,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 5 * time.Second,
		RPS:          20,
		Burst:        10,
		UserAgent:    "policyd/1.0",
	}
}

// HTTP fetches policy files over HTTP and HTTPS: retrying transport,
// capped redirects, outbound rate limit, gzip response handling. Retry
// policy lives here, never in the engine.
type HTTP struct {
	client  *resty.Client
	limiter *rate.Limiter
}

// NewHTTP builds the fetcher from cfg; zero fields take defaults,
// except RetryMax where zero means no retries.
func NewHTTP(cfg HTTPConfig) *HTTP {
	def := DefaultHTTPConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = def.MaxRedirects
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = def.RetryWaitMin
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = def.RetryWaitMax
	}
	if cfg.RPS <= 0 {
		cfg.RPS = def.RPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.Logger = nil

	client := resty.NewWithClient(rc.StandardClient()).
		SetTimeout(cfg.Timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(cfg.MaxRedirects)).
		SetDoNotParseResponse(true).
		SetHeader("User-Agent", cfg.UserAgent).
		// Explicit so the stdlib transport stops decoding transparently;
		// decoding happens below where the raw bytes are also hashed.
		SetHeader("Accept-Encoding", "gzip")

	return &HTTP{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
	}
}

// Schemes implements Fetcher.
func (h *HTTP) Schemes() []string {
	return []string{urlinfo.SchemeHTTP, urlinfo.SchemeHTTPS}
}

// Open fetches target. Anything but a 200 is a fetch failure; redirect
// resolution is reported through the response's effective URL.
func (h *HTTP) Open(ctx context.Context, target urlinfo.Info) (*Response, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("transport: rate limit wait: %w", err)
	}

	resp, err := h.client.R().SetContext(ctx).Get(target.String())
	if err != nil {
		return nil, fmt.Errorf("transport: fetching %s: %w", target.String(), err)
	}
	if resp.StatusCode() != http.StatusOK {
		resp.RawBody().Close()
		return nil, fmt.Errorf("transport: fetching %s: status %d", target.String(), resp.StatusCode())
	}

	effective := target
	redirected := false
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		if eff, err := urlinfo.Parse(raw.Request.URL.String()); err == nil {
			effective = eff
			redirected = !eff.Equal(target)
		}
	}

	body := resp.RawBody()
	if resp.Header().Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(body)
		if err != nil {
			body.Close()
			return nil, fmt.Errorf("transport: gzip body of %s: %w", target.String(), err)
		}
		body = &gzipBody{gz: gz, raw: body}
	}

	return &Response{
		EffectiveURL: effective,
		Redirected:   redirected,
		ContentType:  resp.Header().Get("Content-Type"),
		Body:         body,
	}, nil
}

// gzipBody decodes a gzip response body and closes both layers.
type gzipBody struct {
	gz  *gzip.Reader
	raw io.ReadCloser
}

func (b *gzipBody) Read(p []byte) (int, error) { return b.gz.Read(p) }

func (b *gzipBody) Close() error {
	gerr := b.gz.Close()
	rerr := b.raw.Close()
	if gerr != nil {
		return gerr
	}
	return rerr
}

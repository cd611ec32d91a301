// Package collyfetcher implements analyzer.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gocolly/colly/v2"
	"golang.org/x/net/html/charset"

	"github.com/JakeFAU/page-analyzer/internal/analyzer"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 10 * 1024 * 1024
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
}

// Fetcher implements analyzer.Fetcher using the Colly collector. Each call
// issues exactly one GET: robots.txt is never consulted and nothing is retried.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	c := colly.NewCollector(colly.Async(false))
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.MaxBodySize = cfg.MaxBodyBytes
	// Clones share the HTTP client and visited store, and the client's redirect
	// check reads these flags from this collector, not from the clone.
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newHTTPTransport(cfg.Timeout))
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET using Colly. Responses of any status are
// returned as results; only transport failures are errors.
func (f *Fetcher) Fetch(ctx context.Context, url string) (analyzer.FetchResponse, error) {
	var (
		result   analyzer.FetchResponse
		fetchErr error
	)
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	collector := f.buildCollector(time.Now(), &result, &fetchErr)
	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return analyzer.FetchResponse{}, err
	}
	if result.StatusCode == 0 {
		return analyzer.FetchResponse{}, fmt.Errorf("colly fetch %s: no response received", url)
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	start time.Time,
	result *analyzer.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.IgnoreRobotsTxt = true
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.MaxDepth = 0

	f.configureCollectorHooks(collector, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *analyzer.FetchResponse,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		var contentType string
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		*result = analyzer.FetchResponse{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: contentType,
			Body:        decodeBody(r.Body, contentType),
			Duration:    time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// decodeBody returns body as UTF-8. Colly already transcodes when the
// Content-Type header names a charset; otherwise the encoding declared in a
// <meta> tag is honored, and undeclared bodies that are not valid UTF-8 are
// read as windows-1252.
func decodeBody(body []byte, contentType string) []byte {
	out := append([]byte(nil), body...)
	if len(out) == 0 {
		return out
	}
	if _, params, err := mime.ParseMediaType(contentType); err == nil && params["charset"] != "" {
		return out
	}
	enc, name, _ := charset.DetermineEncoding(out, contentType)
	if name == "utf-8" || (name == "windows-1252" && utf8.Valid(out)) {
		return out
	}
	decoded, err := enc.NewDecoder().Bytes(out)
	if err != nil {
		return out
	}
	return decoded
}

func newHTTPTransport(timeout time.Duration) *http.Transport {
	dialTimeout := 10 * time.Second
	if timeout < dialTimeout {
		dialTimeout = timeout
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   dialTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

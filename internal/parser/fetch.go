package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"financerag/internal/logger"
	"financerag/models"

	"github.com/andybalholm/brotli"
	colly "github.com/gocolly/colly/v2"
	"golang.org/x/net/html/charset"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

var httpTransport = &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	MaxIdleConnsPerHost: 4,
	IdleConnTimeout:     90 * time.Second,
}

// Page is a fetched HTML document decoded to UTF-8.
type Page struct {
	URL        string
	Hostname   string
	StatusCode int
	Body       []byte
}

// Fetcher downloads single pages with colly, optionally rendering them in
// headless Chrome first.
type Fetcher struct {
	opts Options
}

// NewFetcher fills unset options with defaults.
func NewFetcher(opts Options) *Fetcher {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = 10 << 20
	}
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = 45 * time.Second
	}
	return &Fetcher{opts: opts}
}

// Fetch downloads rawURL. Every failure is a ParseError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &models.ParseError{Kind: models.SourceURL, Origin: rawURL, Reason: "invalid url", Err: err}
	}

	if f.opts.RenderJS {
		html, err := renderPageHTML(ctx, rawURL, f.opts.RenderTimeout, f.opts.WaitSelector)
		if err == nil && strings.TrimSpace(html) != "" {
			return &Page{URL: rawURL, Hostname: u.Hostname(), StatusCode: http.StatusOK, Body: []byte(html)}, nil
		}
		logger.Warn("js rendering failed, falling back to plain fetch", "url", rawURL, "error", err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.FetchTimeout)
	defer cancel()

	c := colly.NewCollector(
		colly.StdlibContext(ctx),
		colly.MaxBodySize(f.opts.MaxBodySize),
		colly.IgnoreRobotsTxt(),
		colly.AllowURLRevisit(),
	)
	c.WithTransport(httpTransport)
	c.SetRequestTimeout(f.opts.FetchTimeout)
	c.UserAgent = f.opts.UserAgent

	var (
		page     *Page
		fetchErr error
		status   int
	)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	c.OnResponse(func(r *colly.Response) {
		contentType := r.Headers.Get("Content-Type")
		if contentType != "" && !strings.Contains(contentType, "html") && !strings.Contains(contentType, "text/plain") {
			fetchErr = &models.ParseError{Kind: models.SourceURL, Origin: rawURL, Reason: "unsupported content type " + contentType}
			return
		}
		body, err := decodeBody(r.Body, r.Headers.Get("Content-Encoding"), contentType)
		if err != nil {
			fetchErr = &models.ParseError{Kind: models.SourceURL, Origin: rawURL, Reason: "undecodable body", Err: err}
			return
		}
		page = &Page{
			URL:        r.Request.URL.String(),
			Hostname:   r.Request.URL.Hostname(),
			StatusCode: r.StatusCode,
			Body:       body,
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		status = r.StatusCode
		fetchErr = err
	})

	if err := c.Visit(rawURL); err != nil && fetchErr == nil {
		fetchErr = err
	}
	c.Wait()

	switch {
	case fetchErr != nil:
		var pe *models.ParseError
		if errors.As(fetchErr, &pe) {
			return nil, pe
		}
		reason := "fetch failed"
		if status != 0 {
			reason = fmt.Sprintf("status %d", status)
		} else if ctx.Err() != nil {
			reason = "fetch timeout"
		}
		return nil, &models.ParseError{Kind: models.SourceURL, Origin: rawURL, Reason: reason, Err: fetchErr}
	case page == nil || len(bytes.TrimSpace(page.Body)) == 0:
		return nil, &models.ParseError{Kind: models.SourceURL, Origin: rawURL, Reason: "empty content"}
	}
	return page, nil
}

// decodeBody undoes brotli encoding, which the standard transport leaves in
// place, and converts the body to UTF-8.
func decodeBody(body []byte, contentEncoding, contentType string) ([]byte, error) {
	var reader io.Reader = bytes.NewReader(body)
	if strings.Contains(contentEncoding, "br") {
		decompressed, err := io.ReadAll(brotli.NewReader(reader))
		if err != nil {
			return nil, err
		}
		body = decompressed
		reader = bytes.NewReader(decompressed)
	}
	if len(body) == 0 {
		return body, nil
	}
	utf8Reader, err := charset.NewReader(reader, contentType)
	if err != nil {
		return body, nil
	}
	decoded, err := io.ReadAll(utf8Reader)
	if err != nil || len(decoded) == 0 {
		return body, nil
	}
	return decoded, nil
}

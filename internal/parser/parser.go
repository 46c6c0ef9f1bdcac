// Package parser turns raw source material (PDF bytes or a URL) into plain
// text plus the tables found in it.
package parser

import (
	"context"
	"strings"
	"time"

	"financerag/internal/telemetry"
	"financerag/models"

	"go.opentelemetry.io/otel/attribute"
)

// Parsed is the text and structure extracted from one document.
type Parsed struct {
	Text        string
	Tables      []models.Table
	PageCount   int
	WordCount   int
	Title       string
	Hostname    string
	PublishDate *time.Time
}

// Parser extracts text from raw material of a given kind. For URLs the raw
// bytes are the URL itself.
type Parser interface {
	Parse(ctx context.Context, raw []byte, kind models.SourceKind) (*Parsed, error)
}

// Options configures URL fetching.
type Options struct {
	FetchTimeout  time.Duration
	UserAgent     string
	MaxBodySize   int
	RenderJS      bool
	RenderTimeout time.Duration
	WaitSelector  string
}

// Service is the default Parser.
type Service struct {
	fetcher *Fetcher
}

// New creates a parser service.
func New(opts Options) *Service {
	return &Service{fetcher: NewFetcher(opts)}
}

func (s *Service) Parse(ctx context.Context, raw []byte, kind models.SourceKind) (*Parsed, error) {
	ctx, span := telemetry.StartSpan(ctx, "parser.parse", attribute.String("kind", string(kind)))
	defer span.End()

	var (
		parsed *Parsed
		err    error
	)
	switch kind {
	case models.SourcePDF:
		parsed, err = ParsePDF(raw)
	case models.SourceURL:
		parsed, err = s.parseURL(ctx, strings.TrimSpace(string(raw)))
	default:
		err = &models.ParseError{Kind: kind, Reason: "unsupported source kind"}
	}
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("pages", parsed.PageCount),
		attribute.Int("tables", len(parsed.Tables)),
		attribute.Int("words", parsed.WordCount),
	)
	return parsed, nil
}

func (s *Service) parseURL(ctx context.Context, rawURL string) (*Parsed, error) {
	page, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	parsed, err := ParseHTML(page.Body, page.URL)
	if err != nil {
		return nil, err
	}
	if parsed.Hostname == "" {
		parsed.Hostname = page.Hostname
	}
	return parsed, nil
}

func countWords(text string) int {
	return len(strings.Fields(text))
}

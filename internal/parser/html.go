package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"financerag/models"

	"github.com/PuerkitoBio/goquery"
)

const boilerplate = "script, style, noscript, iframe, nav, footer, header, aside, form, " +
	".nav, .navbar, .footer, .header, .sidebar, .advertisement, .ads, .skip-link, .cookie-banner"

var contentSelectors = []string{
	"main",
	"article",
	"[role='main']",
	".main-content",
	".article-body",
	".content",
	"#content",
	".post",
	".entry",
}

var publishDateSelectors = []string{
	"meta[property='article:published_time']",
	"meta[name='article:published_time']",
	"meta[property='og:published_time']",
	"meta[itemprop='datePublished']",
	"meta[name='pubdate']",
	"meta[name='publish-date']",
	"meta[name='date']",
	"meta[name='DC.date.issued']",
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123,
	time.RFC1123Z,
	"January 2, 2006",
}

// ParseHTML extracts the main article text, tables and metadata from an HTML
// page fetched from pageURL.
func ParseHTML(body []byte, pageURL string) (*Parsed, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &models.ParseError{Kind: models.SourceURL, Origin: pageURL, Reason: "invalid html", Err: err}
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if og, ok := doc.Find("meta[property='og:title']").Attr("content"); ok && strings.TrimSpace(og) != "" {
		title = strings.TrimSpace(og)
	}

	published := publishDate(doc)

	doc.Find(boilerplate).Remove()
	tables := htmlTables(doc.Selection)
	text := mainContent(doc.Selection)
	if text == "" {
		return nil, &models.ParseError{Kind: models.SourceURL, Origin: pageURL, Reason: "empty content"}
	}

	var host string
	if u, err := url.Parse(pageURL); err == nil {
		host = u.Hostname()
	}

	return &Parsed{
		Text:        text,
		Tables:      tables,
		PageCount:   1,
		WordCount:   countWords(text),
		Title:       title,
		Hostname:    host,
		PublishDate: published,
	}, nil
}

// mainContent prefers semantic content containers and falls back to the body.
func mainContent(sel *goquery.Selection) string {
	var content strings.Builder
	for _, selector := range contentSelectors {
		sel.Find(selector).Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); len(text) > 100 {
				content.WriteString(text)
				content.WriteString("\n\n")
			}
		})
		if content.Len() > 0 {
			break
		}
	}
	if content.Len() == 0 {
		content.WriteString(sel.Find("body").Text())
	}

	lines := strings.Split(content.String(), "\n")
	cleaned := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}

func htmlTables(sel *goquery.Selection) []models.Table {
	var tables []models.Table
	sel.Find("table").Each(func(_ int, t *goquery.Selection) {
		var rows [][]string
		t.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			var cells []string
			tr.Find("th, td").Each(func(_ int, c *goquery.Selection) {
				cells = append(cells, strings.Join(strings.Fields(c.Text()), " "))
			})
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
		})
		if len(rows) < 2 {
			return
		}
		idx := len(tables)
		title := strings.TrimSpace(t.Find("caption").First().Text())
		if title == "" {
			title = fmt.Sprintf("Table %d", idx+1)
		}
		tables = append(tables, models.Table{
			Page:   1,
			Index:  idx,
			Title:  title,
			Header: rows[0],
			Rows:   rows[1:],
		})
	})
	return tables
}

func publishDate(doc *goquery.Document) *time.Time {
	candidates := make([]string, 0, 2)
	for _, selector := range publishDateSelectors {
		if v, ok := doc.Find(selector).First().Attr("content"); ok {
			candidates = append(candidates, v)
		}
	}
	if v, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		candidates = append(candidates, v)
	}
	for _, c := range candidates {
		if t, ok := parseDate(strings.TrimSpace(c)); ok {
			return &t
		}
	}
	return nil
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

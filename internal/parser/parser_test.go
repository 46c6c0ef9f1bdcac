package parser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"financerag/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articleHTML = `<!doctype html>
<html><head>
<title>Acme Q3 results</title>
<meta property="article:published_time" content="2024-10-21T08:30:00Z">
</head>
<body>
<nav>Home | Markets | Contact</nav>
<header>Financial News Daily</header>
<article>
<p>Acme Corp reported third quarter revenue of 4.2 billion dollars, up twelve percent year over year, driven by strong demand in its cloud segment.</p>
<table>
<caption>Segment revenue</caption>
<tr><th>Segment</th><th>Q3 2024</th><th>Q3 2023</th></tr>
<tr><td>Cloud</td><td>2.1</td><td>1.7</td></tr>
<tr><td>Devices</td><td>2.1</td><td>2.05</td></tr>
</table>
</article>
<footer>Copyright</footer>
<script>var tracking = true;</script>
</body></html>`

func TestParseHTML(t *testing.T) {
	parsed, err := ParseHTML([]byte(articleHTML), "https://news.example.com/acme-q3")
	require.NoError(t, err)

	assert.Equal(t, "Acme Q3 results", parsed.Title)
	assert.Equal(t, "news.example.com", parsed.Hostname)
	assert.Contains(t, parsed.Text, "third quarter revenue of 4.2 billion")
	assert.NotContains(t, parsed.Text, "Markets")
	assert.NotContains(t, parsed.Text, "tracking")
	assert.Equal(t, 1, parsed.PageCount)
	assert.Positive(t, parsed.WordCount)

	require.NotNil(t, parsed.PublishDate)
	assert.Equal(t, time.Date(2024, 10, 21, 8, 30, 0, 0, time.UTC), *parsed.PublishDate)

	require.Len(t, parsed.Tables, 1)
	tbl := parsed.Tables[0]
	assert.Equal(t, "Segment revenue", tbl.Title)
	assert.Equal(t, []string{"Segment", "Q3 2024", "Q3 2023"}, tbl.Header)
	assert.Equal(t, [][]string{{"Cloud", "2.1", "1.7"}, {"Devices", "2.1", "2.05"}}, tbl.Rows)
}

func TestParseHTML_Empty(t *testing.T) {
	_, err := ParseHTML([]byte(`<html><body><nav>menu</nav><script>x()</script></body></html>`), "https://x.example")

	var pe *models.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "empty content", pe.Reason)
}

func TestParsePDF_InvalidHeader(t *testing.T) {
	_, err := ParsePDF([]byte("PK\x03\x04 this is a zip"))

	var pe *models.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, models.SourcePDF, pe.Kind)
	assert.False(t, models.IsTransient(err))
}

func TestParsePDF_Truncated(t *testing.T) {
	_, err := ParsePDF([]byte("%PDF-1.7\n1 0 obj\n<< /Type /Catalog"))

	var pe *models.ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestTablesFromPlainText(t *testing.T) {
	text := "Management discussion follows.\n" +
		"Consolidated income statement\n" +
		"Item        2024      2023\n" +
		"Revenue     4,210     3,760\n" +
		"Net income  612       540\n" +
		"\n" +
		"The board approved a dividend.\n"

	tables := tablesFromPlainText(text, 3, 2)
	require.Len(t, tables, 1)
	assert.Equal(t, "Consolidated income statement", tables[0].Title)
	assert.Equal(t, 3, tables[0].Page)
	assert.Equal(t, 2, tables[0].Index)
	assert.Equal(t, []string{"Item", "2024", "2023"}, tables[0].Header)
	assert.Len(t, tables[0].Rows, 2)
}

func TestDetectTables_DefaultTitle(t *testing.T) {
	lines := [][]string{
		{"a", "b"},
		{"1", "2"},
		{"3", "4"},
	}
	tables := detectTables(lines, 5, 0)
	require.Len(t, tables, 1)
	assert.Equal(t, "Table 1 (page 5)", tables[0].Title)
}

func TestDetectTables_NeedsTwoRows(t *testing.T) {
	lines := [][]string{{"lonely", "row"}, {"text"}}
	assert.Empty(t, detectTables(lines, 1, 0))
}

func TestRowCells(t *testing.T) {
	runs := []textRun{
		{X: 50, S: "Net"},
		{X: 50 + 3*approxCharWidth + 4, S: "sales"},
		{X: 300, S: "1,204"},
		{X: 400, S: "998"},
	}
	assert.Equal(t, []string{"Net sales", "1,204", "998"}, rowCells(runs))
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(articleHTML))
		case "/pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-1.4"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := New(Options{FetchTimeout: 5 * time.Second})

	parsed, err := p.Parse(context.Background(), []byte(srv.URL+"/ok"), models.SourceURL)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", parsed.Hostname)
	assert.Len(t, parsed.Tables, 1)

	_, err = p.Parse(context.Background(), []byte(srv.URL+"/missing"), models.SourceURL)
	var pe *models.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "status 404", pe.Reason)

	_, err = p.Parse(context.Background(), []byte(srv.URL+"/pdf"), models.SourceURL)
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Reason, "unsupported content type")

	_, err = p.Parse(context.Background(), []byte("ftp://example.com/file"), models.SourceURL)
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "invalid url", pe.Reason)
}

func TestRenderPageHTML(t *testing.T) {
	html, err := renderPageHTML(context.Background(), "https://example.com/", 10*time.Second, "body")
	if err != nil {
		// containers without Chrome cannot run this
		t.Skipf("headless chrome unavailable: %v", err)
	}
	assert.Contains(t, html, "<body")
}

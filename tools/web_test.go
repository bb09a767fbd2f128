package tools

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

const articlePage = `<!doctype html>
<html><head>
<title> Release notes </title>
<meta name="description" content=" What changed in 2.0 ">
<style>body{color:red}</style>
</head>
<body>
<header>Site header</header>
<nav><a href="/">Home</a></nav>
<div class="sidebar">Related links</div>
<main>
  <h1>Version 2.0</h1>
  <p>The <b>new</b> release adds   streaming.</p>
  <!-- build 1234 -->
  <script>track()</script>
  <div class="ad">Buy now</div>
  <ul><li>Faster startup</li><li>Smaller binary</li></ul>
  <div class="padding">Thanks to all contributors.</div>
</main>
<footer>Copyright</footer>
</body></html>`

func parseHTML(t *testing.T, s string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(s))
	require.NoError(t, err)
	return doc
}

func TestExtractPage(t *testing.T) {
	got := ExtractPage(parseHTML(t, articlePage))
	want := Page{
		Title:       "Release notes",
		Description: "What changed in 2.0",
		Blocks: []string{
			"Version 2.0",
			"The new release adds streaming.",
			"Faster startup",
			"Smaller binary",
			"Thanks to all contributors.",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ExtractPage mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractPageFallsBackToContentContainer(t *testing.T) {
	got := ExtractPage(parseHTML(t, `<body><div>menu text</div><div id="page-content"><p>Body text</p></div></body>`))
	assert.Equal(t, []string{"Body text"}, got.Blocks)

	empty := ExtractPage(parseHTML(t, `<body><script>x()</script></body>`))
	assert.Equal(t, "No readable content found on the webpage.", empty.String())
}

func TestWebScraperFetches(t *testing.T) {
	var agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		agent = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(articlePage))
	}))
	defer srv.Close()
	scraper := WebScraper(srv.Client(), nil, 0)

	out := run(t, scraper, map[string]any{"url": srv.URL})
	assert.True(t, strings.HasPrefix(out, "Title: Release notes\n\nDescription: What changed in 2.0\n\nContent:\n\nVersion 2.0\n\n"), out)
	assert.Contains(t, agent, "Mozilla/5.0")

	err := runErr(t, scraper, map[string]any{"url": srv.URL + "/missing"})
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, runErr(t, scraper, map[string]any{"url": srv.URL, "render_js": true}).Error(), "not configured")
}

type fakeRenderer struct {
	page string
	err  error
}

func (f fakeRenderer) Render(context.Context, string) (string, error) { return f.page, f.err }

func TestWebScraperRenders(t *testing.T) {
	scraper := WebScraper(nil, fakeRenderer{page: `<main><p>rendered</p></main>`}, time.Second)
	assert.Equal(t, "Content:\n\nrendered", run(t, scraper, map[string]any{"url": "https://example.com", "render_js": true}))

	failing := WebScraper(nil, fakeRenderer{err: errors.New("no browser")}, time.Second)
	assert.Contains(t, runErr(t, failing, map[string]any{"url": "https://example.com", "render_js": true}).Error(), "no browser")
}

// stalledRenderer never finishes loading.
type stalledRenderer struct{}

func (stalledRenderer) Render(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestWebScraperRenderTimesOut(t *testing.T) {
	scraper := WebScraper(nil, stalledRenderer{}, 20*time.Millisecond)
	start := time.Now()
	err := runErr(t, scraper, map[string]any{"url": "https://example.com", "render_js": true})
	assert.Contains(t, err.Error(), "timed out after")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRenderPageCapsSize(t *testing.T) {
	big := strings.Repeat("a", maxPageBytes+10)
	page, err := renderPage(context.Background(), fakeRenderer{page: big}, "https://example.com", time.Second)
	require.NoError(t, err)
	assert.Len(t, page, maxPageBytes)
}

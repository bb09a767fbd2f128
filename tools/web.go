package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/martinemde/coderoute/agentloop"
)

const (
	scraperUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	maxPageBytes = 5 << 20
)

// PageRenderer returns the HTML of a page after its scripts ran.
type PageRenderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// WebScraper fetches a page and returns its title, meta description and
// main text. With render_js set the page is loaded through renderer, bounded
// by renderTimeout.
func WebScraper(client *http.Client, renderer PageRenderer, renderTimeout time.Duration) agentloop.Capability {
	if client == nil {
		client = http.DefaultClient
	}
	return agentloop.Func(agentloop.Descriptor{
		Name: "webscrapertool",
		Description: "Fetches a web page and returns its main textual content, along with the page title " +
			"and meta description. Navigation and advertising elements are removed and heading " +
			"structure is kept as separate paragraphs.",
		Parameters: object([]string{"url"}, map[string]any{
			"url":       prop("string", "The URL of the webpage to scrape"),
			"render_js": prop("boolean", "Load the page in a headless browser before extracting (default: false)"),
		}),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		url := agentloop.StringArgOr(args, "url", "")
		if url == "" {
			return nil, errors.New("url is required")
		}

		var page string
		var err error
		if agentloop.BoolArgOr(args, "render_js", false) {
			if renderer == nil {
				return nil, errors.New("JavaScript rendering is not configured")
			}
			page, err = renderPage(ctx, renderer, url, renderTimeout)
		} else {
			page, err = fetchPage(ctx, client, url)
		}
		if err != nil {
			return nil, fmt.Errorf("scraping the webpage: %w", err)
		}

		doc, err := html.Parse(strings.NewReader(page))
		if err != nil {
			return nil, fmt.Errorf("parsing the webpage: %w", err)
		}
		return ExtractPage(doc).String(), nil
	})
}

func fetchPage(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", scraperUserAgent)
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%d %s for url: %s", resp.StatusCode, http.StatusText(resp.StatusCode), url)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func renderPage(ctx context.Context, renderer PageRenderer, url string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	page, err := renderer.Render(ctx, url)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("rendering %s timed out after %d seconds", url, int(timeout.Seconds()))
		}
		return "", err
	}
	if len(page) > maxPageBytes {
		page = page[:maxPageBytes]
	}
	return page, nil
}

// Page is the readable part of an HTML document.
type Page struct {
	Title       string
	Description string
	Blocks      []string
}

func (p Page) String() string {
	if len(p.Blocks) == 0 {
		return "No readable content found on the webpage."
	}
	var parts []string
	if p.Title != "" {
		parts = append(parts, "Title: "+p.Title)
	}
	if p.Description != "" {
		parts = append(parts, "Description: "+p.Description)
	}
	parts = append(parts, "Content:", strings.Join(p.Blocks, "\n\n"))
	return strings.Join(parts, "\n\n")
}

var (
	droppedTags = map[atom.Atom]bool{
		atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Iframe: true,
		atom.Svg: true, atom.Canvas: true, atom.Object: true,
	}
	chromeTags = map[atom.Atom]bool{
		atom.Nav: true, atom.Footer: true, atom.Aside: true, atom.Form: true, atom.Header: true,
	}
	blockTags = map[atom.Atom]bool{
		atom.P: true, atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
		atom.Li: true, atom.Ul: true, atom.Ol: true, atom.Section: true, atom.Article: true, atom.Main: true,
		atom.Div: true, atom.Br: true, atom.Table: true, atom.Tr: true, atom.Blockquote: true, atom.Pre: true,
	}

	containerAttr = regexp.MustCompile(`(?i)(main|content|article)`)
	// Matched as whole tokens so "header" or "padding" is not taken for "ad".
	chromeAttr = regexp.MustCompile(`(?i)(^|[\s_-])(sidebar|nav|navbar|menu|ad|ads|advert|advertisement)([\s_-]|$)`)
)

// ExtractPage finds the main content container of doc, drops navigation
// and advertising, and splits the remaining text at block elements.
func ExtractPage(doc *html.Node) Page {
	var p Page
	if title := findFirst(doc, func(n *html.Node) bool { return n.DataAtom == atom.Title }); title != nil {
		p.Title = collapse(textOf(title))
	}
	if meta := findFirst(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Meta && strings.EqualFold(attr(n, "name"), "description")
	}); meta != nil {
		p.Description = strings.TrimSpace(attr(meta, "content"))
	}

	container := mainContainer(doc)
	var cur strings.Builder
	flush := func() {
		if text := collapse(cur.String()); text != "" {
			p.Blocks = append(p.Blocks, text)
		}
		cur.Reset()
	}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			cur.WriteString(n.Data)
			cur.WriteByte(' ')
			return
		case html.CommentNode:
			return
		case html.ElementNode:
			if droppedTags[n.DataAtom] || chromeTags[n.DataAtom] || isChrome(n) {
				return
			}
		}
		block := n.Type == html.ElementNode && blockTags[n.DataAtom]
		if block {
			flush()
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			flush()
		}
	}
	walk(container)
	flush()
	return p
}

func mainContainer(doc *html.Node) *html.Node {
	finders := []func(*html.Node) bool{
		func(n *html.Node) bool { return n.DataAtom == atom.Main },
		func(n *html.Node) bool { return n.DataAtom == atom.Article },
		func(n *html.Node) bool { return n.Type == html.ElementNode && containerAttr.MatchString(attr(n, "id")) },
		func(n *html.Node) bool { return n.Type == html.ElementNode && containerAttr.MatchString(attr(n, "class")) },
		func(n *html.Node) bool { return n.DataAtom == atom.Body },
	}
	for _, match := range finders {
		if n := findFirst(doc, match); n != nil {
			return n
		}
	}
	return doc
}

func isChrome(n *html.Node) bool {
	return chromeAttr.MatchString(attr(n, "class")) || chromeAttr.MatchString(attr(n, "id"))
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && droppedTags[n.DataAtom] {
		return nil
	}
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textOf(c))
		sb.WriteByte(' ')
	}
	return sb.String()
}

func collapse(s string) string { return strings.Join(strings.Fields(s), " ") }

// RodRenderer renders pages in a headless Chromium started on first use.
type RodRenderer struct {
	bin string

	mu      sync.Mutex
	browser *rod.Browser
}

// NewRodRenderer creates a renderer. An empty bin lets the launcher find or
// download a browser.
func NewRodRenderer(bin string) *RodRenderer {
	return &RodRenderer{bin: bin}
}

func (r *RodRenderer) connect(ctx context.Context) (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		return r.browser, nil
	}
	l := launcher.New().Headless(true)
	if r.bin != "" {
		l = l.Bin(r.bin)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	r.browser = browser
	return browser, nil
}

func (r *RodRenderer) Render(ctx context.Context, url string) (string, error) {
	browser, err := r.connect(ctx)
	if err != nil {
		return "", err
	}
	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return "", err
	}
	defer page.Close()
	if deadline, ok := ctx.Deadline(); ok {
		page = page.Timeout(time.Until(deadline))
	}
	if err := page.WaitLoad(); err != nil {
		return "", err
	}
	return page.HTML()
}

// Close shuts the browser down if it was started.
func (r *RodRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	r.browser = nil
	return err
}

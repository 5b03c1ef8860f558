package research

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"manual-knowledge-pipeline/internal/config"

	"github.com/PuerkitoBio/goquery"
	colly "github.com/gocolly/colly/v2"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// Client searches the web for context about a product model. It scrapes the
// DuckDuckGo HTML endpoint, which needs no API key and renders without
// JavaScript.
type Client struct {
	baseURL string
	timeout time.Duration
	log     *slog.Logger
}

func NewClient(cfg *config.Config, log *slog.Logger) *Client {
	return &Client{
		baseURL: cfg.ResearchBaseURL,
		timeout: 15 * time.Second,
		log:     log,
	}
}

// Result carries the raw search snippets; interpreting them (manufacturer,
// series) is the caller's job.
type Result struct {
	Query    string
	Titles   []string
	Snippets []string
}

// Joined returns all collected text as one searchable blob.
func (r *Result) Joined() string {
	return strings.Join(append(append([]string{}, r.Titles...), r.Snippets...), "\n")
}

const maxResults = 8

// Search runs one query and collects the top result titles and snippets.
func (c *Client) Search(ctx context.Context, query string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{Query: query}

	collector := colly.NewCollector(colly.UserAgent(userAgent))
	collector.SetRequestTimeout(c.timeout)

	collector.OnHTML("div.result", func(e *colly.HTMLElement) {
		if len(result.Titles) >= maxResults {
			return
		}
		title := selectionText(e.DOM, "a.result__a")
		snippet := selectionText(e.DOM, ".result__snippet")
		if title == "" && snippet == "" {
			return
		}
		result.Titles = append(result.Titles, title)
		result.Snippets = append(result.Snippets, snippet)
	})

	var requestErr error
	collector.OnError(func(r *colly.Response, err error) {
		requestErr = err
	})

	target := c.baseURL + "?q=" + url.QueryEscape(query)
	if err := collector.Visit(target); err != nil {
		return nil, fmt.Errorf("research request failed: %w", err)
	}
	collector.Wait()

	if requestErr != nil {
		return nil, fmt.Errorf("research request failed: %w", requestErr)
	}

	c.log.Debug("research search finished", "query", query, "results", len(result.Titles))
	return result, nil
}

func selectionText(sel *goquery.Selection, selector string) string {
	return strings.TrimSpace(sel.Find(selector).First().Text())
}

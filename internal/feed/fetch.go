// Package feed fetches and parses the episode announcement feed.
//
// Fetches are conditional: stored ETag / Last-Modified validators are sent
// as If-None-Match / If-Modified-Since so an unchanged feed costs a 304.
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
)

const (
	userAgent   = "anibot/1.0 episode notifier"
	maxBodySize = 4 << 20
)

// Validators are the opaque cache tokens for a conditional fetch.
type Validators struct {
	ETag         string
	LastModified string
}

// Entry is one announcement item from the feed window.
type Entry struct {
	Title       string
	Permalink   string
	SeriesTitle string
	Thumbnail   string
}

// Result describes the outcome of one fetch attempt.
type Result struct {
	Status      int
	NotModified bool
	Validators  Validators
	Entries     []Entry
}

type Client struct {
	url  string
	http *http.Client
	log  zerolog.Logger
}

func NewClient(url string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		url:  url,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

// URL returns the provider feed URL. It identifies the provider in the
// refresh state table.
func (c *Client) URL() string { return c.url }

// Fetch performs one conditional GET. A 304 yields Result.NotModified with
// the prior validators; any other non-200 status yields Result.Status with
// no entries and no error (the caller decides throttling policy).
func (c *Client) Fetch(ctx context.Context, v Validators) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")
	if v.ETag != "" {
		req.Header.Set("If-None-Match", v.ETag)
	}
	if v.LastModified != "" {
		req.Header.Set("If-Modified-Since", v.LastModified)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return Result{Status: resp.StatusCode, NotModified: true, Validators: v}, nil
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Warn().Int("status", resp.StatusCode).Str("url", c.url).Msg("feed fetch non-success")
		return Result{Status: resp.StatusCode, Validators: v}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Result{}, fmt.Errorf("read feed body: %w", err)
	}

	next := v
	if etag := resp.Header.Get("ETag"); etag != "" {
		next.ETag = etag
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		next.LastModified = lm
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return Result{}, fmt.Errorf("parse feed: %w", err)
	}

	out := Result{Status: resp.StatusCode, Validators: next}
	for _, item := range parsed.Items {
		if item == nil || item.Link == "" {
			continue
		}
		out.Entries = append(out.Entries, Entry{
			Title:       item.Title,
			Permalink:   item.Link,
			SeriesTitle: seriesTitle(item),
			Thumbnail:   thumbnail(item),
		})
	}
	return out, nil
}

// seriesTitle pulls the dedicated series title field when the feed carries
// one (Crunchyroll-style extension), falling back to the item title with
// any " - Episode N" tail stripped.
func seriesTitle(item *gofeed.Item) string {
	if exts, ok := item.Extensions["crunchyroll"]; ok {
		if vals, ok := exts["seriesTitle"]; ok && len(vals) > 0 && vals[0].Value != "" {
			return vals[0].Value
		}
	}
	title := item.Title
	if i := strings.Index(title, " - Episode"); i > 0 {
		return title[:i]
	}
	return title
}

func thumbnail(item *gofeed.Item) string {
	if exts, ok := item.Extensions["media"]; ok {
		if vals, ok := exts["thumbnail"]; ok && len(vals) > 0 {
			if url := vals[0].Attrs["url"]; url != "" {
				return url
			}
		}
	}
	if item.Image != nil {
		return item.Image.URL
	}
	return ""
}

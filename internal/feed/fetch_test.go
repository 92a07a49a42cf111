package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:crunchyroll="http://www.crunchyroll.com/rss" xmlns:media="http://search.yahoo.com/mrss/">
<channel>
<title>Anime Feed</title>
<item>
<title>Demo Show - Episode 3 - Turning Point</title>
<link>https://example.com/ep3</link>
<crunchyroll:seriesTitle>Demo Show</crunchyroll:seriesTitle>
<media:thumbnail url="https://img.example.com/ep3.jpg"/>
</item>
<item>
<title>Other Show - Episode 12</title>
<link>https://example.com/other12</link>
</item>
</channel>
</rss>`

func TestFetchParsesEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"abc"`)
		w.Header().Set("Last-Modified", "Mon, 01 Jan 2024 00:00:00 GMT")
		fmt.Fprint(w, sampleFeed)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, zerolog.Nop())
	res, err := c.Fetch(context.Background(), Validators{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.Status != http.StatusOK || res.NotModified {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Validators.ETag != `"abc"` || res.Validators.LastModified == "" {
		t.Fatalf("validators not captured: %+v", res.Validators)
	}
	if len(res.Entries) != 2 {
		t.Fatalf("want 2 entries, got %d", len(res.Entries))
	}

	e := res.Entries[0]
	if e.SeriesTitle != "Demo Show" {
		t.Fatalf("series title from extension: want 'Demo Show', got %q", e.SeriesTitle)
	}
	if e.Permalink != "https://example.com/ep3" {
		t.Fatalf("unexpected permalink %q", e.Permalink)
	}
	if e.Thumbnail != "https://img.example.com/ep3.jpg" {
		t.Fatalf("unexpected thumbnail %q", e.Thumbnail)
	}

	// No extension: series title falls back to the stripped item title.
	if got := res.Entries[1].SeriesTitle; got != "Other Show" {
		t.Fatalf("fallback series title: want 'Other Show', got %q", got)
	}
}

func TestFetchConditional(t *testing.T) {
	var gotINM, gotIMS string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotINM = r.Header.Get("If-None-Match")
		gotIMS = r.Header.Get("If-Modified-Since")
		if gotINM == `"abc"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		fmt.Fprint(w, sampleFeed)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, zerolog.Nop())
	v := Validators{ETag: `"abc"`, LastModified: "Mon, 01 Jan 2024 00:00:00 GMT"}
	res, err := c.Fetch(context.Background(), v)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotINM != `"abc"` || gotIMS == "" {
		t.Fatalf("conditional headers not sent: inm=%q ims=%q", gotINM, gotIMS)
	}
	if !res.NotModified {
		t.Fatalf("want not-modified result, got %+v", res)
	}
	if res.Validators != v {
		t.Fatalf("304 must keep prior validators, got %+v", res.Validators)
	}
	if len(res.Entries) != 0 {
		t.Fatalf("304 carries no entries, got %d", len(res.Entries))
	}
}

func TestFetchNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, zerolog.Nop())
	res, err := c.Fetch(context.Background(), Validators{})
	if err != nil {
		t.Fatalf("non-success status is not a transport error: %v", err)
	}
	if res.Status != http.StatusBadGateway || len(res.Entries) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestFetchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c := NewClient(srv.URL, time.Second, zerolog.Nop())
	if _, err := c.Fetch(context.Background(), Validators{}); err == nil {
		t.Fatal("want error for unreachable provider")
	}
}

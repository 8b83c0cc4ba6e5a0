// Package headless renders JavaScript-driven scrape targets with a browser.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/tvivaldelli/signal-daily-digest/internal/fetcher"
)

const (
	defaultNavTimeout   = 45 * time.Second
	defaultSettle       = 500 * time.Millisecond
	defaultWaitSelector = "body"
)

// Config controls the headless fetcher.
type Config struct {
	// MaxParallel caps open tabs; zero means unbounded.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// WaitSelector is awaited before the DOM is captured.
	WaitSelector string
	// Settle is an extra pause for late client-side rendering.
	Settle time.Duration
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaultNavTimeout
	}
	if c.WaitSelector == "" {
		c.WaitSelector = defaultWaitSelector
	}
	if c.Settle <= 0 {
		c.Settle = defaultSettle
	}
	return c
}

// Fetcher renders pages in headless Chrome. One browser process is shared;
// each Fetch opens its own tab.
type Fetcher struct {
	cfg         Config
	slots       *semaphore.Weighted
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp starts the browser allocator. Chrome itself launches lazily on
// the first Fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	f := &Fetcher{cfg: cfg.withDefaults()}
	if cfg.MaxParallel > 0 {
		f.slots = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	f.allocator, f.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	return f, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch renders request.URL and returns the DOM after WaitSelector appears
// and the settle delay passes. A 4xx/5xx document status is a StatusError.
func (f *Fetcher) Fetch(ctx context.Context, request fetcher.Request) (fetcher.Response, error) {
	if f.slots != nil {
		if err := f.slots.Acquire(ctx, 1); err != nil {
			return fetcher.Response{}, fmt.Errorf("wait for headless slot: %w", err)
		}
		defer f.slots.Release(1)
	}

	tab, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()
	tab, cancel := context.WithTimeout(tab, f.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var doc document
	chromedp.ListenTarget(tab, doc.observe)

	var html, finalURL string
	start := time.Now()
	err := chromedp.Run(tab,
		f.setup(),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady(f.cfg.WaitSelector, chromedp.ByQuery),
		chromedp.Sleep(f.cfg.Settle),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return fetcher.Response{}, fmt.Errorf("render %s: %w", request.URL, err)
	}

	status, headers, url := doc.result(request.URL, finalURL)
	if status >= http.StatusBadRequest {
		return fetcher.Response{}, &fetcher.StatusError{URL: request.URL, StatusCode: status}
	}
	return fetcher.Response{
		URL:        url,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Duration:   time.Since(start),
		Headless:   true,
	}, nil
}

func (f *Fetcher) setup() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

// document records the last top-level document response seen in a tab.
type document struct {
	mu      sync.Mutex
	status  int
	url     string
	headers http.Header
}

func (d *document) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := make(http.Header, len(resp.Response.Headers))
	for k, v := range resp.Response.Headers {
		headers.Set(k, fmt.Sprint(v))
	}
	d.mu.Lock()
	d.status = int(resp.Response.Status)
	d.url = resp.Response.URL
	d.headers = headers
	d.mu.Unlock()
}

// result falls back to the browser location, then the requested URL, and to
// 200 when no document response was observed.
func (d *document) result(requestURL, finalURL string) (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, url, headers := d.status, d.url, d.headers
	if status == 0 {
		status = http.StatusOK
	}
	if url == "" {
		url = finalURL
	}
	if url == "" {
		url = requestURL
	}
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}

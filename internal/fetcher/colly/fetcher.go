// Package collyfetcher implements fetcher.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/tvivaldelli/signal-daily-digest/internal/fetcher"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher implements fetcher.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	waiter        fetcher.Waiter
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. waiter may be nil.
func New(cfg Config, waiter fetcher.Waiter) *Fetcher {
	// Sources are polled repeatedly and retried, so revisits must be allowed.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		waiter:        waiter,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET using Colly. Non-2xx responses come back
// as *fetcher.StatusError.
func (f *Fetcher) Fetch(ctx context.Context, request fetcher.Request) (fetcher.Response, error) {
	if f.waiter != nil {
		if err := f.waiter.Wait(ctx, request.URL); err != nil {
			return fetcher.Response{}, err
		}
	}
	var (
		result   fetcher.Response
		fetchErr error
	)
	collector := f.buildCollector(request, time.Now(), &result, &fetchErr)
	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return fetcher.Response{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	request fetcher.Request,
	start time.Time,
	result *fetcher.Response,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.AllowURLRevisit = true
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request fetcher.Request,
	start time.Time,
	result *fetcher.Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request.Headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = fetcher.Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= http.StatusBadRequest {
			*fetchErr = &fetcher.StatusError{URL: request.URL, StatusCode: r.StatusCode}
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			var se *fetcher.StatusError
			if errors.As(*fetchErr, &se) {
				return se
			}
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func copyHeaders(headers http.Header, r *colly.Request) {
	for key, values := range headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

// Package keepalive keeps the host process visibly busy while a run is in
// flight, for platforms that suspend idle instances.
package keepalive

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Noop is the heartbeat for hosts that never suspend.
type Noop struct{}

// Start returns a stop func that does nothing.
func (Noop) Start(context.Context) func() { return func() {} }

// Probe periodically GETs a URL, usually the service's own health endpoint.
type Probe struct {
	url      string
	interval time.Duration
	client   *http.Client
	logger   *zap.Logger
}

// NewProbe builds a Probe. interval defaults to one minute.
func NewProbe(url string, interval time.Duration, logger *zap.Logger) *Probe {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Probe{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

// Start begins probing until stop is called or ctx ends. stop blocks until
// the probe goroutine has exited and may be called more than once.
func (p *Probe) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.ping(ctx)
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func (p *Probe) ping(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.logger.Warn("keepalive request", zap.Error(err))
		return
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("keepalive probe failed", zap.String("url", p.url), zap.Error(err))
		}
		return
	}
	_ = resp.Body.Close()
	p.logger.Debug("keepalive probe", zap.Int("status", resp.StatusCode))
}

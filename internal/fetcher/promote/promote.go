// Package promote re-fetches pages through a headless browser when the plain
// HTTP response looks like an unrendered script shell.
package promote

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/tvivaldelli/signal-daily-digest/internal/fetcher"
)

// DefaultThreshold is the body size below which script-heavy pages are
// promoted.
const DefaultThreshold = 2048

var shellMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// Detector decides whether a plain response needs rendering.
type Detector struct {
	Threshold int
}

// NeedsRender reports whether resp is an empty or client-rendered shell.
func (d Detector) NeedsRender(resp fetcher.Response) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return true
	}
	threshold := d.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if len(resp.Body) < threshold && scriptShare(resp.Body) >= 25 {
		return true
	}
	for _, m := range shellMarkers {
		if bytes.Contains(resp.Body, m) {
			return true
		}
	}
	return false
}

// scriptShare returns the percentage of body bytes inside <script> elements.
func scriptShare(body []byte) int {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return 0
	}
	covered, pos := 0, 0
	for pos < total {
		i := strings.Index(lower[pos:], "<script")
		if i < 0 {
			break
		}
		start := pos + i
		end := total
		if gt := strings.IndexByte(lower[start:], '>'); gt >= 0 {
			open := start + gt + 1
			if j := strings.Index(lower[open:], "</script>"); j >= 0 {
				end = open + j + len("</script>")
			}
		}
		covered += end - start
		pos = end
	}
	return covered * 100 / total
}

// Fetcher tries Plain first and falls back to Rendered for shells.
type Fetcher struct {
	plain    fetcher.Fetcher
	rendered fetcher.Fetcher
	detector Detector
	logger   *zap.Logger
}

// New wires a promoting fetcher.
func New(plain, rendered fetcher.Fetcher, d Detector, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{plain: plain, rendered: rendered, detector: d, logger: logger}
}

// Fetch implements fetcher.Fetcher. A failed render keeps the plain response.
func (f *Fetcher) Fetch(ctx context.Context, req fetcher.Request) (fetcher.Response, error) {
	resp, err := f.plain.Fetch(ctx, req)
	if err != nil || !f.detector.NeedsRender(resp) {
		return resp, err
	}
	f.logger.Debug("promoting to headless", zap.String("url", req.URL), zap.Int("bytes", len(resp.Body)))
	rendered, rerr := f.rendered.Fetch(ctx, req)
	if rerr != nil {
		f.logger.Warn("headless promotion failed; keeping plain response", zap.String("url", req.URL), zap.Error(rerr))
		return resp, nil
	}
	return rendered, nil
}

package headless

import (
	"context"
	"fmt"

	"github.com/tvivaldelli/signal-daily-digest/internal/fetcher"
)

// Noop stands in when headless rendering is disabled. Sources that need a
// browser then fail in isolation.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with fetcher.ErrHeadlessDisabled.
func (Noop) Fetch(_ context.Context, req fetcher.Request) (fetcher.Response, error) {
	return fetcher.Response{}, fmt.Errorf("render %s: %w", req.URL, fetcher.ErrHeadlessDisabled)
}

package source

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tvivaldelli/signal-daily-digest/internal/fetcher"
)

type stubFetcher struct {
	mu    sync.Mutex
	body  map[string]string
	errs  map[string]error
	calls map[string]int
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{body: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (s *stubFetcher) Fetch(_ context.Context, req fetcher.Request) (fetcher.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[req.URL]++
	if err, ok := s.errs[req.URL]; ok {
		return fetcher.Response{}, err
	}
	return fetcher.Response{URL: req.URL, StatusCode: 200, Body: []byte(s.body[req.URL])}, nil
}

func (s *stubFetcher) callCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[url]
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func stringsReader(s string) *strings.Reader {
	return strings.NewReader(s)
}

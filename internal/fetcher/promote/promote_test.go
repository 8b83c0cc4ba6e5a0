package promote

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvivaldelli/signal-daily-digest/internal/fetcher"
)

type stubFetcher struct {
	resp  fetcher.Response
	err   error
	calls int
}

func (s *stubFetcher) Fetch(context.Context, fetcher.Request) (fetcher.Response, error) {
	s.calls++
	return s.resp, s.err
}

func TestDetectorNeedsRender(t *testing.T) {
	t.Parallel()

	d := Detector{}
	tests := []struct {
		name string
		resp fetcher.Response
		want bool
	}{
		{name: "empty body", resp: fetcher.Response{StatusCode: 200}, want: true},
		{name: "non 200", resp: fetcher.Response{StatusCode: 404}, want: false},
		{
			name: "next shell",
			resp: fetcher.Response{StatusCode: 200, Body: []byte(`<div id="__next"></div>` + strings.Repeat("x", 4096))},
			want: true,
		},
		{
			name: "small script heavy page",
			resp: fetcher.Response{StatusCode: 200, Body: []byte(`<html><script>var a = 1; var b = 2;</script></html>`)},
			want: true,
		},
		{
			name: "server rendered",
			resp: fetcher.Response{StatusCode: 200, Body: []byte(`<html><body><article><h2>Headline</h2></article></body></html>`)},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, d.NeedsRender(tt.resp))
		})
	}
}

func TestScriptShareUnclosedTag(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 100, scriptShare([]byte("<script")))
	assert.Zero(t, scriptShare([]byte("<p>plain</p>")))
}

func TestFetcherPromotes(t *testing.T) {
	t.Parallel()

	plain := &stubFetcher{resp: fetcher.Response{StatusCode: 200}}
	rendered := &stubFetcher{resp: fetcher.Response{StatusCode: 200, Body: []byte("<h2>ok</h2>"), Headless: true}}
	f := New(plain, rendered, Detector{}, nil)

	resp, err := f.Fetch(context.Background(), fetcher.Request{URL: "https://example.com"})
	require.NoError(t, err)
	assert.True(t, resp.Headless)
	assert.Equal(t, 1, rendered.calls)
}

func TestFetcherKeepsPlainOnRenderFailure(t *testing.T) {
	t.Parallel()

	plain := &stubFetcher{resp: fetcher.Response{StatusCode: 200, Body: []byte(`<div id="root"></div>`)}}
	rendered := &stubFetcher{err: fetcher.ErrHeadlessDisabled}
	f := New(plain, rendered, Detector{}, nil)

	resp, err := f.Fetch(context.Background(), fetcher.Request{URL: "https://example.com"})
	require.NoError(t, err)
	assert.False(t, resp.Headless)
	assert.Equal(t, `<div id="root"></div>`, string(resp.Body))
}

func TestFetcherSkipsRenderForPlainPages(t *testing.T) {
	t.Parallel()

	plain := &stubFetcher{resp: fetcher.Response{StatusCode: 200, Body: []byte("<article><h2>Headline</h2></article>")}}
	rendered := &stubFetcher{}
	f := New(plain, rendered, Detector{}, nil)

	_, err := f.Fetch(context.Background(), fetcher.Request{URL: "https://example.com"})
	require.NoError(t, err)
	assert.Zero(t, rendered.calls)

	plain.err = errors.New("boom")
	_, err = f.Fetch(context.Background(), fetcher.Request{URL: "https://example.com"})
	require.Error(t, err)
	assert.Zero(t, rendered.calls)
}

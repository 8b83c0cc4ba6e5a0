// Package telegram posts artifacts to a chat through the Telegram bot API.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tvivaldelli/signal-daily-digest/internal/delivery"
	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
	"github.com/tvivaldelli/signal-daily-digest/internal/fetcher"
)

// maxMessageRunes is Telegram's limit for one message.
const maxMessageRunes = 4096

// Config identifies the bot and destination chat.
type Config struct {
	BotToken string
	ChatID   string
	// BaseURL overrides the API root, mainly for tests.
	BaseURL string
	Timeout time.Duration
}

// Channel implements delivery.Channel.
type Channel struct {
	cfg    Config
	cal    digest.Calendar
	client *http.Client
}

// New validates cfg and returns a Channel.
func New(cfg Config, cal digest.Calendar) (*Channel, error) {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return nil, fmt.Errorf("telegram bot token and chat id are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Channel{cfg: cfg, cal: cal, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

// Name implements delivery.Channel.
func (*Channel) Name() string { return "telegram" }

// Send posts the rendered artifact.
func (c *Channel) Send(ctx context.Context, artifact digest.Artifact) error {
	text := delivery.RenderMarkdown(artifact, c.cal)
	if r := []rune(text); len(r) > maxMessageRunes {
		text = string(r[:maxMessageRunes-3]) + "..."
	}

	form := url.Values{}
	form.Set("chat_id", c.cfg.ChatID)
	form.Set("text", text)
	form.Set("parse_mode", "Markdown")
	form.Set("disable_web_page_preview", "true")

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/bot" + c.cfg.BotToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		// The error string carries the endpoint, which embeds the token.
		return fmt.Errorf("telegram sendMessage: %s", strings.ReplaceAll(err.Error(), c.cfg.BotToken, "***"))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &fetcher.StatusError{URL: "telegram sendMessage", StatusCode: resp.StatusCode}
	}
	return nil
}

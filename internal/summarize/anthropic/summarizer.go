// Package anthropic turns record windows into artifacts with Claude via llmkit.
package anthropic

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"
	"go.uber.org/zap"

	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
	"github.com/tvivaldelli/signal-daily-digest/internal/source"
)

//go:embed artifact_schema.json
var artifactSchema string

//go:embed rollup_schema.json
var rollupSchema string

// Config selects the model and bounds the prompt.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	// MaxRecords caps how many records go into one prompt.
	MaxRecords int
}

const (
	defaultModel      = "claude-sonnet-4-5"
	defaultMaxTokens  = 4096
	defaultMaxRecords = 60
)

const systemPrompt = `You write a daily intelligence digest for a technical reader.
Group related items, drop noise and marketing, and prefer concrete facts.
Every signal must cite the link of a record it is based on.
Answer only with JSON matching the provided schema.`

const rollupSystemPrompt = `You review a week of daily digests and name the themes that kept recurring.
Answer only with JSON matching the provided schema.`

// promptFunc sends one structured prompt and returns the text of the reply.
type promptFunc func(system, user, schema string, settings types.RequestSettings) (string, error)

// Summarizer implements digest.Summarizer and digest.RollupSummarizer.
type Summarizer struct {
	cfg    Config
	prompt promptFunc
	logger *zap.Logger
}

// New builds a Summarizer. It fails without an API key so callers can fall
// back to summarize.Fallback.
func New(cfg Config, logger *zap.Logger) (*Summarizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	apiKey := cfg.APIKey
	return newSummarizer(cfg, logger, func(system, user, schema string, settings types.RequestSettings) (string, error) {
		resp, err := anthropic.PromptWithSettings(system, user, schema, apiKey, settings)
		if err != nil {
			return "", err
		}
		if len(resp.Content) == 0 {
			return "", fmt.Errorf("no content in response")
		}
		return resp.Content[0].Text, nil
	}), nil
}

func newSummarizer(cfg Config, logger *zap.Logger, prompt promptFunc) *Summarizer {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = defaultMaxRecords
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{cfg: cfg, prompt: prompt, logger: logger}
}

func (s *Summarizer) settings() types.RequestSettings {
	return types.RequestSettings{
		Model:       s.cfg.Model,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	}
}

type artifactReply struct {
	Digest   []string         `json:"digest"`
	Signals  []digest.Signal  `json:"signals"`
	Insights []digest.Insight `json:"insights"`
}

// Summarize asks the model for an artifact covering records. The caller
// stamps generation time and window.
func (s *Summarizer) Summarize(ctx context.Context, category string, records []digest.Record) (digest.Artifact, error) {
	if len(records) > s.cfg.MaxRecords {
		records = records[:s.cfg.MaxRecords]
	}
	text, err := s.call(ctx, systemPrompt, RecordsPrompt(category, records), artifactSchema)
	if err != nil {
		return digest.Artifact{}, fmt.Errorf("summarize %s: %w", category, err)
	}
	var reply artifactReply
	if err := json.Unmarshal([]byte(stripFences(text)), &reply); err != nil {
		return digest.Artifact{}, fmt.Errorf("parse summary: %w", err)
	}
	s.logger.Debug("summary generated",
		zap.String("category", category),
		zap.Int("records", len(records)),
		zap.Int("signals", len(reply.Signals)))
	return digest.Artifact{
		Category:     category,
		Digest:       orEmpty(reply.Digest),
		Signals:      orEmpty(reply.Signals),
		Insights:     orEmpty(reply.Insights),
		ArticleCount: len(records),
		SourceCount:  digest.DistinctSources(records),
	}, nil
}

// Rollup condenses recent archived artifacts into bullets.
func (s *Summarizer) Rollup(ctx context.Context, history []digest.ArchivedArtifact) ([]string, error) {
	if len(history) == 0 {
		return nil, nil
	}
	text, err := s.call(ctx, rollupSystemPrompt, HistoryPrompt(history), rollupSchema)
	if err != nil {
		return nil, fmt.Errorf("rollup: %w", err)
	}
	var reply struct {
		Bullets []string `json:"bullets"`
	}
	if err := json.Unmarshal([]byte(stripFences(text)), &reply); err != nil {
		return nil, fmt.Errorf("parse rollup: %w", err)
	}
	return reply.Bullets, nil
}

// call runs the blocking prompt off the caller's goroutine so ctx can
// abandon it.
func (s *Summarizer) call(ctx context.Context, system, user, schema string) (string, error) {
	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := s.prompt(system, user, schema, s.settings())
		done <- result{text, err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.text, r.err
	}
}

// RecordsPrompt renders records as the user prompt.
func RecordsPrompt(category string, records []digest.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Category: %s\nRecords (%d), newest first:\n", category, len(records))
	for i, r := range records {
		fmt.Fprintf(&b, "\n[%d] %s\nsource: %s", i+1, r.Title, r.Source)
		if r.Topic != "" {
			fmt.Fprintf(&b, " | topic: %s", r.Topic)
		}
		fmt.Fprintf(&b, "\npublished: %s\nlink: %s\n", r.PublishedAt.UTC().Format("2006-01-02 15:04"), r.Link)
		if r.Excerpt != "" {
			fmt.Fprintf(&b, "excerpt: %s\n", source.Truncate(r.Excerpt, source.ExcerptRunes))
		}
	}
	return b.String()
}

// HistoryPrompt renders archived digests as the rollup prompt.
func HistoryPrompt(history []digest.ArchivedArtifact) string {
	var b strings.Builder
	b.WriteString("Recent digests, newest first:\n")
	for _, row := range history {
		a := row.Artifact
		fmt.Fprintf(&b, "\n## %s (%s)\n", a.GeneratedAt.UTC().Format("2006-01-02"), a.Category)
		for _, d := range a.Digest {
			fmt.Fprintf(&b, "- %s\n", d)
		}
		for _, sig := range a.Signals {
			fmt.Fprintf(&b, "- signal: %s: %s\n", sig.Title, sig.Summary)
		}
	}
	return b.String()
}

// stripFences removes a surrounding markdown code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Package delivery fans an artifact out to the configured channels and
// reports a single status.
package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
	"github.com/tvivaldelli/signal-daily-digest/internal/fetcher"
	"github.com/tvivaldelli/signal-daily-digest/internal/metrics"
	"github.com/tvivaldelli/signal-daily-digest/internal/retry"
)

// ReasonNotConfigured is reported when no channel is configured.
const ReasonNotConfigured = "delivery not configured"

// Channel sends an artifact to one destination. A *fetcher.StatusError with a
// non-retryable status stops retries for that channel.
type Channel interface {
	Name() string
	Send(ctx context.Context, artifact digest.Artifact) error
}

// Service implements digest.Deliverer.
type Service struct {
	channels []Channel
	policy   retry.Policy
	logger   *zap.Logger
}

// New builds a Service. policy applies to each channel independently.
func New(channels []Channel, policy retry.Policy, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{channels: channels, policy: policy, logger: logger}
}

// Deliver sends artifact to every channel. The status is sent only when all
// channels succeed; otherwise the reasons of the failing channels are joined.
func (s *Service) Deliver(ctx context.Context, artifact digest.Artifact) digest.DeliveryStatus {
	if len(s.channels) == 0 {
		metrics.ObserveDelivery(string(digest.DeliveryFailed))
		return digest.Failed(ReasonNotConfigured)
	}

	var reasons []string
	for _, ch := range s.channels {
		log := s.logger.With(zap.String("channel", ch.Name()), zap.String("category", artifact.Category))
		policy := s.policy
		policy.OnRetry = func(attempt int, delay time.Duration, err error) {
			log.Warn("delivery attempt failed; retrying",
				zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		}
		err := retry.Run(ctx, policy, func(ctx context.Context) error {
			err := ch.Send(ctx, artifact)
			if err != nil && !fetcher.IsRetryable(err) {
				return retry.Permanent(err)
			}
			return err
		})
		if err != nil {
			log.Error("delivery failed", zap.Error(err))
			reasons = append(reasons, fmt.Sprintf("%s: %v", ch.Name(), err))
			continue
		}
		log.Info("artifact delivered")
	}

	if len(reasons) > 0 {
		metrics.ObserveDelivery(string(digest.DeliveryFailed))
		return digest.Failed(strings.Join(reasons, "; "))
	}
	metrics.ObserveDelivery(string(digest.DeliverySent))
	return digest.Sent()
}

type runIDKey struct{}

// WithRunID attaches the run ID to ctx so channels can tag messages.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunID returns the run ID attached by WithRunID.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

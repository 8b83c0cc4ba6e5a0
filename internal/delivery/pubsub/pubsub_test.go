package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tvivaldelli/signal-daily-digest/internal/delivery"
	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
)

func TestSendPublishesArtifact(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close()

	topic, err := client.CreateTopic(ctx, "digests")
	require.NoError(t, err)
	defer topic.Stop()

	ch, err := New(topic)
	require.NoError(t, err)

	artifact := digest.Artifact{
		Category:    "tech",
		Digest:      []string{"Rust ships 2.0"},
		GeneratedAt: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, ch.Send(delivery.WithRunID(ctx, "run-1"), artifact))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "tech", msgs[0].Attributes["category"])
	assert.Equal(t, "run-1", msgs[0].Attributes["run_id"])

	var got digest.Artifact
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, artifact.Digest, got.Digest)
}

func TestNewRequiresTopic(t *testing.T) {
	t.Parallel()
	_, err := New(nil)
	require.Error(t, err)
}

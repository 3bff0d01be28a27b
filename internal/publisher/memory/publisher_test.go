package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "archive.ready", map[string]string{"job_id": "a"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "archive.ready", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "archive.ready", msgs[0].Topic)

	msgs[0].Topic = "modified"
	require.Equal(t, "archive.ready", pub.Messages()[0].Topic)
}

func TestPublisherHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pub := New()
	_, err := pub.Publish(ctx, "archive.ready", nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, pub.Messages())
}

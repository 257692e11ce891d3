package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	attrs := map[string]string{"stage": "RUN_START"}
	id1, err := pub.Publish(context.Background(), "topic-a", map[string]string{"k": "v"}, attrs)
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "topic-b", "payload", nil)
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	attrs["stage"] = "changed"
	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "topic-a", msgs[0].Topic)
	require.Equal(t, "RUN_START", msgs[0].Attributes["stage"])
	require.Equal(t, "topic-b", msgs[1].Topic)

	msgs[0].Topic = "modified"
	require.Equal(t, "topic-a", pub.Messages()[0].Topic)
}

func TestPublisherHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Publish(ctx, "topic", "payload", nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, New().Messages())
}

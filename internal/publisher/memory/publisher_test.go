package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scholar-crawler/internal/crawler"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "scholar-runs", crawler.RunEvent{RunID: "r1", ProfileID: "turing"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "other", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "scholar-runs", msgs[0].Topic)

	msgs[0].Topic = "modified"
	require.Equal(t, "scholar-runs", pub.Messages()[0].Topic)

	events := pub.RunEvents("scholar-runs")
	require.Len(t, events, 1)
	require.Equal(t, "r1", events[0].RunID)
	require.Empty(t, pub.RunEvents("other"))
}

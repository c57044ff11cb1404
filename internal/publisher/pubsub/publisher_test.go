package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/scholar-crawler/internal/crawler"
)

func newTestPublisher(t *testing.T) (*Publisher, *pstest.Server) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	_, err := srv.GServer.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/test/topics/scholar-runs"})
	require.NoError(t, err)

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(ctx, "test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	p := New(client)
	t.Cleanup(p.Stop)
	return p, srv
}

func TestPublisher_PublishesRunEvent(t *testing.T) {
	t.Parallel()

	p, srv := newTestPublisher(t)
	event := crawler.RunEvent{
		RunID:       "run-1",
		JobID:       "job-1",
		ProfileID:   "turing",
		Status:      crawler.RunSucceeded,
		RecordCount: 3,
		Message:     "Process finished. Articles: 3",
	}

	id, err := p.Publish(context.Background(), "scholar-runs", event)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "run.finished", msgs[0].Attributes["event_type"])
	require.Equal(t, "turing", msgs[0].Attributes["profile_id"])
	require.Equal(t, "success", msgs[0].Attributes["status"])

	var decoded crawler.RunEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	require.Equal(t, "job-1", decoded.JobID)
	require.Equal(t, 3, decoded.RecordCount)
}

func TestPublisher_Errors(t *testing.T) {
	t.Parallel()

	p, _ := newTestPublisher(t)
	_, err := p.Publish(context.Background(), "", map[string]string{"k": "v"})
	require.Error(t, err)

	_, err = p.Publish(context.Background(), "scholar-runs", make(chan int))
	require.Error(t, err)

	_, err = p.Publish(context.Background(), "missing-topic", map[string]string{"k": "v"})
	require.Error(t, err)
}

func TestPubsubCarrier(t *testing.T) {
	t.Parallel()

	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc-def-01")
	require.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}

package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStreamEmitterAppends(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	ev := New(WaitlistMatched, uuid.New(), uuid.New(), uuid.New(), time.Now(), map[string]any{"respond_by": "tomorrow"})

	emitter := NewRedisStreamEmitter(client, "test.events")
	require.NoError(t, emitter.Emit(ctx, ev))

	msgs, err := client.XRange(ctx, "test.events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, string(WaitlistMatched), msgs[0].Values["type"])

	var decoded Event
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["payload"].(string)), &decoded))
	assert.Equal(t, ev.BookingID, decoded.BookingID)
}

type stubSQS struct {
	inputs []*sqs.SendMessageInput
}

func (s *stubSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	s.inputs = append(s.inputs, in)
	return &sqs.SendMessageOutput{}, nil
}

func TestSQSEmitterSendsTypedMessage(t *testing.T) {
	client := &stubSQS{}
	emitter := NewSQSEmitter(client, "https://sqs.example/queue")
	ev := New(BookingRescheduled, uuid.New(), uuid.New(), uuid.New(), time.Now(), nil)

	require.NoError(t, emitter.Emit(context.Background(), ev))
	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, "https://sqs.example/queue", *in.QueueUrl)
	assert.Equal(t, string(BookingRescheduled), *in.MessageAttributes["event_type"].StringValue)
	assert.Contains(t, *in.MessageBody, ev.ID.String())
}

package events

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// LogEmitter writes events to the log only. Used in dev and when no sink is configured.
type LogEmitter struct {
	logger zerolog.Logger
}

func NewLogEmitter(logger zerolog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger.With().Str("component", "log_emitter").Logger()}
}

func (e *LogEmitter) Emit(_ context.Context, ev Event) error {
	e.logger.Info().
		Str("event_id", ev.ID.String()).
		Str("type", string(ev.Type)).
		Str("booking_id", ev.BookingID.String()).
		Str("beneficiary_id", ev.BeneficiaryID.String()).
		Str("provider_id", ev.ProviderID.String()).
		Time("occurred_at", ev.OccurredAt).
		Msg("event")
	return nil
}

// RedisStreamEmitter appends events to a Redis stream consumed by the
// Notification Scheduler.
type RedisStreamEmitter struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

func NewRedisStreamEmitter(client redis.Cmdable, stream string) *RedisStreamEmitter {
	if stream == "" {
		stream = "scheduling.events"
	}
	return &RedisStreamEmitter{client: client, stream: stream, maxLen: 100000}
}

func (e *RedisStreamEmitter) Emit(ctx context.Context, ev Event) error {
	body, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = e.client.XAdd(ctx, &redis.XAddArgs{
		Stream: e.stream,
		MaxLen: e.maxLen,
		Approx: true,
		Values: map[string]any{
			"event_id": ev.ID.String(),
			"type":     string(ev.Type),
			"payload":  string(body),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", e.stream, err)
	}
	return nil
}

// SQSAPI is the slice of the SQS client the emitter needs.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type SQSEmitter struct {
	client   SQSAPI
	queueURL string
}

func NewSQSEmitter(client SQSAPI, queueURL string) *SQSEmitter {
	return &SQSEmitter{client: client, queueURL: queueURL}
}

// NewSQSEmitterFromEnv builds the client from the default AWS credential chain.
func NewSQSEmitterFromEnv(ctx context.Context, queueURL string) (*SQSEmitter, error) {
	if queueURL == "" {
		return nil, fmt.Errorf("sqs queue url is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSQSEmitter(sqs.NewFromConfig(cfg), queueURL), nil
}

func (e *SQSEmitter) Emit(ctx context.Context, ev Event) error {
	body, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = e.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(e.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(string(ev.Type))},
			"event_id":   {DataType: aws.String("String"), StringValue: aws.String(ev.ID.String())},
		},
	})
	if err != nil {
		return fmt.Errorf("sqs send: %w", err)
	}
	return nil
}

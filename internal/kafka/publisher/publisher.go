package publisher

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/example/envelope-streamer/internal/kafka/producer"
	"github.com/example/envelope-streamer/internal/models"
)

var errProducerNotInitialised = errors.New("kafka publisher: producer not initialised")

// ContentType is attached to every published envelope.
const ContentType = "application/vnd.envelope.v1"

// BatchProducer captures the subset of producer behaviour required by the
// publisher.
type BatchProducer interface {
	PublishBatch(topic string, msgs []producer.Message) ([]error, error)
}

// ErrProducerNotInitialised exposes the sentinel error for callers and tests.
func ErrProducerNotInitialised() error {
	return errProducerNotInitialised
}

// BatchPublisher writes encoded envelopes to a Kafka topic, keyed by their
// partition key. It reports per-record failures rather than failing the
// whole batch.
type BatchPublisher struct {
	producer BatchProducer
	topic    string
	logger   zerolog.Logger
}

// NewBatchPublisher constructs a BatchPublisher instance.
func NewBatchPublisher(prod BatchProducer, topic string, logger zerolog.Logger) *BatchPublisher {
	if prod == nil {
		return nil
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &BatchPublisher{
		producer: prod,
		topic:    topic,
		logger:   logger.With().Str("component", "kafka_publisher").Str("topic", topic).Logger(),
	}
}

// Submit publishes batch and translates per-message errors into a
// SubmissionResult.
func (p *BatchPublisher) Submit(ctx context.Context, batch []models.Record) (models.SubmissionResult, error) {
	if p == nil || p.producer == nil {
		return models.SubmissionResult{}, errProducerNotInitialised
	}
	if err := ctx.Err(); err != nil {
		return models.SubmissionResult{}, err
	}

	msgs := make([]producer.Message, len(batch))
	for i, rec := range batch {
		msgs[i] = producer.Message{
			Key:   []byte(rec.PartitionKey),
			Value: rec.Data,
			Headers: map[string][]byte{
				"content-type": []byte(ContentType),
			},
		}
	}

	results, err := p.producer.PublishBatch(p.topic, msgs)
	if err != nil {
		return models.SubmissionResult{}, fmt.Errorf("kafka publisher: publish batch: %w", err)
	}

	var out models.SubmissionResult
	for i, rerr := range results {
		if rerr == nil {
			continue
		}
		out.FailedCount++
		out.Failures = append(out.Failures, models.RecordFailure{
			RecordIndex:  i,
			PartitionKey: batch[i].PartitionKey,
			ErrorCode:    errorCode(rerr),
			ErrorMessage: rerr.Error(),
		})
	}
	if out.FailedCount > 0 {
		p.logger.Debug().
			Int("records", len(batch)).
			Int("failed", out.FailedCount).
			Msg("kafka publisher: batch partially written")
	}
	return out, nil
}

// errorCode returns the numeric broker error code when there is one.
func errorCode(err error) string {
	var kerr sarama.KError
	if errors.As(err, &kerr) {
		return strconv.Itoa(int(kerr))
	}
	return ""
}

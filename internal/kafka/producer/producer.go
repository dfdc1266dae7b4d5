package producer

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

const (
	defaultMetadataRefreshInterval = 30 * time.Second
)

// Option customises the producer during construction.
type Option func(*options)

type options struct {
	clientID        string
	refreshInterval time.Duration
}

// WithClientID sets the client id reported to the brokers.
func WithClientID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.clientID = id
		}
	}
}

// WithMetadataRefreshInterval overrides the interval used when refreshing
// cluster metadata to keep readiness information current.
func WithMetadataRefreshInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.refreshInterval = interval
		}
	}
}

// Message is a single record to publish.
type Message struct {
	Key     []byte
	Value   []byte
	Headers map[string][]byte
}

// Producer wraps a Sarama sync producer, publishing batches and tracking
// readiness based on periodic metadata refreshes.
type Producer struct {
	logger zerolog.Logger

	client       sarama.Client
	syncProducer sarama.SyncProducer

	refreshInterval time.Duration

	ready atomic.Bool

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New constructs a Producer using the supplied broker list and logger.
func New(brokers []string, logger zerolog.Logger, opts ...Option) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka producer: at least one broker is required")
	}

	cfg, refreshInterval := newConfig(opts)
	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: create client: %w", err)
	}

	syncProd, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka producer: create sync producer: %w", err)
	}

	p := newProducer(syncProd, client, refreshInterval, logger)

	if err := p.refreshMetadata(); err != nil {
		p.logger.Error().Err(err).Msg("kafka producer initial metadata refresh failed")
	} else {
		p.ready.Store(true)
	}

	p.wg.Add(1)
	go p.watchMetadata()

	return p, nil
}

// NewWithSyncProducer wraps an existing sync producer. No metadata refresh is
// performed; readiness follows publish outcomes only.
func NewWithSyncProducer(sp sarama.SyncProducer, logger zerolog.Logger) (*Producer, error) {
	if sp == nil {
		return nil, errors.New("kafka producer: sync producer is required")
	}
	p := newProducer(sp, nil, 0, logger)
	p.ready.Store(true)
	return p, nil
}

func newProducer(sp sarama.SyncProducer, client sarama.Client, refresh time.Duration, logger zerolog.Logger) *Producer {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Producer{
		logger:          logger.With().Str("component", "kafka_producer").Logger(),
		client:          client,
		syncProducer:    sp,
		refreshInterval: refresh,
		stopCh:          make(chan struct{}),
	}
}

// PublishBatch sends msgs in a single request and waits for the brokers to
// acknowledge. The returned slice has one entry per message: nil when the
// message was written, otherwise the reason it was not. The error return is
// reserved for failures that prevent the batch from being attempted at all.
func (p *Producer) PublishBatch(topic string, msgs []Message) ([]error, error) {
	if topic == "" {
		return nil, errors.New("kafka producer: topic is required")
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	batch := make([]*sarama.ProducerMessage, len(msgs))
	for i, m := range msgs {
		pm := &sarama.ProducerMessage{
			Topic:    topic,
			Value:    sarama.ByteEncoder(m.Value),
			Headers:  toRecordHeaders(m.Headers),
			Metadata: i,
		}
		if len(m.Key) > 0 {
			pm.Key = sarama.ByteEncoder(m.Key)
		}
		batch[i] = pm
	}

	results := make([]error, len(msgs))
	err := p.syncProducer.SendMessages(batch)
	if err == nil {
		p.ready.Store(true)
		return results, nil
	}

	var perMessage sarama.ProducerErrors
	if !errors.As(err, &perMessage) {
		p.ready.Store(false)
		return nil, fmt.Errorf("kafka producer: send batch: %w", err)
	}

	if len(perMessage) == len(msgs) {
		p.ready.Store(false)
	}
	for _, pe := range perMessage {
		if pe == nil || pe.Msg == nil {
			continue
		}
		idx, ok := pe.Msg.Metadata.(int)
		if !ok || idx < 0 || idx >= len(results) {
			p.logger.Warn().Err(pe.Err).Msg("kafka producer error for unknown message")
			continue
		}
		results[idx] = pe.Err
	}
	return results, nil
}

// IsReady indicates whether the producer has successfully refreshed metadata
// or published recently.
func (p *Producer) IsReady() bool {
	return p.ready.Load()
}

// Close releases the underlying Sarama producer and stops background goroutines.
func (p *Producer) Close() error {
	var errs []error
	p.closeOnce.Do(func() {
		close(p.stopCh)
		p.wg.Wait()

		if err := p.syncProducer.Close(); err != nil {
			errs = append(errs, err)
		}
		if p.client != nil && !p.client.Closed() {
			if err := p.client.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func (p *Producer) watchMetadata() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.refreshMetadata(); err != nil {
				p.logger.Error().Err(err).Msg("kafka producer metadata refresh failed")
				p.ready.Store(false)
			} else {
				p.ready.Store(true)
			}
		}
	}
}

func (p *Producer) refreshMetadata() error {
	return p.client.RefreshMetadata()
}

func toRecordHeaders(headers map[string][]byte) []sarama.RecordHeader {
	if len(headers) == 0 {
		return nil
	}
	out := make([]sarama.RecordHeader, 0, len(headers))
	for k, v := range headers {
		out = append(out, sarama.RecordHeader{
			Key:   []byte(k),
			Value: cloneBytes(v),
		})
	}
	return out
}

func cloneBytes(src []byte) []byte {
	if len(src) == 0 {
		return nil
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}

func defaultConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.ClientID = "envelope-streamer"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 6
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Net.MaxOpenRequests = 1
	cfg.Metadata.Full = true
	cfg.Metadata.RefreshFrequency = defaultMetadataRefreshInterval
	return cfg
}

// newConfig applies opts to the default producer config and returns it with
// the metadata refresh interval to poll at.
func newConfig(opts []Option) (*sarama.Config, time.Duration) {
	settings := &options{refreshInterval: defaultMetadataRefreshInterval}
	for _, opt := range opts {
		if opt != nil {
			opt(settings)
		}
	}

	cfg := defaultConfig()
	cfg.Metadata.RefreshFrequency = settings.refreshInterval
	if settings.clientID != "" {
		cfg.ClientID = settings.clientID
	}
	return cfg, settings.refreshInterval
}

package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

type fakeGroup struct {
	sarama.ConsumerGroup

	errs   chan error
	claims chan *sarama.ConsumerMessage

	mu      sync.Mutex
	session *fakeSession
	closed  bool
}

func newFakeGroup() *fakeGroup {
	return &fakeGroup{errs: make(chan error), claims: make(chan *sarama.ConsumerMessage, 8)}
}

func (g *fakeGroup) Errors() <-chan error { return g.errs }

func (g *fakeGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	sess := &fakeSession{ctx: ctx}
	g.mu.Lock()
	g.session = sess
	g.mu.Unlock()

	if err := handler.Setup(sess); err != nil {
		return err
	}
	err := handler.ConsumeClaim(sess, &fakeClaim{msgs: g.claims})
	if cerr := handler.Cleanup(sess); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (g *fakeGroup) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		g.closed = true
		close(g.errs)
	}
	return nil
}

func (g *fakeGroup) marked() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return nil
	}
	return g.session.markedOffsets()
}

type fakeSession struct {
	sarama.ConsumerGroupSession

	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }
func (s *fakeSession) GenerationID() int32      { return 1 }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, msg.Offset)
	s.mu.Unlock()
}

func (s *fakeSession) markedOffsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.marked...)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	msgs chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func TestConsumeDeliversRecordsAndMarksOffsets(t *testing.T) {
	group := newFakeGroup()
	c := newConsumer(group, "tail", zerolog.Nop())

	group.claims <- &sarama.ConsumerMessage{
		Topic: "envelopes", Partition: 2, Offset: 10,
		Key: []byte("k"), Value: []byte("v1"),
		Headers: []*sarama.RecordHeader{{Key: []byte("content-type"), Value: []byte("x")}},
	}
	group.claims <- &sarama.ConsumerMessage{Topic: "envelopes", Partition: 2, Offset: 11, Value: []byte("v2")}

	var mu sync.Mutex
	var got []*Record
	done := make(chan struct{})
	handler := func(ctx context.Context, rec *Record) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, rec)
		if len(got) == 2 {
			close(done)
			return errors.New("handler errors are logged, not fatal")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Consume(ctx, []string{"envelopes"}, handler) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected both records to be delivered")
	}
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancellation, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("consume did not stop after cancellation")
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0].Partition != 2 || got[0].Offset != 10 || string(got[0].Key) != "k" || string(got[0].Value) != "v1" {
		t.Fatalf("unexpected record %+v", got[0])
	}
	if string(got[0].Headers["content-type"]) != "x" {
		t.Fatalf("expected headers to be copied, got %v", got[0].Headers)
	}
	if marked := group.marked(); len(marked) != 2 || marked[0] != 10 || marked[1] != 11 {
		t.Fatalf("expected both offsets marked, got %v", marked)
	}
	if c.IsReady() {
		t.Fatalf("consumer should not be ready after cleanup")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
}

func TestConsumeValidatesArguments(t *testing.T) {
	group := newFakeGroup()
	c := newConsumer(group, "tail", zerolog.Nop())
	defer c.Close()

	handler := func(context.Context, *Record) error { return nil }
	if err := c.Consume(context.Background(), nil, handler); err == nil {
		t.Fatalf("expected topic validation error")
	}
	if err := c.Consume(context.Background(), []string{"t"}, nil); err == nil {
		t.Fatalf("expected handler validation error")
	}
}

func TestNewValidatesArguments(t *testing.T) {
	if _, err := New(nil, "group", zerolog.Nop()); err == nil {
		t.Fatalf("expected broker validation error")
	}
	if _, err := New([]string{"localhost:9092"}, "", zerolog.Nop()); err == nil {
		t.Fatalf("expected group validation error")
	}
}

func TestNewConfigAppliesOptions(t *testing.T) {
	cfg := newConfig(nil)
	if cfg.ClientID != "envelope-tail" || cfg.Consumer.Offsets.Initial != sarama.OffsetNewest {
		t.Fatalf("unexpected defaults: client %q initial %d", cfg.ClientID, cfg.Consumer.Offsets.Initial)
	}
	if !cfg.Consumer.Offsets.AutoCommit.Enable || !cfg.Consumer.Return.Errors {
		t.Fatalf("expected auto-commit and error reporting to be enabled")
	}

	cfg = newConfig([]Option{WithClientID("streamer-tail"), FromOldest(), nil, WithClientID("")})
	if cfg.ClientID != "streamer-tail" {
		t.Fatalf("unexpected client id %q", cfg.ClientID)
	}
	if cfg.Consumer.Offsets.Initial != sarama.OffsetOldest {
		t.Fatalf("expected oldest initial offset, got %d", cfg.Consumer.Offsets.Initial)
	}
}

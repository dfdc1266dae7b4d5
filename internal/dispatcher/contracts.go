package dispatcher

import (
	"context"

	"github.com/google/uuid"

	"github.com/example/envelope-streamer/internal/models"
)

// Sink accepts batches of encoded records. A returned error means the batch
// was rejected wholesale; per-record failures are reported in the result.
type Sink interface {
	Submit(ctx context.Context, batch []models.Record) (models.SubmissionResult, error)
}

// Source yields raw records in order. Next returns io.EOF once exhausted.
// Returned slices must not be reused by the source after Next returns.
type Source interface {
	Next() ([]byte, error)
	Close() error
}

// SourceOpener opens a fresh pass over the input for each iteration.
type SourceOpener func() (Source, error)

// Encoder wraps a raw record in an envelope and returns the wire bytes and
// the identifier used as partition key.
type Encoder interface {
	Encode(content any) ([]byte, uuid.UUID, error)
}

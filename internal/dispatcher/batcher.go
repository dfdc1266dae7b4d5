package dispatcher

import (
	"encoding/json"
)

// Batcher groups records into batches of at most maxSize. With a grouping
// key set, a change in the key's value also closes the current batch so
// records sharing a key are never split across submissions (unless the batch
// fills up first).
type Batcher struct {
	maxSize  int
	groupKey string

	current [][]byte
	lastKey string
}

// NewBatcher constructs a Batcher. An empty groupKey selects fixed-size mode.
func NewBatcher(maxSize int, groupKey string) *Batcher {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Batcher{maxSize: maxSize, groupKey: groupKey}
}

// Add appends record and returns the batch it closed, if any. At most one
// batch is closed per call.
func (b *Batcher) Add(record []byte) [][]byte {
	var closed [][]byte

	if b.groupKey != "" {
		key, ok := groupingKey(record, b.groupKey)
		if !ok {
			// Unparseable records stay with the current group; the encoder
			// rejects them later.
			key = b.lastKey
		}
		if len(b.current) > 0 && key != b.lastKey {
			closed = b.take()
		}
		b.lastKey = key
	}

	if closed == nil && len(b.current) >= b.maxSize {
		closed = b.take()
	}

	b.current = append(b.current, record)
	return closed
}

// Flush closes and returns the pending batch, or nil if it is empty.
func (b *Batcher) Flush() [][]byte {
	if len(b.current) == 0 {
		return nil
	}
	return b.take()
}

func (b *Batcher) take() [][]byte {
	out := b.current
	b.current = make([][]byte, 0, b.maxSize)
	return out
}

// groupingKey returns a canonical form of field's value so that equal values
// compare equal whatever their formatting ("t\u0031" and "t1", 1 and 1.0). A
// missing field yields the empty key.
func groupingKey(record []byte, field string) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(record, &obj); err != nil {
		return "", false
	}
	raw, ok := obj[field]
	if !ok {
		return "", true
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}
	canonical, err := json.Marshal(value)
	if err != nil {
		return "", false
	}
	return string(canonical), true
}

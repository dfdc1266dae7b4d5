package util

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidIdentifier is returned when a value is not a canonical UUID.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// RandomGenerator issues random (version 4) UUIDs.
type RandomGenerator struct{}

// NewID returns a fresh random identifier.
func (RandomGenerator) NewID() (uuid.UUID, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate uuid: %w", err)
	}
	return id, nil
}

// ParseIdentifier parses a UUID string of any version and rejects the nil
// UUID.
func ParseIdentifier(value string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return uuid.Nil, fmt.Errorf("%w: value is empty", ErrInvalidIdentifier)
	}

	id, err := uuid.Parse(trimmed)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: nil uuid", ErrInvalidIdentifier)
	}

	return id, nil
}

// NormalizeIdentifiers validates each identifier and returns them in
// canonical lowercase form. Duplicates are dropped, first occurrence wins.
func NormalizeIdentifiers(values []string, min int) ([]string, error) {
	seen := make(map[uuid.UUID]struct{}, len(values))
	out := make([]string, 0, len(values))
	for idx, value := range values {
		id, err := ParseIdentifier(value)
		if err != nil {
			return nil, fmt.Errorf("identifier[%d]: %w", idx, err)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id.String())
	}

	if min > 0 && len(out) < min {
		return nil, fmt.Errorf("expected at least %d identifier(s); got %d", min, len(out))
	}
	return out, nil
}

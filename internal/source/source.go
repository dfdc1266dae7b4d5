package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// DefaultMaxLineBytes bounds a single record line.
const DefaultMaxLineBytes = 1 << 20

// ErrLineTooLong is returned when a line exceeds the configured maximum.
var ErrLineTooLong = errors.New("source: line exceeds maximum size")

// Compression identifies how a source file is encoded on disk.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// DetectCompression picks a decompressor from the file extension.
func DetectCompression(path string) Compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz", ".gzip":
		return CompressionGzip
	case ".zst", ".zstd":
		return CompressionZstd
	case ".lz4":
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// Lines yields newline-delimited records from a reader. Each returned slice is
// a fresh copy owned by the caller.
type Lines struct {
	scanner *bufio.Scanner
	closers []io.Closer
	line    int
}

// NewLines wraps r. maxLineBytes <= 0 selects DefaultMaxLineBytes.
func NewLines(r io.Reader, maxLineBytes int, closers ...io.Closer) *Lines {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	scanner := bufio.NewScanner(r)
	initial := 64 * 1024
	if initial > maxLineBytes {
		initial = maxLineBytes
	}
	scanner.Buffer(make([]byte, 0, initial), maxLineBytes)
	return &Lines{scanner: scanner, closers: closers}
}

// FromStrings returns an in-memory source over records.
func FromStrings(records ...string) *Lines {
	return NewLines(strings.NewReader(strings.Join(records, "\n")), 0)
}

// Next returns the next line without its terminator, or io.EOF.
func (l *Lines) Next() ([]byte, error) {
	if !l.scanner.Scan() {
		err := l.scanner.Err()
		if err == nil {
			return nil, io.EOF
		}
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("%w: after line %d", ErrLineTooLong, l.line)
		}
		return nil, fmt.Errorf("source: read line %d: %w", l.line+1, err)
	}
	l.line++
	raw := l.scanner.Bytes()
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

// Line reports how many lines have been returned so far.
func (l *Lines) Line() int {
	return l.line
}

// Close releases the underlying decompressor and file, innermost first.
func (l *Lines) Close() error {
	var errs []error
	for _, c := range l.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.closers = nil
	return errors.Join(errs...)
}

// Open opens path as a line source, decompressing according to its
// extension.
func Open(path string, maxLineBytes int) (*Lines, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", path, err)
	}

	reader, closer, err := decompress(f, DetectCompression(path))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("source: %s: %w", path, err)
	}

	closers := []io.Closer{f}
	if closer != nil {
		closers = []io.Closer{closer, f}
	}
	return NewLines(reader, maxLineBytes, closers...), nil
}

func decompress(r io.Reader, c Compression) (io.Reader, io.Closer, error) {
	switch c {
	case CompressionGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("gzip reader: %w", err)
		}
		return zr, zr, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd reader: %w", err)
		}
		return zr, closerFunc(func() error { zr.Close(); return nil }), nil
	case CompressionLZ4:
		return lz4.NewReader(r), nil, nil
	default:
		return r, nil, nil
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

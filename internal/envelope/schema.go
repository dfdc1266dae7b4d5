package envelope

import "fmt"

// CurrentVersion is the header version written for new records.
const CurrentVersion uint8 = 1

// Widths shared by every format version. The version is read before the
// layout is known, so its width cannot vary.
const (
	HeaderVersionSize = 1
	TimeUUIDSize      = 16
)

// Layout holds the widths of the little-endian length prefixes for one
// format version. Encoder and decoder both read widths from here.
type Layout struct {
	Version               uint8
	SourceNameLengthSize  int
	SourcePropsLengthSize int
	TargetNameLengthSize  int
	TargetPropsLengthSize int
	ContentLengthSize     int
}

// FixedSize is the number of bytes taken by the header version, the
// identifier and every length prefix.
func (l Layout) FixedSize() int {
	return HeaderVersionSize +
		TimeUUIDSize +
		l.SourceNameLengthSize +
		l.SourcePropsLengthSize +
		l.TargetNameLengthSize +
		l.TargetPropsLengthSize +
		l.ContentLengthSize
}

var layoutV1 = Layout{
	Version:               1,
	SourceNameLengthSize:  4,
	SourcePropsLengthSize: 4,
	TargetNameLengthSize:  4,
	TargetPropsLengthSize: 4,
	ContentLengthSize:     4,
}

var layouts = map[uint8]Layout{
	layoutV1.Version: layoutV1,
}

// LayoutFor returns the layout registered for version.
func LayoutFor(version uint8) (Layout, error) {
	l, ok := layouts[version]
	if !ok {
		return Layout{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	return l, nil
}

// maxForWidth returns the largest unsigned value representable in width bytes.
func maxForWidth(width int) uint64 {
	if width >= 8 {
		return ^uint64(0)
	}
	return uint64(1)<<(8*uint(width)) - 1
}

func putUintLE(b []byte, v uint64, width int) {
	for i := 0; i < width; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

func uintLE(b []byte) uint64 {
	var v uint64
	for i := range b {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}

package envelope

import "errors"

// Codec errors. They are always local to a single record.
var (
	// ErrMalformedContent is returned when a structured field cannot be
	// normalized to, or parsed from, JSON text.
	ErrMalformedContent = errors.New("envelope: malformed content")
	// ErrEncodingOverflow is returned when a computed length does not fit in
	// its fixed-width length field.
	ErrEncodingOverflow = errors.New("envelope: encoding overflow")
	// ErrTruncatedEnvelope is returned when the buffer ends before a field
	// the header declares.
	ErrTruncatedEnvelope = errors.New("envelope: truncated envelope")
	// ErrUnsupportedVersion is returned for header versions with no layout.
	ErrUnsupportedVersion = errors.New("envelope: unsupported version")
)

// IsCodecError reports whether err originated in the codec.
func IsCodecError(err error) bool {
	return errors.Is(err, ErrMalformedContent) ||
		errors.Is(err, ErrEncodingOverflow) ||
		errors.Is(err, ErrTruncatedEnvelope) ||
		errors.Is(err, ErrUnsupportedVersion)
}

package envelope

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// IDGenerator produces globally unique identifiers for new records.
type IDGenerator interface {
	NewID() (uuid.UUID, error)
}

// Lengths reports the length prefixes found in an encoded envelope.
type Lengths struct {
	SourceName       int
	SourceProperties int
	TargetName       int
	TargetProperties int
	Content          int
}

// Encode writes e in the layout of e.HeaderVersion. The buffer is sized
// exactly to the fixed fields plus every variable field.
func Encode(e Envelope) ([]byte, error) {
	layout, err := LayoutFor(e.HeaderVersion)
	if err != nil {
		return nil, err
	}
	return encodeWithLayout(e, layout)
}

type field struct {
	name  string
	width int
	data  []byte
}

func encodeWithLayout(e Envelope, layout Layout) ([]byte, error) {
	content, err := normalizeContent(e.ContentBody)
	if err != nil {
		return nil, err
	}
	contentText, err := marshalJSON(content)
	if err != nil {
		return nil, err
	}

	sourceProps := e.SourceProperties
	if sourceProps == nil {
		sourceProps = map[string]any{}
	}
	sourcePropsText, err := marshalJSON(sourceProps)
	if err != nil {
		return nil, err
	}
	targetPropsText, err := marshalJSON(e.TargetProperties)
	if err != nil {
		return nil, err
	}

	fields := []field{
		{name: "source name", width: layout.SourceNameLengthSize, data: []byte(e.SourceName)},
		{name: "source properties", width: layout.SourcePropsLengthSize, data: sourcePropsText},
		{name: "target name", width: layout.TargetNameLengthSize, data: []byte(e.TargetName)},
		{name: "target properties", width: layout.TargetPropsLengthSize, data: targetPropsText},
		{name: "content", width: layout.ContentLengthSize, data: contentText},
	}

	size := HeaderVersionSize + TimeUUIDSize
	for _, f := range fields {
		if uint64(len(f.data)) > maxForWidth(f.width) {
			return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrEncodingOverflow, f.name, len(f.data), maxForWidth(f.width))
		}
		size += f.width + len(f.data)
	}

	buf := make([]byte, size)
	putUintLE(buf, uint64(e.HeaderVersion), HeaderVersionSize)
	off := HeaderVersionSize
	off += copy(buf[off:], e.TimeUUID[:])
	for _, f := range fields {
		putUintLE(buf[off:], uint64(len(f.data)), f.width)
		off += f.width
		off += copy(buf[off:], f.data)
	}
	return buf, nil
}

// frame holds the raw spans of an encoded envelope.
type frame struct {
	version     uint8
	id          uuid.UUID
	sourceName  []byte
	sourceProps []byte
	targetName  []byte
	targetProps []byte
	content     []byte
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) take(n int, name string) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, fmt.Errorf("%w: %s needs %d bytes, %d remain", ErrTruncatedEnvelope, name, n, r.remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) span(width int, name string) ([]byte, error) {
	prefix, err := r.take(width, name+" length")
	if err != nil {
		return nil, err
	}
	n := uintLE(prefix)
	if n > uint64(r.remaining()) {
		return nil, fmt.Errorf("%w: %s declares %d bytes, %d remain", ErrTruncatedEnvelope, name, n, r.remaining())
	}
	return r.take(int(n), name)
}

func readFrame(data []byte) (frame, error) {
	r := &reader{buf: data}
	var f frame

	v, err := r.take(HeaderVersionSize, "header version")
	if err != nil {
		return f, err
	}
	f.version = uint8(uintLE(v))
	layout, err := LayoutFor(f.version)
	if err != nil {
		return f, err
	}

	id, err := r.take(TimeUUIDSize, "time uuid")
	if err != nil {
		return f, err
	}
	copy(f.id[:], id)

	if f.sourceName, err = r.span(layout.SourceNameLengthSize, "source name"); err != nil {
		return f, err
	}
	if f.sourceProps, err = r.span(layout.SourcePropsLengthSize, "source properties"); err != nil {
		return f, err
	}
	if f.targetName, err = r.span(layout.TargetNameLengthSize, "target name"); err != nil {
		return f, err
	}
	if f.targetProps, err = r.span(layout.TargetPropsLengthSize, "target properties"); err != nil {
		return f, err
	}
	if f.content, err = r.span(layout.ContentLengthSize, "content"); err != nil {
		return f, err
	}
	if r.remaining() != 0 {
		return f, fmt.Errorf("%w: %d trailing bytes after content", ErrMalformedContent, r.remaining())
	}
	return f, nil
}

// Decode parses an envelope. Each length prefix governs the exact span of
// the field that follows it.
func Decode(data []byte) (Envelope, error) {
	f, err := readFrame(data)
	if err != nil {
		return Envelope{}, err
	}

	e := Envelope{
		HeaderVersion: f.version,
		TimeUUID:      f.id,
		SourceName:    string(f.sourceName),
		TargetName:    string(f.targetName),
	}

	e.SourceProperties, err = parseObject(f.sourceProps)
	if err != nil {
		return Envelope{}, fmt.Errorf("source properties: %w", err)
	}
	if err := json.Unmarshal(f.targetProps, &e.TargetProperties); err != nil {
		return Envelope{}, fmt.Errorf("target properties: %w: %v", ErrMalformedContent, err)
	}
	e.ContentBody, err = parseValue(f.content)
	if err != nil {
		return Envelope{}, fmt.Errorf("content: %w", err)
	}
	return e, nil
}

// DecodeBase64 decodes a base64 encoded envelope.
func DecodeBase64(s string) (Envelope, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: base64: %v", ErrMalformedContent, err)
	}
	return Decode(data)
}

// ReadLengths returns the length prefixes of an encoded envelope without
// parsing the embedded JSON.
func ReadLengths(data []byte) (Lengths, error) {
	f, err := readFrame(data)
	if err != nil {
		return Lengths{}, err
	}
	return Lengths{
		SourceName:       len(f.sourceName),
		SourceProperties: len(f.sourceProps),
		TargetName:       len(f.targetName),
		TargetProperties: len(f.targetProps),
		Content:          len(f.content),
	}, nil
}

func parseObject(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	v, err := parseValue(data)
	if err != nil {
		return nil, err
	}
	switch m := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return m, nil
	default:
		return nil, fmt.Errorf("%w: expected object, got %T", ErrMalformedContent, v)
	}
}

// Encoder turns raw records into wire bytes, generating a fresh identifier
// for each.
type Encoder struct {
	ids    IDGenerator
	orgIDs []string
}

// NewEncoder constructs an Encoder. An empty orgIDs falls back to
// DefaultOrganizationID.
func NewEncoder(ids IDGenerator, orgIDs []string) (*Encoder, error) {
	if ids == nil {
		return nil, fmt.Errorf("envelope: identifier generator is required")
	}
	if len(orgIDs) == 0 {
		orgIDs = []string{DefaultOrganizationID}
	}
	return &Encoder{ids: ids, orgIDs: append([]string(nil), orgIDs...)}, nil
}

// Encode wraps content in a new record envelope. content may be serialized
// JSON (string or []byte) or a live value. The returned identifier is the
// record's partition key.
func (e *Encoder) Encode(content any) ([]byte, uuid.UUID, error) {
	id, err := e.ids.NewID()
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("envelope: generate identifier: %w", err)
	}
	data, err := EncodeRecord(content, id, e.orgIDs)
	if err != nil {
		return nil, uuid.Nil, err
	}
	return data, id, nil
}

// EncodeRecord encodes content under a caller supplied identifier.
func EncodeRecord(content any, id uuid.UUID, orgIDs []string) ([]byte, error) {
	return Encode(NewRecordEnvelope(content, id, orgIDs))
}

package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Default values for the target properties of a record envelope.
const (
	TargetSchemaVersion = 1
	TargetEntityType    = "topic"
	OwnerSchemaVersion  = 1
	OwnerEntityType     = "device"
)

// DefaultOrganizationID is attached to every record when no organization set
// is configured.
const DefaultOrganizationID = "e24bf37c-353a-4c48-8fe6-46b6bd739e30"

// Envelope is the unit exchanged with the stream sink. Length prefixes are
// not stored; Encode derives them from the live field values.
type Envelope struct {
	HeaderVersion    uint8
	TimeUUID         uuid.UUID
	SourceName       string
	SourceProperties map[string]any
	TargetName       string
	TargetProperties TargetProperties
	// ContentBody holds a structured value (nil, bool, json.Number or
	// float64, string, []any, map[string]any). Serialized JSON supplied as
	// string, []byte or json.RawMessage is parsed before encoding.
	ContentBody any
}

// TargetProperties is the fixed sub-shape describing the record's target.
type TargetProperties struct {
	SchemaVersion int    `json:"SchemaVersion"`
	EntityType    string `json:"EntityType"`
	Owner         Owner  `json:"Owner"`
}

// Owner identifies the device that owns the target.
type Owner struct {
	ID         string          `json:"Id"`
	Properties OwnerProperties `json:"Properties"`
}

// OwnerProperties carries the owner's account, template and organizations.
// OrganizationIDs should be non-empty; the codec does not enforce it.
type OwnerProperties struct {
	SchemaVersion   int      `json:"SchemaVersion"`
	EntityType      string   `json:"EntityType"`
	AccountID       string   `json:"AccountId"`
	TemplateID      string   `json:"TemplateId"`
	OrganizationIDs []string `json:"OrganizationIds"`
}

// NewRecordEnvelope builds the envelope for one record. The identifier is
// shared by the time UUID, both names, the owner id, the account id and the
// template id; downstream consumers rely on these matching.
func NewRecordEnvelope(content any, id uuid.UUID, orgIDs []string) Envelope {
	if len(orgIDs) == 0 {
		orgIDs = []string{DefaultOrganizationID}
	}
	s := id.String()
	return Envelope{
		HeaderVersion:    CurrentVersion,
		TimeUUID:         id,
		SourceName:       s,
		SourceProperties: map[string]any{},
		TargetName:       s,
		TargetProperties: TargetProperties{
			SchemaVersion: TargetSchemaVersion,
			EntityType:    TargetEntityType,
			Owner: Owner{
				ID: s,
				Properties: OwnerProperties{
					SchemaVersion:   OwnerSchemaVersion,
					EntityType:      OwnerEntityType,
					AccountID:       s,
					TemplateID:      s,
					OrganizationIDs: append([]string(nil), orgIDs...),
				},
			},
		},
		ContentBody: content,
	}
}

// normalizeContent turns serialized JSON into a live value so it is not
// encoded twice.
func normalizeContent(body any) (any, error) {
	switch v := body.(type) {
	case string:
		return parseValue([]byte(v))
	case []byte:
		return parseValue(v)
	case json.RawMessage:
		return parseValue(v)
	default:
		return body, nil
	}
}

func parseValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: unexpected data after JSON value", ErrMalformedContent)
	}
	return out, nil
}

func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

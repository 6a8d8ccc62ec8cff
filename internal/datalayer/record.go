package datalayer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// SchemaVersion is the envelope version written by Marshal. Peers reject
// payloads carrying any other version.
const SchemaVersion = 1

// ErrSchemaVersion is returned when a payload was written with an unknown envelope version.
var ErrSchemaVersion = errors.New("datalayer: unsupported record schema version")

// Record is a flat, typed key/value map: the unit of data put under a path.
// Values are int64 or string; a field that is absent, null, or of the wrong
// type reads as missing.
type Record struct {
	fields map[string]any
}

type envelope struct {
	Version int                        `json:"v"`
	Data    map[string]json.RawMessage `json:"data"`
}

// NewRecord returns an empty record.
func NewRecord() Record {
	return Record{fields: make(map[string]any)}
}

// PutInt sets an integer field.
func (r Record) PutInt(key string, v int) Record {
	r.fields[key] = int64(v)
	return r
}

// PutString sets a string field.
func (r Record) PutString(key string, v string) Record {
	r.fields[key] = v
	return r
}

// Int returns the integer stored under key.
func (r Record) Int(key string) (int, bool) {
	v, ok := r.fields[key].(int64)
	return int(v), ok
}

// String returns the string stored under key.
func (r Record) String(key string) (string, bool) {
	v, ok := r.fields[key].(string)
	return v, ok
}

// Len reports the number of fields present.
func (r Record) Len() int {
	return len(r.fields)
}

// Marshal encodes the record into the versioned wire envelope.
func (r Record) Marshal() ([]byte, error) {
	data := make(map[string]json.RawMessage, len(r.fields))
	for k, v := range r.fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", k, err)
		}
		data[k] = raw
	}
	return json.Marshal(envelope{Version: SchemaVersion, Data: data})
}

// UnmarshalRecord decodes a wire envelope. Individual fields that cannot be
// decoded are dropped rather than failing the whole record.
func UnmarshalRecord(b []byte) (Record, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	if env.Version != SchemaVersion {
		return Record{}, fmt.Errorf("%w: %d", ErrSchemaVersion, env.Version)
	}

	rec := NewRecord()
	for k, raw := range env.Data {
		if v, ok := decodeValue(raw); ok {
			rec.fields[k] = v
		}
	}
	return rec, nil
}

func decodeValue(raw json.RawMessage) (any, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return nil, false
		}
		return n, true
	default:
		return nil, false
	}
}

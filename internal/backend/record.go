package backend

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// Common field names.
const (
	FieldID        = "id"
	FieldCreatedAt = "created_at"
)

// MaxFieldLength bounds, in bytes, any string field written through the
// data service. It keeps every realtime frame well under a client's read
// limit.
const MaxFieldLength = 4096

// Record is a JSON-shaped field bag exchanged with the data service.
// Values are strings, bools, float64s or nil; timestamps are RFC 3339
// strings with nanoseconds in UTC.
type Record map[string]any

// String returns the field as a string, or "" when absent or not a string.
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// ID returns the record's id field.
func (r Record) ID() string {
	return r.String(FieldID)
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// CheckLength rejects value when it is longer than MaxFieldLength.
func CheckLength(field, value string) error {
	if len(value) > MaxFieldLength {
		return invalidRecord("%s exceeds %d bytes", field, MaxFieldLength)
	}
	return nil
}

// FormatTime renders t the way records carry timestamps.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

var validate = validator.New()

// Decode maps rec onto the struct pointed to by out using its json tags,
// then validates it with its validate tags. Any failure wraps ErrInvalidRecord.
func Decode(rec Record, out any) error {
	if rec == nil {
		return invalidRecord("nil record")
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		TagName:    "json",
		Result:     out,
	})
	if err != nil {
		return fmt.Errorf("decoder: %w", err)
	}
	if err := dec.Decode(map[string]any(rec)); err != nil {
		return invalidRecord("%v", err)
	}
	if err := validate.Struct(out); err != nil {
		return invalidRecord("%v", err)
	}
	return nil
}

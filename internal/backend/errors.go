package backend

import (
	"errors"
	"fmt"
)

// Error codes used on the wire.
const (
	ErrCodeUnknownCollection = "unknown_collection"
	ErrCodeNotFound          = "not_found"
	ErrCodeInvalidRecord     = "invalid_record"
	ErrCodeInvalidQuery      = "invalid_query"
	ErrCodeUnsupported       = "unsupported"
	ErrCodeForbidden         = "forbidden"
	ErrCodeConflict          = "conflict"
	ErrCodeUnauthorized      = "unauthorized"
	ErrCodeInternal          = "internal"
)

var (
	ErrUnknownCollection = errors.New("unknown collection")
	ErrNotFound          = errors.New("record not found")
	ErrInvalidRecord     = errors.New("invalid record")
	ErrInvalidQuery      = errors.New("invalid query")
	ErrUnsupported       = errors.New("operation not supported")
	ErrForbidden         = errors.New("forbidden")
	ErrConflict          = errors.New("record already exists")
	ErrUnauthorized      = errors.New("unauthorized")
)

var codes = []struct {
	code string
	err  error
}{
	{ErrCodeUnknownCollection, ErrUnknownCollection},
	{ErrCodeNotFound, ErrNotFound},
	{ErrCodeInvalidRecord, ErrInvalidRecord},
	{ErrCodeInvalidQuery, ErrInvalidQuery},
	{ErrCodeUnsupported, ErrUnsupported},
	{ErrCodeForbidden, ErrForbidden},
	{ErrCodeConflict, ErrConflict},
	{ErrCodeUnauthorized, ErrUnauthorized},
}

// Code maps err to its wire code.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ErrCodeInternal
}

// FromCode maps a wire code back to its sentinel, or nil when unknown.
func FromCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

func invalidRecord(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRecord, fmt.Sprintf(format, args...))
}

func invalidQuery(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}

// Package proto defines the REST and realtime wire formats shared by the
// HTTP transport and the remote client.
package proto

import "github.com/vovakirdan/deploydeck/internal/backend"

const (
	ProtocolVersion = 1

	// OutboundTypeReady is sent once after the subscription is registered.
	OutboundTypeReady = "ready"
	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// Outbound is the envelope for realtime frames sent to the client.
type Outbound struct {
	Type       string         `json:"type"`
	Protocol   int            `json:"protocol,omitempty"`
	Event      string         `json:"event,omitempty"`
	Collection string         `json:"collection,omitempty"`
	Record     backend.Record `json:"record,omitempty"`
	Error      *Error         `json:"error,omitempty"`
}

// EventFrame wraps a backend event for the wire.
func EventFrame(ev backend.Event) Outbound {
	return Outbound{
		Type:       OutboundTypeEvent,
		Event:      string(ev.Type),
		Collection: ev.Collection,
		Record:     ev.Record,
	}
}

// ToEvent converts an event frame back into a backend event.
func (o Outbound) ToEvent() (backend.Event, error) {
	t, err := backend.ParseEventType(o.Event)
	if err != nil {
		return backend.Event{}, err
	}
	return backend.Event{Type: t, Collection: o.Collection, Record: o.Record}, nil
}

// Error describes a protocol-level error frame.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// ErrorResponse is the body of every failed REST call.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// SignUpRequest is the body of POST /api/auth/signup.
type SignUpRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"full_name"`
}

// SignInRequest is the body of POST /api/auth/signin.
type SignInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse is returned by both auth endpoints.
type AuthResponse struct {
	Token string         `json:"token"`
	User  backend.Record `json:"user"`
}

// ListResponse is returned by collection queries.
type ListResponse struct {
	Records []backend.Record `json:"records"`
}

// RecordResponse is returned by collection inserts.
type RecordResponse struct {
	Record backend.Record `json:"record"`
}

package chatsync

import (
	"time"

	"github.com/vovakirdan/deploydeck/internal/backend"
)

// Message is one confirmed chat line.
type Message struct {
	ID         string    `json:"id" validate:"required"`
	Scope      string    `json:"scope"`
	AuthorID   string    `json:"user_id" validate:"required"`
	AuthorName string    `json:"user_name"`
	Body       string    `json:"text" validate:"required"`
	CreatedAt  time.Time `json:"created_at" validate:"required"`
}

// MessageFromRecord decodes and validates a backend record.
func MessageFromRecord(rec backend.Record) (Message, error) {
	var m Message
	if err := backend.Decode(rec, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Author identifies who sends a message. Name is captured at send time.
type Author struct {
	ID   string
	Name string
}

package backend

import "fmt"

// EventType names a kind of row change.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// ParseEventType validates a wire event type.
func ParseEventType(s string) (EventType, error) {
	switch t := EventType(s); t {
	case EventInsert, EventUpdate, EventDelete:
		return t, nil
	}
	return "", invalidQuery("unknown event type %q", s)
}

// Event describes one change to a collection. For deletes Record holds
// only the id.
type Event struct {
	Type       EventType `json:"type"`
	Collection string    `json:"collection"`
	Record     Record    `json:"record"`
}

// EventFilter selects the events a subscription receives.
type EventFilter struct {
	// Types limits event types; empty means all.
	Types []EventType
	// Match holds equality constraints on record fields.
	Match map[string]string
}

// InsertsOnly is a filter for insert events with the given field matches.
func InsertsOnly(match map[string]string) EventFilter {
	return EventFilter{Types: []EventType{EventInsert}, Match: match}
}

// Matches reports whether ev on collection passes the filter.
func (f EventFilter) Matches(collection string, ev Event) bool {
	if ev.Collection != collection {
		return false
	}
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if t == ev.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for field, want := range f.Match {
		v, present := ev.Record[field]
		if !present || fmt.Sprint(v) != want {
			return false
		}
	}
	return true
}

package chatsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vovakirdan/deploydeck/internal/backend"
)

// fakeBackend is an in-memory DataService double. Inserts are not echoed
// automatically; tests call deliver to simulate the live feed.
type fakeBackend struct {
	mu sync.Mutex

	history      []backend.Record
	queryErr     error
	subscribeErr error
	insertErr    error

	queries  []backend.Query
	inserts  []backend.Record
	handler  backend.Handler
	filter   backend.EventFilter
	unsubbed bool
	done     chan struct{}
	ended    bool
	nextID   int
	clock    time.Time

	// onInsert runs before an insert is answered.
	onInsert func()
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{clock: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeBackend) Query(_ context.Context, collection string, q backend.Query) ([]backend.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries = append(f.queries, q)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if collection != backend.CollectionMessages {
		return nil, backend.ErrUnknownCollection
	}
	out := f.history
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (f *fakeBackend) Insert(_ context.Context, _ string, rec backend.Record) (backend.Record, error) {
	if f.onInsert != nil {
		f.onInsert()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.inserts = append(f.inserts, rec)
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	f.nextID++
	out := rec.Clone()
	out["id"] = fmt.Sprintf("m%d", 100+f.nextID-1)
	out["created_at"] = backend.FormatTime(f.tick())
	return out, nil
}

func (f *fakeBackend) Update(context.Context, string, string, backend.Record) error {
	return backend.ErrUnsupported
}

func (f *fakeBackend) Delete(context.Context, string, string) error {
	return backend.ErrUnsupported
}

func (f *fakeBackend) Subscribe(_ context.Context, _ string, filter backend.EventFilter, handler backend.Handler) (backend.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.handler = handler
	f.filter = filter
	f.done = make(chan struct{})
	return fakeSubscription{f}, nil
}

// deliver invokes the subscription handler as the transport would,
// unless the subscription has been released.
func (f *fakeBackend) deliver(rec backend.Record) {
	f.mu.Lock()
	h := f.handler
	if f.unsubbed {
		h = nil
	}
	f.mu.Unlock()

	if h != nil {
		h(backend.Event{Type: backend.EventInsert, Collection: backend.CollectionMessages, Record: rec})
	}
}

func (f *fakeBackend) insertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserts)
}

func (f *fakeBackend) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

type fakeSubscription struct{ f *fakeBackend }

func (s fakeSubscription) Unsubscribe() error {
	s.f.mu.Lock()
	s.f.unsubbed = true
	s.f.endLocked()
	s.f.mu.Unlock()
	return nil
}

func (s fakeSubscription) Done() <-chan struct{} {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	return s.f.done
}

// drop ends the feed as a lost connection would.
func (f *fakeBackend) drop() {
	f.mu.Lock()
	f.handler = nil
	f.endLocked()
	f.mu.Unlock()
}

func (f *fakeBackend) endLocked() {
	if !f.ended && f.done != nil {
		f.ended = true
		close(f.done)
	}
}

func messageRecord(id string, at time.Time, text string) backend.Record {
	return backend.Record{
		"id":         id,
		"scope":      "global",
		"user_id":    "u1",
		"user_name":  "Alice",
		"text":       text,
		"created_at": backend.FormatTime(at),
	}
}

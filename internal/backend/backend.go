// Package backend defines the data service the dashboard talks to:
// queries, writes and a realtime feed over named collections.
package backend

import "context"

// Collection names.
const (
	CollectionProfiles    = "profiles"
	CollectionDeployments = "deployments"
	CollectionMessages    = "messages"
)

const (
	// DefaultLimit is applied when a query does not set one.
	DefaultLimit = 100
	// MaxLimit caps any query.
	MaxLimit = 500
)

// Query describes a read over one collection.
type Query struct {
	// Filter holds equality constraints keyed by field name.
	Filter map[string]string
	// OrderBy names the sort field; only created_at is supported.
	OrderBy    string
	Descending bool
	Limit      int
}

// Handler receives realtime events for one subscription.
// Calls for one subscription are sequential and in publish order.
type Handler func(Event)

// Subscription is a live event feed owned by the caller.
type Subscription interface {
	// Unsubscribe releases the feed. After it returns the handler is
	// never invoked again. Calling it more than once is a no-op.
	Unsubscribe() error
	// Done is closed once the feed has ended, either through Unsubscribe
	// or because the source went away. A feed is never re-established.
	Done() <-chan struct{}
}

// DataService is the capability interface over the backend store.
type DataService interface {
	Query(ctx context.Context, collection string, q Query) ([]Record, error)
	Insert(ctx context.Context, collection string, rec Record) (Record, error)
	Update(ctx context.Context, collection, id string, fields Record) error
	Delete(ctx context.Context, collection, id string) error
	Subscribe(ctx context.Context, collection string, filter EventFilter, handler Handler) (Subscription, error)
}

// NormalizeQuery fills defaults and rejects unsupported ordering or limits.
func NormalizeQuery(q Query) (Query, error) {
	if q.OrderBy == "" {
		q.OrderBy = FieldCreatedAt
	}
	if q.OrderBy != FieldCreatedAt {
		return q, invalidQuery("unsupported order field %q", q.OrderBy)
	}
	if q.Limit < 0 {
		return q, invalidQuery("negative limit")
	}
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	return q, nil
}

// KnownCollection reports whether name is a collection this backend serves.
func KnownCollection(name string) bool {
	switch name {
	case CollectionProfiles, CollectionDeployments, CollectionMessages:
		return true
	}
	return false
}

package http

import (
	"fmt"

	"github.com/vovakirdan/deploydeck/internal/auth"
	"github.com/vovakirdan/deploydeck/internal/backend"
)

type operation int

const (
	opRead operation = iota
	opInsert
	opUpdate
	opDelete
)

func (o operation) String() string {
	switch o {
	case opRead:
		return "read"
	case opInsert:
		return "insert"
	case opUpdate:
		return "update"
	case opDelete:
		return "delete"
	}
	return "unknown"
}

// authorize decides whether claims may perform op on collection. Reads
// cover both queries and realtime subscriptions.
func authorize(claims *auth.Claims, op operation, collection string) error {
	if !backend.KnownCollection(collection) {
		return fmt.Errorf("%w: %q", backend.ErrUnknownCollection, collection)
	}

	adminOnly := false
	switch collection {
	case backend.CollectionProfiles:
		adminOnly = true
	case backend.CollectionDeployments:
		adminOnly = op != opRead
	}
	if adminOnly && !claims.IsAdmin() {
		return fmt.Errorf("%w: %s on %s requires admin", backend.ErrForbidden, op, collection)
	}
	return nil
}

// bindAuthor stamps a message insert with the caller's identity. A record
// naming another user is rejected.
func bindAuthor(claims *auth.Claims, rec backend.Record) error {
	if uid, present := rec["user_id"]; present && fmt.Sprint(uid) != claims.UserID {
		return fmt.Errorf("%w: cannot post as another user", backend.ErrForbidden)
	}
	rec["user_id"] = claims.UserID
	if name, _ := rec["user_name"].(string); name == "" {
		rec["user_name"] = claims.Name
	}
	return nil
}

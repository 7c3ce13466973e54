package admin

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/deploydeck/internal/backend"
)

type stubBackend struct {
	mu sync.Mutex

	records map[string][]backend.Record
	failOn  map[string]error

	queries []backend.Query
	updates []backend.Record
	deletes []string
}

func (s *stubBackend) Query(_ context.Context, collection string, q backend.Query) ([]backend.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	if err := s.failOn[collection]; err != nil {
		return nil, err
	}
	return s.records[collection], nil
}

func (s *stubBackend) Insert(context.Context, string, backend.Record) (backend.Record, error) {
	return nil, backend.ErrUnsupported
}

func (s *stubBackend) Update(_ context.Context, _ string, id string, fields backend.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn["update"]; err != nil {
		return err
	}
	rec := fields.Clone()
	rec["id"] = id
	s.updates = append(s.updates, rec)
	return nil
}

func (s *stubBackend) Delete(_ context.Context, _ string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn["delete"]; err != nil {
		return err
	}
	s.deletes = append(s.deletes, id)
	return nil
}

func (s *stubBackend) Subscribe(context.Context, string, backend.EventFilter, backend.Handler) (backend.Subscription, error) {
	return nil, backend.ErrUnsupported
}

func newStub() *stubBackend {
	return &stubBackend{
		records: map[string][]backend.Record{
			backend.CollectionProfiles: {
				{"id": "u2", "email": "bob@example.com", "is_premium": true, "role": "user", "created_at": "2026-03-02T10:00:00Z"},
				{"id": "u1", "email": "alice@example.com", "is_premium": false, "role": "admin", "created_at": "2026-03-01T10:00:00Z"},
				{"email": "broken@example.com"},
			},
			backend.CollectionDeployments: {
				{"id": "d1", "project_name": "api", "status": "success", "region": "eu-west-1", "created_at": "2026-03-03T10:00:00Z"},
			},
		},
		failOn: map[string]error{},
	}
}

func TestLoadFetchesNewestFirst(t *testing.T) {
	stub := newStub()
	c := NewConsole(stub, nil)

	require.NoError(t, c.Load(context.Background()))

	users := c.Users()
	require.Len(t, users, 2, "malformed profile is skipped")
	assert.Equal(t, "u2", users[0].ID)
	assert.True(t, users[0].IsPremium)
	assert.Equal(t, 2026, users[0].CreatedAt.Year())
	require.Len(t, c.Deployments(), 1)
	assert.Equal(t, "api", c.Deployments()[0].ProjectName)

	require.Len(t, stub.queries, 2)
	for _, q := range stub.queries {
		assert.True(t, q.Descending)
		assert.Equal(t, backend.FieldCreatedAt, q.OrderBy)
	}
}

func TestLoadReportsPartialFailure(t *testing.T) {
	stub := newStub()
	stub.failOn[backend.CollectionDeployments] = errors.New("timeout")
	c := NewConsole(stub, nil)

	err := c.Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeploymentsUnavailable)
	assert.NotErrorIs(t, err, ErrUsersUnavailable)
	assert.Len(t, c.Users(), 2)
	assert.Empty(t, c.Deployments())
}

func TestTogglePremium(t *testing.T) {
	stub := newStub()
	c := NewConsole(stub, nil)
	require.NoError(t, c.Load(context.Background()))

	require.NoError(t, c.TogglePremium(context.Background(), "u1", false))
	require.Len(t, stub.updates, 1)
	assert.Equal(t, backend.Record{"id": "u1", "is_premium": true}, stub.updates[0])

	for _, u := range c.Users() {
		if u.ID == "u1" {
			assert.True(t, u.IsPremium)
		}
	}
	assert.Equal(t, 2, c.Stats(0).PremiumUsers)
}

func TestTogglePremiumFailureKeepsState(t *testing.T) {
	stub := newStub()
	stub.failOn["update"] = backend.ErrForbidden
	c := NewConsole(stub, nil)
	require.NoError(t, c.Load(context.Background()))

	err := c.TogglePremium(context.Background(), "u2", true)
	assert.ErrorIs(t, err, backend.ErrForbidden)
	assert.Equal(t, 1, c.Stats(0).PremiumUsers)
}

func TestDeleteUser(t *testing.T) {
	stub := newStub()
	c := NewConsole(stub, nil)
	require.NoError(t, c.Load(context.Background()))

	require.NoError(t, c.DeleteUser(context.Background(), "u2"))
	assert.Equal(t, []string{"u2"}, stub.deletes)
	require.Len(t, c.Users(), 1)
	assert.Equal(t, "u1", c.Users()[0].ID)

	stub.failOn["delete"] = backend.ErrNotFound
	assert.ErrorIs(t, c.DeleteUser(context.Background(), "u1"), backend.ErrNotFound)
	assert.Len(t, c.Users(), 1)
}

func TestStats(t *testing.T) {
	c := NewConsole(newStub(), nil)
	require.NoError(t, c.Load(context.Background()))

	assert.Equal(t, Stats{TotalUsers: 2, PremiumUsers: 1, Deployments: 1, Messages: 7}, c.Stats(7))
}

// Package admin implements the operator console: the user directory, the
// deployment log and the overview counters.
package admin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/deploydeck/internal/backend"
	"github.com/vovakirdan/deploydeck/internal/log"
)

var (
	// ErrUsersUnavailable marks a failed user directory load.
	ErrUsersUnavailable = errors.New("user directory unavailable")
	// ErrDeploymentsUnavailable marks a failed deployment log load.
	ErrDeploymentsUnavailable = errors.New("deployment log unavailable")
)

// User is one row of the user directory.
type User struct {
	ID        string    `json:"id" validate:"required"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	AvatarURL string    `json:"avatar_url"`
	IsPremium bool      `json:"is_premium"`
	Role      string    `json:"role" validate:"omitempty,oneof=user admin"`
	CreatedAt time.Time `json:"created_at"`
}

// Deployment is one entry of the deployment log.
type Deployment struct {
	ID          string    `json:"id" validate:"required"`
	ProjectName string    `json:"project_name" validate:"required"`
	Status      string    `json:"status" validate:"required,oneof=success failed processing"`
	Region      string    `json:"region"`
	CreatedAt   time.Time `json:"created_at"`
}

// Stats are the overview counters.
type Stats struct {
	TotalUsers   int
	PremiumUsers int
	Deployments  int
	Messages     int
}

// Console holds the loaded directory and log. Methods are safe for
// concurrent use.
type Console struct {
	ds  backend.DataService
	log *zerolog.Logger

	mu          sync.Mutex
	users       []User
	deployments []Deployment
}

// NewConsole creates a console over ds.
func NewConsole(ds backend.DataService, logger *zerolog.Logger) *Console {
	return &Console{ds: ds, log: log.OrNop(logger)}
}

// Load fetches users and deployments, newest first, in parallel. A
// collection that fails to load is left empty and reported in the
// returned error; the other is still loaded.
func (c *Console) Load(ctx context.Context) error {
	var (
		users       []User
		deployments []Deployment
		userErr     error
		deployErr   error
	)

	newestFirst := backend.Query{OrderBy: backend.FieldCreatedAt, Descending: true, Limit: backend.MaxLimit}

	var g errgroup.Group
	g.Go(func() error {
		users, userErr = loadAll[User](ctx, c.ds, backend.CollectionProfiles, newestFirst, c.log)
		return nil
	})
	g.Go(func() error {
		deployments, deployErr = loadAll[Deployment](ctx, c.ds, backend.CollectionDeployments, newestFirst, c.log)
		return nil
	})
	_ = g.Wait()

	var warnings []error
	if userErr != nil {
		c.log.Warn().Err(userErr).Msg("user directory load failed")
		warnings = append(warnings, fmt.Errorf("%w: %w", ErrUsersUnavailable, userErr))
	}
	if deployErr != nil {
		c.log.Warn().Err(deployErr).Msg("deployment log load failed")
		warnings = append(warnings, fmt.Errorf("%w: %w", ErrDeploymentsUnavailable, deployErr))
	}

	c.mu.Lock()
	c.users = users
	c.deployments = deployments
	c.mu.Unlock()

	return errors.Join(warnings...)
}

func loadAll[T any](ctx context.Context, ds backend.DataService, collection string, q backend.Query, logger *zerolog.Logger) ([]T, error) {
	records, err := ds.Query(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(records))
	for _, rec := range records {
		var v T
		if err := backend.Decode(rec, &v); err != nil {
			logger.Warn().Err(err).Str("collection", collection).Str("id", rec.ID()).Msg("skipping malformed record")
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// Users returns a copy of the loaded directory.
func (c *Console) Users() []User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]User(nil), c.users...)
}

// Deployments returns a copy of the loaded deployment log.
func (c *Console) Deployments() []Deployment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Deployment(nil), c.deployments...)
}

// TogglePremium sets the user's premium flag to !current and mirrors the
// change in the loaded directory. On failure nothing local changes.
func (c *Console) TogglePremium(ctx context.Context, userID string, current bool) error {
	next := !current
	if err := c.ds.Update(ctx, backend.CollectionProfiles, userID, backend.Record{"is_premium": next}); err != nil {
		return fmt.Errorf("update premium status: %w", err)
	}

	c.mu.Lock()
	for i := range c.users {
		if c.users[i].ID == userID {
			c.users[i].IsPremium = next
		}
	}
	c.mu.Unlock()

	c.log.Info().Str("user_id", userID).Bool("is_premium", next).Msg("premium status changed")
	return nil
}

// DeleteUser deletes the profile and drops it from the loaded directory.
func (c *Console) DeleteUser(ctx context.Context, userID string) error {
	if err := c.ds.Delete(ctx, backend.CollectionProfiles, userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	c.mu.Lock()
	kept := c.users[:0]
	for _, u := range c.users {
		if u.ID != userID {
			kept = append(kept, u)
		}
	}
	c.users = kept
	c.mu.Unlock()

	c.log.Info().Str("user_id", userID).Msg("user deleted")
	return nil
}

// Stats computes the overview counters. messageCount is supplied by the
// caller, usually the length of its chat feed.
func (c *Console) Stats(messageCount int) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		TotalUsers:  len(c.users),
		Deployments: len(c.deployments),
		Messages:    messageCount,
	}
	for _, u := range c.users {
		if u.IsPremium {
			s.PremiumUsers++
		}
	}
	return s
}

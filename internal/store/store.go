package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint is violated.
	ErrConflict = errors.New("already exists")
)

// Role defines what a profile is allowed to do.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Profile represents a user account.
type Profile struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	FullName     string    `db:"full_name"`
	AvatarURL    string    `db:"avatar_url"`
	IsPremium    bool      `db:"is_premium"`
	Role         Role      `db:"role"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

// ProfileUpdate carries the mutable profile fields; nil means unchanged.
type ProfileUpdate struct {
	FullName  *string
	AvatarURL *string
	IsPremium *bool
	Role      *Role
}

// DeploymentStatus is the outcome of a deployment.
type DeploymentStatus string

const (
	DeploymentSuccess    DeploymentStatus = "success"
	DeploymentFailed     DeploymentStatus = "failed"
	DeploymentProcessing DeploymentStatus = "processing"
)

// Valid reports whether s is a known status.
func (s DeploymentStatus) Valid() bool {
	switch s {
	case DeploymentSuccess, DeploymentFailed, DeploymentProcessing:
		return true
	}
	return false
}

// Deployment represents one entry of the deployment log.
type Deployment struct {
	ID          string           `db:"id"`
	ProjectName string           `db:"project_name"`
	Status      DeploymentStatus `db:"status"`
	Region      string           `db:"region"`
	CreatedAt   time.Time        `db:"created_at"`
}

// DeploymentFilter narrows ListDeployments; empty fields match everything.
type DeploymentFilter struct {
	Status DeploymentStatus
	Region string
}

// Message represents a persisted chat message.
type Message struct {
	ID        string    `db:"id"`
	Scope     string    `db:"scope"`
	UserID    string    `db:"user_id"`
	UserName  string    `db:"user_name"`
	Text      string    `db:"text"`
	CreatedAt time.Time `db:"created_at"`
}

// ListOptions controls ordering and paging of list queries.
// Rows are ordered by created_at, ties broken by insertion order.
type ListOptions struct {
	Descending bool
	Limit      int
}

// ProfileStore handles profile persistence.
type ProfileStore interface {
	// CreateProfile inserts a new profile. ID and CreatedAt must be set.
	CreateProfile(ctx context.Context, p *Profile) error

	// GetProfile retrieves a profile by ID.
	GetProfile(ctx context.Context, id string) (*Profile, error)

	// GetProfileByEmail retrieves a profile by its (lower-cased) email.
	GetProfileByEmail(ctx context.Context, email string) (*Profile, error)

	// ListProfiles lists profiles, optionally restricted to one role.
	ListProfiles(ctx context.Context, role *Role, opts ListOptions) ([]*Profile, error)

	// UpdateProfile applies the non-nil fields of upd.
	UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) error

	// DeleteProfile removes a profile.
	DeleteProfile(ctx context.Context, id string) error
}

// DeploymentStore handles the deployment log.
type DeploymentStore interface {
	CreateDeployment(ctx context.Context, d *Deployment) error
	GetDeployment(ctx context.Context, id string) (*Deployment, error)
	ListDeployments(ctx context.Context, filter DeploymentFilter, opts ListOptions) ([]*Deployment, error)
	UpdateDeploymentStatus(ctx context.Context, id string, status DeploymentStatus) error
	DeleteDeployment(ctx context.Context, id string) error
}

// MessageStore handles message persistence. Messages are append-only.
type MessageStore interface {
	// SaveMessage persists a message. ID and CreatedAt must be set.
	SaveMessage(ctx context.Context, msg *Message) error

	// ListMessages retrieves messages of a scope.
	ListMessages(ctx context.Context, scope string, opts ListOptions) ([]*Message, error)

	// CountMessages returns the number of messages in a scope.
	CountMessages(ctx context.Context, scope string) (int, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	ProfileStore
	DeploymentStore
	MessageStore

	// Maintain runs housekeeping such as statistics refresh and WAL checkpoints.
	Maintain(ctx context.Context) error

	// Close closes the underlying database connection.
	Close() error
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/deploydeck/internal/store"
	"github.com/vovakirdan/deploydeck/migrations"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens the SQLite database at dbPath and applies migrations.
// Use ":memory:" for a private in-memory database.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps
	// an in-memory database alive for the lifetime of the pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyMigrations(db.DB, databaseName(dbPath)); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func applyMigrations(db *sql.DB, dbName string) error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, dbName, driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// databaseName strips DSN decorations from a database path.
func databaseName(path string) string {
	path = strings.TrimPrefix(path, "file:")
	if idx := strings.Index(path, "?"); idx != -1 {
		path = path[:idx]
	}
	if decoded, err := url.PathUnescape(path); err == nil {
		return decoded
	}
	return path
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Maintain refreshes planner statistics and truncates the WAL.
func (s *SQLiteStore) Maintain(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA optimize`); err != nil {
		return fmt.Errorf("optimize: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

// ==== ProfileStore implementation ====

const profileColumns = `id, email, full_name, avatar_url, is_premium, role, password_hash, created_at`

// CreateProfile inserts a new profile.
func (s *SQLiteStore) CreateProfile(ctx context.Context, p *store.Profile) error {
	query := `
		INSERT INTO profiles (` + profileColumns + `)
		VALUES (:id, :email, :full_name, :avatar_url, :is_premium, :role, :password_hash, :created_at)
	`
	if _, err := s.db.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("insert profile: %w", mapError(err))
	}
	return nil
}

// GetProfile retrieves a profile by ID.
func (s *SQLiteStore) GetProfile(ctx context.Context, id string) (*store.Profile, error) {
	var p store.Profile
	err := s.db.GetContext(ctx, &p, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", mapError(err))
	}
	return &p, nil
}

// GetProfileByEmail retrieves a profile by email.
func (s *SQLiteStore) GetProfileByEmail(ctx context.Context, email string) (*store.Profile, error) {
	var p store.Profile
	err := s.db.GetContext(ctx, &p, `SELECT `+profileColumns+` FROM profiles WHERE email = ?`, email)
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", mapError(err))
	}
	return &p, nil
}

// ListProfiles lists profiles, optionally restricted to one role.
func (s *SQLiteStore) ListProfiles(ctx context.Context, role *store.Role, opts store.ListOptions) ([]*store.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles`
	var args []any
	if role != nil {
		query += ` WHERE role = ?`
		args = append(args, *role)
	}
	query += orderClause(opts)
	args = append(args, limitArg(opts))

	profiles := []*store.Profile{}
	if err := s.db.SelectContext(ctx, &profiles, query, args...); err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return profiles, nil
}

// UpdateProfile applies the non-nil fields of upd.
func (s *SQLiteStore) UpdateProfile(ctx context.Context, id string, upd store.ProfileUpdate) error {
	var (
		sets []string
		args []any
	)
	if upd.FullName != nil {
		sets = append(sets, "full_name = ?")
		args = append(args, *upd.FullName)
	}
	if upd.AvatarURL != nil {
		sets = append(sets, "avatar_url = ?")
		args = append(args, *upd.AvatarURL)
	}
	if upd.IsPremium != nil {
		sets = append(sets, "is_premium = ?")
		args = append(args, *upd.IsPremium)
	}
	if upd.Role != nil {
		sets = append(sets, "role = ?")
		args = append(args, *upd.Role)
	}
	if len(sets) == 0 {
		// Nothing to change; still report missing rows.
		_, err := s.GetProfile(ctx, id)
		return err
	}

	args = append(args, id)
	query := `UPDATE profiles SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return expectRow(result, "profile")
}

// DeleteProfile removes a profile.
func (s *SQLiteStore) DeleteProfile(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	return expectRow(result, "profile")
}

// ==== DeploymentStore implementation ====

const deploymentColumns = `id, project_name, status, region, created_at`

// CreateDeployment inserts a deployment log entry.
func (s *SQLiteStore) CreateDeployment(ctx context.Context, d *store.Deployment) error {
	query := `
		INSERT INTO deployments (` + deploymentColumns + `)
		VALUES (:id, :project_name, :status, :region, :created_at)
	`
	if _, err := s.db.NamedExecContext(ctx, query, d); err != nil {
		return fmt.Errorf("insert deployment: %w", mapError(err))
	}
	return nil
}

// GetDeployment retrieves a deployment by ID.
func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*store.Deployment, error) {
	var d store.Deployment
	err := s.db.GetContext(ctx, &d, `SELECT `+deploymentColumns+` FROM deployments WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query deployment: %w", mapError(err))
	}
	return &d, nil
}

// ListDeployments lists deployments matching filter.
func (s *SQLiteStore) ListDeployments(ctx context.Context, filter store.DeploymentFilter, opts store.ListOptions) ([]*store.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE 1 = 1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.Region != "" {
		query += ` AND region = ?`
		args = append(args, filter.Region)
	}
	query += orderClause(opts)
	args = append(args, limitArg(opts))

	deployments := []*store.Deployment{}
	if err := s.db.SelectContext(ctx, &deployments, query, args...); err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	return deployments, nil
}

// UpdateDeploymentStatus changes the status of a deployment.
func (s *SQLiteStore) UpdateDeploymentStatus(ctx context.Context, id string, status store.DeploymentStatus) error {
	result, err := s.db.ExecContext(ctx, `UPDATE deployments SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update deployment: %w", err)
	}
	return expectRow(result, "deployment")
}

// DeleteDeployment removes a deployment.
func (s *SQLiteStore) DeleteDeployment(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM deployments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete deployment: %w", err)
	}
	return expectRow(result, "deployment")
}

// ==== MessageStore implementation ====

// SaveMessage persists a message.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	query := `
		INSERT INTO messages (id, scope, user_id, user_name, text, created_at)
		VALUES (:id, :scope, :user_id, :user_name, :text, :created_at)
	`
	if _, err := s.db.NamedExecContext(ctx, query, msg); err != nil {
		return fmt.Errorf("insert message: %w", mapError(err))
	}
	return nil
}

// ListMessages retrieves messages of a scope.
func (s *SQLiteStore) ListMessages(ctx context.Context, scope string, opts store.ListOptions) ([]*store.Message, error) {
	query := `
		SELECT id, scope, user_id, user_name, text, created_at
		FROM messages
		WHERE scope = ?` + orderClause(opts)

	messages := []*store.Message{}
	if err := s.db.SelectContext(ctx, &messages, query, scope, limitArg(opts)); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// CountMessages returns the number of messages in a scope.
func (s *SQLiteStore) CountMessages(ctx context.Context, scope string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM messages WHERE scope = ?`, scope); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// ==== helpers ====

// orderClause orders by created_at with rowid as the arrival-order tie-break.
func orderClause(opts store.ListOptions) string {
	if opts.Descending {
		return ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	}
	return ` ORDER BY created_at ASC, rowid ASC LIMIT ?`
}

// limitArg maps a non-positive limit to SQLite's "no limit".
func limitArg(opts store.ListOptions) int {
	if opts.Limit <= 0 {
		return -1
	}
	return opts.Limit
}

func expectRow(result sql.Result, entity string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", entity, store.ErrNotFound)
	}
	return nil
}

func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}

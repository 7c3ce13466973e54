package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/deploydeck/internal/backend"
	"github.com/vovakirdan/deploydeck/internal/store"
)

var (
	// ErrInvalidCredentials is returned when email/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when signing up with a registered email.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidEmail is returned when the email is not usable.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInvalidName is returned when the full name is too long.
	ErrInvalidName = errors.New("invalid full name")
)

const minPasswordLen = 6

// Session is the result of a successful sign-up or sign-in.
type Session struct {
	Token   string         `json:"token"`
	Profile *store.Profile `json:"-"`
}

// Service provides authentication operations.
type Service struct {
	store      store.ProfileStore
	jwtConfig  *JWTConfig
	adminEmail string
	now        func() time.Time
}

// NewService creates a new authentication service. An account signing up
// with adminEmail is given the admin role.
func NewService(profiles store.ProfileStore, jwtConfig *JWTConfig, adminEmail string) *Service {
	return &Service{
		store:      profiles,
		jwtConfig:  jwtConfig,
		adminEmail: normalizeEmail(adminEmail),
		now:        time.Now,
	}
}

// SignUp creates a new profile with a hashed password and returns a session.
func (s *Service) SignUp(ctx context.Context, email, password, fullName string) (*Session, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return nil, ErrInvalidEmail
	}
	if len(password) < minPasswordLen {
		return nil, ErrInvalidPassword
	}
	fullName = strings.TrimSpace(fullName)
	if len(fullName) > backend.MaxFieldLength {
		return nil, ErrInvalidName
	}

	if existing, err := s.store.GetProfileByEmail(ctx, email); err == nil && existing != nil {
		return nil, ErrUserExists
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lookup profile: %w", err)
	}

	hashedPassword, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	role := store.RoleUser
	if s.adminEmail != "" && email == s.adminEmail {
		role = store.RoleAdmin
	}

	p := &store.Profile{
		ID:           uuid.NewString(),
		Email:        email,
		FullName:     fullName,
		Role:         role,
		PasswordHash: hashedPassword,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateProfile(ctx, p); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create profile: %w", err)
	}

	return s.issue(p)
}

// SignIn validates credentials and returns a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	p, err := s.store.GetProfileByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if errPwd := ComparePassword(p.PasswordHash, password); errPwd != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(p)
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}

func (s *Service) issue(p *store.Profile) (*Session, error) {
	token, err := GenerateToken(s.jwtConfig, p)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	return &Session{Token: token, Profile: p}, nil
}

// DisplayName is the name shown next to a user's messages: the full name,
// else the local part of the email, else "Admin".
func DisplayName(p *store.Profile) string {
	if name := strings.TrimSpace(p.FullName); name != "" {
		return name
	}
	if local, _, ok := strings.Cut(p.Email, "@"); ok && local != "" {
		return local
	}
	return "Admin"
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	local, domain, ok := strings.Cut(email, "@")
	return ok && local != "" && domain != "" && !strings.ContainsAny(email, " \t")
}

// Package authpw is the identity-provider boundary: email/password
// credentials, kept apart from user profiles so a failed registration
// can remove the identity without leaving orphans.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"crewsync/api/internal/store"
	"crewsync/api/internal/util"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmailInUse         = errors.New("email-already-in-use")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrMissingCredentials = errors.New("email and password are required")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// IdentityStore defines the storage interface for credentials
type IdentityStore interface {
	CreateIdentity(ctx context.Context, identity store.Identity) error
	GetIdentityByEmail(ctx context.Context, email string) (store.Identity, error)
	GetIdentityByID(ctx context.Context, id string) (store.Identity, error)
	UpdateIdentityPassword(ctx context.Context, id, passwordHash string) error
	DeleteIdentity(ctx context.Context, id string) error
}

// Service provides email/password authentication
type Service struct {
	store IdentityStore
}

func NewService(store IdentityStore) *Service {
	return &Service{store: store}
}

// Register creates a new identity and returns its id. The caller owns
// rolling it back (DeleteIdentity) if dependent writes fail.
func (s *Service) Register(ctx context.Context, email, password string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return "", ErrMissingCredentials
	}
	if len(password) < 8 {
		return "", ErrWeakPassword
	}

	if _, err := s.store.GetIdentityByEmail(ctx, email); err == nil {
		return "", ErrEmailInUse
	} else if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("lookup identity: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	identity := store.Identity{
		ID:           util.NewID("usr"),
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.store.CreateIdentity(ctx, identity); err != nil {
		// Two registrations racing past the lookup; the unique index
		// on email rejects the loser.
		if errors.Is(err, store.ErrDuplicate) {
			return "", ErrEmailInUse
		}
		return "", fmt.Errorf("create identity: %w", err)
	}
	return identity.ID, nil
}

// SignIn verifies the credential and returns the identity id.
func (s *Service) SignIn(ctx context.Context, email, password string) (string, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return "", ErrInvalidCredentials
	}

	identity, err := s.store.GetIdentityByEmail(ctx, email)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return identity.ID, nil
}

// ChangePassword replaces the credential. The current password must be
// presented again, the re-authentication the provider requires for
// credential changes.
func (s *Service) ChangePassword(ctx context.Context, id, currentPassword, newPassword string) error {
	if len(newPassword) < 8 {
		return ErrWeakPassword
	}

	identity, err := s.store.GetIdentityByID(ctx, id)
	if err != nil {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(currentPassword)); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdateIdentityPassword(ctx, id, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// DeleteIdentity removes a credential so its email becomes reusable.
func (s *Service) DeleteIdentity(ctx context.Context, id string) error {
	return s.store.DeleteIdentity(ctx, id)
}

package user

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrInvalidCredentials is returned for a bad username/password pair.
	// Unknown user and wrong password are indistinguishable on purpose.
	ErrInvalidCredentials = errors.New("invalid_credentials")
	// ErrUserNotFound is returned when a user id does not resolve.
	ErrUserNotFound = errors.New("user_not_found")
	// ErrUsernameTaken is returned when provisioning collides with an
	// existing username.
	ErrUsernameTaken = errors.New("username_taken")
)

// Service exposes account operations to the rest of the core. The compat
// bridge uses it as its credential-verification collaborator; the upstream
// link engine uses it to provision accounts for new subjects.
type Service interface {
	VerifyCredentials(username, password string) (*User, error)
	FindByID(id uuid.UUID) (*User, error)
	Provision(username string) (*User, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

// VerifyCredentials checks a username/password pair against the stored
// argon2id hash. Accounts without a usable password never match.
func (s *service) VerifyCredentials(username, password string) (*User, error) {
	u, err := s.repo.FindByUsername(username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if !u.Active || u.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}

	if !VerifyPassword(password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

func (s *service) FindByID(id uuid.UUID) (*User, error) {
	u, err := s.repo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return u, nil
}

// Provision creates an active account with no usable password, used when
// an upstream link completes against a new local user.
func (s *service) Provision(username string) (*User, error) {
	if _, err := s.repo.FindByUsername(username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}

	u := &User{
		Username: username,
		Active:   true,
	}
	if err := s.repo.Create(u); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

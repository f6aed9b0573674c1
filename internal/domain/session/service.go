package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/emberfed/emberauth/internal/clock"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrInvalidSession is returned when a session id does not resolve
	// to an active session.
	ErrInvalidSession = errors.New("invalid_session")
)

// Service owns the session lifecycle. Create at first authentication,
// step-up on re-auth, mark inactive instead of delete.
type Service interface {
	Create(userID uuid.UUID, authMethod string) (*Session, error)
	Get(id uuid.UUID) (*Session, error)
	// StepUp records an additional auth method on an existing session,
	// e.g. after a fresh upstream authentication.
	StepUp(id uuid.UUID, authMethod string) (*Session, error)
	// Touch advances last_active_at; advisory, errors are swallowed by
	// callers that only track activity.
	Touch(id uuid.UUID) error
	MarkInactive(id uuid.UUID) error
}

type service struct {
	repo  Repository
	clock clock.Clock
}

func NewService(repo Repository, clk clock.Clock) Service {
	return &service{repo: repo, clock: clk}
}

func (s *service) Create(userID uuid.UUID, authMethod string) (*Session, error) {
	sess := &Session{
		UserID:       userID,
		AuthMethods:  authMethod,
		Active:       true,
		LastActiveAt: s.clock.Now(),
	}
	if err := s.repo.Create(sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

func (s *service) Get(id uuid.UUID) (*Session, error) {
	sess, err := s.repo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if !sess.Active {
		return nil, ErrInvalidSession
	}
	return sess, nil
}

func (s *service) StepUp(id uuid.UUID, authMethod string) (*Session, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if !sess.HasAuthMethod(authMethod) {
		methods := strings.TrimSpace(sess.AuthMethods + " " + authMethod)
		if err := s.repo.UpdateAuthMethods(id, methods); err != nil {
			return nil, fmt.Errorf("failed to update auth methods: %w", err)
		}
		sess.AuthMethods = methods
	}

	if err := s.repo.UpdateLastActive(id, s.clock.Now()); err != nil {
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}
	return sess, nil
}

func (s *service) Touch(id uuid.UUID) error {
	return s.repo.UpdateLastActive(id, s.clock.Now())
}

func (s *service) MarkInactive(id uuid.UUID) error {
	return s.repo.MarkInactive(id)
}

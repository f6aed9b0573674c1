package session

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists sessions.
type Repository interface {
	Create(sess *Session) error
	FindByID(id uuid.UUID) (*Session, error)
	UpdateAuthMethods(id uuid.UUID, methods string) error
	UpdateLastActive(id uuid.UUID, t time.Time) error
	MarkInactive(id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db}
}

func (r *repository) Create(sess *Session) error {
	return r.db.Create(sess).Error
}

func (r *repository) FindByID(id uuid.UUID) (*Session, error) {
	var sess Session
	if err := r.db.Where("id = ?", id).First(&sess).Error; err != nil {
		return nil, err
	}
	return &sess, nil
}

func (r *repository) UpdateAuthMethods(id uuid.UUID, methods string) error {
	return r.db.Model(&Session{}).
		Where("id = ?", id).
		Update("auth_methods", methods).Error
}

func (r *repository) UpdateLastActive(id uuid.UUID, t time.Time) error {
	return r.db.Model(&Session{}).
		Where("id = ? AND active = true", id).
		Update("last_active_at", t).Error
}

func (r *repository) MarkInactive(id uuid.UUID) error {
	return r.db.Model(&Session{}).
		Where("id = ? AND active = true", id).
		Update("active", false).Error
}

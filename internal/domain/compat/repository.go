package compat

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository interface {
	Create(cs *CompatSession) error
	FindByID(id uuid.UUID) (*CompatSession, error)
	FindBySessionID(sessionID uuid.UUID) (*CompatSession, error)
	// UpdateTokenPair points the session at its freshly rotated pair.
	UpdateTokenPair(id, accessTokenID, refreshTokenID uuid.UUID) error
	Terminate(id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db}
}

func (r *repository) Create(cs *CompatSession) error {
	return r.db.Create(cs).Error
}

func (r *repository) FindByID(id uuid.UUID) (*CompatSession, error) {
	var cs CompatSession
	if err := r.db.Where("id = ?", id).First(&cs).Error; err != nil {
		return nil, err
	}
	return &cs, nil
}

func (r *repository) FindBySessionID(sessionID uuid.UUID) (*CompatSession, error) {
	var cs CompatSession
	if err := r.db.Where("session_id = ?", sessionID).First(&cs).Error; err != nil {
		return nil, err
	}
	return &cs, nil
}

func (r *repository) UpdateTokenPair(id, accessTokenID, refreshTokenID uuid.UUID) error {
	return r.db.Model(&CompatSession{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"access_token_id":  accessTokenID,
			"refresh_token_id": refreshTokenID,
		}).Error
}

func (r *repository) Terminate(id uuid.UUID) error {
	return r.db.Model(&CompatSession{}).
		Where("id = ?", id).
		Update("terminated", true).Error
}

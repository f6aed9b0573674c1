package token

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists token rows. The token issuer is the sole writer.
type Repository interface {
	CreateAccess(t *AccessToken) error
	CreateRefresh(t *RefreshToken) error
	FindAccessByHash(hash string) (*AccessToken, error)
	FindRefreshByHash(hash string) (*RefreshToken, error)
	// MarkRefreshUsed flips used=false to true and records the
	// replacement, as a single compare-and-set. ErrConflict means the
	// token was already used or revoked when the update ran.
	MarkRefreshUsed(id uuid.UUID, replacedBy uuid.UUID) error
	RevokeAccess(id uuid.UUID) error
	RevokeRefresh(id uuid.UUID) error
	// RevokeSessionTokens revokes every token belonging to a session.
	RevokeSessionTokens(sessionID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db}
}

func (r *repository) CreateAccess(t *AccessToken) error {
	return r.db.Create(t).Error
}

func (r *repository) CreateRefresh(t *RefreshToken) error {
	return r.db.Create(t).Error
}

func (r *repository) FindAccessByHash(hash string) (*AccessToken, error) {
	var t AccessToken
	if err := r.db.Where("token_hash = ?", hash).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repository) FindRefreshByHash(hash string) (*RefreshToken, error) {
	var t RefreshToken
	if err := r.db.Where("token_hash = ?", hash).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repository) MarkRefreshUsed(id uuid.UUID, replacedBy uuid.UUID) error {
	res := r.db.Model(&RefreshToken{}).
		Where("id = ? AND used = false AND revoked = false", id).
		Updates(map[string]any{
			"used":        true,
			"replaced_by": replacedBy,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (r *repository) RevokeAccess(id uuid.UUID) error {
	return r.db.Model(&AccessToken{}).
		Where("id = ?", id).
		Update("revoked", true).Error
}

func (r *repository) RevokeRefresh(id uuid.UUID) error {
	return r.db.Model(&RefreshToken{}).
		Where("id = ?", id).
		Update("revoked", true).Error
}

func (r *repository) RevokeSessionTokens(sessionID uuid.UUID) error {
	if err := r.db.Model(&AccessToken{}).
		Where("session_id = ?", sessionID).
		Update("revoked", true).Error; err != nil {
		return err
	}
	return r.db.Model(&RefreshToken{}).
		Where("session_id = ?", sessionID).
		Update("revoked", true).Error
}

package upstream

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists upstream links. Transitions are compare-and-set,
// same as the grant tables.
type Repository interface {
	Create(l *UpstreamLink) error
	FindByID(id uuid.UUID) (*UpstreamLink, error)
	FindByState(state string) (*UpstreamLink, error)
	// FindLinkedSubject returns the linked row binding the subject at
	// the provider, if any.
	FindLinkedSubject(providerID, subject string) (*UpstreamLink, error)
	Transition(id uuid.UUID, fromStatus, toStatus string, updates map[string]any) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db}
}

func (r *repository) Create(l *UpstreamLink) error {
	return r.db.Create(l).Error
}

func (r *repository) FindByID(id uuid.UUID) (*UpstreamLink, error) {
	var l UpstreamLink
	if err := r.db.Where("id = ?", id).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *repository) FindByState(state string) (*UpstreamLink, error) {
	var l UpstreamLink
	if err := r.db.Where("state = ?", state).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *repository) FindLinkedSubject(providerID, subject string) (*UpstreamLink, error) {
	var l UpstreamLink
	if err := r.db.Where("provider_id = ? AND subject = ? AND status = ?", providerID, subject, StatusLinked).
		First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *repository) Transition(id uuid.UUID, fromStatus, toStatus string, updates map[string]any) error {
	values := map[string]any{"status": toStatus}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.Model(&UpstreamLink{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

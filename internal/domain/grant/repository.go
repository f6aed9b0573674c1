package grant

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists grant rows. Status transitions run as
// compare-and-set updates: the WHERE clause carries the expected
// status, and a zero row count surfaces as ErrConflict so services can
// decide whether a lost race is benign or a protocol violation.
type Repository interface {
	CreateAuthorization(g *AuthorizationGrant) error
	FindAuthorizationByID(id uuid.UUID) (*AuthorizationGrant, error)
	FindAuthorizationByCodeHash(hash string) (*AuthorizationGrant, error)
	// TransitionAuthorization moves a grant from one status to another,
	// applying updates atomically with the status check.
	TransitionAuthorization(id uuid.UUID, fromStatus, toStatus string, updates map[string]any) error

	CreateDevice(g *DeviceCodeGrant) error
	FindDeviceByCodeHash(hash string) (*DeviceCodeGrant, error)
	FindDeviceByUserCode(userCode string) (*DeviceCodeGrant, error)
	// LiveUserCodeExists reports whether a pending, unexpired grant
	// already holds the user code.
	LiveUserCodeExists(userCode string, now time.Time) (bool, error)
	TransitionDevice(id uuid.UUID, fromStatus, toStatus string, updates map[string]any) error
	TouchDevicePoll(id uuid.UUID, polledAt time.Time, pollInterval int) error

	// ExpireStale marks overdue pending grants expired and returns how
	// many rows changed. Advisory: readers treat expires_at as truth.
	ExpireStale(now time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db}
}

func (r *repository) CreateAuthorization(g *AuthorizationGrant) error {
	return r.db.Create(g).Error
}

func (r *repository) FindAuthorizationByID(id uuid.UUID) (*AuthorizationGrant, error) {
	var g AuthorizationGrant
	if err := r.db.Where("id = ?", id).First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *repository) FindAuthorizationByCodeHash(hash string) (*AuthorizationGrant, error) {
	var g AuthorizationGrant
	if err := r.db.Where("code_hash = ?", hash).First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *repository) TransitionAuthorization(id uuid.UUID, fromStatus, toStatus string, updates map[string]any) error {
	values := map[string]any{"status": toStatus}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.Model(&AuthorizationGrant{}).
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

func (r *repository) CreateDevice(g *DeviceCodeGrant) error {
	return r.db.Create(g).Error
}

func (r *repository) FindDeviceByCodeHash(hash string) (*DeviceCodeGrant, error) {
	var g DeviceCodeGrant
	if err := r.db.Where("device_code_hash = ?", hash).First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

// FindDeviceByUserCode resolves the newest grant carrying the code,
// whatever its status; codes may be reused once the holder is dead, so
// the latest row is the one a consent decision can target.
func (r *repository) FindDeviceByUserCode(userCode string) (*DeviceCodeGrant, error) {
	var g DeviceCodeGrant
	if err := r.db.Where("user_code = ?", userCode).
		Order("created_at DESC").
		First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *repository) LiveUserCodeExists(userCode string, now time.Time) (bool, error) {
	var count int64
	err := r.db.Model(&DeviceCodeGrant{}).
		Where("user_code = ? AND status = ? AND expires_at > ?", userCode, StatusPending, now).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) TransitionDevice(id uuid.UUID, fromStatus, toStatus string, updates map[string]any) error {
	values := map[string]any{"status": toStatus}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.Model(&DeviceCodeGrant{}).
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

func (r *repository) TouchDevicePoll(id uuid.UUID, polledAt time.Time, pollInterval int) error {
	return r.db.Model(&DeviceCodeGrant{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_polled_at": polledAt,
			"poll_interval":  pollInterval,
		}).Error
}

func (r *repository) ExpireStale(now time.Time) (int64, error) {
	res := r.db.Model(&AuthorizationGrant{}).
		Where("status IN ? AND expires_at <= ?", []string{StatusPending, StatusFulfilled}, now).
		Update("status", StatusExpired)
	if res.Error != nil {
		return 0, res.Error
	}
	expired := res.RowsAffected

	res = r.db.Model(&DeviceCodeGrant{}).
		Where("status = ? AND expires_at <= ?", StatusPending, now).
		Update("status", StatusExpired)
	if res.Error != nil {
		return expired, res.Error
	}
	return expired + res.RowsAffected, nil
}

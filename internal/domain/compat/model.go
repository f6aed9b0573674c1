package compat

import (
	"github.com/emberfed/emberauth/internal/database"
	"github.com/google/uuid"
)

// ClientID is the pseudo client every legacy session is issued under.
// Compat tokens introspect and revoke like any other token, scoped to
// this id.
const ClientID = "compat"

// CompatSession wraps one legacy device login around a real session
// and its current token pair. Terminated sessions stay on record.
type CompatSession struct {
	database.BaseModel

	DeviceID       string    `gorm:"column:device_id;type:varchar(255);not null;index"`
	UserID         uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`
	SessionID      uuid.UUID `gorm:"column:session_id;type:uuid;not null;uniqueIndex"`
	AccessTokenID  uuid.UUID `gorm:"column:access_token_id;type:uuid;not null"`
	RefreshTokenID uuid.UUID `gorm:"column:refresh_token_id;type:uuid;not null"`
	Terminated     bool      `gorm:"column:terminated;default:false"`
}

func (CompatSession) TableName() string {
	return "compat_sessions"
}

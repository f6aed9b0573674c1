package session

import (
	"strings"
	"time"

	"github.com/emberfed/emberauth/internal/database"
	"github.com/google/uuid"
)

// Auth method labels recorded on a session.
const (
	MethodPassword = "password"
	MethodCompat   = "compat"
	// MethodUpstreamPrefix is followed by the provider id.
	MethodUpstreamPrefix = "upstream:"
)

// Session is an authenticated browser or device context. Sessions are
// never deleted, only marked inactive, so audit trails survive.
type Session struct {
	database.BaseModel

	UserID       uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`
	AuthMethods  string    `gorm:"column:auth_methods;type:text;not null"` // space-separated
	Active       bool      `gorm:"column:active;default:true"`
	LastActiveAt time.Time `gorm:"column:last_active_at"`
}

func (Session) TableName() string {
	return "sessions"
}

// AuthMethodList splits the recorded auth methods.
func (s *Session) AuthMethodList() []string {
	return strings.Fields(s.AuthMethods)
}

// HasAuthMethod reports whether the session recorded the given method.
func (s *Session) HasAuthMethod(method string) bool {
	for _, m := range s.AuthMethodList() {
		if m == method {
			return true
		}
	}
	return false
}

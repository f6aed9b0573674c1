package upstream

import (
	"time"

	"github.com/emberfed/emberauth/internal/database"
	"github.com/google/uuid"
)

// Link statuses. authorize_started -> callback_received -> linked is
// the happy path; failed and expired are terminal.
const (
	StatusAuthorizeStarted = "authorize_started"
	StatusCallbackReceived = "callback_received"
	StatusLinked           = "linked"
	StatusExpired          = "expired"
	StatusFailed           = "failed"
)

// UpstreamLink is one federated login attempt against an upstream
// provider. State, nonce, and the PKCE verifier are bound to the row,
// never to a cookie alone, so the callback can only complete the flow
// it belongs to.
type UpstreamLink struct {
	database.BaseModel

	ProviderID   string     `gorm:"column:provider_id;type:varchar(255);not null;index"`
	Subject      string     `gorm:"column:subject;type:varchar(512)"` // empty until the callback verified an ID token
	UserID       *uuid.UUID `gorm:"column:user_id;type:uuid"`
	State        string     `gorm:"column:state;type:varchar(255);uniqueIndex;not null"`
	Nonce        string     `gorm:"column:nonce;type:varchar(255);not null"`
	CodeVerifier string     `gorm:"column:code_verifier;type:varchar(255);not null"`
	Status       string     `gorm:"column:status;type:varchar(32);not null;index"`
	ExpiresAt    time.Time  `gorm:"column:expires_at;not null;index"`
}

func (UpstreamLink) TableName() string {
	return "upstream_links"
}

package token

import (
	"strings"
	"time"

	"github.com/emberfed/emberauth/internal/database"
	"github.com/google/uuid"
)

// Token value prefixes make leaked credentials greppable and keep the
// two kinds distinguishable at the endpoints that accept either.
const (
	AccessTokenPrefix  = "eat_"
	RefreshTokenPrefix = "ert_"
)

// AccessToken is a short-lived bearer credential. The row is the source
// of truth: values are opaque identifiers, not self-contained blobs, so
// revocation takes effect without waiting for expiry.
type AccessToken struct {
	database.BaseModel

	TokenHash string    `gorm:"column:token_hash;type:varchar(255);uniqueIndex;not null"`
	SessionID uuid.UUID `gorm:"column:session_id;type:uuid;not null;index"`
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;not null"`
	ClientID  string    `gorm:"column:client_id;type:varchar(255);not null"`
	Scopes    string    `gorm:"column:scopes;type:text;not null"` // space-separated
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index"`
	Revoked   bool      `gorm:"column:revoked;default:false"`
}

func (AccessToken) TableName() string {
	return "access_tokens"
}

// RefreshToken is the long-lived half of a pair. Single-use: redeeming
// it marks it used forever and links the replacement for replay
// detection.
type RefreshToken struct {
	database.BaseModel

	TokenHash     string     `gorm:"column:token_hash;type:varchar(255);uniqueIndex;not null"`
	SessionID     uuid.UUID  `gorm:"column:session_id;type:uuid;not null;index"`
	UserID        uuid.UUID  `gorm:"column:user_id;type:uuid;not null"`
	ClientID      string     `gorm:"column:client_id;type:varchar(255);not null"`
	Scopes        string     `gorm:"column:scopes;type:text;not null"` // space-separated
	AccessTokenID uuid.UUID  `gorm:"column:access_token_id;type:uuid;not null"`
	Used          bool       `gorm:"column:used;default:false"`
	ReplacedBy    *uuid.UUID `gorm:"column:replaced_by;type:uuid"`
	ExpiresAt     time.Time  `gorm:"column:expires_at;not null;index"`
	Revoked       bool       `gorm:"column:revoked;default:false"`
}

func (RefreshToken) TableName() string {
	return "refresh_tokens"
}

// ScopeList splits the stored scopes.
func (t *AccessToken) ScopeList() []string {
	return strings.Fields(t.Scopes)
}

// ScopeList splits the stored scopes.
func (t *RefreshToken) ScopeList() []string {
	return strings.Fields(t.Scopes)
}

// Issued is a freshly minted credential set.
type Issued struct {
	AccessToken      string
	AccessTokenID    uuid.UUID
	RefreshToken     string
	RefreshTokenID   uuid.UUID
	IDToken          string
	SessionID        uuid.UUID
	Scopes           []string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Introspection is the RFC 7662 view of a token.
type Introspection struct {
	Active    bool
	Scopes    []string
	ClientID  string
	Subject   string
	TokenType string
	ExpiresAt time.Time
}

package grant

import (
	"strings"
	"time"

	"github.com/emberfed/emberauth/internal/database"
	"github.com/emberfed/emberauth/internal/domain/token"
	"github.com/google/uuid"
)

// Authorization grant statuses. fulfilled->exchanged is one-way and
// one-time; expiry overrides whatever status the row carries.
const (
	StatusPending   = "pending"
	StatusFulfilled = "fulfilled"
	StatusExchanged = "exchanged"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
	// StatusDenied is a device-grant terminal state.
	StatusDenied = "denied"
)

// CodeChallengeMethodS256 is the only supported PKCE method.
const CodeChallengeMethodS256 = "S256"

// AuthorizationCodePrefix prefixes issued authorization codes.
const AuthorizationCodePrefix = "eac_"

// DeviceCodePrefix prefixes issued device codes.
const DeviceCodePrefix = "edc_"

// AuthorizationGrant is one authorization-code flow in progress. The
// raw code is returned to the client once; only its hash is stored.
type AuthorizationGrant struct {
	database.BaseModel

	ClientID            string     `gorm:"column:client_id;type:varchar(255);not null;index"`
	Scopes              string     `gorm:"column:scopes;type:text;not null"` // space-separated
	RedirectURI         string     `gorm:"column:redirect_uri;type:text;not null"`
	CodeHash            string     `gorm:"column:code_hash;type:varchar(255);uniqueIndex;not null"`
	CodeChallenge       string     `gorm:"column:code_challenge;type:varchar(255)"`
	CodeChallengeMethod string     `gorm:"column:code_challenge_method;type:varchar(16)"`
	State               string     `gorm:"column:state;type:varchar(512)"`
	Nonce               string     `gorm:"column:nonce;type:varchar(512)"`
	MaxAge              *int       `gorm:"column:max_age"`
	ResponseType        string     `gorm:"column:response_type;type:varchar(64);not null"`
	Status              string     `gorm:"column:status;type:varchar(32);not null;index"`
	SessionID           *uuid.UUID `gorm:"column:session_id;type:uuid"`
	GrantedScopes       string     `gorm:"column:granted_scopes;type:text"`
	ExpiresAt           time.Time  `gorm:"column:expires_at;not null;index"`
}

func (AuthorizationGrant) TableName() string {
	return "authorization_grants"
}

// ScopeList splits the requested scopes.
func (g *AuthorizationGrant) ScopeList() []string {
	return strings.Fields(g.Scopes)
}

// GrantedScopeList splits the scopes the user actually approved.
func (g *AuthorizationGrant) GrantedScopeList() []string {
	return strings.Fields(g.GrantedScopes)
}

// DeviceCodeGrant is one RFC 8628 device flow in progress. The device
// code is stored hashed; the user code is short and stored plain so
// the consent page can look it up.
type DeviceCodeGrant struct {
	database.BaseModel

	DeviceCodeHash string     `gorm:"column:device_code_hash;type:varchar(255);uniqueIndex;not null"`
	UserCode       string     `gorm:"column:user_code;type:varchar(16);not null;index"`
	ClientID       string     `gorm:"column:client_id;type:varchar(255);not null;index"`
	Scopes         string     `gorm:"column:scopes;type:text;not null"` // space-separated
	Status         string     `gorm:"column:status;type:varchar(32);not null;index"`
	PollInterval   int        `gorm:"column:poll_interval;not null"` // seconds
	LastPolledAt   *time.Time `gorm:"column:last_polled_at"`
	SessionID      *uuid.UUID `gorm:"column:session_id;type:uuid"`
	GrantedScopes  string     `gorm:"column:granted_scopes;type:text"`
	ExpiresAt      time.Time  `gorm:"column:expires_at;not null;index"`
}

func (DeviceCodeGrant) TableName() string {
	return "device_code_grants"
}

// ScopeList splits the requested scopes.
func (g *DeviceCodeGrant) ScopeList() []string {
	return strings.Fields(g.Scopes)
}

// GrantedScopeList splits the scopes the user actually approved.
func (g *DeviceCodeGrant) GrantedScopeList() []string {
	return strings.Fields(g.GrantedScopes)
}

// AuthorizeParams carries a parsed authorization request.
type AuthorizeParams struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	MaxAge              *int
	CodeChallenge       string
	CodeChallengeMethod string
}

// PollStatus is the outcome of one device-code poll.
type PollStatus string

const (
	PollAuthorizationPending PollStatus = "authorization_pending"
	PollSlowDown             PollStatus = "slow_down"
	PollAccessDenied         PollStatus = "access_denied"
	PollExpired              PollStatus = "expired_token"
	PollFulfilled            PollStatus = "fulfilled"
)

// PollResult carries the poll outcome; Tokens is set only on PollFulfilled.
type PollResult struct {
	Status PollStatus
	Tokens *token.Issued
}

package client

import (
	"strings"

	"github.com/emberfed/emberauth/internal/database"
)

// Client is a registered relying application.
type Client struct {
	database.BaseModel

	ClientID string `gorm:"column:client_id;type:varchar(255);uniqueIndex;not null"`
	Name     string `gorm:"column:name;type:varchar(255);not null"`
	// SecretHash is empty for public clients.
	SecretHash    string `gorm:"column:secret_hash;type:text"`
	RedirectURIs  string `gorm:"column:redirect_uris;type:text;not null"`  // space-separated
	AllowedScopes string `gorm:"column:allowed_scopes;type:text;not null"` // space-separated
	RequirePKCE   bool   `gorm:"column:require_pkce;default:false"`
	Active        bool   `gorm:"column:active;default:true"`
}

func (Client) TableName() string {
	return "clients"
}

// Public reports whether the client authenticates without a secret.
func (c *Client) Public() bool {
	return c.SecretHash == ""
}

// RedirectURIList splits the stored redirect URIs.
func (c *Client) RedirectURIList() []string {
	return strings.Fields(c.RedirectURIs)
}

// AllowedScopeList splits the stored allowed scopes.
func (c *Client) AllowedScopeList() []string {
	return strings.Fields(c.AllowedScopes)
}

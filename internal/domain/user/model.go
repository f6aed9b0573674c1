package user

import (
	"github.com/emberfed/emberauth/internal/database"
)

// User is a local account on the homeserver.
type User struct {
	database.BaseModel

	Username     string `gorm:"column:username;type:varchar(255);uniqueIndex;not null"`
	PasswordHash string `gorm:"column:password_hash;type:text"`
	Active       bool   `gorm:"column:active;default:true"`
}

func (User) TableName() string {
	return "users"
}

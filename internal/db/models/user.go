package models

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	Username     string `gorm:"unique;not null"`
	Email        string
	PasswordHash string `gorm:"not null"` // Bcrypt hash of password
	FullName     string
	IsSuperuser  bool `gorm:"not null;default:false"`
	ActiveStatus bool `gorm:"not null;default:true"`
	LastLogin    time.Time
	Groups       []Group `gorm:"many2many:user_groups;"`
	Profile      *Profile
}

// Group is the authoritative source for role decisions. Profile.Role is
// only a display cache derived from it.
type Group struct {
	gorm.Model
	Name  string `gorm:"unique;not null"`
	Users []User `gorm:"many2many:user_groups;"`
}

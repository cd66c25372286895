package models

import (
	"gorm.io/gorm"
)

type ProfileRole string

const (
	RoleMember ProfileRole = "MEMBER"
	RoleChair  ProfileRole = "CHAIR"
)

// Profile carries per-user display data. Role is a cached projection of the
// user's group membership, recomputed by RoleService.SyncRole after every
// membership mutation; permission checks never read it.
type Profile struct {
	gorm.Model
	UserID   uint `gorm:"uniqueIndex;not null"`
	FullName string
	Phone    string
	Role     ProfileRole `gorm:"not null;default:'MEMBER'"`
}

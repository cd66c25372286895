package models

import (
	"gorm.io/gorm"
)

// Attachment is immutable once created; StorePath is the opaque handle
// returned by the file store.
type Attachment struct {
	gorm.Model
	DocumentID   string `gorm:"index;not null"`
	FileName     string `gorm:"not null"`
	StorePath    string `gorm:"not null"`
	ContentType  string
	UploadedByID uint `gorm:"index;not null"`
}

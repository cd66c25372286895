package models

import (
	"gorm.io/gorm"
)

type DocumentStatus string

const (
	StatusDraft      DocumentStatus = "DRAFT"
	StatusSubmitted  DocumentStatus = "SUBMITTED"
	StatusInProgress DocumentStatus = "IN_PROGRESS"
	StatusRejected   DocumentStatus = "REJECTED"
	StatusCompleted  DocumentStatus = "COMPLETED"
)

type Document struct {
	gorm.Model
	ID               string `gorm:"primaryKey"`
	Title            string `gorm:"not null"`
	Content          string
	CreatedByID      uint           `gorm:"index;not null"`
	CreatedBy        User           `gorm:"foreignKey:CreatedByID"`
	Status           DocumentStatus `gorm:"not null;default:'SUBMITTED'"`
	CurrentLineOrder int            `gorm:"not null;default:1"`
	Lines            []DocumentLine `gorm:"constraint:OnDelete:CASCADE"`
	Attachments      []Attachment   `gorm:"constraint:OnDelete:CASCADE"`
}

// Terminal reports whether no further line transitions are accepted.
func (d *Document) Terminal() bool {
	return d.Status == StatusCompleted || d.Status == StatusRejected
}

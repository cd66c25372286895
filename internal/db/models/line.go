package models

import (
	"time"

	"gorm.io/gorm"
)

type LineRole string

const (
	LineConsult LineRole = "CONSULT"
	LineApprove LineRole = "APPROVE"
	LineReceive LineRole = "RECEIVE"
)

type LineDecision string

const (
	DecisionPending  LineDecision = "PENDING"
	DecisionApproved LineDecision = "APPROVED"
	DecisionRejected LineDecision = "REJECTED"
	DecisionRead     LineDecision = "READ"
)

// DocumentLine is one reviewer's slot in a document's ordered review line.
// CONSULT and APPROVE lines block progression; RECEIVE lines are read-only
// distribution and their order value never gates anything.
type DocumentLine struct {
	gorm.Model
	DocumentID string   `gorm:"index;not null"`
	Role       LineRole `gorm:"not null"`
	Order      int      `gorm:"column:line_order;not null"`
	UserID     uint     `gorm:"index;not null"`
	User       User
	Decision   LineDecision `gorm:"not null;default:'PENDING'"`
	Comment    string       `gorm:"size:300"`
	ActedAt    *time.Time
}

// ActiveLineRoles are the roles that must resolve before a document completes.
func ActiveLineRoles() []LineRole {
	return []LineRole{LineConsult, LineApprove}
}

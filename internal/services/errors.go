package services

import "errors"

var (
	// ErrPermissionDenied means the actor is neither the assignee of the
	// current line nor a superuser.
	ErrPermissionDenied = errors.New("no authority to act on this line")

	// ErrNoPendingLine means the document has no actionable line: it is
	// already terminal, or a concurrent actor consumed the line first.
	// Callers treat it as benign and re-render current state.
	ErrNoPendingLine = errors.New("no pending line to act on")

	// ErrValidation covers bad input rejected before any write happens.
	ErrValidation = errors.New("validation failed")
)

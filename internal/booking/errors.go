package booking

import (
	"errors"
	"fmt"

	"slotbook/internal/models"
	"slotbook/internal/store"
)

var (
	ErrInvalidTransition = errors.New("action not allowed in current state")
	ErrSubmitInProgress  = errors.New("submission already in progress")
	ErrSubmitAbandoned   = errors.New("submission abandoned")
	ErrWorkflowClosed    = errors.New("workflow closed")
	ErrUnknownMode       = errors.New("unknown mode")

	ErrDateRequired    = errors.New("no date selected")
	ErrDateInPast      = errors.New("date is in the past")
	ErrDateBlocked     = errors.New("date is blocked")
	ErrTimeNotOnGrid   = errors.New("time is not a bookable slot")
	ErrTimeInPast      = errors.New("slot has already started")
	ErrSlotUnavailable = errors.New("slot is already booked")
	ErrNameRequired    = errors.New("name is required")
	ErrEmailRequired   = errors.New("email is required")
	ErrEmailInvalid    = errors.New("email is not a valid address")
)

// ValidationError rejects caller input. The workflow state is unchanged.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StaleSelectionError means the slot was booked between being shown and being submitted.
type StaleSelectionError struct {
	Date models.Date
	Time string
}

func (e *StaleSelectionError) Error() string {
	return fmt.Sprintf("slot %s %s was booked in the meantime", e.Date, e.Time)
}

func (e *StaleSelectionError) Unwrap() error { return store.ErrSlotTaken }

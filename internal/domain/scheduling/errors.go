package scheduling

import (
	"errors"

	"github.com/vetcare/vetcare/pkg/timerange"
)

var (
	ErrInvalidRange          = timerange.ErrInvalidRange
	ErrInvalidInput          = errors.New("invalid input")
	ErrNotFound              = errors.New("not found")
	ErrForbidden             = errors.New("forbidden")
	ErrConflict              = errors.New("conflict")
	ErrSlotNoLongerAvailable = errors.New("slot no longer available")
	ErrAlreadyTerminal       = errors.New("appointment already in a terminal state")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrUnauthenticated       = errors.New("unauthenticated")
)

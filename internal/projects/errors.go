package projects

import (
	"errors"

	"impact-escrow/escrow-engine/internal/ledger"
)

var (
	ErrInvalidSpec  = errors.New("invalid project spec")
	ErrInvalidProof = errors.New("invalid proof")
	ErrNotFound     = errors.New("project not found")

	// domain rejections: the proof is discarded and the project is unchanged
	ErrUnauthorizedValidator = errors.New("validator not authorized for project")
	ErrDuplicateProof        = errors.New("validator already submitted a proof")
	ErrOutOfRange            = errors.New("proof location outside geo-fence")

	// ordering errors: the caller or scheduler acted out of turn
	ErrClawbackTooEarly    = errors.New("clawback before deadline")
	ErrAlreadyTerminal     = errors.New("project already settled")
	ErrNotAlerted          = errors.New("project is not in alert")
	ErrConditionsNotMet    = errors.New("release conditions not met")
	ErrOperationInProgress = errors.New("settlement already in progress")

	ErrLedgerUnavailable = ledger.ErrUnavailable
	ErrLedgerTimeout     = ledger.ErrTimeout
)

// IsRejection reports whether err is a proof rejection
func IsRejection(err error) bool {
	return errors.Is(err, ErrUnauthorizedValidator) ||
		errors.Is(err, ErrDuplicateProof) ||
		errors.Is(err, ErrOutOfRange) ||
		errors.Is(err, ErrInvalidProof)
}

// IsOrdering reports whether err is an out-of-turn call
func IsOrdering(err error) bool {
	return errors.Is(err, ErrClawbackTooEarly) ||
		errors.Is(err, ErrAlreadyTerminal) ||
		errors.Is(err, ErrNotAlerted) ||
		errors.Is(err, ErrConditionsNotMet) ||
		errors.Is(err, ErrOperationInProgress)
}

// ErrReleaseFailed wraps the ledger error when an accepted proof met the
// release conditions but the funds could not be released
var ErrReleaseFailed = errors.New("release failed")

// Package ledger holds the conditional-hold abstraction the escrow engine
// settles against, plus its in-memory and Stellar bindings.
package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable means the ledger could not be reached or rejected the request
	ErrUnavailable = errors.New("ledger unavailable")
	// ErrTimeout means the call did not complete within its bound; the outcome is unknown
	ErrTimeout = errors.New("ledger timeout")
	// ErrHoldFinished is returned when a hold has already been released
	ErrHoldFinished = errors.New("hold already finished")
	// ErrHoldCancelled is returned when a hold has already been cancelled
	ErrHoldCancelled = errors.New("hold already cancelled")
	// ErrHoldSettled is returned when a hold no longer exists but the ledger
	// cannot tell whether it was finished or cancelled
	ErrHoldSettled = errors.New("hold already settled")
	// ErrHoldNotFound is returned for a hold the ledger never created
	ErrHoldNotFound = errors.New("hold not found")
)

// HoldRequest describes the funds to lock for a project
type HoldRequest struct {
	Reference   string    `json:"reference"`
	Amount      float64   `json:"amount"`
	Destination string    `json:"destination"`
	FinishAfter time.Time `json:"finish_after"`
	CancelAfter time.Time `json:"cancel_after"`
}

// Hold references funds locked on the ledger
type Hold struct {
	ID          string    `json:"id" db:"hold_id"`
	CreateTx    string    `json:"create_tx" db:"hold_create_tx"`
	Amount      float64   `json:"amount" db:"hold_amount"`
	Destination string    `json:"destination" db:"hold_destination"`
	FinishAfter time.Time `json:"finish_after" db:"hold_finish_after"`
	CancelAfter time.Time `json:"cancel_after" db:"hold_cancel_after"`
}

// TxRef identifies the transaction that settled a hold
type TxRef struct {
	Hash      string    `json:"hash"`
	Ledger    int64     `json:"ledger,omitempty"`
	SettledAt time.Time `json:"settled_at"`
}

// Ledger is the collaborator that locks, releases and returns project funds.
// FinishHold and CancelHold must be safe to retry and report an already
// settled hold with ErrHoldFinished, ErrHoldCancelled or ErrHoldSettled.
type Ledger interface {
	CreateHold(ctx context.Context, req HoldRequest) (Hold, error)
	FinishHold(ctx context.Context, hold Hold) (TxRef, error)
	CancelHold(ctx context.Context, hold Hold) (TxRef, error)
}

// AlreadyFinished reports whether err means the hold was released earlier
func AlreadyFinished(err error) bool {
	return errors.Is(err, ErrHoldFinished) || errors.Is(err, ErrHoldSettled)
}

// AlreadyCancelled reports whether err means the hold was cancelled earlier
func AlreadyCancelled(err error) bool {
	return errors.Is(err, ErrHoldCancelled) || errors.Is(err, ErrHoldSettled)
}

package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type holdState int

const (
	holdOpen holdState = iota
	holdFinished
	holdCancelled
)

// MemoryLedger is an in-process ledger used by tests and local runs
type MemoryLedger struct {
	mu      sync.Mutex
	holds   map[string]holdState
	calls   map[string]int
	failure map[string]error
	delay   time.Duration
	now     func() time.Time
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		holds:   make(map[string]holdState),
		calls:   make(map[string]int),
		failure: make(map[string]error),
		now:     time.Now,
	}
}

// FailNext makes the next call of op ("create", "finish", "cancel") return err
func (l *MemoryLedger) FailNext(op string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failure[op] = err
}

// SetDelay makes every call wait d (or until ctx is done) before executing
func (l *MemoryLedger) SetDelay(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delay = d
}

// Calls returns how many times op reached the ledger, including failed calls
func (l *MemoryLedger) Calls(op string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[op]
}

func (l *MemoryLedger) enter(ctx context.Context, op string) error {
	l.mu.Lock()
	l.calls[op]++
	delay := l.delay
	err := l.failure[op]
	delete(l.failure, op)
	l.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func (l *MemoryLedger) CreateHold(ctx context.Context, req HoldRequest) (Hold, error) {
	if err := l.enter(ctx, "create"); err != nil {
		return Hold{}, err
	}
	if req.Amount <= 0 {
		return Hold{}, fmt.Errorf("%w: hold amount must be positive", ErrUnavailable)
	}

	id := uuid.NewString()
	l.mu.Lock()
	l.holds[id] = holdOpen
	l.mu.Unlock()

	return Hold{
		ID:          id,
		CreateTx:    "mem-create-" + id,
		Amount:      req.Amount,
		Destination: req.Destination,
		FinishAfter: req.FinishAfter,
		CancelAfter: req.CancelAfter,
	}, nil
}

func (l *MemoryLedger) FinishHold(ctx context.Context, hold Hold) (TxRef, error) {
	return l.settle(ctx, "finish", hold, holdFinished)
}

func (l *MemoryLedger) CancelHold(ctx context.Context, hold Hold) (TxRef, error) {
	return l.settle(ctx, "cancel", hold, holdCancelled)
}

func (l *MemoryLedger) settle(ctx context.Context, op string, hold Hold, target holdState) (TxRef, error) {
	if err := l.enter(ctx, op); err != nil {
		return TxRef{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.holds[hold.ID]
	switch {
	case !ok:
		return TxRef{}, ErrHoldNotFound
	case state == holdFinished:
		return TxRef{}, ErrHoldFinished
	case state == holdCancelled:
		return TxRef{}, ErrHoldCancelled
	}

	l.holds[hold.ID] = target
	return TxRef{Hash: fmt.Sprintf("mem-%s-%s", op, hold.ID), SettledAt: l.now()}, nil
}

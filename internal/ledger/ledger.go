// Package ledger is the sole authority on locally-opened positions and their
// lifecycle state. Its atomic BeginClose check-and-set is what guarantees at
// most one in-flight close order per position.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dmarchetti/trident/internal/models"
)

// CloseResult carries the economics of a completed (or failed) close attempt.
type CloseResult struct {
	Filled    bool
	ExitValue decimal.Decimal // per-spread dollars received closing, when filled
	OrderID   string
	Reason    string
}

// Ledger holds the active position set and the archive of closed positions.
// All mutation happens under one mutex with short critical sections and no
// I/O inside the lock.
type Ledger struct {
	mu      sync.Mutex
	active  map[string]*models.Position
	archive []models.Position
	logger  *logrus.Logger
}

// New creates an empty ledger.
func New(logger *logrus.Logger) *Ledger {
	if logger == nil {
		logger = logrus.New()
	}
	return &Ledger{
		active: make(map[string]*models.Position),
		logger: logger,
	}
}

// RecordOpen inserts a new position in state Open. The position must pass
// structural validation; a duplicate id fails with ErrDuplicateID.
func (l *Ledger) RecordOpen(p *models.Position) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("record open: %w", err)
	}
	if p.State != models.StateOpen {
		return fmt.Errorf("record open: position %s must start in %s, got %s", p.ID, models.StateOpen, p.State)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.active[p.ID]; exists {
		return fmt.Errorf("position %s: %w", p.ID, ErrDuplicateID)
	}
	stored := p.Clone()
	l.active[p.ID] = &stored
	return nil
}

// BeginClose atomically checks the current state and transitions to Closing.
// Exactly one caller wins when several race on the same id; the rest receive
// ErrAlreadyClosing and must not submit a close order. Open and
// CloseFailedRetrying are the only states it succeeds from.
func (l *Ledger) BeginClose(id, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.active[id]
	if !ok {
		return fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	switch {
	case p.State == models.StateClosing:
		return fmt.Errorf("position %s: %w", id, ErrAlreadyClosing)
	case p.State.IsTerminal():
		return fmt.Errorf("position %s: %w", id, ErrTerminal)
	case !p.State.CanBeginClose():
		return fmt.Errorf("position %s in state %s cannot begin close", id, p.State)
	}

	condition := models.ConditionExitTriggered
	if p.State == models.StateCloseFailed {
		condition = models.ConditionCloseRetry
	}
	if err := p.TransitionState(models.StateClosing, condition); err != nil {
		return err
	}
	p.ExitReason = reason
	return nil
}

// CompleteClose finishes a close attempt. On a fill it transitions to Closed,
// computes realized P&L as exit value minus entry debit (total dollars), and
// moves the position to the archive. On failure it transitions to
// CloseFailedRetrying, leaving the position eligible for BeginClose again, and
// returns the attempt count so the caller can bound retries.
func (l *Ledger) CompleteClose(id string, result CloseResult) (attempts int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.active[id]
	if !ok {
		return 0, fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	if p.State != models.StateClosing {
		return p.CloseAttempts, fmt.Errorf("position %s: complete close requires state %s, got %s",
			id, models.StateClosing, p.State)
	}

	if !result.Filled {
		if err := p.TransitionState(models.StateCloseFailed, models.ConditionCloseFailed); err != nil {
			return p.CloseAttempts, err
		}
		p.CloseAttempts++
		return p.CloseAttempts, nil
	}

	if err := p.TransitionState(models.StateClosed, models.ConditionCloseFilled); err != nil {
		return p.CloseAttempts, err
	}
	qty := int64(1)
	if len(p.Legs) > 0 {
		qty = int64(p.Legs[0].Quantity)
	}
	contractMult := decimal.NewFromInt(qty * 100)
	p.RealizedPnL = result.ExitValue.Sub(p.EntryDebit).Mul(contractMult)
	p.ExitOrderID = result.OrderID
	if result.Reason != "" {
		p.ExitReason = result.Reason
	}

	l.archive = append(l.archive, p.Clone())
	delete(l.active, id)
	return p.CloseAttempts, nil
}

// MarkPrice records the latest evaluated per-spread value for a position.
func (l *Ledger) MarkPrice(id string, value float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.active[id]
	if !ok {
		return fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	p.LastMark = value
	p.LastEvaluated = time.Now().UTC()
	return nil
}

// SnapshotAll returns deep copies of every active position ordered by open
// time. Internal mutable state is never exposed.
func (l *Ledger) SnapshotAll() []models.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.Position, 0, len(l.active))
	for _, p := range l.active {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// Get returns a copy of one active position.
func (l *Ledger) Get(id string) (models.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.active[id]
	if !ok {
		return models.Position{}, false
	}
	return p.Clone(), true
}

// ActiveCount returns how many positions are currently active.
func (l *Ledger) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// Archive returns copies of all closed positions in close order.
func (l *Ledger) Archive() []models.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Position, len(l.archive))
	for i := range l.archive {
		out[i] = l.archive[i].Clone()
	}
	return out
}

// RealizedPnL sums realized P&L across the archive.
func (l *Ledger) RealizedPnL() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := decimal.Zero
	for i := range l.archive {
		total = total.Add(l.archive[i].RealizedPnL)
	}
	return total
}

// ForceClose archives a position without a close order, used when
// reconciliation finds it already gone at the broker. The realized P&L is left
// at whatever the last mark implies; unknown economics stay zero.
func (l *Ledger) ForceClose(id, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.active[id]
	if !ok {
		return fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	// Walk the table rather than jumping states: open -> closing -> closed.
	if p.State == models.StateOpen {
		if err := p.TransitionState(models.StateClosing, models.ConditionExitTriggered); err != nil {
			return err
		}
	}
	if p.State == models.StateCloseFailed {
		if err := p.TransitionState(models.StateClosing, models.ConditionCloseRetry); err != nil {
			return err
		}
	}
	if err := p.TransitionState(models.StateClosed, models.ConditionCloseFilled); err != nil {
		return err
	}
	p.ExitReason = reason
	l.archive = append(l.archive, p.Clone())
	delete(l.active, id)
	l.logger.WithFields(logrus.Fields{"position_id": id, "reason": reason}).Warn("position force-closed")
	return nil
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dmarchetti/trident/internal/ledger"
	"github.com/dmarchetti/trident/internal/marshaler"
	"github.com/dmarchetti/trident/internal/models"
	"github.com/dmarchetti/trident/internal/risk"
)

// Reconciler compares the ledger's view of open positions against what the
// broker reports and resolves the two classes of drift: positions closed out
// from under the bot (manual closes) and broker positions the ledger has never
// heard of (phantoms).
type Reconciler struct {
	client   marshaler.Client
	book     *ledger.Ledger
	risk     *risk.Manager
	logger   *logrus.Logger
	interval time.Duration
	timeout  time.Duration
}

// NewReconciler creates a reconciler sweeping on the given interval.
func NewReconciler(client marshaler.Client, book *ledger.Ledger, rm *risk.Manager,
	interval, timeout time.Duration, logger *logrus.Logger) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Reconciler{
		client:   client,
		book:     book,
		risk:     rm,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
	}
}

// RunLoop reconciles once at startup (cold start) and then periodically.
func (r *Reconciler) RunLoop(ctx context.Context) error {
	r.Reconcile()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Reconcile()
		}
	}
}

// Reconcile performs one ledger-vs-broker comparison. It is also invoked
// out-of-band after an order submission times out, when the broker may hold a
// fill the ledger never saw.
func (r *Reconciler) Reconcile() {
	brokerPositions, err := r.client.Positions(r.timeout)
	if err != nil {
		r.logger.WithError(err).Warn("reconciliation skipped, could not fetch broker positions")
		return
	}

	held := make(map[string]int, len(brokerPositions))
	for _, bp := range brokerPositions {
		if bp.Quantity != 0 {
			held[bp.OptionSymbol] = bp.Quantity
		}
	}

	tracked := make(map[string]bool)
	for _, p := range r.book.SnapshotAll() {
		missing := 0
		for _, leg := range p.Legs {
			tracked[leg.OptionSymbol] = true
			if _, ok := held[leg.OptionSymbol]; !ok {
				missing++
			}
		}
		// Every leg gone at the broker: someone closed it out-of-band. Archive
		// it as a manual close rather than submitting a close order for
		// contracts that no longer exist.
		if missing == len(p.Legs) && p.State != models.StateClosing {
			r.logger.WithFields(logrus.Fields{
				"position_id": shortID(p.ID),
				"symbol":      p.Symbol,
			}).Warn("position no longer held at broker, archiving as manual close")
			if err := r.book.ForceClose(p.ID, "manual_close"); err != nil {
				r.logger.WithField("position_id", shortID(p.ID)).WithError(err).Error("force close failed")
			}
			r.risk.CleanupTrade(p.ID)
		}
	}

	// Broker positions the ledger does not track are phantoms: the bot cannot
	// manage risk on them, so new entries stop until a human looks.
	var phantoms []string
	for sym := range held {
		if !tracked[sym] {
			phantoms = append(phantoms, sym)
		}
	}
	if len(phantoms) > 0 {
		msg := fmt.Sprintf("broker holds %d untracked option position(s): %v", len(phantoms), phantoms)
		r.logger.Error(msg)
		r.risk.Escalate(risk.EscalationReconciliation, msg)
	}
}

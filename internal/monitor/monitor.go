// Package monitor runs the exit side of the trading loop: a periodic sweep
// over every active position that re-prices its legs, evaluates exit
// predicates, and drives close orders through the ledger's state machine.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dmarchetti/trident/internal/broker"
	"github.com/dmarchetti/trident/internal/ledger"
	"github.com/dmarchetti/trident/internal/marketdata"
	"github.com/dmarchetti/trident/internal/marshaler"
	"github.com/dmarchetti/trident/internal/models"
	"github.com/dmarchetti/trident/internal/risk"
	"github.com/dmarchetti/trident/internal/util"
)

// Config tunes the monitor sweep.
type Config struct {
	Interval      time.Duration // tick cadence
	QuoteMaxAge   time.Duration // leg quote freshness bound
	OrderTimeout  time.Duration // marshaled close-order deadline
	ExpiryDTE     int           // close positions at or under this many days to expiry
	HaltedBackoff bool          // skip exit submission while the underlying is halted
}

// DefaultConfig mirrors the historical monitoring cadence.
var DefaultConfig = Config{
	Interval:      10 * time.Second,
	QuoteMaxAge:   5 * time.Second,
	OrderTimeout:  15 * time.Second,
	ExpiryDTE:     1,
	HaltedBackoff: true,
}

// PositionMonitor sweeps active positions and closes the ones whose exit
// predicates fire. Close submission is serialized per position by the ledger's
// BeginClose check-and-set; the monitor never tracks in-flight state itself.
type PositionMonitor struct {
	cfg    Config
	book   *ledger.Ledger
	client marshaler.Client
	md     *marketdata.Cache
	risk   *risk.Manager
	events models.Publisher
	logger *logrus.Logger
}

// New creates a position monitor.
func New(cfg Config, book *ledger.Ledger, client marshaler.Client, md *marketdata.Cache,
	rm *risk.Manager, events models.Publisher, logger *logrus.Logger) *PositionMonitor {
	if logger == nil {
		logger = logrus.New()
	}
	if events == nil {
		events = models.NopPublisher{}
	}
	d := DefaultConfig
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.QuoteMaxAge <= 0 {
		cfg.QuoteMaxAge = d.QuoteMaxAge
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = d.OrderTimeout
	}
	if cfg.ExpiryDTE < 0 {
		cfg.ExpiryDTE = d.ExpiryDTE
	}
	return &PositionMonitor{
		cfg:    cfg,
		book:   book,
		client: client,
		md:     md,
		risk:   rm,
		events: events,
		logger: logger,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (m *PositionMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.WithField("interval", m.cfg.Interval).Info("position monitor started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("position monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep evaluates every active position once. Exported so the trading cycle
// can force an immediate evaluation after opening a position.
func (m *PositionMonitor) Sweep() {
	for _, p := range m.book.SnapshotAll() {
		switch p.State {
		case models.StateOpen:
			m.evaluate(&p)
		case models.StateCloseFailed:
			m.retryClose(&p)
		}
	}
}

// evaluate re-prices one open position and fires at most one exit.
func (m *PositionMonitor) evaluate(p *models.Position) {
	value, ok := m.spreadValue(p)
	if !ok {
		return
	}
	if err := m.book.MarkPrice(p.ID, value); err != nil {
		// Closed between snapshot and mark; nothing to do.
		return
	}

	decision := m.risk.CheckExitConditions(p, value)
	if !decision.ShouldExit && p.DTE() <= m.cfg.ExpiryDTE {
		decision = risk.ExitDecision{ShouldExit: true, Reason: "expiration"}
	}
	if !decision.ShouldExit {
		return
	}

	if m.cfg.HaltedBackoff {
		halted, err := m.client.IsHalted(p.Symbol, m.cfg.OrderTimeout)
		if err == nil && halted {
			m.logger.WithFields(logrus.Fields{
				"position_id": p.ID,
				"symbol":      p.Symbol,
				"reason":      decision.Reason,
			}).Warn("exit triggered but underlying is halted, deferring")
			return
		}
	}

	m.events.Publish(models.NewEvent(models.EventExitTriggered, map[string]any{
		"position_id": p.ID,
		"symbol":      p.Symbol,
		"reason":      decision.Reason,
		"mark":        value,
	}))
	m.close(p.ID, decision.Reason)
}

// retryClose re-drives a position whose previous close attempt failed.
func (m *PositionMonitor) retryClose(p *models.Position) {
	m.logger.WithFields(logrus.Fields{
		"position_id": p.ID,
		"attempts":    p.CloseAttempts,
	}).Info("retrying failed close")
	m.close(p.ID, p.ExitReason)
}

// close transitions the position to Closing and submits a market close order.
// A concurrent closer losing the BeginClose race is a silent no-op.
func (m *PositionMonitor) close(id, reason string) {
	pos, ok := m.book.Get(id)
	if !ok {
		return
	}
	if err := m.book.BeginClose(id, reason); err != nil {
		if errors.Is(err, ledger.ErrAlreadyClosing) || errors.Is(err, ledger.ErrTerminal) {
			return
		}
		m.logger.WithField("position_id", id).WithError(err).Warn("begin close rejected")
		return
	}

	legs := closingLegs(&pos)
	conf, err := m.client.PlaceOrder(legs, broker.OrderTypeMarket, 0, m.cfg.OrderTimeout)
	if err != nil || !conf.Filled() {
		m.recordFailure(id, err)
		return
	}

	// Closing a debit position nets a credit; flip the sign to get the
	// per-spread dollars received.
	exitValue := decimal.NewFromFloat(-conf.NetDebit(legs))
	_, err = m.book.CompleteClose(id, ledger.CloseResult{
		Filled:    true,
		ExitValue: exitValue,
		OrderID:   conf.OrderID,
		Reason:    reason,
	})
	if err != nil {
		m.logger.WithField("position_id", id).WithError(err).Error("complete close failed")
		return
	}

	m.risk.CleanupTrade(id)
	closed, _ := m.archived(id)
	if closed.RealizedPnL.IsNegative() {
		m.risk.RecordRealizedLoss(closed.RealizedPnL.Neg())
	}
	m.logger.WithFields(logrus.Fields{
		"position_id": id,
		"reason":      reason,
		"pnl":         closed.RealizedPnL.StringFixed(2),
	}).Info("position closed")
	m.events.Publish(models.NewEvent(models.EventPositionClosed, map[string]any{
		"position_id": id,
		"reason":      reason,
		"pnl":         closed.RealizedPnL.StringFixed(2),
	}))
}

// recordFailure books a failed attempt and escalates once retries run out.
func (m *PositionMonitor) recordFailure(id string, cause error) {
	attempts, err := m.book.CompleteClose(id, ledger.CloseResult{Filled: false})
	if err != nil {
		m.logger.WithField("position_id", id).WithError(err).Error("recording close failure")
		return
	}
	m.logger.WithFields(logrus.Fields{
		"position_id": id,
		"attempts":    attempts,
	}).WithError(cause).Warn("close order did not fill")

	if attempts >= m.risk.Limits().CloseRetryLimit {
		msg := "position " + id + " close retries exhausted"
		m.risk.Escalate(risk.EscalationRetryExhausted, msg)
		m.events.Publish(models.NewEvent(models.EventError, map[string]any{
			"position_id": id,
			"detail":      msg,
		}))
	}
}

// spreadValue prices the position's legs from cached leg quotes. Long legs add
// their mid, short legs subtract, yielding the per-spread liquidation value.
func (m *PositionMonitor) spreadValue(p *models.Position) (float64, bool) {
	var value float64
	for _, leg := range p.Legs {
		snap, err := m.md.GetOrFetch(leg.OptionSymbol, marketdata.KindQuote, m.cfg.QuoteMaxAge)
		if err != nil {
			m.logger.WithFields(logrus.Fields{
				"position_id": p.ID,
				"leg":         leg.OptionSymbol,
			}).WithError(err).Debug("leg quote unavailable, skipping evaluation")
			return 0, false
		}
		mid := util.MidPrice(snap.Bid, snap.Ask, snap.Last)
		if leg.Side == models.SideLong {
			value += mid
		} else {
			value -= mid
		}
	}
	return value, true
}

// archived looks up a position in the closed archive.
func (m *PositionMonitor) archived(id string) (models.Position, bool) {
	for _, p := range m.book.Archive() {
		if p.ID == id {
			return p, true
		}
	}
	return models.Position{}, false
}

// closingLegs builds the order legs that flatten a position: every long leg
// sells to close, every short leg buys to close.
func closingLegs(p *models.Position) []broker.OrderLeg {
	legs := make([]broker.OrderLeg, len(p.Legs))
	for i, leg := range p.Legs {
		side := broker.SellToClose
		if leg.Side == models.SideShort {
			side = broker.BuyToClose
		}
		legs[i] = broker.OrderLeg{
			Contract: broker.ContractDescriptor{
				Underlying: p.Symbol,
				Right:      string(leg.Right),
				Strike:     leg.Strike,
				Expiration: leg.Expiration,
			},
			Side:     side,
			Quantity: leg.Quantity,
		}
	}
	return legs
}

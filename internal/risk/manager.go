// Package risk provides trade sizing limits, per-strategy exit thresholds,
// trailing stops, and the circuit breaker that halts new order submission
// after a daily loss limit or an escalated invariant violation.
package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dmarchetti/trident/internal/models"
)

// EscalationKind classifies why new submissions were halted.
type EscalationKind string

const (
	// EscalationDailyLoss fires when realized losses exceed the daily limit.
	EscalationDailyLoss EscalationKind = "daily_loss_limit"
	// EscalationRetryExhausted fires when a position cannot be closed after
	// the bounded retry count. An un-closeable losing position is the worst
	// outcome this system can produce, so it requires manual acknowledgment.
	EscalationRetryExhausted EscalationKind = "retry_exhausted"
	// EscalationReconciliation fires when broker-reported positions disagree
	// with the ledger.
	EscalationReconciliation EscalationKind = "reconciliation_mismatch"
)

// Limits are the config-driven policy numbers.
type Limits struct {
	MaxTradePct         float64
	MaxConcurrentTrades int
	StopLossPct         map[models.StrategyTag]float64
	TakeProfitPct       float64
	TrailingThreshold   float64 // profit fraction that activates the trailing stop
	TrailingStopPct     float64 // giveback fraction from the high-water mark
	DailyLossLimit      float64
	CloseRetryLimit     int
}

// DefaultLimits mirror the historical policy values.
var DefaultLimits = Limits{
	MaxTradePct:         0.10,
	MaxConcurrentTrades: 5,
	StopLossPct: map[models.StrategyTag]float64{
		models.StrategyBull:     0.20,
		models.StrategyBear:     0.15,
		models.StrategyVolatile: 0.30,
	},
	TakeProfitPct:     0.30,
	TrailingThreshold: 0.80,
	TrailingStopPct:   0.08,
	DailyLossLimit:    1000,
	CloseRetryLimit:   3,
}

// Manager tracks halt state, daily losses, and per-position trailing stops.
type Manager struct {
	mu             sync.Mutex
	limits         Limits
	dailyLoss      decimal.Decimal
	currentDay     time.Time
	halted         bool
	haltedBy       EscalationKind
	haltedMsg      string
	trailingStops  map[string]float64
	highestProfits map[string]float64
	logger         *logrus.Logger
}

// NewManager creates a risk manager with the given limits.
func NewManager(limits Limits, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	if limits.CloseRetryLimit <= 0 {
		limits.CloseRetryLimit = DefaultLimits.CloseRetryLimit
	}
	if limits.StopLossPct == nil {
		limits.StopLossPct = DefaultLimits.StopLossPct
	}
	return &Manager{
		limits:         limits,
		currentDay:     today(),
		trailingStops:  make(map[string]float64),
		highestProfits: make(map[string]float64),
		logger:         logger,
	}
}

func today() time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour)
}

// Limits returns the configured policy numbers.
func (m *Manager) Limits() Limits {
	return m.limits
}

// StopLossFor returns the loss fraction that triggers an exit for a strategy.
func (m *Manager) StopLossFor(tag models.StrategyTag) float64 {
	if pct, ok := m.limits.StopLossPct[tag]; ok {
		return pct
	}
	return 0.20
}

// ExitDecision is the outcome of evaluating exit predicates for one position.
type ExitDecision struct {
	ShouldExit bool
	Reason     string
}

// CheckExitConditions evaluates profit-based exit rules for a position at the
// given per-spread value. Predicates are ordered: stop-loss first, then
// take-profit / trailing. The caller layers time-decay and halt checks on top.
func (m *Manager) CheckExitConditions(p *models.Position, currentValue float64) ExitDecision {
	profitPct := p.ProfitPercent(currentValue)

	if profitPct < 0 {
		if -profitPct >= m.StopLossFor(p.Strategy) {
			return ExitDecision{ShouldExit: true, Reason: "stop_loss"}
		}
		return ExitDecision{}
	}

	if profitPct >= m.limits.TrailingThreshold {
		return m.handleTrailingStop(p.ID, currentValue, profitPct)
	}
	if profitPct >= m.limits.TakeProfitPct {
		return ExitDecision{ShouldExit: true, Reason: "take_profit"}
	}
	return ExitDecision{}
}

// handleTrailingStop ratchets a stop below the high-water mark once profit
// passes the activation threshold, and fires when price gives back through it.
func (m *Manager) handleTrailingStop(id string, currentValue, profitPct float64) ExitDecision {
	m.mu.Lock()
	defer m.mu.Unlock()

	stop, tracked := m.trailingStops[id]
	if !tracked {
		m.trailingStops[id] = currentValue * (1 - m.limits.TrailingStopPct)
		m.highestProfits[id] = profitPct
		return ExitDecision{Reason: "trailing_active"}
	}
	if profitPct > m.highestProfits[id] {
		m.highestProfits[id] = profitPct
		if newStop := currentValue * (1 - m.limits.TrailingStopPct); newStop > stop {
			m.trailingStops[id] = newStop
			stop = newStop
		}
	}
	if currentValue <= stop {
		return ExitDecision{ShouldExit: true, Reason: "trailing_stop"}
	}
	return ExitDecision{Reason: "trailing_active"}
}

// CleanupTrade drops trailing-stop tracking for a closed position.
func (m *Manager) CleanupTrade(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.trailingStops, id)
	delete(m.highestProfits, id)
}

// RecordRealizedLoss adds a realized loss (positive dollars) to today's total
// and trips the daily circuit breaker when the limit is reached.
func (m *Manager) RecordRealizedLoss(loss decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if day := today(); !day.Equal(m.currentDay) {
		m.currentDay = day
		m.dailyLoss = decimal.Zero
		if m.haltedBy == EscalationDailyLoss {
			m.halted = false
			m.haltedBy = ""
		}
	}
	m.dailyLoss = m.dailyLoss.Add(loss)
	limit := decimal.NewFromFloat(m.limits.DailyLossLimit)
	if m.limits.DailyLossLimit > 0 && m.dailyLoss.GreaterThanOrEqual(limit) && !m.halted {
		m.halted = true
		m.haltedBy = EscalationDailyLoss
		m.haltedMsg = "daily loss " + m.dailyLoss.StringFixed(2)
		m.logger.WithField("daily_loss", m.dailyLoss.StringFixed(2)).
			Error("daily loss limit reached, halting new submissions")
	}
}

// Escalate halts new order submission until acknowledged. Position monitoring
// is unaffected; only new entries stop.
func (m *Manager) Escalate(kind EscalationKind, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = true
	m.haltedBy = kind
	m.haltedMsg = msg
	m.logger.WithFields(logrus.Fields{"kind": kind, "detail": msg}).
		Error("risk escalation: new order submission halted")
}

// Acknowledge clears a halt after manual intervention.
func (m *Manager) Acknowledge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = false
	m.haltedBy = ""
	m.haltedMsg = ""
}

// Halted reports whether new order submission is blocked.
func (m *Manager) Halted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted
}

// Status summarizes risk state for the dashboard.
func (m *Manager) Status() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]any{
		"halted":           m.halted,
		"halted_by":        string(m.haltedBy),
		"halted_detail":    m.haltedMsg,
		"daily_loss":       m.dailyLoss.StringFixed(2),
		"daily_loss_limit": m.limits.DailyLossLimit,
		"trailing_active":  len(m.trailingStops),
	}
}

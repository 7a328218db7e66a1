package main

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dmarchetti/trident/internal/broker"
	"github.com/dmarchetti/trident/internal/marshaler"
	"github.com/dmarchetti/trident/internal/models"
	"github.com/dmarchetti/trident/internal/risk"
	"github.com/dmarchetti/trident/internal/strategy"
	"github.com/dmarchetti/trident/internal/util"
)

const (
	entrySlippageBuffer = 0.02
	optionTick          = 0.01
	sharesPerContract   = 100
	maxEntriesPerCycle  = 3
)

// CycleConfig tunes the entry side of the trading loop.
type CycleConfig struct {
	Interval     time.Duration
	OrderTimeout time.Duration
	Candidates   []string
	TradingStart string // "HH:MM", empty disables the window check
	TradingEnd   string
	Location     *time.Location
}

// TradingCycle runs the entry side: classify the market, pick a strategy,
// scan, and open at most one position per cycle.
type TradingCycle struct {
	cfg        CycleConfig
	bot        *Bot
	reconciler *Reconciler
}

// NewTradingCycle creates the entry-cycle handler.
func NewTradingCycle(cfg CycleConfig, bot *Bot, reconciler *Reconciler) *TradingCycle {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 15 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &TradingCycle{cfg: cfg, bot: bot, reconciler: reconciler}
}

// RunLoop executes cycles on the configured interval until ctx is cancelled.
func (tc *TradingCycle) RunLoop(ctx context.Context) error {
	ticker := time.NewTicker(tc.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tc.Run()
		}
	}
}

// Run executes one trading cycle.
func (tc *TradingCycle) Run() {
	if !tc.withinTradingWindow(time.Now().In(tc.cfg.Location)) {
		return
	}
	if tc.bot.risk.Halted() {
		tc.bot.logger.Debug("risk halt active, skipping entry cycle")
		return
	}

	snap := tc.bot.sentiment.Current()
	strat := tc.bot.selector.Select(snap.Condition)
	if strat == nil {
		tc.bot.logger.WithField("condition", snap.Condition).Debug("no strategy selected, cycle is a no-op")
		return
	}

	opps := strat.Scan(tc.cfg.Candidates, tc.bot.cache)
	if len(opps) == 0 {
		tc.bot.logger.WithField("strategy", strat.Name()).Debug("scan produced no opportunities")
		return
	}

	// Walk the ranked list best-first, up to the per-cycle cap. executeEntry
	// re-validates every ceiling per opportunity, so a fill earlier in the
	// loop can reject a later one.
	n := len(opps)
	if n > maxEntriesPerCycle {
		n = maxEntriesPerCycle
	}
	for _, opp := range opps[:n] {
		tc.bot.logger.WithFields(logrus.Fields{
			"symbol":    opp.Symbol,
			"strategy":  opp.Strategy,
			"score":     opp.Score,
			"rationale": opp.Rationale,
		}).Info("opportunity found")
		tc.bot.events.Publish(models.NewEvent(models.EventOpportunityFound, map[string]any{
			"symbol":    opp.Symbol,
			"strategy":  string(opp.Strategy),
			"rationale": opp.Rationale,
		}))

		tc.executeEntry(opp)
	}
}

// executeEntry re-validates every ceiling immediately before submission, then
// places the opening order and records the fill in the ledger. The checks run
// again here, not just at scan time, because concurrent closes and fills can
// change the account between scan and submit.
func (tc *TradingCycle) executeEntry(opp strategy.Opportunity) {
	if tc.bot.risk.Halted() {
		tc.bot.logger.Info("risk halt raised mid-cycle, dropping entry")
		return
	}
	limits := tc.bot.risk.Limits()
	if open := tc.bot.book.ActiveCount(); open >= limits.MaxConcurrentTrades {
		tc.bot.logger.WithFields(logrus.Fields{
			"open": open,
			"max":  limits.MaxConcurrentTrades,
		}).Info("concurrent trade ceiling reached, dropping entry")
		return
	}

	budget, err := tc.bot.client.MaxTradeSize(tc.cfg.OrderTimeout)
	if err != nil {
		tc.bot.logger.WithError(err).Warn("could not size trade, dropping entry")
		return
	}
	cost := opp.EstimatedDebit * sharesPerContract
	if cost > budget {
		tc.bot.logger.WithFields(logrus.Fields{
			"symbol": opp.Symbol,
			"cost":   cost,
			"budget": budget,
		}).Info("estimated cost exceeds per-trade budget, dropping entry")
		return
	}

	if halted, err := tc.bot.client.IsHalted(opp.Symbol, tc.cfg.OrderTimeout); err == nil && halted {
		tc.bot.logger.WithField("symbol", opp.Symbol).Warn("underlying halted, dropping entry")
		return
	}

	limit := util.LimitWithSlippage(opp.EstimatedDebit, entrySlippageBuffer, optionTick, true)
	tc.bot.events.Publish(models.NewEvent(models.EventOrderSubmitted, map[string]any{
		"symbol":   opp.Symbol,
		"strategy": string(opp.Strategy),
		"limit":    limit,
	}))

	conf, err := tc.bot.client.PlaceOrder(opp.Legs, broker.OrderTypeLimit, limit, tc.cfg.OrderTimeout)
	if err != nil {
		if errors.Is(err, marshaler.ErrSubmitTimeout) {
			// The order may have reached the broker anyway. Reconcile before
			// the next cycle so an orphan fill cannot go unmanaged.
			tc.bot.logger.WithField("symbol", opp.Symbol).
				Warn("order submission timed out, reconciling against broker positions")
			tc.reconciler.Reconcile()
			return
		}
		tc.bot.logger.WithField("symbol", opp.Symbol).WithError(err).Error("order submission failed")
		tc.bot.events.Publish(models.NewEvent(models.EventError, map[string]any{
			"symbol": opp.Symbol,
			"detail": err.Error(),
		}))
		return
	}
	if !conf.Filled() {
		tc.bot.logger.WithFields(logrus.Fields{
			"symbol": opp.Symbol,
			"status": conf.Status,
		}).Info("opening order not filled")
		return
	}

	pos := tc.buildPosition(opp, conf)
	if err := tc.bot.book.RecordOpen(pos); err != nil {
		// A position the ledger refuses to track must not stay open at the broker.
		tc.bot.logger.WithField("position_id", shortID(pos.ID)).WithError(err).
			Error("recording opened position failed, escalating")
		tc.bot.risk.Escalate(risk.EscalationReconciliation, "filled order could not be recorded: "+err.Error())
		return
	}

	tc.bot.logger.WithFields(logrus.Fields{
		"position_id": shortID(pos.ID),
		"symbol":      pos.Symbol,
		"strategy":    pos.Strategy,
		"entry_debit": pos.EntryDebit.StringFixed(2),
	}).Info("position opened")
	tc.bot.events.Publish(models.NewEvent(models.EventPositionOpened, map[string]any{
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"strategy":    string(pos.Strategy),
		"entry_debit": pos.EntryDebit.StringFixed(2),
	}))
}

// buildPosition converts an order confirmation into a ledger position.
func (tc *TradingCycle) buildPosition(opp strategy.Opportunity, conf *broker.OrderConfirmation) *models.Position {
	legs := make([]models.Leg, len(opp.Legs))
	for i, ol := range opp.Legs {
		side := models.SideLong
		if ol.Side == broker.SellToOpen {
			side = models.SideShort
		}
		leg := models.Leg{
			OptionSymbol: ol.Contract.OptionSymbol(),
			Right:        models.OptionRight(ol.Contract.Right),
			Side:         side,
			Strike:       ol.Contract.Strike,
			Expiration:   ol.Contract.Expiration,
			Quantity:     ol.Quantity,
		}
		if i < len(conf.Fills) {
			leg.FillPrice = conf.Fills[i].Price
		}
		legs[i] = leg
	}
	entryDebit := decimal.NewFromFloat(conf.NetDebit(opp.Legs))
	return models.NewPosition(uuid.New().String(), opp.Symbol, opp.Strategy, legs, entryDebit)
}

// withinTradingWindow checks the configured market-hours window. An empty
// window means trade whenever the loop ticks.
func (tc *TradingCycle) withinTradingWindow(now time.Time) bool {
	if tc.cfg.TradingStart == "" || tc.cfg.TradingEnd == "" {
		return true
	}
	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	start, err1 := time.ParseInLocation("15:04", tc.cfg.TradingStart, tc.cfg.Location)
	end, err2 := time.ParseInLocation("15:04", tc.cfg.TradingEnd, tc.cfg.Location)
	if err1 != nil || err2 != nil {
		return true
	}
	minutes := now.Hour()*60 + now.Minute()
	return minutes >= start.Hour()*60+start.Minute() && minutes < end.Hour()*60+end.Minute()
}

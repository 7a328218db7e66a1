// Package models provides data structures and state management for trading positions.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const sharesPerContract = 100

// StrategyTag identifies which strategy opened a position.
type StrategyTag string

const (
	// StrategyBull tags bull call spreads.
	StrategyBull StrategyTag = "bull"
	// StrategyBear tags bear put spreads.
	StrategyBear StrategyTag = "bear"
	// StrategyVolatile tags long straddles.
	StrategyVolatile StrategyTag = "volatile"
)

// Valid returns true if the tag is one of the defined strategies.
func (t StrategyTag) Valid() bool {
	switch t {
	case StrategyBull, StrategyBear, StrategyVolatile:
		return true
	default:
		return false
	}
}

// OptionRight is the option contract right.
type OptionRight string

const (
	// RightCall represents a call contract.
	RightCall OptionRight = "call"
	// RightPut represents a put contract.
	RightPut OptionRight = "put"
)

// LegSide is the direction of a single leg.
type LegSide string

const (
	// SideLong means the leg was bought to open.
	SideLong LegSide = "long"
	// SideShort means the leg was sold to open.
	SideShort LegSide = "short"
)

// Opposite returns the side used when closing the leg.
func (s LegSide) Opposite() LegSide {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Leg is one option contract within a multi-leg position.
type Leg struct {
	OptionSymbol string      `json:"option_symbol"`
	Right        OptionRight `json:"right"`
	Side         LegSide     `json:"side"`
	Strike       float64     `json:"strike"`
	Expiration   time.Time   `json:"expiration"`
	Quantity     int         `json:"quantity"`
	FillPrice    float64     `json:"fill_price"`
}

// Position is the ledger's central entity: a locally-opened multi-leg options
// position and its lifecycle state. The ledger owns all mutation; callers only
// ever see copies.
type Position struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	Strategy      StrategyTag     `json:"strategy"`
	Legs          []Leg           `json:"legs"`
	State         PositionState   `json:"state"`
	OpenedAt      time.Time       `json:"opened_at"`
	ClosedAt      time.Time       `json:"closed_at,omitempty"`
	EntryDebit    decimal.Decimal `json:"entry_debit"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	LastMark      float64         `json:"last_mark"`
	LastEvaluated time.Time       `json:"last_evaluated,omitempty"`
	CloseAttempts int             `json:"close_attempts"`
	ExitReason    string          `json:"exit_reason,omitempty"`
	ExitOrderID   string          `json:"exit_order_id,omitempty"`
}

// NewPosition creates a position in state Open with its entry economics set.
// entryDebit is the total dollars paid to open (negative for net credit).
func NewPosition(id, symbol string, tag StrategyTag, legs []Leg, entryDebit decimal.Decimal) *Position {
	return &Position{
		ID:         id,
		Symbol:     symbol,
		Strategy:   tag,
		Legs:       legs,
		State:      StateOpen,
		OpenedAt:   time.Now().UTC(),
		EntryDebit: entryDebit,
	}
}

// TransitionState moves the position to a new state after table validation.
func (p *Position) TransitionState(to PositionState, condition string) error {
	if err := ValidateTransition(p.State, to, condition); err != nil {
		return fmt.Errorf("position %s: %w", p.ID, err)
	}
	p.State = to
	if to == StateClosed && p.ClosedAt.IsZero() {
		p.ClosedAt = time.Now().UTC()
	}
	return nil
}

// EntryDebitDollars converts the per-spread entry debit into total dollars
// across all legs' contracts.
func (p *Position) EntryDebitDollars() decimal.Decimal {
	qty := p.legQuantity()
	return p.EntryDebit.Mul(decimal.NewFromInt(int64(qty * sharesPerContract)))
}

// legQuantity returns the spread quantity, taken from the first leg.
func (p *Position) legQuantity() int {
	if len(p.Legs) == 0 {
		return 0
	}
	return p.Legs[0].Quantity
}

// ProfitPercent returns unrealized P&L at the given mark as a fraction of the
// entry debit. A -0.16 return means the position is down 16%.
func (p *Position) ProfitPercent(currentValue float64) float64 {
	entry, _ := p.EntryDebit.Float64()
	if entry == 0 {
		return 0
	}
	return (currentValue - entry) / entry
}

// DTE returns days to the nearest leg expiration.
func (p *Position) DTE() int {
	if len(p.Legs) == 0 {
		return 0
	}
	nearest := p.Legs[0].Expiration
	for _, l := range p.Legs[1:] {
		if l.Expiration.Before(nearest) {
			nearest = l.Expiration
		}
	}
	days := int(time.Until(nearest).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// Clone returns a deep copy safe to hand to other goroutines.
func (p *Position) Clone() Position {
	cp := *p
	cp.Legs = make([]Leg, len(p.Legs))
	copy(cp.Legs, p.Legs)
	return cp
}

// Validate enforces structural invariants: at least one leg, a known strategy
// tag, and leg sides consistent with the tag.
func (p *Position) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("position missing id")
	}
	if len(p.Legs) == 0 {
		return fmt.Errorf("position %s has no legs", p.ID)
	}
	if !p.Strategy.Valid() {
		return fmt.Errorf("position %s has unknown strategy tag %q", p.ID, p.Strategy)
	}
	var long, short int
	for _, l := range p.Legs {
		if l.Quantity <= 0 {
			return fmt.Errorf("position %s leg %s has non-positive quantity %d", p.ID, l.OptionSymbol, l.Quantity)
		}
		switch l.Side {
		case SideLong:
			long++
		case SideShort:
			short++
		default:
			return fmt.Errorf("position %s leg %s has unknown side %q", p.ID, l.OptionSymbol, l.Side)
		}
	}
	switch p.Strategy {
	case StrategyBull, StrategyBear:
		// Vertical spreads: exactly one long and one short leg of the same right.
		if long != 1 || short != 1 {
			return fmt.Errorf("position %s: %s spread needs one long and one short leg, got %d/%d",
				p.ID, p.Strategy, long, short)
		}
		if p.Legs[0].Right != p.Legs[1].Right {
			return fmt.Errorf("position %s: spread legs must share the same right", p.ID)
		}
	case StrategyVolatile:
		// Straddle: two long legs, one call and one put.
		if long != 2 || short != 0 {
			return fmt.Errorf("position %s: straddle needs two long legs, got %d long %d short", p.ID, long, short)
		}
		var calls, puts int
		for _, l := range p.Legs {
			switch l.Right {
			case RightCall:
				calls++
			case RightPut:
				puts++
			}
		}
		if calls != 1 || puts != 1 {
			return fmt.Errorf("position %s: straddle needs one call and one put, got %d calls %d puts",
				p.ID, calls, puts)
		}
	}
	return nil
}

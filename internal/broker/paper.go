package broker

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"sync/atomic"
	"time"
)

// secureFloat64 generates a cryptographically secure random float64 between 0 and 1.
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// secureInt63n generates a cryptographically secure random int64 between 0 and n-1.
func secureInt63n(n int64) int64 {
	r, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return n / 2
	}
	return r.Int64()
}

// PaperGateway simulates a brokerage session for paper trading mode. Quotes
// follow a small random walk; market orders fill immediately at the simulated
// option mid. Like any Gateway it must only be driven from the marshaler's
// owning goroutine.
type PaperGateway struct {
	prices     map[string]float64
	positions  []BrokerPosition
	halted     map[string]bool
	equity     float64
	nextOrder  int64
	connected  bool
	volatility float64
}

var _ Gateway = (*PaperGateway)(nil)

// NewPaperGateway creates a simulated gateway seeded with an account value.
func NewPaperGateway(startingEquity float64) *PaperGateway {
	return &PaperGateway{
		prices:     make(map[string]float64),
		halted:     make(map[string]bool),
		equity:     startingEquity,
		volatility: 0.18,
	}
}

// Connect implements Gateway.
func (g *PaperGateway) Connect() error {
	g.connected = true
	return nil
}

// Disconnect implements Gateway.
func (g *PaperGateway) Disconnect() {
	g.connected = false
}

// SetPrice pins the spot price for a symbol. Used to seed scenarios.
func (g *PaperGateway) SetPrice(symbol string, px float64) {
	g.prices[symbol] = px
}

// SetHalted marks a symbol as halted.
func (g *PaperGateway) SetHalted(symbol string, halted bool) {
	g.halted[symbol] = halted
}

func (g *PaperGateway) spot(symbol string) float64 {
	px, ok := g.prices[symbol]
	if !ok {
		px = 50 + secureFloat64()*400
	}
	// Small random walk per observation
	px += (secureFloat64() - 0.5) * px * 0.002
	g.prices[symbol] = px
	return px
}

// QualifyContract implements Gateway. The simulation accepts any descriptor
// with sane fields.
func (g *PaperGateway) QualifyContract(desc ContractDescriptor) (ContractDescriptor, error) {
	if desc.Underlying == "" || desc.Strike <= 0 {
		return desc, &APIError{Code: 400, Message: "unqualifiable contract"}
	}
	return desc, nil
}

// SnapshotQuote implements Gateway.
func (g *PaperGateway) SnapshotQuote(symbol string) (*Quote, error) {
	if !g.connected {
		return nil, &APIError{Code: 503, Message: "not connected"}
	}
	px := g.spot(symbol)
	spread := math.Max(0.01, px*0.0004)
	return &Quote{
		Symbol: symbol,
		Last:   px,
		Bid:    px - spread/2,
		Ask:    px + spread/2,
		Volume: secureInt63n(50_000_000),
	}, nil
}

// HistoricalBars implements Gateway, synthesizing a daily random walk ending
// at the current spot.
func (g *PaperGateway) HistoricalBars(symbol string, days int) ([]Bar, error) {
	if !g.connected {
		return nil, &APIError{Code: 503, Message: "not connected"}
	}
	if days <= 0 {
		days = 60
	}
	end := g.spot(symbol)
	bars := make([]Bar, days)
	px := end
	// Walk backwards so the series terminates at today's price.
	for i := days - 1; i >= 0; i-- {
		drift := (secureFloat64() - 0.5) * px * g.volatility / math.Sqrt(252)
		open := px - drift
		high := math.Max(open, px) * (1 + secureFloat64()*0.004)
		low := math.Min(open, px) * (1 - secureFloat64()*0.004)
		bars[i] = Bar{
			Date:   time.Now().UTC().AddDate(0, 0, i-days+1).Truncate(24 * time.Hour),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  px,
			Volume: secureInt63n(10_000_000),
		}
		px = open
	}
	return bars, nil
}

// optionMid prices a leg with a coarse intrinsic-plus-time-value model. It only
// needs to be plausible, not accurate.
func (g *PaperGateway) optionMid(desc ContractDescriptor) float64 {
	spot := g.prices[desc.Underlying]
	if spot == 0 {
		spot = g.spot(desc.Underlying)
	}
	var intrinsic float64
	if desc.Right == "put" {
		intrinsic = math.Max(0, desc.Strike-spot)
	} else {
		intrinsic = math.Max(0, spot-desc.Strike)
	}
	dte := math.Max(1, time.Until(desc.Expiration).Hours()/24)
	timeValue := spot * g.volatility * math.Sqrt(dte/365) * 0.4
	return math.Max(0.05, intrinsic+timeValue)
}

// PlaceOrder implements Gateway. Market orders fill every leg immediately at
// the simulated mid; limit orders fill when the aggregate mid is at or better
// than the limit, otherwise they are rejected (the simulation has no resting
// book).
func (g *PaperGateway) PlaceOrder(legs []OrderLeg, orderType OrderType, limit float64) (*OrderConfirmation, error) {
	if !g.connected {
		return nil, &APIError{Code: 503, Message: "not connected"}
	}
	if len(legs) == 0 {
		return nil, &APIError{Code: 400, Message: "order has no legs"}
	}
	for _, leg := range legs {
		if g.halted[leg.Contract.Underlying] {
			return nil, &APIError{Code: 409, Message: fmt.Sprintf("trading halted for %s", leg.Contract.Underlying)}
		}
	}

	fills := make([]LegFill, len(legs))
	var netDebit float64
	for i, leg := range legs {
		px := g.optionMid(leg.Contract)
		fills[i] = LegFill{OptionSymbol: leg.Contract.OptionSymbol(), Price: px, Quantity: leg.Quantity}
		switch leg.Side {
		case BuyToOpen, BuyToClose:
			netDebit += px
		case SellToOpen, SellToClose:
			netDebit -= px
		}
	}

	if orderType == OrderTypeLimit && netDebit > limit {
		return &OrderConfirmation{
			OrderID: g.orderID(),
			Status:  "rejected",
		}, nil
	}

	g.applyFills(legs, fills)
	return &OrderConfirmation{
		OrderID:  g.orderID(),
		Status:   "filled",
		Fills:    fills,
		FilledAt: time.Now().UTC(),
	}, nil
}

func (g *PaperGateway) orderID() string {
	return fmt.Sprintf("paper-%d", atomic.AddInt64(&g.nextOrder, 1))
}

// applyFills updates the simulated broker-side position book.
func (g *PaperGateway) applyFills(legs []OrderLeg, fills []LegFill) {
	for i, leg := range legs {
		signed := leg.Quantity
		if leg.Side == SellToOpen || leg.Side == SellToClose {
			signed = -signed
		}
		sym := fills[i].OptionSymbol
		found := false
		for j := range g.positions {
			if g.positions[j].OptionSymbol == sym {
				g.positions[j].Quantity += signed
				found = true
				break
			}
		}
		if !found {
			g.positions = append(g.positions, BrokerPosition{
				Symbol:       leg.Contract.Underlying,
				OptionSymbol: sym,
				Quantity:     signed,
				AvgCost:      fills[i].Price,
			})
		}
	}
	// Drop flat lines
	kept := g.positions[:0]
	for _, p := range g.positions {
		if p.Quantity != 0 {
			kept = append(kept, p)
		}
	}
	g.positions = kept
}

// CancelOrder implements Gateway. Paper orders never rest, so there is nothing
// to cancel.
func (g *PaperGateway) CancelOrder(orderID string) error {
	return &APIError{Code: 404, Message: fmt.Sprintf("order %s not open", orderID)}
}

// Positions implements Gateway.
func (g *PaperGateway) Positions() ([]BrokerPosition, error) {
	if !g.connected {
		return nil, &APIError{Code: 503, Message: "not connected"}
	}
	out := make([]BrokerPosition, len(g.positions))
	copy(out, g.positions)
	return out, nil
}

// AccountValue implements Gateway.
func (g *PaperGateway) AccountValue() (float64, error) {
	if !g.connected {
		return 0, &APIError{Code: 503, Message: "not connected"}
	}
	return g.equity, nil
}

// IsTradingHalted implements Gateway.
func (g *PaperGateway) IsTradingHalted(symbol string) (bool, error) {
	return g.halted[symbol], nil
}

// Package broker defines the brokerage gateway boundary: the SDK-like
// capability the rest of the system reaches through the request marshaler.
package broker

import (
	"fmt"
	"time"
)

// Quote is a market-data snapshot for one symbol.
type Quote struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Volume int64   `json:"volume"`
}

// Mid returns the bid/ask midpoint, falling back to last when the book is empty.
func (q *Quote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.Last
}

// Bar is one historical OHLCV bar.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// ContractDescriptor identifies an option contract before qualification.
type ContractDescriptor struct {
	Underlying string    `json:"underlying"`
	Right      string    `json:"right"` // call | put
	Strike     float64   `json:"strike"`
	Expiration time.Time `json:"expiration"`
}

// OptionSymbol renders the descriptor in OPRA-style format:
// TICKER + YYMMDD + C/P + strike*1000 zero-padded to 8 digits.
func (c ContractDescriptor) OptionSymbol() string {
	right := "C"
	if c.Right == "put" {
		right = "P"
	}
	return fmt.Sprintf("%s%s%s%08d", c.Underlying, c.Expiration.Format("060102"), right, int(c.Strike*1000))
}

// OrderType is the execution style of an order.
type OrderType string

const (
	// OrderTypeMarket executes immediately at the prevailing price.
	OrderTypeMarket OrderType = "market"
	// OrderTypeLimit executes at the limit price or better.
	OrderTypeLimit OrderType = "limit"
)

// OrderSide is the open/close direction of one order leg.
type OrderSide string

const (
	// BuyToOpen opens a long leg.
	BuyToOpen OrderSide = "buy_to_open"
	// SellToOpen opens a short leg.
	SellToOpen OrderSide = "sell_to_open"
	// BuyToClose closes a short leg.
	BuyToClose OrderSide = "buy_to_close"
	// SellToClose closes a long leg.
	SellToClose OrderSide = "sell_to_close"
)

// OrderLeg is one leg of a multi-leg option order.
type OrderLeg struct {
	Contract ContractDescriptor `json:"contract"`
	Side     OrderSide          `json:"side"`
	Quantity int                `json:"quantity"`
}

// LegFill reports the executed price for one leg.
type LegFill struct {
	OptionSymbol string  `json:"option_symbol"`
	Price        float64 `json:"price"`
	Quantity     int     `json:"quantity"`
}

// OrderConfirmation is the gateway's response to a placed order.
type OrderConfirmation struct {
	OrderID  string    `json:"order_id"`
	Status   string    `json:"status"` // filled | pending | rejected
	Fills    []LegFill `json:"fills"`
	FilledAt time.Time `json:"filled_at,omitempty"`
}

// Filled reports whether every leg executed.
func (c *OrderConfirmation) Filled() bool {
	return c.Status == "filled"
}

// NetDebit returns the total per-spread price paid across fills: buys add,
// sells subtract. Negative values are net credits.
func (c *OrderConfirmation) NetDebit(legs []OrderLeg) float64 {
	var total float64
	for i, f := range c.Fills {
		if i >= len(legs) {
			break
		}
		switch legs[i].Side {
		case BuyToOpen, BuyToClose:
			total += f.Price
		case SellToOpen, SellToClose:
			total -= f.Price
		}
	}
	return total
}

// BrokerPosition is a position as reported by the brokerage.
type BrokerPosition struct {
	Symbol       string  `json:"symbol"`        // underlying
	OptionSymbol string  `json:"option_symbol"` // OPRA-style leg symbol
	Quantity     int     `json:"quantity"`      // signed: negative = short
	AvgCost      float64 `json:"avg_cost"`
}

// Gateway is the brokerage connection capability.
//
// A Gateway is NOT safe for concurrent use. It is owned by exactly one
// goroutine, the request marshaler's dispatch loop, and every other component
// must reach it through marshaler.Client. Calling it from two goroutines
// corrupts the underlying session.
type Gateway interface {
	Connect() error
	Disconnect()

	QualifyContract(desc ContractDescriptor) (ContractDescriptor, error)
	SnapshotQuote(symbol string) (*Quote, error)
	HistoricalBars(symbol string, days int) ([]Bar, error)

	PlaceOrder(legs []OrderLeg, orderType OrderType, limit float64) (*OrderConfirmation, error)
	CancelOrder(orderID string) error

	Positions() ([]BrokerPosition, error)
	AccountValue() (float64, error)
	IsTradingHalted(symbol string) (bool, error)
}

// APIError is a rejection returned by the brokerage.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker api error %d: %s", e.Code, e.Message)
}

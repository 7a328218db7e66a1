package marshaler

import (
	"time"

	"github.com/dmarchetti/trident/internal/broker"
)

// Client is the typed façade over Submit consumed by the rest of the system.
// Every method is safe to call from any goroutine; a timeout of zero uses the
// configured default. No component may hold a broker.Gateway directly.
type Client interface {
	GetQuote(symbol string, timeout time.Duration) (*broker.Quote, error)
	GetHistory(symbol string, days int, timeout time.Duration) ([]broker.Bar, error)
	PlaceOrder(legs []broker.OrderLeg, orderType broker.OrderType, limit float64, timeout time.Duration) (*broker.OrderConfirmation, error)
	CancelOrder(orderID string, timeout time.Duration) error
	Positions(timeout time.Duration) ([]broker.BrokerPosition, error)
	AccountValue(timeout time.Duration) (float64, error)
	IsHalted(symbol string, timeout time.Duration) (bool, error)
	MaxTradeSize(timeout time.Duration) (float64, error)
}

var _ Client = (*Marshaler)(nil)

// GetQuote fetches a market-data snapshot for symbol.
func (m *Marshaler) GetQuote(symbol string, timeout time.Duration) (*broker.Quote, error) {
	v, err := m.Submit(OpGetQuote, quoteArgs{symbol: symbol}, timeout)
	if err != nil {
		return nil, err
	}
	return v.(*broker.Quote), nil
}

// GetHistory fetches the last days daily bars for symbol.
func (m *Marshaler) GetHistory(symbol string, days int, timeout time.Duration) ([]broker.Bar, error) {
	v, err := m.Submit(OpGetHistory, historyArgs{symbol: symbol, days: days}, timeout)
	if err != nil {
		return nil, err
	}
	return v.([]broker.Bar), nil
}

// PlaceOrder qualifies and submits a multi-leg option order.
func (m *Marshaler) PlaceOrder(legs []broker.OrderLeg, orderType broker.OrderType,
	limit float64, timeout time.Duration) (*broker.OrderConfirmation, error) {
	v, err := m.Submit(OpPlaceOrder, placeOrderArgs{legs: legs, orderType: orderType, limit: limit}, timeout)
	if err != nil {
		return nil, err
	}
	return v.(*broker.OrderConfirmation), nil
}

// CancelOrder cancels a resting order.
func (m *Marshaler) CancelOrder(orderID string, timeout time.Duration) error {
	_, err := m.Submit(OpCancelOrder, cancelArgs{orderID: orderID}, timeout)
	return err
}

// Positions lists broker-reported positions.
func (m *Marshaler) Positions(timeout time.Duration) ([]broker.BrokerPosition, error) {
	v, err := m.Submit(OpGetPositions, nil, timeout)
	if err != nil {
		return nil, err
	}
	return v.([]broker.BrokerPosition), nil
}

// AccountValue fetches total account equity.
func (m *Marshaler) AccountValue(timeout time.Duration) (float64, error) {
	v, err := m.Submit(OpAccountValue, nil, timeout)
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// IsHalted checks whether trading is halted for symbol.
func (m *Marshaler) IsHalted(symbol string, timeout time.Duration) (bool, error) {
	v, err := m.Submit(OpIsHalted, symbolArgs{symbol: symbol}, timeout)
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// MaxTradeSize returns the per-trade dollar budget derived from account value.
func (m *Marshaler) MaxTradeSize(timeout time.Duration) (float64, error) {
	v, err := m.Submit(OpMaxTradeSize, nil, timeout)
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

package monitor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarchetti/trident/internal/broker"
	"github.com/dmarchetti/trident/internal/ledger"
	"github.com/dmarchetti/trident/internal/marketdata"
	"github.com/dmarchetti/trident/internal/models"
	"github.com/dmarchetti/trident/internal/risk"
)

// fakeClient serves per-leg quotes and scripts order outcomes.
type fakeClient struct {
	mu         sync.Mutex
	mids       map[string]float64 // option symbol -> mid
	halted     map[string]bool
	orderErr   error
	rejectNext bool
	orders     []struct {
		legs      []broker.OrderLeg
		orderType broker.OrderType
	}
}

func newFakeClient() *fakeClient {
	return &fakeClient{mids: make(map[string]float64), halted: make(map[string]bool)}
}

func (f *fakeClient) GetQuote(symbol string, _ time.Duration) (*broker.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mid, ok := f.mids[symbol]
	if !ok {
		return nil, errors.New("no quote for " + symbol)
	}
	return &broker.Quote{Symbol: symbol, Last: mid, Bid: mid - 0.01, Ask: mid + 0.01}, nil
}

func (f *fakeClient) GetHistory(string, int, time.Duration) ([]broker.Bar, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) PlaceOrder(legs []broker.OrderLeg, ot broker.OrderType, _ float64, _ time.Duration) (*broker.OrderConfirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, struct {
		legs      []broker.OrderLeg
		orderType broker.OrderType
	}{legs, ot})
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	if f.consumeRejectLocked() {
		return &broker.OrderConfirmation{OrderID: "rej-1", Status: "rejected"}, nil
	}
	fills := make([]broker.LegFill, len(legs))
	for i, l := range legs {
		sym := l.Contract.OptionSymbol()
		fills[i] = broker.LegFill{OptionSymbol: sym, Price: f.mids[sym], Quantity: l.Quantity}
	}
	return &broker.OrderConfirmation{OrderID: "fill-1", Status: "filled", Fills: fills, FilledAt: time.Now()}, nil
}

func (f *fakeClient) consumeRejectLocked() bool {
	if f.rejectNext {
		f.rejectNext = false
		return true
	}
	return false
}

func (f *fakeClient) CancelOrder(string, time.Duration) error { return nil }
func (f *fakeClient) Positions(time.Duration) ([]broker.BrokerPosition, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeClient) AccountValue(time.Duration) (float64, error) { return 100_000, nil }
func (f *fakeClient) IsHalted(symbol string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.halted[symbol], nil
}
func (f *fakeClient) MaxTradeSize(time.Duration) (float64, error) { return 10_000, nil }

func (f *fakeClient) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type fixture struct {
	client  *fakeClient
	book    *ledger.Ledger
	risk    *risk.Manager
	monitor *PositionMonitor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := newFakeClient()
	book := ledger.New(quietLogger())
	rm := risk.NewManager(risk.DefaultLimits, quietLogger())
	cache := marketdata.NewCache(client, quietLogger())
	mon := New(Config{QuoteMaxAge: time.Minute, ExpiryDTE: 1, HaltedBackoff: true}, book, client, cache, rm, nil, quietLogger())
	return &fixture{client: client, book: book, risk: rm, monitor: mon}
}

// openSpread records a bull spread with entry debit 2.50 and leg contracts the
// fake client can quote.
func (fx *fixture) openSpread(t *testing.T, id string) *models.Position {
	t.Helper()
	exp := time.Now().UTC().AddDate(0, 0, 45)
	longDesc := broker.ContractDescriptor{Underlying: "AAPL", Right: "call", Strike: 200, Expiration: exp}
	shortDesc := broker.ContractDescriptor{Underlying: "AAPL", Right: "call", Strike: 210, Expiration: exp}
	p := models.NewPosition(id, "AAPL", models.StrategyBull, []models.Leg{
		{OptionSymbol: longDesc.OptionSymbol(), Right: models.RightCall, Side: models.SideLong, Strike: 200, Expiration: exp, Quantity: 1, FillPrice: 4.20},
		{OptionSymbol: shortDesc.OptionSymbol(), Right: models.RightCall, Side: models.SideShort, Strike: 210, Expiration: exp, Quantity: 1, FillPrice: 1.70},
	}, decimal.NewFromFloat(2.50))
	require.NoError(t, fx.book.RecordOpen(p))
	return p
}

// setSpreadValue prices the legs so long mid minus short mid equals value.
func (fx *fixture) setSpreadValue(p *models.Position, value float64) {
	fx.client.mu.Lock()
	defer fx.client.mu.Unlock()
	fx.client.mids[p.Legs[0].OptionSymbol] = value + 1.50
	fx.client.mids[p.Legs[1].OptionSymbol] = 1.50
}

func TestSweep_NoExitInsideStop(t *testing.T) {
	fx := newFixture(t)
	p := fx.openSpread(t, "hold")
	fx.setSpreadValue(p, 2.10) // -16%, inside the 20% bull stop

	fx.monitor.Sweep()

	assert.Equal(t, 0, fx.client.orderCount())
	got, ok := fx.book.Get("hold")
	require.True(t, ok)
	assert.Equal(t, models.StateOpen, got.State)
	assert.InDelta(t, 2.10, got.LastMark, 0.02)
}

func TestSweep_StopLossCloses(t *testing.T) {
	fx := newFixture(t)
	p := fx.openSpread(t, "stop")
	fx.setSpreadValue(p, 1.80) // -28%

	fx.monitor.Sweep()

	require.Equal(t, 1, fx.client.orderCount())
	order := fx.client.orders[0]
	assert.Equal(t, broker.OrderTypeMarket, order.orderType)
	require.Len(t, order.legs, 2)
	assert.Equal(t, broker.SellToClose, order.legs[0].Side)
	assert.Equal(t, broker.BuyToClose, order.legs[1].Side)

	assert.Equal(t, 0, fx.book.ActiveCount())
	archive := fx.book.Archive()
	require.Len(t, archive, 1)
	assert.Equal(t, models.StateClosed, archive[0].State)
	assert.Equal(t, "stop_loss", archive[0].ExitReason)
	assert.True(t, archive[0].RealizedPnL.IsNegative())
}

func TestSweep_TakeProfitCloses(t *testing.T) {
	fx := newFixture(t)
	p := fx.openSpread(t, "profit")
	fx.setSpreadValue(p, 3.30) // +32%

	fx.monitor.Sweep()

	assert.Equal(t, 0, fx.book.ActiveCount())
	archive := fx.book.Archive()
	require.Len(t, archive, 1)
	assert.Equal(t, "take_profit", archive[0].ExitReason)
	assert.True(t, archive[0].RealizedPnL.IsPositive())
}

func TestSweep_HaltedDefersExit(t *testing.T) {
	fx := newFixture(t)
	p := fx.openSpread(t, "halted")
	fx.setSpreadValue(p, 1.80)
	fx.client.mu.Lock()
	fx.client.halted["AAPL"] = true
	fx.client.mu.Unlock()

	fx.monitor.Sweep()

	assert.Equal(t, 0, fx.client.orderCount(), "no close order while the underlying is halted")
	got, _ := fx.book.Get("halted")
	assert.Equal(t, models.StateOpen, got.State)
}

func TestSweep_RejectedCloseRetriesThenEscalates(t *testing.T) {
	fx := newFixture(t)
	p := fx.openSpread(t, "stuck")
	fx.setSpreadValue(p, 1.80)
	fx.client.orderErr = errors.New("gateway rejected")

	// Three sweeps, three failed attempts: the retry budget is exhausted.
	for i := 0; i < 3; i++ {
		fx.monitor.Sweep()
	}

	got, ok := fx.book.Get("stuck")
	require.True(t, ok, "position must remain tracked")
	assert.Equal(t, models.StateCloseFailed, got.State)
	assert.Equal(t, 3, got.CloseAttempts)
	assert.True(t, fx.risk.Halted(), "exhausted retries must halt new submissions")

	// Monitoring continues: once the gateway recovers the close goes through.
	fx.client.orderErr = nil
	fx.monitor.Sweep()
	assert.Equal(t, 0, fx.book.ActiveCount())
}

func TestSweep_SingleRejectionThenFill(t *testing.T) {
	fx := newFixture(t)
	p := fx.openSpread(t, "flaky")
	fx.setSpreadValue(p, 1.80)
	fx.client.mu.Lock()
	fx.client.rejectNext = true
	fx.client.mu.Unlock()

	fx.monitor.Sweep()
	got, _ := fx.book.Get("flaky")
	assert.Equal(t, models.StateCloseFailed, got.State)
	assert.False(t, fx.risk.Halted())

	fx.monitor.Sweep()
	assert.Equal(t, 0, fx.book.ActiveCount())
}

func TestSweep_ExpiryProximityCloses(t *testing.T) {
	fx := newFixture(t)
	exp := time.Now().UTC().AddDate(0, 0, 1)
	longDesc := broker.ContractDescriptor{Underlying: "MSFT", Right: "call", Strike: 400, Expiration: exp}
	shortDesc := broker.ContractDescriptor{Underlying: "MSFT", Right: "call", Strike: 420, Expiration: exp}
	p := models.NewPosition("expiring", "MSFT", models.StrategyBull, []models.Leg{
		{OptionSymbol: longDesc.OptionSymbol(), Right: models.RightCall, Side: models.SideLong, Strike: 400, Expiration: exp, Quantity: 1},
		{OptionSymbol: shortDesc.OptionSymbol(), Right: models.RightCall, Side: models.SideShort, Strike: 420, Expiration: exp, Quantity: 1},
	}, decimal.NewFromFloat(5.00))
	require.NoError(t, fx.book.RecordOpen(p))
	fx.setSpreadValue(p, 5.10) // barely profitable, no profit exit

	fx.monitor.Sweep()

	archive := fx.book.Archive()
	require.Len(t, archive, 1)
	assert.Equal(t, "expiration", archive[0].ExitReason)
}

func TestSweep_MissingLegQuoteSkipsEvaluation(t *testing.T) {
	fx := newFixture(t)
	fx.openSpread(t, "dark") // no quotes seeded

	fx.monitor.Sweep()

	assert.Equal(t, 0, fx.client.orderCount())
	got, _ := fx.book.Get("dark")
	assert.Equal(t, models.StateOpen, got.State)
	assert.True(t, got.LastEvaluated.IsZero(), "no mark without leg quotes")
}

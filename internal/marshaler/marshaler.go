// Package marshaler provides thread-safe synchronous access to the brokerage
// gateway. The gateway is owned by exactly one goroutine; calls from worker
// goroutines are queued onto it and the caller blocks on a per-request reply
// until completion or timeout. This is the single serialization point for
// every gateway-touching operation in the system.
package marshaler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/dmarchetti/trident/internal/broker"
)

// Operation identifies a queued unit of work.
type Operation string

const (
	// OpGetQuote fetches a market-data snapshot.
	OpGetQuote Operation = "GET_QUOTE"
	// OpGetHistory fetches historical daily bars.
	OpGetHistory Operation = "GET_HISTORY"
	// OpPlaceOrder submits a multi-leg option order.
	OpPlaceOrder Operation = "PLACE_ORDER"
	// OpCancelOrder cancels a resting order.
	OpCancelOrder Operation = "CANCEL_ORDER"
	// OpGetPositions lists broker-reported positions.
	OpGetPositions Operation = "GET_POSITIONS"
	// OpIsHalted checks the trading-halted flag for a symbol.
	OpIsHalted Operation = "IS_HALTED"
	// OpMaxTradeSize computes the per-trade dollar budget from account value.
	OpMaxTradeSize Operation = "MAX_TRADE_SIZE"
	// OpAccountValue fetches total account equity.
	OpAccountValue Operation = "ACCOUNT_VALUE"
)

// outcome is the captured result of one dispatched request.
type outcome struct {
	value any
	err   error
}

// request is a queued unit of work. It is owned exclusively by the marshaler
// from enqueue to completion and is immutable once enqueued, except for the
// orphaned flag which the caller sets on timeout.
type request struct {
	id        string
	op        Operation
	args      any
	createdAt time.Time
	reply     chan outcome // buffered(1): the owning goroutine never blocks on a caller
	orphaned  atomic.Bool
}

type quoteArgs struct{ symbol string }
type historyArgs struct {
	symbol string
	days   int
}
type placeOrderArgs struct {
	legs      []broker.OrderLeg
	orderType broker.OrderType
	limit     float64
}
type cancelArgs struct{ orderID string }
type symbolArgs struct{ symbol string }

// Config tunes the marshaling layer.
type Config struct {
	QueueSize      int           // ingress queue capacity
	BatchSize      int           // max requests dispatched per loop wakeup
	DefaultTimeout time.Duration // used when a caller passes timeout <= 0
	MaxTradePct    float64       // fraction of equity allowed per trade
}

// DefaultConfig is the default marshaler configuration.
var DefaultConfig = Config{
	QueueSize:      64,
	BatchSize:      8,
	DefaultTimeout: 10 * time.Second,
	MaxTradePct:    0.10,
}

// Marshaler owns the gateway and its dispatch loop.
type Marshaler struct {
	gateway broker.Gateway
	ingress chan *request
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
	cfg     Config
	running atomic.Bool
	done    chan struct{}
}

// New creates a marshaler around the given gateway. The gateway must not be
// used by anyone else after this point.
func New(gw broker.Gateway, logger *logrus.Logger, config ...Config) *Marshaler {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig.QueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig.BatchSize
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig.DefaultTimeout
	}
	if cfg.MaxTradePct <= 0 || cfg.MaxTradePct > 1 {
		cfg.MaxTradePct = DefaultConfig.MaxTradePct
	}
	if logger == nil {
		logger = logrus.New()
	}

	settings := gobreaker.Settings{
		Name:     "GatewayDispatch",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf("circuit breaker %s: %s -> %s", name, from, to)
		},
	}

	return &Marshaler{
		gateway: gw,
		ingress: make(chan *request, cfg.QueueSize),
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
		cfg:     cfg,
		done:    make(chan struct{}),
	}
}

// Start connects the gateway and launches the owning goroutine. It returns
// once the loop is running.
func (m *Marshaler) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("marshaler: already started")
	}
	if err := m.gateway.Connect(); err != nil {
		m.running.Store(false)
		return err
	}
	go m.loop(ctx)
	return nil
}

// Done is closed when the dispatch loop has exited.
func (m *Marshaler) Done() <-chan struct{} {
	return m.done
}

// loop is the owning goroutine: it alone touches the gateway. It drains the
// ingress queue in bounded batches so shutdown stays responsive.
func (m *Marshaler) loop(ctx context.Context) {
	defer func() {
		m.running.Store(false)
		m.gateway.Disconnect()
		close(m.done)
	}()

	for {
		select {
		case <-ctx.Done():
			m.drainOnShutdown()
			return
		case req := <-m.ingress:
			m.dispatch(req)
			// Drain up to BatchSize-1 more without blocking.
			for i := 1; i < m.cfg.BatchSize; i++ {
				select {
				case next := <-m.ingress:
					m.dispatch(next)
				default:
					i = m.cfg.BatchSize
				}
			}
		}
	}
}

// drainOnShutdown fails any queued requests so callers unblock promptly.
func (m *Marshaler) drainOnShutdown() {
	for {
		select {
		case req := <-m.ingress:
			m.post(req, outcome{err: ErrNotRunning})
		default:
			return
		}
	}
}

// dispatch executes one request against the gateway and posts the outcome.
func (m *Marshaler) dispatch(req *request) {
	start := time.Now()
	value, err := m.breaker.Execute(func() (any, error) {
		return m.call(req)
	})
	err = mapBrokerError(err)

	m.logger.WithFields(logrus.Fields{
		"request_id": req.id,
		"op":         req.op,
		"elapsed":    time.Since(start),
	}).Debug("request dispatched")

	m.post(req, outcome{value: value, err: err})
}

// post delivers the outcome unless the caller has already given up. A late
// response to an orphaned request is logged and dropped; the buffered reply
// channel absorbs the benign race where the caller orphans the request between
// the check and the send.
func (m *Marshaler) post(req *request, out outcome) {
	if req.orphaned.Load() {
		m.logger.WithFields(logrus.Fields{
			"request_id": req.id,
			"op":         req.op,
			"age":        time.Since(req.createdAt),
		}).Debug("dropping late response to orphaned request")
		return
	}
	req.reply <- out
}

// call maps an operation onto the gateway capability.
func (m *Marshaler) call(req *request) (any, error) {
	switch req.op {
	case OpGetQuote:
		a := req.args.(quoteArgs)
		return m.gateway.SnapshotQuote(a.symbol)
	case OpGetHistory:
		a := req.args.(historyArgs)
		return m.gateway.HistoricalBars(a.symbol, a.days)
	case OpPlaceOrder:
		a := req.args.(placeOrderArgs)
		legs := make([]broker.OrderLeg, len(a.legs))
		for i, leg := range a.legs {
			qualified, err := m.gateway.QualifyContract(leg.Contract)
			if err != nil {
				return nil, err
			}
			legs[i] = leg
			legs[i].Contract = qualified
		}
		return m.gateway.PlaceOrder(legs, a.orderType, a.limit)
	case OpCancelOrder:
		a := req.args.(cancelArgs)
		return nil, m.gateway.CancelOrder(a.orderID)
	case OpGetPositions:
		return m.gateway.Positions()
	case OpIsHalted:
		a := req.args.(symbolArgs)
		return m.gateway.IsTradingHalted(a.symbol)
	case OpAccountValue:
		return m.gateway.AccountValue()
	case OpMaxTradeSize:
		equity, err := m.gateway.AccountValue()
		if err != nil {
			return nil, err
		}
		return equity * m.cfg.MaxTradePct, nil
	default:
		return nil, &BrokerError{Code: 400, Message: "unknown operation " + string(req.op)}
	}
}

// mapBrokerError converts gateway API rejections into the caller-facing type.
func mapBrokerError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *broker.APIError
	if errors.As(err, &apiErr) {
		return &BrokerError{Code: apiErr.Code, Message: apiErr.Message}
	}
	return err
}

// Submit queues one operation onto the owning goroutine and blocks until it
// completes or timeout elapses. Callable from any goroutine. On timeout the
// request is marked orphaned: if it later completes, the owning goroutine
// drops the response without affecting any other pending request.
func (m *Marshaler) Submit(op Operation, args any, timeout time.Duration) (any, error) {
	if !m.running.Load() {
		return nil, ErrNotRunning
	}
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}

	req := &request{
		id:        uuid.New().String(),
		op:        op,
		args:      args,
		createdAt: time.Now().UTC(),
		reply:     make(chan outcome, 1),
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case m.ingress <- req:
	case <-timer.C:
		return nil, ErrSubmitTimeout
	}

	select {
	case out := <-req.reply:
		return out.value, out.err
	case <-timer.C:
		req.orphaned.Store(true)
		return nil, ErrSubmitTimeout
	}
}

package marketdata

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarchetti/trident/internal/broker"
)

// fakeClient counts fetches and can be switched into failure mode.
type fakeClient struct {
	quoteCalls   atomic.Int64
	historyCalls atomic.Int64
	fail         atomic.Bool
	last         float64
}

var errFeedDown = errors.New("feed down")

func (f *fakeClient) GetQuote(symbol string, _ time.Duration) (*broker.Quote, error) {
	f.quoteCalls.Add(1)
	if f.fail.Load() {
		return nil, errFeedDown
	}
	return &broker.Quote{Symbol: symbol, Last: f.last, Bid: f.last - 0.05, Ask: f.last + 0.05}, nil
}

func (f *fakeClient) GetHistory(symbol string, days int, _ time.Duration) ([]broker.Bar, error) {
	f.historyCalls.Add(1)
	if f.fail.Load() {
		return nil, errFeedDown
	}
	bars := make([]broker.Bar, days)
	for i := range bars {
		bars[i].Close = f.last
	}
	return bars, nil
}

func (f *fakeClient) PlaceOrder([]broker.OrderLeg, broker.OrderType, float64, time.Duration) (*broker.OrderConfirmation, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeClient) CancelOrder(string, time.Duration) error { return errors.New("not implemented") }
func (f *fakeClient) Positions(time.Duration) ([]broker.BrokerPosition, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeClient) AccountValue(time.Duration) (float64, error) { return 0, errors.New("nope") }
func (f *fakeClient) IsHalted(string, time.Duration) (bool, error) {
	return false, errors.New("not implemented")
}
func (f *fakeClient) MaxTradeSize(time.Duration) (float64, error) { return 0, errors.New("nope") }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestGetOrFetch_FreshEntryServedFromCache(t *testing.T) {
	client := &fakeClient{last: 101.5}
	cache := NewCache(client, quietLogger())

	first, err := cache.GetOrFetch("AAPL", KindQuote, time.Minute)
	require.NoError(t, err)
	assert.InDelta(t, 101.5, first.Last, 0.001)

	second, err := cache.GetOrFetch("AAPL", KindQuote, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, first.Timestamp, second.Timestamp)
	assert.Equal(t, int64(1), client.quoteCalls.Load(), "fresh entry must not refetch")
}

func TestGetOrFetch_AgeAtMaxAgeIsStale(t *testing.T) {
	client := &fakeClient{last: 100}
	cache := NewCache(client, quietLogger())

	maxAge := time.Minute
	_, err := cache.GetOrFetch("AAPL", KindQuote, maxAge)
	require.NoError(t, err)

	// Back-date the entry to exactly maxAge old: age == maxAge is stale, not
	// fresh, so the next read must refetch.
	k := key{symbol: "AAPL", kind: KindQuote}
	cache.mu.Lock()
	entry := cache.entries[k]
	entry.Timestamp = time.Now().Add(-maxAge)
	cache.entries[k] = entry
	cache.mu.Unlock()

	_, err = cache.GetOrFetch("AAPL", KindQuote, maxAge)
	require.NoError(t, err)
	assert.Equal(t, int64(2), client.quoteCalls.Load())

	// One tick short of the boundary stays fresh.
	cache.mu.Lock()
	entry = cache.entries[k]
	entry.Timestamp = time.Now().Add(-maxAge + 5*time.Second)
	cache.entries[k] = entry
	cache.mu.Unlock()

	_, err = cache.GetOrFetch("AAPL", KindQuote, maxAge)
	require.NoError(t, err)
	assert.Equal(t, int64(2), client.quoteCalls.Load())
}

func TestGetOrFetch_StaleFallbackOnFetchFailure(t *testing.T) {
	client := &fakeClient{last: 250}
	cache := NewCache(client, quietLogger())

	fresh, err := cache.GetOrFetch("TSLA", KindQuote, time.Minute)
	require.NoError(t, err)
	require.False(t, fresh.Stale)

	client.fail.Store(true)
	snap, err := cache.GetOrFetch("TSLA", KindQuote, 0)
	require.NoError(t, err, "previous value must be served when refresh fails")
	assert.True(t, snap.Stale)
	assert.InDelta(t, 250, snap.Last, 0.001)
}

func TestGetOrFetch_FirstFetchFailurePropagates(t *testing.T) {
	client := &fakeClient{}
	client.fail.Store(true)
	cache := NewCache(client, quietLogger())

	_, err := cache.GetOrFetch("MSFT", KindQuote, time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, errFeedDown)
}

func TestGetOrFetch_HistoryKind(t *testing.T) {
	client := &fakeClient{last: 42}
	cache := NewCache(client, quietLogger(), WithHistoryDays(30))

	snap, err := cache.GetOrFetch("SPY", KindHistory, time.Minute)
	require.NoError(t, err)
	assert.Len(t, snap.Bars, 30)
	assert.InDelta(t, 42, snap.Last, 0.001)

	// Quote and history entries for the same symbol are independent.
	_, err = cache.GetOrFetch("SPY", KindQuote, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), client.historyCalls.Load())
	assert.Equal(t, int64(1), client.quoteCalls.Load())
}

func TestInvalidate(t *testing.T) {
	client := &fakeClient{last: 10}
	cache := NewCache(client, quietLogger())

	_, err := cache.GetOrFetch("AAPL", KindQuote, time.Minute)
	require.NoError(t, err)
	cache.Invalidate("AAPL", KindQuote)

	_, err = cache.GetOrFetch("AAPL", KindQuote, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), client.quoteCalls.Load())
}

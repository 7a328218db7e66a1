package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarchetti/trident/internal/models"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newSpread(id string) *models.Position {
	exp := time.Now().UTC().AddDate(0, 0, 45)
	return models.NewPosition(id, "AAPL", models.StrategyBull, []models.Leg{
		{OptionSymbol: "AAPL" + id + "C1", Right: models.RightCall, Side: models.SideLong, Strike: 200, Expiration: exp, Quantity: 1, FillPrice: 4.20},
		{OptionSymbol: "AAPL" + id + "C2", Right: models.RightCall, Side: models.SideShort, Strike: 210, Expiration: exp, Quantity: 1, FillPrice: 1.70},
	}, decimal.NewFromFloat(2.50))
}

func TestRecordOpen_Duplicate(t *testing.T) {
	l := New(quietLogger())
	require.NoError(t, l.RecordOpen(newSpread("a")))

	err := l.RecordOpen(newSpread("a"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Equal(t, 1, l.ActiveCount())
}

func TestRecordOpen_RejectsInvalid(t *testing.T) {
	l := New(quietLogger())
	p := newSpread("b")
	p.Legs = nil
	assert.Error(t, l.RecordOpen(p))
}

func TestRecordOpen_StoresCopy(t *testing.T) {
	l := New(quietLogger())
	p := newSpread("c")
	require.NoError(t, l.RecordOpen(p))

	// Mutating the caller's struct must not reach the ledger.
	p.Legs[0].Strike = 1
	got, ok := l.Get("c")
	require.True(t, ok)
	assert.InDelta(t, 200, got.Legs[0].Strike, 0.001)
}

func TestBeginClose_ExactlyOneWinner(t *testing.T) {
	l := New(quietLogger())
	require.NoError(t, l.RecordOpen(newSpread("race")))

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = l.BeginClose("race", "stop_loss")
		}(i)
	}
	wg.Wait()

	var winners int
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyClosing)
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent closer may win")

	got, _ := l.Get("race")
	assert.Equal(t, models.StateClosing, got.State)
	assert.Equal(t, "stop_loss", got.ExitReason)
}

func TestBeginClose_NotFoundAndTerminal(t *testing.T) {
	l := New(quietLogger())
	assert.ErrorIs(t, l.BeginClose("missing", "x"), ErrNotFound)
}

func TestCompleteClose_FillComputesPnL(t *testing.T) {
	l := New(quietLogger())
	require.NoError(t, l.RecordOpen(newSpread("pnl")))
	require.NoError(t, l.BeginClose("pnl", "take_profit"))

	attempts, err := l.CompleteClose("pnl", CloseResult{
		Filled:    true,
		ExitValue: decimal.NewFromFloat(3.25),
		OrderID:   "ord-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, attempts)
	assert.Equal(t, 0, l.ActiveCount())

	archive := l.Archive()
	require.Len(t, archive, 1)
	closed := archive[0]
	assert.Equal(t, models.StateClosed, closed.State)
	// (3.25 - 2.50) * 1 contract * 100 shares = 75.00
	assert.Equal(t, "75.00", closed.RealizedPnL.StringFixed(2))
	assert.Equal(t, "ord-1", closed.ExitOrderID)
	assert.Equal(t, "75.00", l.RealizedPnL().StringFixed(2))
}

func TestCompleteClose_FailureAllowsRetry(t *testing.T) {
	l := New(quietLogger())
	require.NoError(t, l.RecordOpen(newSpread("retry")))
	require.NoError(t, l.BeginClose("retry", "stop_loss"))

	attempts, err := l.CompleteClose("retry", CloseResult{Filled: false})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	got, _ := l.Get("retry")
	assert.Equal(t, models.StateCloseFailed, got.State)

	// The failed position is eligible for another close attempt.
	require.NoError(t, l.BeginClose("retry", "stop_loss"))
	attempts, err = l.CompleteClose("retry", CloseResult{Filled: false})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestCompleteClose_RequiresClosing(t *testing.T) {
	l := New(quietLogger())
	require.NoError(t, l.RecordOpen(newSpread("open")))

	_, err := l.CompleteClose("open", CloseResult{Filled: true, ExitValue: decimal.NewFromFloat(1)})
	assert.Error(t, err)
}

func TestSnapshotAll_OrderedCopies(t *testing.T) {
	l := New(quietLogger())
	first := newSpread("1")
	require.NoError(t, l.RecordOpen(first))
	second := newSpread("2")
	second.OpenedAt = first.OpenedAt.Add(time.Second)
	require.NoError(t, l.RecordOpen(second))

	snaps := l.SnapshotAll()
	require.Len(t, snaps, 2)
	assert.Equal(t, "1", snaps[0].ID)
	assert.Equal(t, "2", snaps[1].ID)

	snaps[0].Legs[0].Strike = 1
	got, _ := l.Get("1")
	assert.InDelta(t, 200, got.Legs[0].Strike, 0.001)
}

func TestForceClose_WalksStateTable(t *testing.T) {
	l := New(quietLogger())
	require.NoError(t, l.RecordOpen(newSpread("gone")))

	require.NoError(t, l.ForceClose("gone", "manual_close"))
	assert.Equal(t, 0, l.ActiveCount())

	archive := l.Archive()
	require.Len(t, archive, 1)
	assert.Equal(t, models.StateClosed, archive[0].State)
	assert.Equal(t, "manual_close", archive[0].ExitReason)
	assert.True(t, archive[0].RealizedPnL.IsZero(), "unknown economics stay zero")
}

func TestForceClose_FromCloseFailed(t *testing.T) {
	l := New(quietLogger())
	require.NoError(t, l.RecordOpen(newSpread("failed")))
	require.NoError(t, l.BeginClose("failed", "stop_loss"))
	_, err := l.CompleteClose("failed", CloseResult{Filled: false})
	require.NoError(t, err)

	require.NoError(t, l.ForceClose("failed", "manual_close"))
	assert.Equal(t, 0, l.ActiveCount())
}

func TestMarkPrice(t *testing.T) {
	l := New(quietLogger())
	require.NoError(t, l.RecordOpen(newSpread("mark")))
	require.NoError(t, l.MarkPrice("mark", 2.10))

	got, _ := l.Get("mark")
	assert.InDelta(t, 2.10, got.LastMark, 0.001)
	assert.False(t, got.LastEvaluated.IsZero())

	assert.ErrorIs(t, l.MarkPrice("missing", 1), ErrNotFound)
}

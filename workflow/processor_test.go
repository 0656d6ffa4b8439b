package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hedge_bybit_go/engine"
	"hedge_bybit_go/exchange"
	"hedge_bybit_go/profit"
	"hedge_bybit_go/risk"
	"hedge_bybit_go/state"
	"hedge_bybit_go/trigger"
)

type fixture struct {
	mock      *exchange.MockClient
	store     *state.Store
	ledger    *profit.Ledger
	engine    *engine.Engine
	processor *Processor
	cancelled *bool
}

func newFixture(t *testing.T, p state.Params) *fixture {
	t.Helper()
	store, err := state.NewStore("", p)
	require.NoError(t, err)
	ledger := profit.NewLedger(p.InitialCapital)
	mock := exchange.NewMockClient()
	eng := engine.New(mock, store, ledger, trigger.NewChecker(), "BTCUSDT")
	checker := risk.NewChecker(store, ledger)

	cancelled := false
	proc := NewProcessor(eng, checker, store, func() { cancelled = true })
	return &fixture{
		mock:      mock,
		store:     store,
		ledger:    ledger,
		engine:    eng,
		processor: proc,
		cancelled: &cancelled,
	}
}

func baseParams() state.Params {
	return state.Params{
		InitialCapital:      1000,
		Mode:                state.ModeLongShort,
		Leverage:            1,
		BaseOrderMarginUSDT: 100,
		MaxSlotsPerSide:     2,
	}
}

func (f *fixture) tick(t *testing.T, price float64) error {
	t.Helper()
	f.mock.SetPrice(price)
	return f.processor.ProcessTick(context.Background(), price, time.Now())
}

func TestTickWithNothingToDo(t *testing.T) {
	f := newFixture(t, baseParams())
	require.NoError(t, f.tick(t, 100))
	assert.False(t, *f.cancelled)
}

func TestSignalDrainOpensPosition(t *testing.T) {
	f := newFixture(t, baseParams())

	assert.True(t, f.processor.SubmitSignal(engine.SignalBuy))
	require.NoError(t, f.tick(t, 100))
	assert.Equal(t, 1, f.store.OpenCount(state.SideLong))
}

func TestOneSignalPerTick(t *testing.T) {
	f := newFixture(t, baseParams())

	f.processor.SubmitSignal(engine.SignalBuy)
	f.processor.SubmitSignal(engine.SignalSell)

	require.NoError(t, f.tick(t, 100))
	assert.Equal(t, 1, f.store.OpenCount(state.SideLong))
	assert.Equal(t, 0, f.store.OpenCount(state.SideShort))

	require.NoError(t, f.tick(t, 100))
	assert.Equal(t, 1, f.store.OpenCount(state.SideShort))
}

func TestGlobalStopLossFlattensAndStops(t *testing.T) {
	p := baseParams()
	p.GlobalSLPct = 5
	f := newFixture(t, p)

	f.processor.SubmitSignal(engine.SignalBuy)
	require.NoError(t, f.tick(t, 100))
	require.Equal(t, 1, f.store.OpenCount(state.SideLong))

	// -70 on 1000 capital breaches the -5% breaker.
	err := f.tick(t, 30)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionStopped))

	assert.Equal(t, 0, f.store.OpenCount(state.SideLong))
	assert.InDelta(t, 0, f.mock.BookSize(1), 1e-9)
	assert.True(t, f.store.GlobalStopTriggered())
	assert.True(t, *f.cancelled)
	assert.InDelta(t, -70, f.ledger.RealizedPNL(), 1e-9)
}

func TestLatchedStopRejectsFurtherTicksWithoutReflattening(t *testing.T) {
	p := baseParams()
	p.GlobalSLPct = 5
	f := newFixture(t, p)

	f.processor.SubmitSignal(engine.SignalBuy)
	require.NoError(t, f.tick(t, 100))
	require.Error(t, f.tick(t, 30))
	ordersAfterStop := len(f.mock.PlacedOrders())

	err := f.tick(t, 29)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionStopped))
	assert.Len(t, f.mock.PlacedOrders(), ordersAfterStop)
}

func TestTimeLimitStopTerminatesSession(t *testing.T) {
	p := baseParams()
	p.TimeLimit = state.SessionTimeLimit{Duration: time.Minute, Action: state.TimeLimitStop}
	f := newFixture(t, p)

	f.mock.SetPrice(100)
	err := f.processor.ProcessTick(context.Background(), 100, time.Now().Add(2*time.Minute))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionStopped))
	assert.True(t, f.store.GlobalStopTriggered())
	assert.True(t, *f.cancelled)
}

func TestTimeLimitNeutralKeepsSessionRunning(t *testing.T) {
	p := baseParams()
	p.TimeLimit = state.SessionTimeLimit{Duration: time.Minute, Action: state.TimeLimitNeutral}
	f := newFixture(t, p)

	f.processor.SubmitSignal(engine.SignalBuy)
	f.mock.SetPrice(100)
	require.NoError(t, f.processor.ProcessTick(context.Background(), 100, time.Now()))
	require.Equal(t, 1, f.store.OpenCount(state.SideLong))

	err := f.processor.ProcessTick(context.Background(), 100, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, state.ModeNeutral, f.store.Mode())
	// Open positions keep running, no forced close.
	assert.Equal(t, 1, f.store.OpenCount(state.SideLong))
	assert.False(t, *f.cancelled)

	// New entries are refused for the rest of the session.
	f.processor.SubmitSignal(engine.SignalSell)
	require.NoError(t, f.processor.ProcessTick(context.Background(), 100, time.Now().Add(3*time.Minute)))
	assert.Equal(t, 0, f.store.OpenCount(state.SideShort))
}

func TestGlobalTakeProfitLatchesWithoutClosing(t *testing.T) {
	p := baseParams()
	p.GlobalTPPct = 5
	f := newFixture(t, p)

	f.processor.SubmitSignal(engine.SignalBuy)
	require.NoError(t, f.tick(t, 100))

	// +60 unrealized on 1000 capital is past the +5% take-profit.
	require.NoError(t, f.tick(t, 160))
	assert.True(t, f.store.SessionTPHit())
	assert.Equal(t, 1, f.store.OpenCount(state.SideLong))
	assert.False(t, *f.cancelled)

	f.processor.SubmitSignal(engine.SignalSell)
	require.NoError(t, f.tick(t, 160))
	assert.Equal(t, 0, f.store.OpenCount(state.SideShort))
}

func TestTrendLimitEndsTrendAndSessionContinues(t *testing.T) {
	f := newFixture(t, baseParams())
	require.NoError(t, f.engine.StartTrend(trigger.TrendParams{Mode: "LONG_ONLY", TradeLimit: 1}))

	f.processor.SubmitSignal(engine.SignalBuy)
	require.NoError(t, f.tick(t, 100))
	require.Equal(t, 1, f.store.OpenCount(state.SideLong))

	require.NoError(t, f.tick(t, 100))
	assert.Nil(t, f.store.Trend())
	assert.Equal(t, state.ModeNeutral, f.store.Mode())
	assert.False(t, *f.cancelled)
}

func TestTriggersEvaluatedOnTick(t *testing.T) {
	f := newFixture(t, baseParams())

	f.processor.SubmitSignal(engine.SignalBuy)
	require.NoError(t, f.tick(t, 100))

	_, err := f.engine.AddTrigger(
		trigger.Condition{Type: trigger.PriceAbove, Value: 120},
		&trigger.CloseAllLongsAction{},
		true,
	)
	require.NoError(t, err)

	require.NoError(t, f.tick(t, 119))
	assert.Equal(t, 1, f.store.OpenCount(state.SideLong))

	require.NoError(t, f.tick(t, 121))
	assert.Equal(t, 0, f.store.OpenCount(state.SideLong))
}

func TestSignalQueueOverflowDropsSignal(t *testing.T) {
	f := newFixture(t, baseParams())
	for i := 0; i < 16; i++ {
		require.True(t, f.processor.SubmitSignal(engine.SignalBuy))
	}
	assert.False(t, f.processor.SubmitSignal(engine.SignalBuy))
}

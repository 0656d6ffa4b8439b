package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockFillsAggregateWeightedEntry(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()

	m.SetPrice(100)
	_, err := m.PlaceMarketOrder(ctx, AccountLongs, &MarketOrder{Symbol: "BTCUSDT", Side: Buy, Qty: "1.000", PositionIdx: 1})
	require.NoError(t, err)

	m.SetPrice(110)
	_, err = m.PlaceMarketOrder(ctx, AccountLongs, &MarketOrder{Symbol: "BTCUSDT", Side: Buy, Qty: "1.000", PositionIdx: 1})
	require.NoError(t, err)

	positions, err := m.GetPositions(ctx, AccountLongs, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 1, positions[0].PositionIdx)
	assert.InDelta(t, 2, positions[0].Size, 1e-9)
	assert.InDelta(t, 105, positions[0].EntryPrice, 1e-9)
}

func TestMockHedgeBooksAreIndependent(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()
	m.SetPrice(100)

	_, err := m.PlaceMarketOrder(ctx, AccountLongs, &MarketOrder{Symbol: "BTCUSDT", Side: Buy, Qty: "1.000", PositionIdx: 1})
	require.NoError(t, err)
	_, err = m.PlaceMarketOrder(ctx, AccountShorts, &MarketOrder{Symbol: "BTCUSDT", Side: Sell, Qty: "0.500", PositionIdx: 2})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, m.BookSize(1), 1e-9)
	assert.InDelta(t, 0.5, m.BookSize(2), 1e-9)
	assert.Equal(t, []string{AccountLongs, AccountShorts}, m.PlacedAccounts())

	positions, err := m.GetPositions(ctx, AccountLongs, "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, positions, 2)
}

func TestMockReduceOnlyOnFlatBookReportsAlreadyClosed(t *testing.T) {
	m := NewMockClient()
	m.SetPrice(100)

	res, err := m.PlaceMarketOrder(context.Background(), AccountLongs, &MarketOrder{
		Symbol: "BTCUSDT", Side: Sell, Qty: "1.000", ReduceOnly: true, PositionIdx: 1,
	})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.True(t, res.AlreadyClosed)
	assert.Equal(t, RetCodePositionNotExist, res.RetCode)
}

func TestMockReduceOnlyClosesBook(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()
	m.SetPrice(100)

	_, err := m.PlaceMarketOrder(ctx, AccountLongs, &MarketOrder{Symbol: "BTCUSDT", Side: Buy, Qty: "1.000", PositionIdx: 1})
	require.NoError(t, err)

	res, err := m.PlaceMarketOrder(ctx, AccountLongs, &MarketOrder{
		Symbol: "BTCUSDT", Side: Sell, Qty: "1.000", ReduceOnly: true, PositionIdx: 1,
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.InDelta(t, 0, m.BookSize(1), 1e-9)
}

func TestMockFailureInjection(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()
	m.SetPrice(100)

	m.FailNextPlace(110007, "insufficient available balance")
	res, err := m.PlaceMarketOrder(ctx, AccountLongs, &MarketOrder{Symbol: "BTCUSDT", Side: Buy, Qty: "1.000", PositionIdx: 1})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, 110007, res.RetCode)

	// One-shot: the next order fills normally.
	res, err = m.PlaceMarketOrder(ctx, AccountLongs, &MarketOrder{Symbol: "BTCUSDT", Side: Buy, Qty: "1.000", PositionIdx: 1})
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	m.FailTransport(true)
	_, err = m.PlaceMarketOrder(ctx, AccountLongs, &MarketOrder{Symbol: "BTCUSDT", Side: Buy, Qty: "1.000", PositionIdx: 1})
	assert.Error(t, err)
	_, err = m.GetPrice("BTCUSDT")
	assert.Error(t, err)
}

func TestMockInvalidOrders(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()
	m.SetPrice(100)

	res, err := m.PlaceMarketOrder(ctx, AccountLongs, &MarketOrder{Symbol: "BTCUSDT", Side: Buy, Qty: "1.000", PositionIdx: 7})
	require.NoError(t, err)
	assert.False(t, res.Accepted)

	res, err = m.PlaceMarketOrder(ctx, AccountLongs, &MarketOrder{Symbol: "BTCUSDT", Side: Buy, Qty: "abc", PositionIdx: 1})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
}

package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolSharesSessionsAcrossAccountsWithSameKey(t *testing.T) {
	pool, err := NewPool("https://example.test", 5, 5, map[string]Credentials{
		AccountLongs:  {ApiKey: "key-a", ApiSecret: "secret-a"},
		AccountShorts: {ApiKey: "key-a", ApiSecret: "secret-a"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{AccountLongs, AccountShorts}, pool.Accounts())
	assert.Equal(t, []string{AccountLongs}, pool.PrimaryAccounts())
	assert.Same(t, pool.sessions[AccountLongs], pool.sessions[AccountShorts])
}

func TestPoolKeepsDistinctSessionsPerKey(t *testing.T) {
	pool, err := NewPool("https://example.test", 5, 5, map[string]Credentials{
		AccountLongs:  {ApiKey: "key-a", ApiSecret: "secret-a"},
		AccountShorts: {ApiKey: "key-b", ApiSecret: "secret-b"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{AccountLongs, AccountShorts}, pool.PrimaryAccounts())
	assert.NotSame(t, pool.sessions[AccountLongs], pool.sessions[AccountShorts])
}

func TestPoolRejectsIncompleteCredentials(t *testing.T) {
	_, err := NewPool("https://example.test", 5, 5, map[string]Credentials{
		AccountLongs:  {ApiKey: "key-a", ApiSecret: "secret-a"},
		AccountShorts: {ApiKey: "key-b"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), AccountShorts)

	_, err = NewPool("https://example.test", 5, 5, nil)
	assert.Error(t, err)
}

func TestPoolRejectsUnknownAccount(t *testing.T) {
	pool, err := NewPool("https://example.test", 5, 5, map[string]Credentials{
		AccountLongs: {ApiKey: "key-a", ApiSecret: "secret-a"},
	})
	require.NoError(t, err)

	_, err = pool.PlaceMarketOrder(context.Background(), "profit", &MarketOrder{Symbol: "BTCUSDT", Side: Buy, Qty: "1.000", PositionIdx: 1})
	assert.Error(t, err)
}

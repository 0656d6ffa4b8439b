package trigger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor records every action call in order.
type fakeExecutor struct {
	calls   []string
	failSet bool
}

func (f *fakeExecutor) SetTradingMode(mode string, closeOpen bool) error {
	f.calls = append(f.calls, "mode:"+mode)
	if f.failSet {
		return fmt.Errorf("mode change refused")
	}
	return nil
}

func (f *fakeExecutor) StartTrend(p TrendParams) error {
	f.calls = append(f.calls, "trend:"+p.Mode)
	return nil
}

func (f *fakeExecutor) CloseAllPositions(side, reason string) (int, error) {
	f.calls = append(f.calls, "close:"+side)
	return 0, nil
}

func TestAddValidation(t *testing.T) {
	c := NewChecker()

	_, err := c.Add(Condition{Type: "PRICE_NEAR", Value: 100}, &CloseAllLongsAction{}, false)
	assert.Error(t, err)
	_, err = c.Add(Condition{Type: PriceAbove, Value: 0}, &CloseAllLongsAction{}, false)
	assert.Error(t, err)
	_, err = c.Add(Condition{Type: PriceAbove, Value: 100}, nil, false)
	assert.Error(t, err)

	id, err := c.Add(Condition{Type: PriceAbove, Value: 100}, &CloseAllLongsAction{}, false)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Len(t, c.Active(), 1)
}

func TestConditionMetAtBoundary(t *testing.T) {
	above := Condition{Type: PriceAbove, Value: 50000}
	assert.False(t, above.Met(49999.9))
	assert.True(t, above.Met(50000))
	assert.True(t, above.Met(50001))

	below := Condition{Type: PriceBelow, Value: 50000}
	assert.True(t, below.Met(49999.9))
	assert.True(t, below.Met(50000))
	assert.False(t, below.Met(50001))
}

func TestOneShotTriggerRoundTrip(t *testing.T) {
	c := NewChecker()
	exec := &fakeExecutor{}

	_, err := c.Add(Condition{Type: PriceAbove, Value: 50001}, &SetModeAction{Mode: "NEUTRAL"}, true)
	require.NoError(t, err)

	c.Evaluate(50000, exec)
	assert.Empty(t, exec.calls)

	c.Evaluate(50001.5, exec)
	assert.Equal(t, []string{"mode:NEUTRAL"}, exec.calls)
	assert.Empty(t, c.Active())

	// Deactivated, no refire while the condition keeps holding.
	c.Evaluate(50002, exec)
	assert.Len(t, exec.calls, 1)
}

func TestRepeatingTriggerFiresOnCrossingEdge(t *testing.T) {
	c := NewChecker()
	exec := &fakeExecutor{}

	_, err := c.Add(Condition{Type: PriceAbove, Value: 100}, &CloseAllShortsAction{}, false)
	require.NoError(t, err)

	c.Evaluate(101, exec)
	c.Evaluate(102, exec) // still above, no second fire
	c.Evaluate(99, exec)  // condition clears, trigger re-arms
	c.Evaluate(101, exec)

	assert.Equal(t, []string{"close:short", "close:short"}, exec.calls)
	assert.Len(t, c.Active(), 1)
}

func TestOneShotStaysActiveAfterActionFailure(t *testing.T) {
	c := NewChecker()
	exec := &fakeExecutor{failSet: true}

	_, err := c.Add(Condition{Type: PriceBelow, Value: 100}, &SetModeAction{Mode: "LONG_ONLY"}, true)
	require.NoError(t, err)

	c.Evaluate(99, exec)
	assert.Len(t, c.Active(), 1)

	// Once the action can succeed, the trigger fires on the next crossing.
	exec.failSet = false
	c.Evaluate(101, exec)
	c.Evaluate(99, exec)
	assert.Empty(t, c.Active())
	assert.Equal(t, []string{"mode:LONG_ONLY", "mode:LONG_ONLY"}, exec.calls)
}

func TestFailureDoesNotAbortRemainingTriggers(t *testing.T) {
	c := NewChecker()
	exec := &fakeExecutor{failSet: true}

	_, err := c.Add(Condition{Type: PriceAbove, Value: 100}, &SetModeAction{Mode: "NEUTRAL"}, false)
	require.NoError(t, err)
	_, err = c.Add(Condition{Type: PriceAbove, Value: 100}, &StartTrendAction{Params: TrendParams{Mode: "LONG_ONLY"}}, false)
	require.NoError(t, err)

	c.Evaluate(101, exec)
	assert.Equal(t, []string{"mode:NEUTRAL", "trend:LONG_ONLY"}, exec.calls)
}

func TestEvaluationRunsInRegistrationOrder(t *testing.T) {
	c := NewChecker()
	exec := &fakeExecutor{}

	_, err := c.Add(Condition{Type: PriceAbove, Value: 100}, &CloseAllLongsAction{}, false)
	require.NoError(t, err)
	_, err = c.Add(Condition{Type: PriceAbove, Value: 100}, &CloseAllShortsAction{}, false)
	require.NoError(t, err)
	_, err = c.Add(Condition{Type: PriceAbove, Value: 100}, &SetModeAction{Mode: "NEUTRAL"}, false)
	require.NoError(t, err)

	c.Evaluate(150, exec)
	assert.Equal(t, []string{"close:long", "close:short", "mode:NEUTRAL"}, exec.calls)
}

func TestRemove(t *testing.T) {
	c := NewChecker()
	id, err := c.Add(Condition{Type: PriceBelow, Value: 100}, &CloseAllLongsAction{}, false)
	require.NoError(t, err)

	assert.True(t, c.Remove(id))
	assert.False(t, c.Remove(id))
	assert.Empty(t, c.Active())
}

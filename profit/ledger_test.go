package profit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLedgerTotals(t *testing.T) {
	l := NewLedger(1000)

	l.RecordRealized(true, 10)
	l.RecordRealized(false, -4)
	l.SetUnrealized(2.5, -1.5)

	assert.InDelta(t, 6, l.RealizedPNL(), 1e-9)
	assert.InDelta(t, 1, l.UnrealizedPNL(), 1e-9)
	assert.InDelta(t, 7, l.TotalPNL(), 1e-9)
	assert.Equal(t, 2, l.ClosedTrades())

	long, short := l.RealizedBySide()
	assert.InDelta(t, 10, long, 1e-9)
	assert.InDelta(t, -4, short, 1e-9)
}

func TestSessionROI(t *testing.T) {
	l := NewLedger(1000)
	l.RecordRealized(true, -50)

	roi, ok := l.SessionROI()
	assert.True(t, ok)
	assert.InDelta(t, -5, roi, 1e-9)

	roi, ok = l.ROIOf(100)
	assert.True(t, ok)
	assert.InDelta(t, 10, roi, 1e-9)
}

func TestSessionROIZeroCapitalGuard(t *testing.T) {
	l := NewLedger(0)
	l.RecordRealized(true, -500)

	_, ok := l.SessionROI()
	assert.False(t, ok)
	_, ok = l.ROIOf(100)
	assert.False(t, ok)
}

func TestRestore(t *testing.T) {
	l := NewLedger(500)
	l.Restore(20, -5)
	assert.InDelta(t, 15, l.RealizedPNL(), 1e-9)
	assert.Equal(t, 0, l.ClosedTrades())
}

func TestIsFlat(t *testing.T) {
	l := NewLedger(500)
	assert.True(t, l.IsFlat())
	l.SetUnrealized(0.5, 0)
	assert.False(t, l.IsFlat())
	l.SetUnrealized(0, 0)
	assert.True(t, l.IsFlat())
}

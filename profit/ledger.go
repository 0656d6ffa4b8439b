package profit

import (
	"sync"

	"hedge_bybit_go/utils"
)

// Ledger tracks session-level capital and profit/loss figures: the immutable
// initial capital snapshot, cumulative realized PnL per hedge side, and the
// per-tick unrealized totals. It is the single source for ROI-based breaker
// math so every checker sees the same numbers.
type Ledger struct {
	mu sync.Mutex

	initialCapital float64

	realizedLong  float64
	realizedShort float64

	unrealizedLong  float64
	unrealizedShort float64

	closedTrades int
}

// NewLedger creates a ledger with the session's initial capital snapshot.
func NewLedger(initialCapital float64) *Ledger {
	return &Ledger{initialCapital: initialCapital}
}

// RecordRealized adds the realized PnL of one closed position leg.
func (l *Ledger) RecordRealized(long bool, pnl float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if long {
		l.realizedLong += pnl
	} else {
		l.realizedShort += pnl
	}
	l.closedTrades++
}

// SetUnrealized replaces the floating PnL totals, recomputed each tick from
// the open logical positions.
func (l *Ledger) SetUnrealized(long, short float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unrealizedLong = long
	l.unrealizedShort = short
}

// RealizedPNL returns cumulative realized profit across both sides.
func (l *Ledger) RealizedPNL() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.realizedLong + l.realizedShort
}

// RealizedBySide returns cumulative realized profit per side.
func (l *Ledger) RealizedBySide() (long, short float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.realizedLong, l.realizedShort
}

// UnrealizedPNL returns the floating profit across both sides.
func (l *Ledger) UnrealizedPNL() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unrealizedLong + l.unrealizedShort
}

// TotalPNL returns realized plus unrealized profit.
func (l *Ledger) TotalPNL() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.realizedLong + l.realizedShort + l.unrealizedLong + l.unrealizedShort
}

// InitialCapital returns the capital snapshot taken at session start.
func (l *Ledger) InitialCapital() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initialCapital
}

// SessionROI returns (realized+unrealized)/initial_capital*100. The second
// return value is false when initial capital is effectively zero, in which
// case no ROI check is possible.
func (l *Ledger) SessionROI() (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.initialCapital < 1e-6 {
		return 0, false
	}
	total := l.realizedLong + l.realizedShort + l.unrealizedLong + l.unrealizedShort
	return total / l.initialCapital * 100, true
}

// ROIOf converts an absolute PnL amount to percent of initial capital, with
// the same near-zero capital guard as SessionROI.
func (l *Ledger) ROIOf(pnl float64) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.initialCapital < 1e-6 {
		return 0, false
	}
	return pnl / l.initialCapital * 100, true
}

// ClosedTrades returns the number of realized closes recorded this session.
func (l *Ledger) ClosedTrades() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closedTrades
}

// Restore recovers realized totals from a persisted snapshot.
func (l *Ledger) Restore(realizedLong, realizedShort float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.realizedLong = realizedLong
	l.realizedShort = realizedShort
}

// IsFlat reports whether the ledger currently carries no floating PnL.
func (l *Ledger) IsFlat() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return utils.FloatEquals(l.unrealizedLong, 0) && utils.FloatEquals(l.unrealizedShort, 0)
}

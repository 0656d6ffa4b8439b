// engine/summary.go
package engine

import (
	"time"

	"hedge_bybit_go/state"
)

// Summary is a consistent snapshot of the session for the control surface
// and the final shutdown report.
type Summary struct {
	Symbol         string
	Mode           state.Mode
	SessionStart   time.Time
	InitialCapital float64

	LongPositions  []state.LogicalPosition
	ShortPositions []state.LogicalPosition
	MaxSlots       int

	RealizedPNL   float64
	UnrealizedPNL float64
	SessionROIPct float64
	ROIAvailable  bool
	ClosedTrades  int

	Trend *state.TrendState

	SessionTPHit        bool
	GlobalStopTriggered bool
	LastPrice           float64
}

// GetSummary assembles the session snapshot under the engine lock so the
// tick path cannot mutate state halfway through.
func (e *Engine) GetSummary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	roi, ok := e.ledger.SessionROI()
	return Summary{
		Symbol:              e.symbol,
		Mode:                e.store.Mode(),
		SessionStart:        e.store.SessionStart(),
		InitialCapital:      e.store.InitialCapital(),
		LongPositions:       e.store.Positions(state.SideLong),
		ShortPositions:      e.store.Positions(state.SideShort),
		MaxSlots:            e.store.MaxSlots(),
		RealizedPNL:         e.ledger.RealizedPNL(),
		UnrealizedPNL:       e.ledger.UnrealizedPNL(),
		SessionROIPct:       roi,
		ROIAvailable:        ok,
		ClosedTrades:        e.ledger.ClosedTrades(),
		Trend:               e.store.Trend(),
		SessionTPHit:        e.store.SessionTPHit(),
		GlobalStopTriggered: e.store.GlobalStopTriggered(),
		LastPrice:           e.lastPrice,
	}
}

// state/entities.go
package state

import "time"

// Side identifies one of the two independent hedge-mode books.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Sides lists both books in a stable order for iteration.
var Sides = []Side{SideLong, SideShort}

// Mode is the operation mode gating which sides may open new positions.
type Mode string

const (
	ModeLongShort Mode = "LONG_SHORT"
	ModeLongOnly  Mode = "LONG_ONLY"
	ModeShortOnly Mode = "SHORT_ONLY"
	ModeNeutral   Mode = "NEUTRAL"
)

// Valid reports whether m is one of the four known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeLongShort, ModeLongOnly, ModeShortOnly, ModeNeutral:
		return true
	}
	return false
}

// Permits reports whether the mode allows opening new positions on a side.
func (m Mode) Permits(side Side) bool {
	switch m {
	case ModeLongShort:
		return true
	case ModeLongOnly:
		return side == SideLong
	case ModeShortOnly:
		return side == SideShort
	default:
		return false
	}
}

// TimeLimitAction is what happens when the session time limit elapses.
type TimeLimitAction string

const (
	// TimeLimitStop flattens both books and terminates the session.
	TimeLimitStop TimeLimitAction = "STOP"
	// TimeLimitNeutral flips the mode to NEUTRAL and lets open positions run out.
	TimeLimitNeutral TimeLimitAction = "NEUTRAL"
)

// SessionTimeLimit bounds the session's wall-clock duration. Zero duration disables it.
type SessionTimeLimit struct {
	Duration time.Duration   `json:"duration"`
	Action   TimeLimitAction `json:"action"`
}

// LogicalPosition is one independently tracked open position leg. The
// exchange aggregates all legs of a side into a single physical position;
// this record is what lets the bot manage each entry on its own terms.
type LogicalPosition struct {
	ID            string    `json:"id"`
	Side          Side      `json:"side"`
	EntryPrice    float64   `json:"entry_price"`
	Size          float64   `json:"size"`
	EntryTime     time.Time `json:"entry_time"`
	StopLossPrice float64   `json:"stop_loss_price"` // 0 = no individual stop
	TSArmed       bool      `json:"ts_armed"`
	TSWatermark   float64   `json:"ts_watermark"` // best price seen since arming
	OrderID       string    `json:"order_id"`
	Origin        string    `json:"origin"` // signal or trigger that opened it
	UnrealizedPnl float64   `json:"-"`
}

// TrendState is a bounded one-side trading campaign with its own exit
// conditions, evaluated against the PnL snapshot taken when it started.
type TrendState struct {
	Mode           Mode          `json:"mode"`
	TradeLimit     int           `json:"trade_limit"`     // 0 = unlimited
	DurationLimit  time.Duration `json:"duration_limit"`  // 0 = unlimited
	TPROILimitPct  float64       `json:"tp_roi_limit"`    // >0 enables
	SLROILimitPct  float64       `json:"sl_roi_limit"`    // <0 enables
	StartTime      time.Time     `json:"start_time"`
	TradesExecuted int           `json:"trades_executed"`
	InitialPnl     float64       `json:"initial_pnl"`
}

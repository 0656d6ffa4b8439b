// trigger/actions.go
package trigger

import "fmt"

// Action is the interface over the fixed set of things a fired trigger can
// do. Each variant carries its own strongly-typed parameters; dispatch is a
// type switch, never a params map.
type Action interface {
	Description() string
}

// TrendParams are the bounds for a trend started by a trigger.
type TrendParams struct {
	Mode             string
	TradeLimit       int     // 0 = unlimited
	DurationLimitMin float64 // 0 = unlimited
	TPROILimitPct    float64 // >0 enables
	SLROILimitPct    float64 // <0 enables
}

// SetModeAction switches the operation mode.
type SetModeAction struct {
	Mode      string
	CloseOpen bool
}

func (a *SetModeAction) Description() string {
	return fmt.Sprintf("Set mode to %s (close_open=%v)", a.Mode, a.CloseOpen)
}

// StartTrendAction starts a bounded one-side trading campaign.
type StartTrendAction struct {
	Params TrendParams
}

func (a *StartTrendAction) Description() string {
	return fmt.Sprintf("Start %s trend (trades=%d, duration=%.0fm, tp=%.2f%%, sl=%.2f%%)",
		a.Params.Mode, a.Params.TradeLimit, a.Params.DurationLimitMin, a.Params.TPROILimitPct, a.Params.SLROILimitPct)
}

// CloseAllLongsAction closes every open long logical position.
type CloseAllLongsAction struct{}

func (a *CloseAllLongsAction) Description() string { return "Close all long positions" }

// CloseAllShortsAction closes every open short logical position.
type CloseAllShortsAction struct{}

func (a *CloseAllShortsAction) Description() string { return "Close all short positions" }

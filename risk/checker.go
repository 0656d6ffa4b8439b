// risk/checker.go
package risk

import (
	"fmt"
	"time"

	"hedge_bybit_go/logs"
	"hedge_bybit_go/profit"
	"hedge_bybit_go/state"
)

// Checker evaluates the two independent breaker families once per tick:
// trend limits (only while a trend runs, always recoverable) and session
// limits (time limit, global ROI take-profit, global ROI stop-loss).
type Checker struct {
	store  *state.Store
	ledger *profit.Ledger
}

// NewChecker creates a limit checker over the session store and ledger.
func NewChecker(store *state.Store, ledger *profit.Ledger) *Checker {
	return &Checker{store: store, ledger: ledger}
}

// CheckTrendLimits evaluates the active trend's own exit conditions against
// its PnL snapshot. Returns at most one TrendEnded verdict; the first limit
// in the fixed order (trade count, duration, ROI TP, ROI SL) wins.
func (c *Checker) CheckTrendLimits(now time.Time) []Verdict {
	trend := c.store.Trend()
	if trend == nil {
		return nil
	}

	if trend.TradeLimit > 0 && trend.TradesExecuted >= trend.TradeLimit {
		return []Verdict{&TrendEnded{
			Reason: fmt.Sprintf("trade limit reached (%d/%d)", trend.TradesExecuted, trend.TradeLimit),
		}}
	}

	if trend.DurationLimit > 0 {
		elapsed := now.Sub(trend.StartTime)
		if elapsed >= trend.DurationLimit {
			return []Verdict{&TrendEnded{
				Reason: fmt.Sprintf("duration limit reached (%.1fm elapsed)", elapsed.Minutes()),
			}}
		}
	}

	// Trend ROI is measured against the trend's own starting snapshot, not
	// the session total.
	trendPnl := c.ledger.TotalPNL() - trend.InitialPnl
	trendROI, ok := c.ledger.ROIOf(trendPnl)
	if !ok {
		return nil
	}

	if trend.TPROILimitPct > 0 && trendROI >= trend.TPROILimitPct {
		return []Verdict{&TrendEnded{
			Reason: fmt.Sprintf("take-profit ROI reached (%.2f%% >= %.2f%%)", trendROI, trend.TPROILimitPct),
		}}
	}
	if trend.SLROILimitPct < 0 && trendROI <= trend.SLROILimitPct {
		return []Verdict{&TrendEnded{
			Reason: fmt.Sprintf("stop-loss ROI reached (%.2f%% <= %.2f%%)", trendROI, trend.SLROILimitPct),
		}}
	}
	return nil
}

// CheckSessionLimits evaluates the session-wide breakers: time limit first,
// then global ROI take-profit, then global ROI stop-loss. The stop-loss is
// the single fatal path and is idempotent via the latched stop flag.
func (c *Checker) CheckSessionLimits(now time.Time) []Verdict {
	var verdicts []Verdict

	limit := c.store.TimeLimit()
	if limit.Duration > 0 {
		elapsed := now.Sub(c.store.SessionStart())
		if elapsed >= limit.Duration {
			switch limit.Action {
			case state.TimeLimitStop:
				if !c.store.GlobalStopTriggered() {
					roi, _ := c.ledger.SessionROI()
					return append(verdicts, &SessionStop{
						Reason: fmt.Sprintf("time limit reached (%.1fm elapsed)", elapsed.Minutes()),
						ROI:    roi,
					})
				}
			case state.TimeLimitNeutral:
				// One-shot via the session TP flag, same latch the original uses.
				if !c.store.SessionTPHit() {
					verdicts = append(verdicts, &SessionNeutral{
						Reason: fmt.Sprintf("time limit reached (%.1fm elapsed)", elapsed.Minutes()),
					})
				}
			default:
				logs.Warnf("[Risk] Unknown time limit action %q, ignoring time limit.", limit.Action)
			}
		}
	}

	roi, ok := c.ledger.SessionROI()
	if !ok {
		// Initial capital is effectively zero: no ROI check possible.
		return verdicts
	}

	if tp := c.store.GlobalTPPct(); tp > 0 && roi >= tp && !c.store.SessionTPHit() {
		verdicts = append(verdicts, &SessionTPReached{ROI: roi})
	}

	if sl := c.store.GlobalSLPct(); sl > 0 && roi <= -sl && !c.store.GlobalStopTriggered() {
		verdicts = append(verdicts, &SessionStop{
			Reason: fmt.Sprintf("global stop-loss breached (%.2f%% <= -%.2f%%)", roi, sl),
			ROI:    roi,
		})
	}
	return verdicts
}

// engine/commands.go
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hedge_bybit_go/exchange"
	"hedge_bybit_go/logs"
	"hedge_bybit_go/state"
	"hedge_bybit_go/trigger"
)

// SetTradingMode switches the operation mode. A transition away from a mode
// that permitted side S to one that forbids S closes all open S-side
// positions when closeOpen is set; otherwise they run to their natural exits
// while no new S-side entries are accepted. A manual mode change also ends
// any running trend.
func (e *Engine) SetTradingMode(mode string, closeOpen bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newMode := state.Mode(strings.ToUpper(mode))
	if !newMode.Valid() {
		return fmt.Errorf("invalid operation mode %q", mode)
	}

	if e.store.Trend() != nil {
		logs.Infof("[Engine] Manual mode change to %s ends the active trend.", newMode)
		e.store.ClearTrend()
	}

	if closeOpen {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		for _, side := range state.Sides {
			if newMode.Permits(side) || e.store.OpenCount(side) == 0 {
				continue
			}
			logs.Infof("[Engine] Mode change to %s: closing %d open %s positions.", newMode, e.store.OpenCount(side), side)
			if remaining, err := e.closeAllLocked(ctx, side, ReasonModeChange); err != nil {
				logs.Errorf("[Engine] Mode change close-out on %s side incomplete (%d left): %v", side, remaining, err)
			}
		}
	}

	if err := e.store.SetMode(newMode); err != nil {
		return err
	}
	logs.Infof("[Engine] Operation mode set to %s (close_open=%v).", newMode, closeOpen)
	return nil
}

// StartTrend begins a bounded one-side campaign. The trend's ROI limits are
// measured against the PnL snapshot taken here, not against session totals.
func (e *Engine) StartTrend(p trigger.TrendParams) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	mode := state.Mode(strings.ToUpper(p.Mode))
	if mode != state.ModeLongOnly && mode != state.ModeShortOnly {
		return fmt.Errorf("trend mode must be LONG_ONLY or SHORT_ONLY, got %q", p.Mode)
	}
	if p.TPROILimitPct < 0 {
		return fmt.Errorf("trend take-profit ROI limit cannot be negative, got %.2f", p.TPROILimitPct)
	}
	if p.SLROILimitPct > 0 {
		return fmt.Errorf("trend stop-loss ROI limit must be negative or zero, got %.2f", p.SLROILimitPct)
	}
	if e.store.Trend() != nil {
		return fmt.Errorf("a trend is already active")
	}

	t := state.TrendState{
		Mode:          mode,
		TradeLimit:    p.TradeLimit,
		DurationLimit: time.Duration(p.DurationLimitMin * float64(time.Minute)),
		TPROILimitPct: p.TPROILimitPct,
		SLROILimitPct: p.SLROILimitPct,
		StartTime:     time.Now(),
		InitialPnl:    e.ledger.TotalPNL(),
	}
	e.store.StartTrend(t)
	logs.Infof("[Engine] Trend started: %s, trades<=%d, duration<=%.0fm, tp=%.2f%%, sl=%.2f%% (pnl snapshot %.4f).",
		mode, p.TradeLimit, p.DurationLimitMin, p.TPROILimitPct, p.SLROILimitPct, t.InitialPnl)
	return nil
}

// EndTrend ends the active trend and reverts the mode to NEUTRAL. Trend
// limit hits are recoverable; the session continues.
func (e *Engine) EndTrend(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store.Trend() == nil {
		return
	}
	e.store.EndTrend()
	logs.Warnf("[Engine] Trend ended (%s), mode reverted to NEUTRAL.", reason)
}

// CloseAllPositions closes every open logical position on a side, retrying
// failed legs a bounded number of times. Each close is an independent order;
// there is no cross-order atomicity, so the remaining count is reported
// rather than silently swallowed.
func (e *Engine) CloseAllPositions(side string, reason string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := parseSide(side)
	if !ok {
		return 0, fmt.Errorf("invalid side %q", side)
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	return e.closeAllLocked(ctx, s, reason)
}

// closeAllLocked runs the close-all retry loop. Every open leg is attempted
// on each pass, so one persistently rejected leg cannot starve the others;
// a pass that closes nothing ends the retries. Caller must hold e.mu.
func (e *Engine) closeAllLocked(ctx context.Context, side state.Side, reason string) (int, error) {
	price, err := e.currentPrice()
	if err != nil {
		return e.store.OpenCount(side), fmt.Errorf("cannot close %s positions without a price: %w", side, err)
	}

	const maxPasses = 3
	for pass := 0; pass < maxPasses; pass++ {
		positions := e.store.Positions(side)
		if len(positions) == 0 {
			break
		}
		progress := false
		for _, p := range positions {
			if e.closeByID(ctx, side, p.ID, price, reason) {
				progress = true
			}
		}
		if !progress {
			break
		}
	}

	remaining := e.store.OpenCount(side)
	if remaining > 0 {
		return remaining, fmt.Errorf("%d %s positions remain open after close-all (%s)", remaining, side, reason)
	}
	return 0, nil
}

// ManualClose closes one logical position addressed by its slot index.
func (e *Engine) ManualClose(side string, index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := parseSide(side)
	if !ok {
		return fmt.Errorf("invalid side %q", side)
	}
	pos, ok := e.store.PositionAt(s, index)
	if !ok {
		return fmt.Errorf("no %s position at index %d", s, index)
	}
	price, err := e.currentPrice()
	if err != nil {
		return fmt.Errorf("cannot close without a price: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if !e.closeByID(ctx, s, pos.ID, price, ReasonManual) {
		return fmt.Errorf("close order for %s position %s was not accepted", s, pos.ID)
	}
	return nil
}

// FlattenAll closes everything on both sides, best effort. Used by the fatal
// session-stop path; legs that fail to close are logged and reported.
func (e *Engine) FlattenAll(ctx context.Context, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var failed []string
	for _, side := range state.Sides {
		if remaining, err := e.closeAllLocked(ctx, side, reason); err != nil {
			logs.Errorf("[Engine] Flatten on %s side incomplete: %v", side, err)
			failed = append(failed, fmt.Sprintf("%s(%d)", side, remaining))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("flatten incomplete: %s", strings.Join(failed, ", "))
	}
	return nil
}

// currentPrice returns the last tick price, falling back to a live query
// when the engine has not processed a tick yet.
func (e *Engine) currentPrice() (float64, error) {
	if e.lastPrice > 0 {
		return e.lastPrice, nil
	}
	return e.client.GetPrice(e.symbol)
}

// --- Risk parameter commands ---

func (e *Engine) SetIndividualStopLoss(pct float64) error {
	if pct < 0 {
		return fmt.Errorf("individual stop-loss percent cannot be negative")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.SetIndividualSLPct(pct)
	logs.Infof("[Engine] Individual stop-loss set to %.2f%% (applies to new positions).", pct)
	return nil
}

func (e *Engine) SetTrailingStopParams(activationPct, distancePct float64) error {
	if activationPct < 0 || distancePct < 0 {
		return fmt.Errorf("trailing stop parameters cannot be negative")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.SetTrailingParams(activationPct, distancePct)
	logs.Infof("[Engine] Trailing stop set to activation %.2f%% / distance %.2f%%.", activationPct, distancePct)
	return nil
}

func (e *Engine) SetGlobalStopLoss(pct float64) error {
	if pct < 0 {
		return fmt.Errorf("global stop-loss percent cannot be negative")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.SetGlobalSLPct(pct)
	logs.Infof("[Engine] Global stop-loss set to %.2f%% ROI.", pct)
	return nil
}

func (e *Engine) SetGlobalTakeProfit(pct float64) error {
	if pct < 0 {
		return fmt.Errorf("global take-profit percent cannot be negative")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.SetGlobalTPPct(pct)
	logs.Infof("[Engine] Global take-profit set to %.2f%% ROI.", pct)
	return nil
}

func (e *Engine) SetSessionTimeLimit(durationMinutes float64, action string) error {
	act := state.TimeLimitAction(strings.ToUpper(action))
	if act != state.TimeLimitStop && act != state.TimeLimitNeutral {
		return fmt.Errorf("time limit action must be STOP or NEUTRAL, got %q", action)
	}
	if durationMinutes < 0 {
		return fmt.Errorf("time limit duration cannot be negative")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.SetTimeLimit(state.SessionTimeLimit{
		Duration: time.Duration(durationMinutes * float64(time.Minute)),
		Action:   act,
	})
	logs.Infof("[Engine] Session time limit set to %.0fm, action %s.", durationMinutes, act)
	return nil
}

// SetAccountLeverage round-trips the new leverage through the exchange
// before adopting it for future position sizing.
func (e *Engine) SetAccountLeverage(leverage float64) error {
	if leverage <= 0 {
		return fmt.Errorf("leverage must be positive")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	for _, account := range exchange.RequiredAccounts {
		if err := e.client.SetLeverage(ctx, account, e.symbol, leverage, leverage); err != nil {
			return fmt.Errorf("%s account rejected leverage %.0fx: %w", account, leverage, err)
		}
	}
	e.store.SetLeverage(leverage)
	logs.Infof("[Engine] Leverage set to %.0fx on both sides.", leverage)
	return nil
}

// AddSlot raises the per-side logical slot cap.
func (e *Engine) AddSlot() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.store.AddSlot()
	logs.Infof("[Engine] Slot added, %d per side now.", n)
	return n
}

// RemoveSlot lowers the per-side slot cap; it cannot drop below the current
// open count on either side.
func (e *Engine) RemoveSlot() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.store.RemoveSlot()
	if err == nil {
		logs.Infof("[Engine] Slot removed, %d per side now.", n)
	}
	return n, err
}

// --- Trigger surface ---
// These delegate straight to the trigger checker, which has its own lock.
// They intentionally do not take e.mu: trigger evaluation calls back into
// engine commands, and taking both locks here would invert that order.

func (e *Engine) AddTrigger(cond trigger.Condition, action trigger.Action, oneShot bool) (string, error) {
	return e.triggers.Add(cond, action, oneShot)
}

func (e *Engine) RemoveTrigger(id string) bool {
	return e.triggers.Remove(id)
}

func (e *Engine) ActiveTriggers() []trigger.Snapshot {
	return e.triggers.Active()
}

// EvaluateTriggers runs the trigger checker against the tick price with the
// engine as executor.
func (e *Engine) EvaluateTriggers(price float64) {
	e.triggers.Evaluate(price, e)
}

// workflow/processor.go
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hedge_bybit_go/engine"
	"hedge_bybit_go/logs"
	"hedge_bybit_go/risk"
	"hedge_bybit_go/state"
)

// ErrSessionStopped is the single control-flow error allowed to escape the
// per-tick workflow. The run loop must treat it as "terminate the session
// now"; every other failure inside a tick is logged and absorbed.
var ErrSessionStopped = errors.New("session stopped by risk breaker")

// Processor drives one price tick to completion: per-position exits, trend
// limits, session breakers, conditional triggers, then any pending external
// signal. Ticks are processed strictly one at a time by the caller.
type Processor struct {
	engine  *engine.Engine
	checker *risk.Checker
	store   *state.Store

	// cancel stops the outer run loop; it is the cross-goroutine signal that
	// a fatal breaker fired, observable without waiting for the next tick.
	cancel context.CancelFunc

	signals chan engine.Signal
}

// NewProcessor wires the workflow over its collaborators.
func NewProcessor(eng *engine.Engine, checker *risk.Checker, store *state.Store, cancel context.CancelFunc) *Processor {
	return &Processor{
		engine:  eng,
		checker: checker,
		store:   store,
		cancel:  cancel,
		signals: make(chan engine.Signal, 16),
	}
}

// SubmitSignal queues an externally decided entry signal for the next tick.
// Returns false when the queue is full (signal dropped, caller may retry).
func (p *Processor) SubmitSignal(sig engine.Signal) bool {
	select {
	case p.signals <- sig:
		return true
	default:
		logs.Warnf("[Workflow] Signal queue full, dropping %s signal.", sig)
		return false
	}
}

// ProcessTick runs the full per-tick pipeline for one price update.
func (p *Processor) ProcessTick(ctx context.Context, price float64, ts time.Time) error {
	if p.store.GlobalStopTriggered() {
		return fmt.Errorf("tick rejected, stop flag already latched: %w", ErrSessionStopped)
	}

	// 1. Per-position PnL update and exit checks.
	p.engine.UpdateAndCheckExits(ctx, price, ts)

	// 2. Trend limits: recoverable, ends the campaign and goes NEUTRAL.
	for _, v := range p.checker.CheckTrendLimits(ts) {
		if ended, ok := v.(*risk.TrendEnded); ok {
			p.engine.EndTrend(ended.Reason)
		}
	}

	// 3. Session breakers. SessionStop is the only fatal path.
	for _, v := range p.checker.CheckSessionLimits(ts) {
		switch verdict := v.(type) {
		case *risk.SessionStop:
			return p.stopSession(ctx, verdict)
		case *risk.SessionNeutral:
			logs.Warnf("[Workflow] %s", verdict.Description())
			p.store.MarkSessionTPHit()
			if err := p.engine.SetTradingMode(string(state.ModeNeutral), false); err != nil {
				logs.Errorf("[Workflow] Failed to switch to NEUTRAL: %v", err)
			}
		case *risk.SessionTPReached:
			if p.store.MarkSessionTPHit() {
				logs.Warnf("[Workflow] %s. No new entries for the rest of the session.", verdict.Description())
			}
		default:
			logs.Warnf("[Workflow] Unknown session verdict type %T.", v)
		}
	}

	// 4. Conditional triggers, in registration order.
	p.engine.EvaluateTriggers(price)

	// 5. Forward at most one pending external signal.
	select {
	case sig := <-p.signals:
		p.engine.HandleSignal(ctx, sig, price, ts)
	default:
	}

	return nil
}

// stopSession executes the fatal breaker: flatten both books best-effort,
// latch the stop flag exactly once, signal cancellation to the run loop and
// surface the control error. A second invocation in the same session finds
// the flag latched and does not flatten again.
func (p *Processor) stopSession(ctx context.Context, verdict *risk.SessionStop) error {
	if !p.store.MarkGlobalStop() {
		return fmt.Errorf("stop flag already latched: %w", ErrSessionStopped)
	}

	logs.Warnf("[Workflow] !!! %s !!! Flattening all positions and stopping the session.", verdict.Description())
	if err := p.engine.FlattenAll(ctx, engine.ReasonSessionStop); err != nil {
		logs.Errorf("[Workflow] Flatten during session stop incomplete: %v", err)
	}

	p.cancel()
	return fmt.Errorf("%s: %w", verdict.Reason, ErrSessionStopped)
}

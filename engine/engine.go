// engine/engine.go
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"hedge_bybit_go/exchange"
	"hedge_bybit_go/logs"
	"hedge_bybit_go/profit"
	"hedge_bybit_go/state"
	"hedge_bybit_go/trigger"
	"hedge_bybit_go/utils"
)

// Ensure the engine can execute trigger actions.
var _ trigger.Executor = (*Engine)(nil)

// Signal is an externally decided directional entry signal.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
)

// Close reasons logged with every confirmed close.
const (
	ReasonStopLoss     = "STOP_LOSS"
	ReasonTrailingStop = "TRAILING_STOP"
	ReasonManual       = "MANUAL"
	ReasonModeChange   = "MODE_CHANGE"
	ReasonTrigger      = "TRIGGER"
	ReasonSessionStop  = "SESSION_STOP"
)

const commandTimeout = 30 * time.Second

// Engine is the stateful position manager. On every tick it updates
// unrealized PnL, runs per-position exits (individual stop loss, trailing
// stop) and executes open/close decisions against the exchange client,
// keeping the store consistent with confirmed fills only.
//
// The engine mutex serializes the tick path against the interactive command
// surface; both read-modify-write the same store.
type Engine struct {
	mu sync.Mutex

	client   exchange.Client
	store    *state.Store
	ledger   *profit.Ledger
	triggers *trigger.Checker

	symbol    string
	lastPrice float64
}

// New creates the engine over its collaborators.
func New(client exchange.Client, store *state.Store, ledger *profit.Ledger, triggers *trigger.Checker, symbol string) *Engine {
	return &Engine{
		client:   client,
		store:    store,
		ledger:   ledger,
		triggers: triggers,
		symbol:   symbol,
	}
}

type closeRequest struct {
	id     string
	reason string
}

// UpdateAndCheckExits recomputes unrealized PnL for every open logical
// position, advances trailing-stop state, and closes any position whose
// individual stop loss or trailing stop fired.
func (e *Engine) UpdateAndCheckExits(ctx context.Context, price float64, ts time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastPrice = price

	activationPct, distancePct := e.store.TrailingParams()

	for _, side := range state.Sides {
		var toClose []closeRequest
		for _, p := range e.store.Positions(side) {
			pnl := positionPnl(p.Side, p.EntryPrice, p.Size, price)
			e.store.UpdatePosition(side, p.ID, func(lp *state.LogicalPosition) {
				lp.UnrealizedPnl = pnl
			})

			if p.StopLossPrice > 0 && stopHit(side, price, p.StopLossPrice) {
				toClose = append(toClose, closeRequest{id: p.ID, reason: ReasonStopLoss})
				continue
			}

			if activationPct > 0 && distancePct > 0 {
				if req, ok := e.advanceTrailingStop(side, p, price, activationPct, distancePct); ok {
					toClose = append(toClose, req)
				}
			}
		}
		for _, req := range toClose {
			e.closeByID(ctx, side, req.id, price, req.reason)
		}
	}

	e.refreshUnrealized(price)
}

// advanceTrailingStop arms the trailing stop once price moves favorably past
// the activation threshold, ratchets the watermark while armed, and requests
// a close when price retraces the configured distance from the watermark.
func (e *Engine) advanceTrailingStop(side state.Side, p state.LogicalPosition, price, activationPct, distancePct float64) (closeRequest, bool) {
	armed := p.TSArmed
	watermark := p.TSWatermark

	if !armed {
		if favorableMovePct(side, p.EntryPrice, price) >= activationPct-utils.Epsilon {
			armed = true
			watermark = price
			e.store.UpdatePosition(side, p.ID, func(lp *state.LogicalPosition) {
				lp.TSArmed = true
				lp.TSWatermark = price
			})
			logs.Infof("[Engine] Trailing stop armed for %s %s at %.4f (entry %.4f).", side, p.ID, price, p.EntryPrice)
		}
	} else if isBetterPrice(side, price, watermark) {
		watermark = price
		e.store.UpdatePosition(side, p.ID, func(lp *state.LogicalPosition) {
			lp.TSWatermark = price
		})
	}

	if !armed {
		return closeRequest{}, false
	}

	stop := trailingStopPrice(side, watermark, distancePct)
	if stopHit(side, price, stop) {
		logs.Infof("[Engine] Trailing stop hit for %s %s: price %.4f retraced %.2f%% from watermark %.4f.",
			side, p.ID, price, distancePct, watermark)
		return closeRequest{id: p.ID, reason: ReasonTrailingStop}, true
	}
	return closeRequest{}, false
}

// refreshUnrealized recomputes the ledger's floating totals from the
// positions that remain open after this tick's closes.
func (e *Engine) refreshUnrealized(price float64) {
	var long, short float64
	for _, p := range e.store.Positions(state.SideLong) {
		long += positionPnl(state.SideLong, p.EntryPrice, p.Size, price)
	}
	for _, p := range e.store.Positions(state.SideShort) {
		short += positionPnl(state.SideShort, p.EntryPrice, p.Size, price)
	}
	e.ledger.SetUnrealized(long, short)
}

// HandleSignal opens a new logical position on the signal's side when the
// operation mode, trend, slot count and margin all permit it. Every blocked
// entry is a recoverable, logged condition, never an error for the session.
func (e *Engine) HandleSignal(ctx context.Context, sig Signal, price float64, ts time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var side state.Side
	switch sig {
	case SignalBuy:
		side = state.SideLong
	case SignalSell:
		side = state.SideShort
	default:
		logs.Warnf("[Engine] Ignoring unknown signal %q.", sig)
		return
	}

	if reason, ok := e.entryBlocked(ctx, side, price); ok {
		logs.Infof("[Engine] Entry on %s side blocked: %s", side, reason)
		return
	}

	e.openPosition(ctx, side, price, ts, "signal:"+string(sig))
}

// entryBlocked applies the entry gates in a fixed order and returns the
// first blocking reason.
func (e *Engine) entryBlocked(ctx context.Context, side state.Side, price float64) (string, bool) {
	if e.store.GlobalStopTriggered() {
		return "global stop-loss triggered", true
	}
	if e.store.SessionTPHit() {
		return "session take-profit already hit", true
	}
	mode := e.store.Mode()
	if !mode.Permits(side) {
		return fmt.Sprintf("mode %s forbids %s entries", mode, side), true
	}
	if trend := e.store.Trend(); trend != nil {
		if !trend.Mode.Permits(side) {
			return fmt.Sprintf("active trend is %s", trend.Mode), true
		}
		if trend.TradeLimit > 0 && trend.TradesExecuted >= trend.TradeLimit {
			return fmt.Sprintf("trend trade limit reached (%d)", trend.TradeLimit), true
		}
	}
	if open, max := e.store.OpenCount(side), e.store.MaxSlots(); open >= max {
		return fmt.Sprintf("no free slot (%d/%d)", open, max), true
	}

	margin := e.store.BaseOrderMargin()
	balance, err := e.client.GetAccountBalance(ctx, accountForSide(side))
	if err != nil {
		// Balance lookup failure is recoverable; the exchange rejects the
		// order anyway if margin is truly short.
		logs.Warnf("[Engine] Balance check failed, proceeding without margin gate: %v", err)
	} else if balance.AvailableBalance < margin {
		return fmt.Sprintf("insufficient margin (%.2f available, %.2f required)", balance.AvailableBalance, margin), true
	}
	return "", false
}

// openPosition computes and normalizes the order quantity, submits the
// hedge-mode market order, and creates the logical position only after the
// exchange accepted the order.
func (e *Engine) openPosition(ctx context.Context, side state.Side, price float64, ts time.Time, origin string) {
	margin := e.store.BaseOrderMargin()
	leverage := e.store.Leverage()
	rawQty := margin * leverage / price

	qty, qtyStr, err := e.normalizeQuantity(rawQty, false)
	if err != nil {
		logs.Errorf("[Engine] Cannot open %s position: %v", side, err)
		return
	}

	order := &exchange.MarketOrder{
		Symbol:      e.symbol,
		Side:        openOrderSide(side),
		Qty:         qtyStr,
		ReduceOnly:  false,
		PositionIdx: utils.PositionIndex(string(side)),
	}
	result, err := e.client.PlaceMarketOrder(ctx, accountForSide(side), order)
	if err != nil {
		logs.Errorf("[Engine] Open order transport failure on %s side: %v", side, err)
		return
	}
	if !result.Accepted {
		logs.Errorf("[Engine] Open order rejected on %s side: %s (code: %d)", side, result.RetMsg, result.RetCode)
		return
	}

	pos := state.LogicalPosition{
		ID:         uuid.NewString(),
		Side:       side,
		EntryPrice: price,
		Size:       qty,
		EntryTime:  ts,
		OrderID:    result.OrderID,
		Origin:     origin,
	}
	if slPct := e.store.IndividualSLPct(); slPct > 0 {
		pos.StopLossPrice = stopLossPrice(side, price, slPct)
	}

	if err := e.store.AppendPosition(pos); err != nil {
		logs.Errorf("[Engine] Order %s filled but position could not be recorded: %v", result.OrderID, err)
		return
	}
	e.store.IncrementTrendTrades()
	logs.Infof("[Engine] Opened %s position %s: size=%.6f entry=%.4f sl=%.4f (order %s, %s)",
		side, pos.ID, pos.Size, pos.EntryPrice, pos.StopLossPrice, result.OrderID, origin)
}

// closeByID closes one logical position with a reduce-only market order.
// The store is only mutated after the exchange confirmed the order; a
// rejection because the position is already flat on the venue still cleans
// up the logical record.
func (e *Engine) closeByID(ctx context.Context, side state.Side, id string, price float64, reason string) bool {
	var pos state.LogicalPosition
	found := false
	for _, p := range e.store.Positions(side) {
		if p.ID == id {
			pos = p
			found = true
			break
		}
	}
	if !found {
		return false
	}

	_, qtyStr, err := e.normalizeQuantity(pos.Size, true)
	if err != nil {
		logs.Errorf("[Engine] Cannot close %s position %s: %v", side, id, err)
		return false
	}

	order := &exchange.MarketOrder{
		Symbol:      e.symbol,
		Side:        closeOrderSide(side),
		Qty:         qtyStr,
		ReduceOnly:  true,
		PositionIdx: utils.PositionIndex(string(side)),
	}
	result, err := e.client.PlaceMarketOrder(ctx, accountForSide(side), order)
	if err != nil {
		logs.Errorf("[Engine] Close order transport failure for %s %s: %v", side, id, err)
		return false
	}
	if !result.Accepted && !result.AlreadyClosed {
		logs.Errorf("[Engine] Close order rejected for %s %s: %s (code: %d)", side, id, result.RetMsg, result.RetCode)
		return false
	}
	if result.AlreadyClosed {
		logs.Warnf("[Engine] Exchange reports %s position already flat, removing logical record %s.", side, id)
	}

	pnl := positionPnl(side, pos.EntryPrice, pos.Size, price)
	e.store.RemoveClosedPosition(side, id, pnl)
	e.ledger.RecordRealized(side == state.SideLong, pnl)
	logs.Infof("[Engine] Closed %s position %s: reason=%s exit=%.4f entry=%.4f size=%.6f realized=%.4f USDT",
		side, id, reason, price, pos.EntryPrice, pos.Size, pnl)
	return true
}

// normalizeQuantity rounds a raw size to the instrument's step and formats
// it for the wire. Constraint lookup failure is recoverable: the raw value
// is formatted as-is and the exchange gets the final word.
func (e *Engine) normalizeQuantity(rawQty float64, reduceOnly bool) (float64, string, error) {
	constraints, err := e.client.GetInstrumentConstraints(e.symbol)
	if err != nil {
		logs.Warnf("[Engine] Instrument constraints unavailable, sending unrounded quantity: %v", err)
		return rawQty, utils.FormatQuantity(rawQty, 0), nil
	}

	qty := rawQty
	if !reduceOnly {
		qty, err = utils.RoundQuantityToStep(rawQty, constraints.QtyStep)
		if err != nil {
			return 0, "", err
		}
	}
	if err := utils.ValidateQuantity(qty, constraints.MinOrderQty, reduceOnly); err != nil {
		return 0, "", err
	}
	return qty, utils.FormatQuantity(qty, constraints.QtyStep), nil
}

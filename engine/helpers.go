// engine/helpers.go
package engine

import (
	"hedge_bybit_go/exchange"
	"hedge_bybit_go/state"
	"hedge_bybit_go/utils"
)

// positionPnl is the unrealized (or, at close, realized) PnL of one leg.
func positionPnl(side state.Side, entry, size, price float64) float64 {
	if side == state.SideLong {
		return (price - entry) * size
	}
	return (entry - price) * size
}

// stopHit reports whether price has reached a protective stop level.
func stopHit(side state.Side, price, stop float64) bool {
	if side == state.SideLong {
		return price <= stop+utils.Epsilon
	}
	return price >= stop-utils.Epsilon
}

// favorableMovePct is the percent move from entry in the position's favor.
func favorableMovePct(side state.Side, entry, price float64) float64 {
	if entry <= 0 {
		return 0
	}
	if side == state.SideLong {
		return (price - entry) / entry * 100
	}
	return (entry - price) / entry * 100
}

// isBetterPrice reports whether price improves on the current watermark.
func isBetterPrice(side state.Side, price, watermark float64) bool {
	if side == state.SideLong {
		return price > watermark
	}
	return price < watermark
}

// trailingStopPrice is the retracement level distancePct away from the watermark.
func trailingStopPrice(side state.Side, watermark, distancePct float64) float64 {
	if side == state.SideLong {
		return watermark * (1 - distancePct/100)
	}
	return watermark * (1 + distancePct/100)
}

// stopLossPrice derives the individual stop level from the entry price.
func stopLossPrice(side state.Side, entry, slPct float64) float64 {
	if side == state.SideLong {
		return entry * (1 - slPct/100)
	}
	return entry * (1 + slPct/100)
}

// accountForSide maps a logical side to the trading account that holds it.
// Long legs live on the longs account, short legs on the shorts account.
func accountForSide(side state.Side) string {
	if side == state.SideLong {
		return exchange.AccountLongs
	}
	return exchange.AccountShorts
}

// openOrderSide maps a logical side to the order side that opens it.
func openOrderSide(side state.Side) exchange.OrderSide {
	if side == state.SideLong {
		return exchange.Buy
	}
	return exchange.Sell
}

// closeOrderSide maps a logical side to the order side that reduces it.
func closeOrderSide(side state.Side) exchange.OrderSide {
	if side == state.SideLong {
		return exchange.Sell
	}
	return exchange.Buy
}

func parseSide(s string) (state.Side, bool) {
	switch state.Side(s) {
	case state.SideLong:
		return state.SideLong, true
	case state.SideShort:
		return state.SideShort, true
	default:
		return "", false
	}
}

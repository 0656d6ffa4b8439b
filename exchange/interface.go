package exchange

import (
	"context"
	"time"
)

// OrderSide is the exchange-level order direction ("Buy" or "Sell").
type OrderSide string

const (
	Buy  OrderSide = "Buy"
	Sell OrderSide = "Sell"
)

// Well-known Bybit v5 return codes the core cares about.
const (
	RetCodeOK                = 0
	RetCodePositionNotExist  = 110001 // reduce-only order against an already-flat position
	RetCodeLeverageNotModify = 110043 // leverage already at the requested value
)

// MarketOrder describes a hedge-mode market order to be submitted.
type MarketOrder struct {
	Symbol      string
	Side        OrderSide
	Qty         string // pre-formatted to the instrument's step precision
	ReduceOnly  bool
	PositionIdx int // 1 = long book, 2 = short book
	OrderLinkID string
}

// OrderResult is the structured outcome of an order request. Transport and
// API errors are translated into this shape at the client boundary; callers
// never see raw HTTP failures.
type OrderResult struct {
	Accepted bool
	OrderID  string
	RetCode  int
	RetMsg   string
	// AlreadyClosed reports that a reduce-only close was rejected because the
	// exchange position no longer exists. Callers treat this as a successful
	// close for bookkeeping purposes.
	AlreadyClosed bool
}

// PositionEntry is one leg of the exchange's own position record.
type PositionEntry struct {
	Symbol        string
	Side          string // "Buy" (long) or "Sell" (short)
	Size          float64
	EntryPrice    float64
	PositionIdx   int
	UnrealizedPnl float64
	Leverage      float64
}

// InstrumentConstraints holds the tradable limits for one symbol.
type InstrumentConstraints struct {
	Symbol      string
	TickSize    float64
	QtyStep     float64
	MinOrderQty float64
	FetchedAt   time.Time
}

// AccountBalance summarises the unified account wallet.
type AccountBalance struct {
	TotalEquity      float64
	AvailableBalance float64
}

// Client is the execution adapter contract consumed by the core. Signed
// operations are scoped to one of the configured trading accounts; market
// data is unauthenticated and account-free. All calls are synchronous with
// bounded timeouts; "already in desired state" outcomes (leverage unchanged,
// position already flat) surface as success.
type Client interface {
	// SyncTime synchronizes every session with the server. Must be called
	// before any signed request.
	SyncTime() error

	// GetPrice returns the latest traded price for a symbol.
	GetPrice(symbol string) (float64, error)

	// PlaceMarketOrder submits a hedge-mode market order through an account.
	PlaceMarketOrder(ctx context.Context, account string, order *MarketOrder) (*OrderResult, error)

	// CancelOrder cancels an active order by id.
	CancelOrder(ctx context.Context, account, symbol, orderID string) (*OrderResult, error)

	// GetPositions returns an account's current position legs for a symbol.
	GetPositions(ctx context.Context, account, symbol string) ([]PositionEntry, error)

	// SetLeverage sets buy/sell leverage for a symbol on an account.
	// Unchanged leverage is success.
	SetLeverage(ctx context.Context, account, symbol string, buyLeverage, sellLeverage float64) error

	// GetInstrumentConstraints returns step/min/tick limits for a symbol, served
	// from a TTL cache.
	GetInstrumentConstraints(symbol string) (*InstrumentConstraints, error)

	// GetAccountBalance returns equity and available balance for an account.
	GetAccountBalance(ctx context.Context, account string) (*AccountBalance, error)
}

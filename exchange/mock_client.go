// exchange/mock_client.go
package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"hedge_bybit_go/logs"
)

// Ensure MockClient struct implements Client interface
var _ Client = (*MockClient)(nil)

// MockClient is an in-memory exchange simulation used for dry runs and tests.
// Market orders fill instantly at the current mock price; the two hedge-mode
// books (positionIdx 1 and 2) are tracked independently like the real venue.
// Account routing is recorded but all accounts share one simulated wallet.
type MockClient struct {
	mu sync.Mutex

	price     float64
	equity    float64
	available float64

	// Aggregated exchange-side books keyed by positionIdx (1=long, 2=short).
	books map[int]*mockBook

	placedOrders   []MarketOrder
	placedAccounts []string
	orderSeq       int

	// Failure injection for tests: when set, the next PlaceMarketOrder
	// returns this result instead of filling.
	nextPlaceFailure *OrderResult
	// When true, calls fail at the transport level.
	failTransport bool

	constraints *InstrumentConstraints

	feedStop chan struct{}
}

type mockBook struct {
	size       float64
	entryPrice float64
}

// NewMockClient creates a mock exchange with sane defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		equity:    10000,
		available: 10000,
		books: map[int]*mockBook{
			1: {},
			2: {},
		},
		constraints: &InstrumentConstraints{
			Symbol:      "BTCUSDT",
			TickSize:    0.1,
			QtyStep:     0.001,
			MinOrderQty: 0.001,
			FetchedAt:   time.Now(),
		},
	}
}

// Start launches a random-walk price feed so simulation runs have a moving
// market without any external data source. Idempotent per client.
func (m *MockClient) Start() {
	m.mu.Lock()
	if m.feedStop != nil {
		m.mu.Unlock()
		return
	}
	if m.price <= 0 {
		m.price = 50000
	}
	m.feedStop = make(chan struct{})
	stop := m.feedStop
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.mu.Lock()
				// +/- 0.1% per step keeps the walk realistic at a 1s cadence.
				m.price *= 1 + (rand.Float64()-0.5)*0.002
				m.mu.Unlock()
			}
		}
	}()
}

// StopFeed stops the random-walk price feed started by Start.
func (m *MockClient) StopFeed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.feedStop != nil {
		close(m.feedStop)
		m.feedStop = nil
	}
}

// SetPrice updates the simulated market price.
func (m *MockClient) SetPrice(price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.price = price
}

// SetBalance updates the simulated account balance.
func (m *MockClient) SetBalance(equity, available float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = equity
	m.available = available
}

// SetConstraints overrides the instrument constraints served by the mock.
func (m *MockClient) SetConstraints(c *InstrumentConstraints) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.constraints = c
}

// FailNextPlace makes the next PlaceMarketOrder return a rejection with the
// given return code instead of filling.
func (m *MockClient) FailNextPlace(retCode int, retMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPlaceFailure = &OrderResult{Accepted: false, RetCode: retCode, RetMsg: retMsg}
}

// FailTransport makes subsequent calls fail at the transport level.
func (m *MockClient) FailTransport(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTransport = fail
}

// PlacedOrders returns a copy of every order submitted to the mock.
func (m *MockClient) PlacedOrders() []MarketOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MarketOrder, len(m.placedOrders))
	copy(out, m.placedOrders)
	return out
}

// PlacedAccounts returns the account each recorded order was routed through,
// index-aligned with PlacedOrders.
func (m *MockClient) PlacedAccounts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.placedAccounts))
	copy(out, m.placedAccounts)
	return out
}

// BookSize returns the aggregated exchange position size for a positionIdx.
func (m *MockClient) BookSize(positionIdx int) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.books[positionIdx]; ok {
		return b.size
	}
	return 0
}

func (m *MockClient) SyncTime() error {
	return nil
}

func (m *MockClient) GetPrice(symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTransport {
		return 0, fmt.Errorf("mock transport failure")
	}
	if m.price <= 0 {
		return 0, fmt.Errorf("mock price not set for %s", symbol)
	}
	return m.price, nil
}

func (m *MockClient) PlaceMarketOrder(ctx context.Context, account string, order *MarketOrder) (*OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failTransport {
		return nil, fmt.Errorf("mock transport failure")
	}
	m.placedOrders = append(m.placedOrders, *order)
	m.placedAccounts = append(m.placedAccounts, account)

	if m.nextPlaceFailure != nil {
		res := m.nextPlaceFailure
		m.nextPlaceFailure = nil
		if order.ReduceOnly && res.RetCode == RetCodePositionNotExist {
			res.AlreadyClosed = true
		}
		return res, nil
	}

	book, ok := m.books[order.PositionIdx]
	if !ok {
		return &OrderResult{Accepted: false, RetCode: 10001, RetMsg: fmt.Sprintf("invalid positionIdx %d", order.PositionIdx)}, nil
	}

	qty, err := strconv.ParseFloat(order.Qty, 64)
	if err != nil || qty <= 0 {
		return &OrderResult{Accepted: false, RetCode: 10001, RetMsg: fmt.Sprintf("invalid qty '%s'", order.Qty)}, nil
	}

	if order.ReduceOnly {
		if book.size == 0 {
			return &OrderResult{
				Accepted:      false,
				RetCode:       RetCodePositionNotExist,
				RetMsg:        "position not exist",
				AlreadyClosed: true,
			}, nil
		}
		book.size -= qty
		if book.size <= 0 {
			book.size = 0
			book.entryPrice = 0
		}
	} else {
		// Weighted average entry, the way the venue aggregates fills.
		newSize := book.size + qty
		book.entryPrice = (book.entryPrice*book.size + m.price*qty) / newSize
		book.size = newSize
	}

	m.orderSeq++
	orderID := fmt.Sprintf("mock-%d", m.orderSeq)
	logs.Debugf("[Mock Client] Filled %s %s qty=%s reduceOnly=%v idx=%d @ %.4f",
		order.Side, order.Symbol, order.Qty, order.ReduceOnly, order.PositionIdx, m.price)
	return &OrderResult{Accepted: true, OrderID: orderID, RetCode: RetCodeOK, RetMsg: "OK"}, nil
}

func (m *MockClient) CancelOrder(ctx context.Context, account, symbol, orderID string) (*OrderResult, error) {
	// Market orders fill instantly in the mock, so there is never anything to cancel.
	return &OrderResult{Accepted: true, OrderID: orderID, RetCode: RetCodeOK, RetMsg: "OK"}, nil
}

func (m *MockClient) GetPositions(ctx context.Context, account, symbol string) ([]PositionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTransport {
		return nil, fmt.Errorf("mock transport failure")
	}

	var entries []PositionEntry
	for _, idx := range []int{1, 2} {
		book := m.books[idx]
		if book == nil || book.size == 0 {
			continue
		}
		side := "Buy"
		pnl := (m.price - book.entryPrice) * book.size
		if idx == 2 {
			side = "Sell"
			pnl = (book.entryPrice - m.price) * book.size
		}
		entries = append(entries, PositionEntry{
			Symbol:        symbol,
			Side:          side,
			Size:          book.size,
			EntryPrice:    book.entryPrice,
			PositionIdx:   idx,
			UnrealizedPnl: pnl,
		})
	}
	return entries, nil
}

func (m *MockClient) SetLeverage(ctx context.Context, account, symbol string, buyLeverage, sellLeverage float64) error {
	if m.failTransport {
		return fmt.Errorf("mock transport failure")
	}
	return nil
}

func (m *MockClient) GetInstrumentConstraints(symbol string) (*InstrumentConstraints, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTransport {
		return nil, fmt.Errorf("mock transport failure")
	}
	c := *m.constraints
	c.Symbol = symbol
	return &c, nil
}

func (m *MockClient) GetAccountBalance(ctx context.Context, account string) (*AccountBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTransport {
		return nil, fmt.Errorf("mock transport failure")
	}
	return &AccountBalance{TotalEquity: m.equity, AvailableBalance: m.available}, nil
}

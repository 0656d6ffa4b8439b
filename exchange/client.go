// exchange/client.go
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"hedge_bybit_go/logs"
)

const (
	categoryLinear = "linear"
	accountUnified = "UNIFIED"

	constraintsCacheTTL = time.Hour
)

// APIClient is one signed session against the Bybit v5 REST API. The Pool
// composes these into the account-routed Client the core consumes.
type APIClient struct {
	ApiKey     string
	ApiSecret  string
	BaseURL    string
	Http       *http.Client
	timeOffset int64 // Difference between server time and local time in ms
	recvWindow int64 // Request valid window time (milliseconds)

	constraintsCache map[string]*InstrumentConstraints
	constraintsMutex sync.RWMutex

	mu sync.Mutex // Serializes signed requests through this instance
}

// bybitEnvelope is the common response wrapper every v5 endpoint returns.
type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// NewAPIClient creates a new API client instance.
func NewAPIClient(apiKey, apiSecret, baseURL string, timeoutSeconds, recvWindowSeconds int) *APIClient {
	return &APIClient{
		ApiKey:           apiKey,
		ApiSecret:        apiSecret,
		BaseURL:          strings.TrimRight(baseURL, "/"),
		Http:             &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
		timeOffset:       0, // Initially 0, updated after SyncTime
		recvWindow:       int64(recvWindowSeconds * 1000),
		constraintsCache: make(map[string]*InstrumentConstraints),
	}
}

// SyncTime synchronizes time with the Bybit server and calculates the offset.
func (c *APIClient) SyncTime() error {
	resp, err := c.Http.Get(c.BaseURL + "/v5/market/time")
	if err != nil {
		return fmt.Errorf("unable to get server time: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read time response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server time API error: HTTP %d, body: %s", resp.StatusCode, string(body))
	}

	var env bybitEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("failed to parse server time JSON: %w, body: %s", err, string(body))
	}
	var timeResult struct {
		TimeNano string `json:"timeNano"`
	}
	if err := json.Unmarshal(env.Result, &timeResult); err != nil {
		return fmt.Errorf("failed to parse server time result: %w", err)
	}
	serverNano, err := strconv.ParseInt(timeResult.TimeNano, 10, 64)
	if err != nil {
		return fmt.Errorf("failed to parse server timeNano '%s': %w", timeResult.TimeNano, err)
	}

	localTime := time.Now().UnixMilli()
	c.timeOffset = serverNano/int64(time.Millisecond) - localTime
	logs.Infof("[API Client] Time synchronization completed, local vs server time difference: %d ms", c.timeOffset)
	return nil
}

// sign produces the Bybit v5 HMAC signature over timestamp+key+recvWindow+payload.
func (c *APIClient) sign(timestamp int64, payload string) string {
	raw := strconv.FormatInt(timestamp, 10) + c.ApiKey + strconv.FormatInt(c.recvWindow, 10) + payload
	mac := hmac.New(sha256.New, []byte(c.ApiSecret))
	_, _ = mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// sendRequest performs a signed v5 request and decodes the response envelope.
// It returns the business retCode/retMsg separately from transport errors so
// callers can translate exchange rejections without string matching.
func (c *APIClient) sendRequest(ctx context.Context, method, endpoint string, query url.Values, bodyParams map[string]interface{}, target interface{}) (int, string, error) {
	// Lock so only one goroutine sends signed requests through this instance
	// at a time; the signature timestamp and timeOffset are shared state.
	c.mu.Lock()
	defer c.mu.Unlock()

	timestamp := time.Now().UnixMilli() + c.timeOffset

	var payload string
	var bodyReader io.Reader
	fullURL := c.BaseURL + endpoint

	if method == http.MethodGet {
		payload = query.Encode()
		if payload != "" {
			fullURL += "?" + payload
		}
	} else {
		bodyBytes, err := json.Marshal(bodyParams)
		if err != nil {
			return 0, "", fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = string(bodyBytes)
		bodyReader = strings.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-BAPI-API-KEY", c.ApiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-BAPI-RECV-WINDOW", strconv.FormatInt(c.recvWindow, 10))
	req.Header.Set("X-BAPI-SIGN", c.sign(timestamp, payload))
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Http.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return 0, "", fmt.Errorf("API error: HTTP %d, body: %s", resp.StatusCode, string(body))
	}

	var env bybitEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return 0, "", fmt.Errorf("failed to decode response envelope: %w, body: %s", err, string(body))
	}

	if target != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, target); err != nil {
			return env.RetCode, env.RetMsg, fmt.Errorf("failed to decode result: %w, result: %s", err, string(env.Result))
		}
	}
	return env.RetCode, env.RetMsg, nil
}

// GetPrice retrieves the latest traded price for a symbol.
func (c *APIClient) GetPrice(symbol string) (float64, error) {
	query := url.Values{}
	query.Set("category", categoryLinear)
	query.Set("symbol", symbol)

	var result struct {
		List []struct {
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	retCode, retMsg, err := c.sendRequest(context.Background(), http.MethodGet, "/v5/market/tickers", query, nil, &result)
	if err != nil {
		return 0, err
	}
	if retCode != RetCodeOK {
		return 0, fmt.Errorf("ticker API error: %s (code: %d)", retMsg, retCode)
	}
	if len(result.List) == 0 {
		return 0, fmt.Errorf("ticker API returned no entries for %s", symbol)
	}
	return strconv.ParseFloat(result.List[0].LastPrice, 64)
}

// PlaceMarketOrder submits a hedge-mode market order and translates the
// exchange response into a structured OrderResult. A reduce-only order
// rejected with "position not exist" is reported as AlreadyClosed, not error.
func (c *APIClient) PlaceMarketOrder(ctx context.Context, order *MarketOrder) (*OrderResult, error) {
	body := map[string]interface{}{
		"category":    categoryLinear,
		"symbol":      order.Symbol,
		"side":        string(order.Side),
		"orderType":   "Market",
		"qty":         order.Qty,
		"reduceOnly":  order.ReduceOnly,
		"positionIdx": order.PositionIdx,
	}
	if order.OrderLinkID != "" {
		body["orderLinkId"] = order.OrderLinkID
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	retCode, retMsg, err := c.sendRequest(ctx, http.MethodPost, "/v5/order/create", nil, body, &result)
	if err != nil {
		return nil, err
	}

	res := &OrderResult{
		Accepted: retCode == RetCodeOK,
		OrderID:  result.OrderID,
		RetCode:  retCode,
		RetMsg:   retMsg,
	}
	if !res.Accepted && order.ReduceOnly && retCode == RetCodePositionNotExist {
		res.AlreadyClosed = true
	}
	return res, nil
}

// CancelOrder cancels an active order.
func (c *APIClient) CancelOrder(ctx context.Context, symbol, orderID string) (*OrderResult, error) {
	body := map[string]interface{}{
		"category": categoryLinear,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	retCode, retMsg, err := c.sendRequest(ctx, http.MethodPost, "/v5/order/cancel", nil, body, &result)
	if err != nil {
		return nil, err
	}
	return &OrderResult{
		Accepted: retCode == RetCodeOK,
		OrderID:  result.OrderID,
		RetCode:  retCode,
		RetMsg:   retMsg,
	}, nil
}

// GetPositions returns the exchange's position legs for a symbol. Legs with
// zero size are filtered out.
func (c *APIClient) GetPositions(ctx context.Context, symbol string) ([]PositionEntry, error) {
	query := url.Values{}
	query.Set("category", categoryLinear)
	query.Set("symbol", symbol)

	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			PositionIdx   int    `json:"positionIdx"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			Leverage      string `json:"leverage"`
		} `json:"list"`
	}
	retCode, retMsg, err := c.sendRequest(ctx, http.MethodGet, "/v5/position/list", query, nil, &result)
	if err != nil {
		return nil, err
	}
	if retCode != RetCodeOK {
		return nil, fmt.Errorf("position list API error: %s (code: %d)", retMsg, retCode)
	}

	entries := make([]PositionEntry, 0, len(result.List))
	for _, p := range result.List {
		size, _ := strconv.ParseFloat(p.Size, 64)
		if size == 0 {
			continue
		}
		entryPrice, _ := strconv.ParseFloat(p.AvgPrice, 64)
		upnl, _ := strconv.ParseFloat(p.UnrealisedPnl, 64)
		leverage, _ := strconv.ParseFloat(p.Leverage, 64)
		entries = append(entries, PositionEntry{
			Symbol:        p.Symbol,
			Side:          p.Side,
			Size:          size,
			EntryPrice:    entryPrice,
			PositionIdx:   p.PositionIdx,
			UnrealizedPnl: upnl,
			Leverage:      leverage,
		})
	}
	return entries, nil
}

// SetLeverage sets buy/sell leverage for a symbol. The exchange rejects the
// call with a dedicated code when leverage is already at the requested value;
// that outcome is success for the caller.
func (c *APIClient) SetLeverage(ctx context.Context, symbol string, buyLeverage, sellLeverage float64) error {
	body := map[string]interface{}{
		"category":     categoryLinear,
		"symbol":       symbol,
		"buyLeverage":  strconv.FormatFloat(buyLeverage, 'f', -1, 64),
		"sellLeverage": strconv.FormatFloat(sellLeverage, 'f', -1, 64),
	}
	retCode, retMsg, err := c.sendRequest(ctx, http.MethodPost, "/v5/position/set-leverage", nil, body, nil)
	if err != nil {
		return err
	}
	if retCode == RetCodeLeverageNotModify {
		logs.Debugf("[API Client] Leverage for %s unchanged (already %.0fx/%.0fx).", symbol, buyLeverage, sellLeverage)
		return nil
	}
	if retCode != RetCodeOK {
		return fmt.Errorf("set leverage API error: %s (code: %d)", retMsg, retCode)
	}
	return nil
}

// GetInstrumentConstraints returns step/min/tick limits for a symbol from the
// TTL cache, refetching when the cached entry is stale or missing.
func (c *APIClient) GetInstrumentConstraints(symbol string) (*InstrumentConstraints, error) {
	c.constraintsMutex.RLock()
	cached, ok := c.constraintsCache[symbol]
	c.constraintsMutex.RUnlock()
	if ok && time.Since(cached.FetchedAt) < constraintsCacheTTL {
		return cached, nil
	}

	query := url.Values{}
	query.Set("category", categoryLinear)
	query.Set("symbol", symbol)

	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			LotSizeFilter struct {
				QtyStep     string `json:"qtyStep"`
				MinOrderQty string `json:"minOrderQty"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
		} `json:"list"`
	}
	retCode, retMsg, err := c.sendRequest(context.Background(), http.MethodGet, "/v5/market/instruments-info", query, nil, &result)
	if err != nil {
		// Serve a stale entry over failing the caller; constraints change rarely.
		if cached != nil {
			logs.Warnf("[API Client] Instrument info refresh failed, serving stale constraints for %s: %v", symbol, err)
			return cached, nil
		}
		return nil, err
	}
	if retCode != RetCodeOK {
		return nil, fmt.Errorf("instrument info API error: %s (code: %d)", retMsg, retCode)
	}
	if len(result.List) == 0 {
		return nil, fmt.Errorf("instrument info API returned no entries for %s", symbol)
	}

	inst := result.List[0]
	qtyStep, _ := strconv.ParseFloat(inst.LotSizeFilter.QtyStep, 64)
	minQty, _ := strconv.ParseFloat(inst.LotSizeFilter.MinOrderQty, 64)
	tickSize, _ := strconv.ParseFloat(inst.PriceFilter.TickSize, 64)

	constraints := &InstrumentConstraints{
		Symbol:      inst.Symbol,
		TickSize:    tickSize,
		QtyStep:     qtyStep,
		MinOrderQty: minQty,
		FetchedAt:   time.Now(),
	}

	c.constraintsMutex.Lock()
	c.constraintsCache[symbol] = constraints
	c.constraintsMutex.Unlock()
	logs.Infof("[API Client] Instrument constraints cached for %s: step=%.8f min=%.8f tick=%.8f", symbol, qtyStep, minQty, tickSize)
	return constraints, nil
}

// GetAccountBalance returns equity and available balance for the unified account.
func (c *APIClient) GetAccountBalance(ctx context.Context) (*AccountBalance, error) {
	query := url.Values{}
	query.Set("accountType", accountUnified)

	var result struct {
		List []struct {
			TotalEquity           string `json:"totalEquity"`
			TotalAvailableBalance string `json:"totalAvailableBalance"`
		} `json:"list"`
	}
	retCode, retMsg, err := c.sendRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", query, nil, &result)
	if err != nil {
		return nil, err
	}
	if retCode != RetCodeOK {
		return nil, fmt.Errorf("wallet balance API error: %s (code: %d)", retMsg, retCode)
	}
	if len(result.List) == 0 {
		return nil, fmt.Errorf("wallet balance API returned no accounts")
	}

	equity, _ := strconv.ParseFloat(result.List[0].TotalEquity, 64)
	available, _ := strconv.ParseFloat(result.List[0].TotalAvailableBalance, 64)
	return &AccountBalance{
		TotalEquity:      equity,
		AvailableBalance: available,
	}, nil
}

// exchange/pool.go
package exchange

import (
	"context"
	"fmt"
	"sort"

	"hedge_bybit_go/logs"
)

// Trading accounts the core routes signed calls through. The hedge sides
// live on separate accounts; both may be backed by the same credentials, in
// which case they share one session.
const (
	AccountLongs  = "longs"
	AccountShorts = "shorts"
)

// RequiredAccounts lists every account the orchestrator must be able to
// reach before trading begins.
var RequiredAccounts = []string{AccountLongs, AccountShorts}

// Credentials is one account's API key pair.
type Credentials struct {
	ApiKey    string
	ApiSecret string
}

// Ensure Pool struct implements Client interface
var _ Client = (*Pool)(nil)

// Pool owns one signed session per distinct credential set and routes each
// account-scoped call to the right session. Market data endpoints are
// unauthenticated, so those go through a fixed session.
type Pool struct {
	sessions map[string]*APIClient
	market   *APIClient
}

// NewPool builds the session pool. Every configured account must carry a
// complete key pair; accounts sharing an API key share one session.
func NewPool(baseURL string, timeoutSeconds, recvWindowSeconds int, creds map[string]Credentials) (*Pool, error) {
	if len(creds) == 0 {
		return nil, fmt.Errorf("no exchange accounts configured")
	}

	accounts := make([]string, 0, len(creds))
	for account := range creds {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)

	byKey := make(map[string]*APIClient)
	sessions := make(map[string]*APIClient, len(creds))
	for _, account := range accounts {
		cr := creds[account]
		if cr.ApiKey == "" || cr.ApiSecret == "" {
			return nil, fmt.Errorf("API credentials missing for account %q", account)
		}
		session, ok := byKey[cr.ApiKey]
		if !ok {
			session = NewAPIClient(cr.ApiKey, cr.ApiSecret, baseURL, timeoutSeconds, recvWindowSeconds)
			byKey[cr.ApiKey] = session
		}
		sessions[account] = session
	}

	logs.Infof("[Exchange Pool] %d accounts over %d sessions.", len(sessions), len(byKey))
	return &Pool{
		sessions: sessions,
		market:   sessions[accounts[0]],
	}, nil
}

// Accounts returns the configured account names, sorted.
func (p *Pool) Accounts() []string {
	out := make([]string, 0, len(p.sessions))
	for account := range p.sessions {
		out = append(out, account)
	}
	sort.Strings(out)
	return out
}

// PrimaryAccounts returns one account name per distinct session, so capital
// can be summed without double counting accounts that share credentials.
func (p *Pool) PrimaryAccounts() []string {
	seen := make(map[*APIClient]bool)
	var out []string
	for _, account := range p.Accounts() {
		session := p.sessions[account]
		if seen[session] {
			continue
		}
		seen[session] = true
		out = append(out, account)
	}
	return out
}

func (p *Pool) session(account string) (*APIClient, error) {
	session, ok := p.sessions[account]
	if !ok {
		return nil, fmt.Errorf("unknown exchange account %q", account)
	}
	return session, nil
}

// SyncTime synchronizes every distinct session with the server.
func (p *Pool) SyncTime() error {
	seen := make(map[*APIClient]bool)
	for _, account := range p.Accounts() {
		session := p.sessions[account]
		if seen[session] {
			continue
		}
		seen[session] = true
		if err := session.SyncTime(); err != nil {
			return fmt.Errorf("time sync failed for account %q: %w", account, err)
		}
	}
	return nil
}

func (p *Pool) GetPrice(symbol string) (float64, error) {
	return p.market.GetPrice(symbol)
}

func (p *Pool) GetInstrumentConstraints(symbol string) (*InstrumentConstraints, error) {
	return p.market.GetInstrumentConstraints(symbol)
}

func (p *Pool) PlaceMarketOrder(ctx context.Context, account string, order *MarketOrder) (*OrderResult, error) {
	session, err := p.session(account)
	if err != nil {
		return nil, err
	}
	return session.PlaceMarketOrder(ctx, order)
}

func (p *Pool) CancelOrder(ctx context.Context, account, symbol, orderID string) (*OrderResult, error) {
	session, err := p.session(account)
	if err != nil {
		return nil, err
	}
	return session.CancelOrder(ctx, symbol, orderID)
}

func (p *Pool) GetPositions(ctx context.Context, account, symbol string) ([]PositionEntry, error) {
	session, err := p.session(account)
	if err != nil {
		return nil, err
	}
	return session.GetPositions(ctx, symbol)
}

func (p *Pool) SetLeverage(ctx context.Context, account, symbol string, buyLeverage, sellLeverage float64) error {
	session, err := p.session(account)
	if err != nil {
		return err
	}
	return session.SetLeverage(ctx, symbol, buyLeverage, sellLeverage)
}

func (p *Pool) GetAccountBalance(ctx context.Context, account string) (*AccountBalance, error) {
	session, err := p.session(account)
	if err != nil {
		return nil, err
	}
	return session.GetAccountBalance(ctx)
}

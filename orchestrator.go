// orchestrator.go
package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"hedge_bybit_go/config"
	"hedge_bybit_go/engine"
	"hedge_bybit_go/exchange"
	"hedge_bybit_go/logs"
	"hedge_bybit_go/monitor"
	"hedge_bybit_go/profit"
	"hedge_bybit_go/risk"
	"hedge_bybit_go/state"
	"hedge_bybit_go/trigger"
	"hedge_bybit_go/workflow"
)

const bootstrapTimeout = 30 * time.Second

// Orchestrator bootstraps the exchange session, wires the core components
// and owns the run-loop lifecycle. Any bootstrap failure is startup-fatal:
// the process never starts trading half-initialized.
type Orchestrator struct {
	client    exchange.Client
	store     *state.Store
	ledger    *profit.Ledger
	engine    *engine.Engine
	processor *workflow.Processor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cfg           *config.Config
	stateFilePath string
}

func NewOrchestrator(cfg *config.Config, envCfg *config.EnvConfig, stateFilePath string) (*Orchestrator, error) {
	var client exchange.Client
	if cfg.UseSimulation {
		mockClient := exchange.NewMockClient()
		mockClient.Start()
		client = mockClient
		logs.Warnf("<<<<<<<<<< WARNING: Running in simulation mode >>>>>>>>>>")
	} else {
		longsKey, longsSecret := envCfg.LongsCredentials()
		shortsKey, shortsSecret := envCfg.ShortsCredentials()
		pool, err := exchange.NewPool(envCfg.BaseURL, cfg.Normal.HTTPTimeoutSeconds, cfg.Normal.RecvWindowSeconds, map[string]exchange.Credentials{
			exchange.AccountLongs:  {ApiKey: longsKey, ApiSecret: longsSecret},
			exchange.AccountShorts: {ApiKey: shortsKey, ApiSecret: shortsSecret},
		})
		if err != nil {
			return nil, fmt.Errorf("BYBIT_API_KEY / BYBIT_API_SECRET (or the per-account BYBIT_LONGS_*/BYBIT_SHORTS_* variants) must be set for live trading: %w", err)
		}
		// Ensure time synchronization before making any signed calls
		if err := pool.SyncTime(); err != nil {
			return nil, fmt.Errorf("failed to sync exchange time: %w", err)
		}
		client = pool
	}

	bootCtx, bootCancel := context.WithTimeout(context.Background(), bootstrapTimeout)
	defer bootCancel()

	// Instrument constraints must be known before any order can be sized.
	constraints, err := client.GetInstrumentConstraints(cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get instrument constraints for %s: %w", cfg.Symbol, err)
	}
	logs.Infof("Instrument %s: qtyStep=%.8f minQty=%.8f tickSize=%.8f", cfg.Symbol, constraints.QtyStep, constraints.MinOrderQty, constraints.TickSize)

	// Hedge-mode leverage applies to both books; each side's account gets it.
	for _, account := range exchange.RequiredAccounts {
		if err := client.SetLeverage(bootCtx, account, cfg.Symbol, cfg.Leverage, cfg.Leverage); err != nil {
			return nil, fmt.Errorf("failed to set leverage on %s account: %w", account, err)
		}
	}

	// Every required account must be reachable and funded before trading begins.
	balances := make(map[string]*exchange.AccountBalance, len(exchange.RequiredAccounts))
	for _, account := range exchange.RequiredAccounts {
		balance, err := client.GetAccountBalance(bootCtx, account)
		if err != nil {
			return nil, fmt.Errorf("failed to get %s account balance at startup: %w", account, err)
		}
		balances[account] = balance
		logs.Infof("Account %s: equity=%.2f available=%.2f", account, balance.TotalEquity, balance.AvailableBalance)
	}
	initialCapital := cfg.InitialCapitalUSDT
	if initialCapital <= 0 {
		// Sum equity once per distinct session so shared credentials are not
		// counted twice.
		capitalAccounts := exchange.RequiredAccounts[:1]
		if p, ok := client.(interface{ PrimaryAccounts() []string }); ok {
			capitalAccounts = p.PrimaryAccounts()
		}
		for _, account := range capitalAccounts {
			if b, ok := balances[account]; ok {
				initialCapital += b.TotalEquity
			}
		}
	}
	logs.Infof("Session initial capital: %.2f USDT", initialCapital)

	// ---- Cold-start check before the store loads any old snapshot ----
	// Long legs live on the longs account (positionIdx 1), short legs on the
	// shorts account (positionIdx 2).
	var exchangePositions []exchange.PositionEntry
	for account, wantIdx := range map[string]int{exchange.AccountLongs: 1, exchange.AccountShorts: 2} {
		entries, err := client.GetPositions(bootCtx, account, cfg.Symbol)
		if err != nil {
			return nil, fmt.Errorf("failed to get %s account positions at startup: %w", account, err)
		}
		for _, entry := range entries {
			if entry.PositionIdx == wantIdx {
				exchangePositions = append(exchangePositions, entry)
			}
		}
	}
	if len(exchangePositions) == 0 {
		logs.Warnf("[Orchestrator] Exchange is flat for %s. This is a fresh start; removing any old state file: %s", cfg.Symbol, stateFilePath)
		if err := os.Remove(stateFilePath); err != nil && !os.IsNotExist(err) {
			logs.Errorf("[Orchestrator] Failed to remove old state file: %v. Will continue and try loading it.", err)
		}
	}

	store, err := state.NewStore(stateFilePath, state.Params{
		InitialCapital:      initialCapital,
		Mode:                state.Mode(cfg.InitialMode),
		Leverage:            cfg.Leverage,
		BaseOrderMarginUSDT: cfg.BasePositionSizeUSDT,
		MaxSlotsPerSide:     cfg.MaxSlotsPerSide,
		IndividualSLPct:     cfg.Risk.IndividualStopLossPct,
		TSActivationPct:     cfg.Risk.TrailingStopActivationPct,
		TSDistancePct:       cfg.Risk.TrailingStopDistancePct,
		GlobalSLPct:         cfg.Risk.GlobalStopLossPct,
		GlobalTPPct:         cfg.Risk.GlobalTakeProfitPct,
		TimeLimit: state.SessionTimeLimit{
			Duration: time.Duration(cfg.Risk.SessionTimeLimitMinutes * float64(time.Minute)),
			Action:   state.TimeLimitAction(cfg.Risk.SessionTimeLimitAction),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state store: %w", err)
	}
	logs.Infof("State store initialized, snapshots will be persisted to: %s", stateFilePath)

	ledger := profit.NewLedger(store.InitialCapital())
	ledger.Restore(store.RealizedTotals())

	triggers := trigger.NewChecker()
	eng := engine.New(client, store, ledger, triggers, cfg.Symbol)
	checker := risk.NewChecker(store, ledger)

	ctx, cancel := context.WithCancel(context.Background())
	processor := workflow.NewProcessor(eng, checker, store, cancel)

	o := &Orchestrator{
		client:        client,
		store:         store,
		ledger:        ledger,
		engine:        eng,
		processor:     processor,
		ctx:           ctx,
		cancel:        cancel,
		cfg:           cfg,
		stateFilePath: stateFilePath,
	}

	if err := o.reconcileStateOnStartup(exchangePositions); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to reconcile state on startup: %w", err)
	}

	return o, nil
}

// reconcileStateOnStartup aligns the restored logical book with the
// exchange's position record. The exchange is the ground truth: logical
// records with no backing exchange position are ghosts and get dropped;
// exchange positions with no logical record are adopted as recovery slots.
func (o *Orchestrator) reconcileStateOnStartup(exchangePositions []exchange.PositionEntry) error {
	logs.Info("[Orchestrator] Starting state reconciliation on startup...")

	exchangeSize := map[state.Side]float64{}
	exchangeEntry := map[state.Side]float64{}
	for _, p := range exchangePositions {
		side := state.SideLong
		if p.PositionIdx == 2 {
			side = state.SideShort
		}
		exchangeSize[side] = p.Size
		exchangeEntry[side] = p.EntryPrice
	}

	for _, side := range state.Sides {
		logical := o.store.Positions(side)
		var logicalSize float64
		for _, p := range logical {
			logicalSize += p.Size
		}

		switch {
		case exchangeSize[side] == 0 && len(logical) > 0:
			logs.Warnf("[Orchestrator-Reconciliation] State file recorded %d %s positions but the exchange is flat. Clearing ghost records.", len(logical), side)
			for _, p := range logical {
				o.store.RemoveClosedPosition(side, p.ID, 0)
			}

		case exchangeSize[side] > 0 && len(logical) == 0:
			logs.Warnf("[Orchestrator-Reconciliation] Exchange has a %s position of %.6f with no logical record. Adopting it as a recovery slot.", side, exchangeSize[side])
			rec := state.LogicalPosition{
				ID:         fmt.Sprintf("recovery-%s", side),
				Side:       side,
				EntryPrice: exchangeEntry[side],
				Size:       exchangeSize[side],
				EntryTime:  time.Now(),
				Origin:     "recovery",
			}
			if slPct := o.store.IndividualSLPct(); slPct > 0 {
				if side == state.SideLong {
					rec.StopLossPrice = rec.EntryPrice * (1 - slPct/100)
				} else {
					rec.StopLossPrice = rec.EntryPrice * (1 + slPct/100)
				}
			}
			if err := o.store.AppendPosition(rec); err != nil {
				return fmt.Errorf("failed to adopt recovery position on %s side: %w", side, err)
			}

		case exchangeSize[side] > 0 && logicalSize > 0 && !floatClose(exchangeSize[side], logicalSize):
			logs.Warnf("[Orchestrator-Reconciliation] %s size mismatch: exchange=%.6f logical=%.6f. Keeping logical records; exits are sized per logical leg.",
				side, exchangeSize[side], logicalSize)
		}
	}

	logs.Info("[Orchestrator] State reconciliation complete.")
	return nil
}

func floatClose(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-6
}

func (o *Orchestrator) Start() {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		monitor.Start(o.ctx, o.client, o.processor, o.engine, o.cfg)
	}()
	logs.Infof("Position manager for %s started, press Ctrl+C to exit.", o.cfg.Symbol)
}

func (o *Orchestrator) Stop() {
	logs.Info("Received close signal, starting graceful shutdown...")

	o.printFinalSummary()

	// Send cancellation signal to the run loop and wait for it to drain.
	o.cancel()
	o.wg.Wait()

	if mock, ok := o.client.(*exchange.MockClient); ok {
		mock.StopFeed()
	}
	logs.Info("All services stopped successfully.")
}

// Engine exposes the command surface for an interactive control layer.
func (o *Orchestrator) Engine() *engine.Engine {
	return o.engine
}

// Processor exposes the signal intake for an external signal source.
func (o *Orchestrator) Processor() *workflow.Processor {
	return o.processor
}

func (o *Orchestrator) printFinalSummary() {
	s := o.engine.GetSummary()

	logs.Info("\n--- Final Session Summary ---")
	logs.Infof("Symbol: %s, mode: %s, session duration: %s", s.Symbol, s.Mode, time.Since(s.SessionStart).Round(time.Second))
	logs.Infof("Realized PnL: %.4f USDT over %d closed trades", s.RealizedPNL, s.ClosedTrades)
	logs.Infof("Unrealized PnL: %.4f USDT (%d long / %d short still open)", s.UnrealizedPNL, len(s.LongPositions), len(s.ShortPositions))
	if s.ROIAvailable {
		logs.Infof("Session ROI: %.2f%% on %.2f USDT initial capital", s.SessionROIPct, s.InitialCapital)
	}
	if s.GlobalStopTriggered {
		logs.Warnf("Session ended by global stop-loss breaker.")
	}
	if s.SessionTPHit {
		logs.Infof("Session take-profit flag was hit.")
	}
	logs.Info("--------------------")
	logs.Infof("Final total PnL: %.4f USDT", s.RealizedPNL+s.UnrealizedPNL)
	logs.Info("--------------------")
}

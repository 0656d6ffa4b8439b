// monitor/rest.go
package monitor

import (
	"context"
	"errors"
	"time"

	"hedge_bybit_go/config"
	"hedge_bybit_go/engine"
	"hedge_bybit_go/exchange"
	"hedge_bybit_go/logs"
	"hedge_bybit_go/workflow"
)

// Start runs the main tick loop: poll the price over REST, feed it through
// the per-tick workflow, and stop when the context is cancelled or a fatal
// breaker fires. One tick is always processed to completion before the next
// ticker fire is handled.
func Start(
	ctx context.Context,
	client exchange.Client,
	processor *workflow.Processor,
	eng *engine.Engine,
	cfg *config.Config,
) {
	ticker := time.NewTicker(time.Duration(cfg.Normal.TickIntervalSeconds) * time.Second)
	defer ticker.Stop()

	lastHeartbeat := time.Now()
	lastSyncTime := time.Now()

	heartbeatInterval := time.Duration(cfg.Normal.HeartbeatIntervalMinutes) * time.Minute
	timeSyncInterval := time.Duration(cfg.Normal.TimeSyncIntervalMinutes) * time.Minute

	for {
		select {
		case <-ctx.Done():
			logs.Info("Monitor received stop signal, exiting.")
			return
		case <-ticker.C:
			currentPrice, err := client.GetPrice(cfg.Symbol)
			if err != nil {
				logs.Errorf("[Monitor] Failed to get price: %v", err)
				continue
			}

			if err := processor.ProcessTick(ctx, currentPrice, time.Now()); err != nil {
				if errors.Is(err, workflow.ErrSessionStopped) {
					logs.Warnf("[Monitor] Session stopped: %v", err)
					return
				}
				// ProcessTick only surfaces the session-stop control error;
				// anything else here is a programming mistake worth seeing.
				logs.Errorf("[Monitor] Unexpected tick error: %v", err)
			}

			if time.Since(lastHeartbeat) >= heartbeatInterval {
				s := eng.GetSummary()
				logs.Infof("[Heartbeat] %s price=%.4f mode=%s open=%dL/%dS realized=%.4f unrealized=%.4f",
					s.Symbol, s.LastPrice, s.Mode, len(s.LongPositions), len(s.ShortPositions), s.RealizedPNL, s.UnrealizedPNL)
				lastHeartbeat = time.Now()
			}

			if time.Since(lastSyncTime) >= timeSyncInterval {
				logs.Info("[Monitor] Executing regular time synchronization...")
				if err := client.SyncTime(); err != nil {
					logs.Errorf("[Monitor] Regular time synchronization failed: %v", err)
				}
				lastSyncTime = time.Now()
			}
		}
	}
}

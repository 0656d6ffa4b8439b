// state/state.go
package state

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"sync"
	"time"

	"hedge_bybit_go/logs"
)

// Store owns the authoritative in-memory session model: logical positions,
// risk parameters, operation mode, trend state and breaker flags. Every
// accessor is mutex-guarded; the engine and the interactive command surface
// both read-modify-write through here, never through private copies.
//
// When a file path is configured, mutations are journaled to disk as a JSON
// snapshot (atomic tmp+rename) so a crashed session can be reconciled against
// the exchange on restart.
type Store struct {
	mu       sync.RWMutex
	filePath string // empty disables persistence

	sessionStart   time.Time
	initialCapital float64

	mode     Mode
	leverage float64

	baseOrderMarginUSDT float64
	maxSlotsPerSide     int

	individualSLPct float64
	tsActivationPct float64
	tsDistancePct   float64
	globalSLPct     float64
	globalTPPct     float64
	timeLimit       SessionTimeLimit

	sessionTPHit        bool
	globalStopTriggered bool

	positions map[Side][]*LogicalPosition
	trend     *TrendState

	realizedLong  float64
	realizedShort float64
}

// Params carries the initial session settings for a fresh store.
type Params struct {
	InitialCapital      float64
	Mode                Mode
	Leverage            float64
	BaseOrderMarginUSDT float64
	MaxSlotsPerSide     int
	IndividualSLPct     float64
	TSActivationPct     float64
	TSDistancePct       float64
	GlobalSLPct         float64
	GlobalTPPct         float64
	TimeLimit           SessionTimeLimit
}

// snapshot is the on-disk representation of the store.
type snapshot struct {
	SessionStart        time.Time                   `json:"session_start"`
	InitialCapital      float64                     `json:"initial_capital"`
	Mode                Mode                        `json:"mode"`
	Leverage            float64                     `json:"leverage"`
	BaseOrderMarginUSDT float64                     `json:"base_order_margin_usdt"`
	MaxSlotsPerSide     int                         `json:"max_slots_per_side"`
	IndividualSLPct     float64                     `json:"individual_sl_pct"`
	TSActivationPct     float64                     `json:"ts_activation_pct"`
	TSDistancePct       float64                     `json:"ts_distance_pct"`
	GlobalSLPct         float64                     `json:"global_sl_pct"`
	GlobalTPPct         float64                     `json:"global_tp_pct"`
	TimeLimit           SessionTimeLimit            `json:"time_limit"`
	SessionTPHit        bool                        `json:"session_tp_hit"`
	GlobalStopTriggered bool                        `json:"global_stop_triggered"`
	Positions           map[Side][]*LogicalPosition `json:"positions"`
	Trend               *TrendState                 `json:"trend"`
	RealizedLong        float64                     `json:"realized_long"`
	RealizedShort       float64                     `json:"realized_short"`
}

// NewStore creates a store from the given params, restoring a previous
// snapshot from filePath when one exists.
func NewStore(filePath string, p Params) (*Store, error) {
	if p.MaxSlotsPerSide < 1 {
		return nil, fmt.Errorf("max slots per side must be at least 1, got %d", p.MaxSlotsPerSide)
	}
	if !p.Mode.Valid() {
		return nil, fmt.Errorf("invalid operation mode %q", p.Mode)
	}

	s := &Store{
		filePath:            filePath,
		sessionStart:        time.Now(),
		initialCapital:      p.InitialCapital,
		mode:                p.Mode,
		leverage:            p.Leverage,
		baseOrderMarginUSDT: p.BaseOrderMarginUSDT,
		maxSlotsPerSide:     p.MaxSlotsPerSide,
		individualSLPct:     p.IndividualSLPct,
		tsActivationPct:     p.TSActivationPct,
		tsDistancePct:       p.TSDistancePct,
		globalSLPct:         p.GlobalSLPct,
		globalTPPct:         p.GlobalTPPct,
		timeLimit:           p.TimeLimit,
		positions: map[Side][]*LogicalPosition{
			SideLong:  {},
			SideShort: {},
		},
	}

	if filePath != "" {
		if err := s.load(); err != nil {
			if os.IsNotExist(err) {
				if err := s.save(); err != nil {
					return nil, fmt.Errorf("failed to create initial state file: %w", err)
				}
			} else {
				return nil, fmt.Errorf("failed to load state snapshot: %w", err)
			}
		}
	}
	return s, nil
}

// save performs an atomic snapshot write. Caller must hold the lock.
func (s *Store) save() error {
	if s.filePath == "" {
		return nil
	}
	snap := snapshot{
		SessionStart:        s.sessionStart,
		InitialCapital:      s.initialCapital,
		Mode:                s.mode,
		Leverage:            s.leverage,
		BaseOrderMarginUSDT: s.baseOrderMarginUSDT,
		MaxSlotsPerSide:     s.maxSlotsPerSide,
		IndividualSLPct:     s.individualSLPct,
		TSActivationPct:     s.tsActivationPct,
		TSDistancePct:       s.tsDistancePct,
		GlobalSLPct:         s.globalSLPct,
		GlobalTPPct:         s.globalTPPct,
		TimeLimit:           s.timeLimit,
		SessionTPHit:        s.sessionTPHit,
		GlobalStopTriggered: s.globalStopTriggered,
		Positions:           s.positions,
		Trend:               s.trend,
		RealizedLong:        s.realizedLong,
		RealizedShort:       s.realizedShort,
	}
	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state for saving: %w", err)
	}

	tmpFilePath := s.filePath + ".tmp"
	if err := ioutil.WriteFile(tmpFilePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}
	return os.Rename(tmpFilePath, s.filePath)
}

// persist saves and logs on failure. A journaling error must not abort the
// in-memory mutation that already happened.
func (s *Store) persist() {
	if err := s.save(); err != nil {
		logs.Errorf("[State] Failed to persist snapshot: %v", err)
	}
}

// load restores a snapshot from disk. Caller must hold the lock.
func (s *Store) load() error {
	data, err := ioutil.ReadFile(s.filePath)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil // empty file is valid, keep the fresh state
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	s.sessionStart = snap.SessionStart
	s.initialCapital = snap.InitialCapital
	s.mode = snap.Mode
	s.leverage = snap.Leverage
	s.baseOrderMarginUSDT = snap.BaseOrderMarginUSDT
	s.maxSlotsPerSide = snap.MaxSlotsPerSide
	s.individualSLPct = snap.IndividualSLPct
	s.tsActivationPct = snap.TSActivationPct
	s.tsDistancePct = snap.TSDistancePct
	s.globalSLPct = snap.GlobalSLPct
	s.globalTPPct = snap.GlobalTPPct
	s.timeLimit = snap.TimeLimit
	s.sessionTPHit = snap.SessionTPHit
	s.globalStopTriggered = snap.GlobalStopTriggered
	s.trend = snap.Trend
	s.realizedLong = snap.RealizedLong
	s.realizedShort = snap.RealizedShort
	if snap.Positions != nil {
		s.positions = snap.Positions
		for _, side := range Sides {
			if s.positions[side] == nil {
				s.positions[side] = []*LogicalPosition{}
			}
		}
	}
	return nil
}

// --- Session identity ---

func (s *Store) SessionStart() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionStart
}

func (s *Store) InitialCapital() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialCapital
}

// RealizedTotals returns cumulative realized PnL per side.
func (s *Store) RealizedTotals() (long, short float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.realizedLong, s.realizedShort
}

// --- Mode ---

func (s *Store) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

func (s *Store) SetMode(m Mode) error {
	if !m.Valid() {
		return fmt.Errorf("invalid operation mode %q", m)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
	s.persist()
	return nil
}

// --- Positions ---

// Positions returns value copies of the open logical positions on a side,
// in open order.
func (s *Store) Positions(side Side) []LogicalPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LogicalPosition, 0, len(s.positions[side]))
	for _, p := range s.positions[side] {
		out = append(out, *p)
	}
	return out
}

// PositionAt returns a value copy of the position at index on a side.
func (s *Store) PositionAt(side Side, index int) (LogicalPosition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.positions[side]) {
		return LogicalPosition{}, false
	}
	return *s.positions[side][index], true
}

func (s *Store) OpenCount(side Side) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions[side])
}

// AppendPosition records a newly confirmed open. Fails when the side has no
// free slot; callers must treat that as a recoverable rejection.
func (s *Store) AppendPosition(p LogicalPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.positions[p.Side]) >= s.maxSlotsPerSide {
		return fmt.Errorf("no free slot on %s side (%d/%d in use)", p.Side, len(s.positions[p.Side]), s.maxSlotsPerSide)
	}
	cp := p
	s.positions[p.Side] = append(s.positions[p.Side], &cp)
	s.persist()
	return nil
}

// UpdatePosition applies a mutation to the position with the given id.
func (s *Store) UpdatePosition(side Side, id string, mutate func(*LogicalPosition)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.positions[side] {
		if p.ID == id {
			mutate(p)
			return true
		}
	}
	return false
}

// RemoveClosedPosition removes a confirmed-closed position by id and adds its
// realized PnL to the session totals.
func (s *Store) RemoveClosedPosition(side Side, id string, realizedPnl float64) (LogicalPosition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.positions[side] {
		if p.ID == id {
			removed := *p
			s.positions[side] = append(s.positions[side][:i], s.positions[side][i+1:]...)
			if side == SideLong {
				s.realizedLong += realizedPnl
			} else {
				s.realizedShort += realizedPnl
			}
			s.persist()
			return removed, true
		}
	}
	return LogicalPosition{}, false
}

// --- Slots ---

func (s *Store) MaxSlots() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSlotsPerSide
}

// AddSlot raises the per-side slot cap by one and returns the new cap.
func (s *Store) AddSlot() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxSlotsPerSide++
	s.persist()
	return s.maxSlotsPerSide
}

// RemoveSlot lowers the per-side slot cap by one. The cap can never drop
// below 1 or below the larger of the two current open counts.
func (s *Store) RemoveSlot() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	floor := 1
	for _, side := range Sides {
		if n := len(s.positions[side]); n > floor {
			floor = n
		}
	}
	if s.maxSlotsPerSide-1 < floor {
		return s.maxSlotsPerSide, fmt.Errorf("cannot reduce slots below %d (open positions or minimum)", floor)
	}
	s.maxSlotsPerSide--
	s.persist()
	return s.maxSlotsPerSide, nil
}

// --- Risk parameters ---

func (s *Store) IndividualSLPct() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.individualSLPct
}

func (s *Store) SetIndividualSLPct(pct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.individualSLPct = pct
	s.persist()
}

// TrailingParams returns the session trailing-stop settings (activation %, distance %).
func (s *Store) TrailingParams() (activationPct, distancePct float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tsActivationPct, s.tsDistancePct
}

func (s *Store) SetTrailingParams(activationPct, distancePct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tsActivationPct = activationPct
	s.tsDistancePct = distancePct
	s.persist()
}

func (s *Store) GlobalSLPct() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.globalSLPct
}

func (s *Store) SetGlobalSLPct(pct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalSLPct = pct
	s.persist()
}

func (s *Store) GlobalTPPct() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.globalTPPct
}

func (s *Store) SetGlobalTPPct(pct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalTPPct = pct
	s.persist()
}

func (s *Store) TimeLimit() SessionTimeLimit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeLimit
}

func (s *Store) SetTimeLimit(limit SessionTimeLimit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeLimit = limit
	s.persist()
}

func (s *Store) Leverage() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leverage
}

func (s *Store) SetLeverage(leverage float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leverage = leverage
	s.persist()
}

func (s *Store) BaseOrderMargin() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseOrderMarginUSDT
}

func (s *Store) SetBaseOrderMargin(usdt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseOrderMarginUSDT = usdt
	s.persist()
}

// --- Breaker flags ---

func (s *Store) SessionTPHit() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionTPHit
}

// MarkSessionTPHit sets the one-shot session TP flag. Returns false when the
// flag was already set.
func (s *Store) MarkSessionTPHit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionTPHit {
		return false
	}
	s.sessionTPHit = true
	s.persist()
	return true
}

func (s *Store) GlobalStopTriggered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.globalStopTriggered
}

// MarkGlobalStop sets the fatal stop flag. Returns false when it was already
// set, which makes the flatten path idempotent.
func (s *Store) MarkGlobalStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.globalStopTriggered {
		return false
	}
	s.globalStopTriggered = true
	s.persist()
	return true
}

// --- Trend ---

// Trend returns a copy of the active trend, or nil when none is running.
func (s *Store) Trend() *TrendState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.trend == nil {
		return nil
	}
	cp := *s.trend
	return &cp
}

func (s *Store) StartTrend(t TrendState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := t
	s.trend = &cp
	s.mode = t.Mode
	s.persist()
}

// EndTrend clears the active trend and reverts the mode to NEUTRAL.
func (s *Store) EndTrend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trend = nil
	s.mode = ModeNeutral
	s.persist()
}

// ClearTrend drops the trend without touching the mode (used when the
// operator overrides the mode manually while a trend is running).
func (s *Store) ClearTrend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trend = nil
	s.persist()
}

// IncrementTrendTrades bumps the active trend's executed-trade counter.
func (s *Store) IncrementTrendTrades() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trend != nil {
		s.trend.TradesExecuted++
		s.persist()
	}
}

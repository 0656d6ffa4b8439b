// trigger/checker.go
package trigger

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"hedge_bybit_go/logs"
)

// ConditionType is the kind of price threshold a trigger watches.
type ConditionType string

const (
	PriceAbove ConditionType = "PRICE_ABOVE"
	PriceBelow ConditionType = "PRICE_BELOW"
)

// Condition is a price threshold.
type Condition struct {
	Type  ConditionType
	Value float64
}

// Met reports whether the condition holds at the given price.
func (c Condition) Met(price float64) bool {
	switch c.Type {
	case PriceAbove:
		return price >= c.Value
	case PriceBelow:
		return price <= c.Value
	default:
		return false
	}
}

// Trigger is one user-defined rule: IF price crosses a threshold THEN run an
// action. Only the active flag and edge state mutate after creation.
type Trigger struct {
	ID        string
	Condition Condition
	Action    Action
	OneShot   bool

	active bool
	// wasMet tracks the previous evaluation so non-one-shot triggers fire on
	// the crossing edge only, not on every tick the condition keeps holding.
	wasMet bool
}

// Snapshot is a read-only view of a trigger for the control surface.
type Snapshot struct {
	ID        string
	Condition Condition
	ActionDes string
	OneShot   bool
	Active    bool
}

// Executor is what a fired action runs against. The engine implements it.
type Executor interface {
	SetTradingMode(mode string, closeOpen bool) error
	StartTrend(p TrendParams) error
	CloseAllPositions(side string, reason string) (remaining int, err error)
}

// Checker owns the ordered trigger list and evaluates it once per tick.
type Checker struct {
	mu       sync.Mutex
	triggers []*Trigger
}

// NewChecker creates an empty trigger checker.
func NewChecker() *Checker {
	return &Checker{}
}

// Add registers a new trigger and returns its id. Triggers are evaluated in
// registration order.
func (c *Checker) Add(cond Condition, action Action, oneShot bool) (string, error) {
	if cond.Type != PriceAbove && cond.Type != PriceBelow {
		return "", fmt.Errorf("unknown condition type %q", cond.Type)
	}
	if cond.Value <= 0 {
		return "", fmt.Errorf("condition value must be positive, got %.8f", cond.Value)
	}
	if action == nil {
		return "", fmt.Errorf("trigger action must not be nil")
	}

	t := &Trigger{
		ID:        uuid.NewString(),
		Condition: cond,
		Action:    action,
		OneShot:   oneShot,
		active:    true,
	}

	c.mu.Lock()
	c.triggers = append(c.triggers, t)
	c.mu.Unlock()

	logs.Infof("[Trigger] Registered %s %s %.4f -> %s (one_shot=%v, id=%s)",
		cond.Type, "at", cond.Value, action.Description(), oneShot, t.ID)
	return t.ID, nil
}

// Remove deletes a trigger by id. Returns false when no such trigger exists.
func (c *Checker) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, t := range c.triggers {
		if t.ID == id {
			c.triggers = append(c.triggers[:i], c.triggers[i+1:]...)
			logs.Infof("[Trigger] Removed trigger %s", id)
			return true
		}
	}
	return false
}

// Active returns snapshots of the currently active triggers, in order.
func (c *Checker) Active() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Snapshot, 0, len(c.triggers))
	for _, t := range c.triggers {
		if !t.active {
			continue
		}
		out = append(out, Snapshot{
			ID:        t.ID,
			Condition: t.Condition,
			ActionDes: t.Action.Description(),
			OneShot:   t.OneShot,
			Active:    t.active,
		})
	}
	return out
}

// Evaluate walks the active triggers in registration order against the
// current price. A single trigger's failure is logged and never aborts the
// evaluation of the remaining triggers.
func (c *Checker) Evaluate(price float64, exec Executor) {
	c.mu.Lock()
	// Work on the live slice under the lock; actions run against the engine
	// which has its own serialization, so holding our lock across execute
	// keeps add/remove from racing mid-evaluation.
	triggers := c.triggers
	for _, t := range triggers {
		if !t.active {
			continue
		}
		met := t.Condition.Met(price)
		fire := met && !t.wasMet
		t.wasMet = met
		if !fire {
			continue
		}

		logs.Infof("[Trigger] Fired %s: price %.4f crossed %.4f, executing: %s",
			t.ID, price, t.Condition.Value, t.Action.Description())
		if err := c.execute(t.Action, exec); err != nil {
			logs.Errorf("[Trigger] Action for %s failed: %v", t.ID, err)
			continue
		}
		if t.OneShot {
			t.active = false
			logs.Infof("[Trigger] One-shot trigger %s deactivated.", t.ID)
		}
	}
	c.mu.Unlock()
}

func (c *Checker) execute(action Action, exec Executor) error {
	switch act := action.(type) {
	case *SetModeAction:
		return exec.SetTradingMode(act.Mode, act.CloseOpen)
	case *StartTrendAction:
		return exec.StartTrend(act.Params)
	case *CloseAllLongsAction:
		remaining, err := exec.CloseAllPositions("long", "TRIGGER")
		if err != nil {
			return err
		}
		if remaining > 0 {
			return fmt.Errorf("%d long positions could not be closed", remaining)
		}
		return nil
	case *CloseAllShortsAction:
		remaining, err := exec.CloseAllPositions("short", "TRIGGER")
		if err != nil {
			return err
		}
		if remaining > 0 {
			return fmt.Errorf("%d short positions could not be closed", remaining)
		}
		return nil
	default:
		return fmt.Errorf("unknown action type %T", action)
	}
}

// risk/verdicts.go
package risk

import "fmt"

// Verdict is the outcome of a breaker evaluation. The checker only decides;
// the per-tick workflow executes the consequences, so the decision logic
// stays free of exchange calls and is trivially testable.
type Verdict interface {
	Description() string
}

// TrendEnded reports that the active trend hit one of its own limits.
// Recoverable: the trend ends and the mode reverts to NEUTRAL.
type TrendEnded struct {
	Reason string
}

func (v *TrendEnded) Description() string {
	return fmt.Sprintf("Trend limit hit: %s", v.Reason)
}

// SessionStop is the fatal verdict: flatten both books, latch the stop flag,
// cancel the run loop and terminate the session.
type SessionStop struct {
	Reason string
	ROI    float64
}

func (v *SessionStop) Description() string {
	return fmt.Sprintf("Session stop: %s (ROI %.2f%%)", v.Reason, v.ROI)
}

// SessionNeutral reports that the session time limit elapsed with the
// NEUTRAL action configured: flip the mode, keep positions running.
type SessionNeutral struct {
	Reason string
}

func (v *SessionNeutral) Description() string {
	return fmt.Sprintf("Session limit reached, going NEUTRAL: %s", v.Reason)
}

// SessionTPReached reports the one-shot global take-profit flag should be
// latched. No forced close.
type SessionTPReached struct {
	ROI float64
}

func (v *SessionTPReached) Description() string {
	return fmt.Sprintf("Session take-profit reached at ROI %.2f%%", v.ROI)
}

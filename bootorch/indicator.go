package bootorch

import (
	"context"
	"time"
)

// pulseOn is the on/off duration of one pulse in a status code's blink
// pattern; pulsePause is the silence that follows the last pulse,
// separating one status code's presentation from the next, per
// spec.md §6.
const (
	pulseOn    = 200 * time.Millisecond
	pulsePause = 1 * time.Second
)

// IndicatorSequencer turns an Indicator into the two presentation
// modes spec.md §6 describes: a finite pulse count that announces a
// status code, and a continuous even blink that communicates an
// ongoing phase (upgrade in progress, waiting for upgrade).
type IndicatorSequencer struct {
	ind Indicator
}

// NewIndicatorSequencer wraps ind. A nil ind is not valid; callers
// needing no indicator should pass noopIndicator via WithIndicator's
// default instead.
func NewIndicatorSequencer(ind Indicator) *IndicatorSequencer {
	return &IndicatorSequencer{ind: ind}
}

// Pulse blinks code's pulse count (200ms on, 200ms off, each) then
// pauses, announcing a discrete status transition. It blocks for the
// duration of the pattern.
func (s *IndicatorSequencer) Pulse(code StatusCode) {
	for i := 0; i < int(code); i++ {
		s.ind.Set(true)
		time.Sleep(pulseOn)
		s.ind.Set(false)
		time.Sleep(pulseOn)
	}
	time.Sleep(pulsePause)
}

// Blink toggles the indicator at interval until ctx is cancelled,
// communicating a phase in progress rather than a one-shot status
// code. It leaves the indicator off on return.
func (s *IndicatorSequencer) Blink(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	on := false
	for {
		select {
		case <-ctx.Done():
			s.ind.Set(false)
			return
		case <-ticker.C:
			on = !on
			s.ind.Set(on)
		}
	}
}

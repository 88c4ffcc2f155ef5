package indicator

import (
	"context"
	"time"
)

// Light is a single binary status light. Methods never fail from the
// caller's point of view; drivers log hardware faults.
type Light interface {
	On()
	Off()

	// Flash blinks p and returns when the pattern completes or ctx ends.
	// The light is left off either way.
	Flash(ctx context.Context, p Pattern)
}

// Pattern is a repeated on/off blink.
type Pattern struct {
	Name  string
	Count int
	On    time.Duration
	Off   time.Duration
}

// Duration is how long Flash blocks for p.
func (p Pattern) Duration() time.Duration {
	return time.Duration(p.Count) * (p.On + p.Off)
}

var (
	// PatternScanning is shown while waiting for a tag during registration.
	PatternScanning = Pattern{Name: "scanning", Count: 5, On: 100 * time.Millisecond, Off: 100 * time.Millisecond}

	// PatternError is shown for unknown tags and failed reads or plays.
	PatternError = Pattern{Name: "error", Count: 3, On: 200 * time.Millisecond, Off: 200 * time.Millisecond}
)

// flash drives set through p, honouring ctx between every step.
func flash(ctx context.Context, p Pattern, set func(on bool)) {
	defer set(false)

	timer := time.NewTimer(0)
	<-timer.C
	defer timer.Stop()

	wait := func(d time.Duration) bool {
		timer.Reset(d)
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		}
	}

	for i := 0; i < p.Count; i++ {
		if ctx.Err() != nil {
			return
		}
		set(true)
		if !wait(p.On) {
			return
		}
		set(false)
		if !wait(p.Off) {
			return
		}
	}
}

// None is a Light with no hardware behind it. Flash still takes the
// pattern's time so callers pace the same with or without an LED.
type None struct{}

func (None) On()  {}
func (None) Off() {}

func (None) Flash(ctx context.Context, p Pattern) {
	flash(ctx, p, func(bool) {})
}

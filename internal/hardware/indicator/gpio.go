package indicator

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/tagbox-core/internal/hardware"
	"github.com/nerrad567/tagbox-core/internal/infrastructure/config"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// Logger defines the logging interface for the indicator.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// GPIO drives an LED wired to a GPIO output, active high.
type GPIO struct {
	pin    gpio.PinOut
	logger Logger

	mu sync.Mutex
}

// NewGPIO wraps pin and switches it off.
func NewGPIO(pin gpio.PinOut, logger Logger) *GPIO {
	if logger == nil {
		logger = noopLogger{}
	}
	g := &GPIO{pin: pin, logger: logger}
	g.set(false)
	return g
}

// New returns the configured light: a GPIO LED, or None when disabled.
//
// Parameters:
//   - cfg: LED section of the hardware configuration
//   - logger: Receives pin write failures
//
// Returns:
//   - Light: Ready-to-use light, initially off
//   - error: If periph cannot start or the pin does not exist
func New(cfg config.LEDConfig, logger Logger) (Light, error) {
	if !cfg.Enabled {
		return None{}, nil
	}
	if err := hardware.Init(); err != nil {
		return nil, err
	}
	pin := gpioreg.ByName(cfg.Pin)
	if pin == nil {
		return nil, fmt.Errorf("led pin %q not found", cfg.Pin)
	}
	return NewGPIO(pin, logger), nil
}

func (g *GPIO) set(on bool) {
	level := gpio.Low
	if on {
		level = gpio.High
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.pin.Out(level); err != nil {
		g.logger.Warn("led write failed", "pin", g.pin.Name(), "error", err)
	}
}

// On lights the LED.
func (g *GPIO) On() { g.set(true) }

// Off darkens the LED.
func (g *GPIO) Off() { g.set(false) }

// Flash blinks p on the LED.
func (g *GPIO) Flash(ctx context.Context, p Pattern) {
	g.logger.Debug("led flash", "pattern", p.Name)
	flash(ctx, p, g.set)
}

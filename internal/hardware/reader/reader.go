package reader

import (
	"fmt"

	"github.com/nerrad567/tagbox-core/internal/infrastructure/config"
)

// New builds a Device for the configured driver type.
//
// Parameters:
//   - cfg: Reader section of the application configuration
//
// Returns:
//   - *Device: Exclusive-session guard around the driver
//   - error: ErrUnsupportedDriver for an unknown type
func New(cfg config.ReaderConfig) (*Device, error) {
	switch cfg.Type {
	case "mfrc522":
		return NewDevice(NewMFRC522(MFRC522Config{
			SPIPort:      cfg.SPIPort,
			ResetPin:     cfg.ResetPin,
			IRQPin:       cfg.IRQPin,
			ProbeTimeout: cfg.PollTimeout,
		})), nil
	case "line":
		return NewDevice(NewLine(cfg.Device)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Type)
	}
}

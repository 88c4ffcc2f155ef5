// Package hardware holds what the device drivers under it share.
package hardware

import (
	"fmt"
	"sync"

	"periph.io/x/host/v3"
)

var (
	initOnce sync.Once
	initErr  error
)

// Init loads the periph.io host drivers (sysfs, bcm283x GPIO, spidev).
// It is safe to call from every driver; only the first call does work.
func Init() error {
	initOnce.Do(func() {
		if _, err := host.Init(); err != nil {
			initErr = fmt.Errorf("initialising periph host: %w", err)
		}
	})
	return initErr
}

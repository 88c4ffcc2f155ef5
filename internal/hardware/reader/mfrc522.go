package reader

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/mfrc522"

	"github.com/nerrad567/tagbox-core/internal/hardware"
)

// defaultProbeTimeout bounds one card probe when none is configured.
const defaultProbeTimeout = 50 * time.Millisecond

// MFRC522Config configures an MFRC522 reader on SPI.
type MFRC522Config struct {
	// SPIPort is the periph port name, e.g. "SPI0.0". Empty selects the first.
	SPIPort string

	// ResetPin is the GPIO wired to RST, e.g. "GPIO25".
	ResetPin string

	// IRQPin is the GPIO wired to IRQ, e.g. "GPIO24". Card detection
	// waits on its falling edge.
	IRQPin string

	// ProbeTimeout bounds one non-blocking Poll.
	ProbeTimeout time.Duration
}

// MFRC522 is the driver for the common 13.56MHz RC522 boards.
type MFRC522 struct {
	cfg MFRC522Config
}

// NewMFRC522 creates the driver. Hardware is only touched on Open.
func NewMFRC522(cfg MFRC522Config) *MFRC522 {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	return &MFRC522{cfg: cfg}
}

// Name implements Driver.
func (m *MFRC522) Name() string {
	return "mfrc522"
}

// Open implements Driver.
func (m *MFRC522) Open() (Conn, error) {
	if err := hardware.Init(); err != nil {
		return nil, err
	}

	port, err := spireg.Open(m.cfg.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("opening spi port %q: %w", m.cfg.SPIPort, err)
	}

	reset := gpioreg.ByName(m.cfg.ResetPin)
	if reset == nil {
		port.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("reset pin %q not found", m.cfg.ResetPin)
	}

	irq := gpioreg.ByName(m.cfg.IRQPin)
	if irq == nil {
		port.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("irq pin %q not found", m.cfg.IRQPin)
	}

	dev, err := mfrc522.NewSPI(port, reset, irq)
	if err != nil {
		port.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("initialising mfrc522: %w", err)
	}

	return &mfrcConn{port: port, dev: dev, timeout: m.cfg.ProbeTimeout}, nil
}

type mfrcConn struct {
	mu      sync.Mutex
	port    spi.PortCloser
	dev     *mfrc522.Dev
	timeout time.Duration
	closed  bool
}

// Poll probes for a card once. The chip reports an absent card and a
// garbled anticollision frame the same way, so neither is an error; a card
// held in the field is simply picked up on a later probe.
func (c *mfrcConn) Poll(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", false, ErrClosed
	}

	uid, err := c.dev.ReadUID(c.timeout)
	if err != nil || len(uid) == 0 {
		return "", false, nil
	}
	// Halt lets the same card be selected again on the next probe.
	_ = c.dev.Halt()

	return FormatUID(uid), true, nil
}

func (c *mfrcConn) Read(ctx context.Context) (string, error) {
	return readByPolling(ctx, c.Poll)
}

func (c *mfrcConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.dev.Halt()
	return c.port.Close()
}

// FormatUID renders a card UID as the big-endian decimal number of its
// bytes. A 4-byte UID is folded together with its BCC check byte, which
// the driver strips, so IDs match what SimpleMFRC522 reports for a card.
func FormatUID(uid []byte) string {
	if len(uid) == 4 {
		uid = append(uid[:4:4], uid[0]^uid[1]^uid[2]^uid[3])
	}
	return new(big.Int).SetBytes(uid).String()
}

package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/tagbox-core/internal/infrastructure/config"
)

const (
	pingTimeout = 5 * time.Second

	// Playback events arrive a few per minute, so batches stay small.
	fallbackBatchSize     = 20
	fallbackFlushInterval = 10 * time.Second
)

// Stats counts what the client has done since Connect.
type Stats struct {
	Queued      uint64 `json:"queued"`
	WriteErrors uint64 `json:"write_errors"`
}

// Client queues telemetry points for one bucket.
//
// Thread Safety: All methods are safe for concurrent use. Writes never
// block on the network.
type Client struct {
	conn   influxdb2.Client
	writer api.WriteAPI

	closed atomic.Bool
	queued atomic.Uint64
	failed atomic.Uint64

	mu      sync.Mutex
	onError func(error)
}

// Connect pings cfg.URL and returns a client writing to cfg.Org/cfg.Bucket.
//
// Returns ErrDisabled when telemetry is switched off and
// ErrConnectionFailed when the server does not report healthy.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	conn := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), 2*pingTimeout)
	defer cancel()
	if err := ping(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		conn:   conn,
		writer: conn.WriteAPI(cfg.Org, cfg.Bucket),
	}
	go c.watchErrors()
	return c, nil
}

// writeOptions maps the config onto client options, filling unset values.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(fallbackBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := fallbackFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds()))
}

func ping(ctx context.Context, conn influxdb2.Client) error {
	ok, err := conn.Ping(ctx)
	switch {
	case err != nil:
		return err
	case !ok:
		return fmt.Errorf("ping reported unhealthy")
	}
	return nil
}

// watchErrors drains the writer's error channel until the client closes.
func (c *Client) watchErrors() {
	for err := range c.writer.Errors() {
		c.failed.Add(1)
		c.mu.Lock()
		report := c.onError
		c.mu.Unlock()
		if report != nil {
			report(err)
		}
	}
}

// SetOnError registers fn to receive failed batch writes.
func (c *Client) SetOnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// WritePoint queues a point stamped now. Keep tags low-cardinality; per
// event values (tag IDs, track names) belong in fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime queues a point at ts. Points written after Close are
// dropped.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if c.closed.Load() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, ts))
	c.queued.Add(1)
}

// Flush sends whatever is buffered and waits for it.
func (c *Client) Flush() {
	if !c.closed.Load() {
		c.writer.Flush()
	}
}

// Stats returns the running counters.
func (c *Client) Stats() Stats {
	return Stats{Queued: c.queued.Load(), WriteErrors: c.failed.Load()}
}

// IsConnected reports whether the client is still open.
func (c *Client) IsConnected() bool {
	return !c.closed.Load()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.closed.Load() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.conn); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// Close flushes buffered points and releases the connection. Later calls
// are no-ops.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.writer.Flush()
	c.conn.Close()
	return nil
}

package playback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/tagbox-core/internal/audio"
	"github.com/nerrad567/tagbox-core/internal/hardware/indicator"
	"github.com/nerrad567/tagbox-core/internal/hardware/reader"
	"github.com/nerrad567/tagbox-core/internal/mapping"
	"github.com/nerrad567/tagbox-core/internal/media"
)

// Coordinator owns the playback loop: it polls the reader, resolves tags
// against the mapping snapshot of the current run, and keeps at most one
// player process alive.
//
// A run is bound to one snapshot for its whole life. To apply a changed
// mapping, Restart the coordinator with a fresh snapshot.
//
// Thread Safety: All methods are safe for concurrent use.
type Coordinator struct {
	cfg      Config
	reader   Reader
	player   Player
	light    indicator.Light
	chimes   Chimes
	notifier Notifier
	logger   Logger

	// lifeMu serialises Start, Stop and Restart.
	lifeMu sync.Mutex
	run    *run

	// procMu is held across every player transition (terminate, spawn,
	// install), so two players never overlap.
	procMu sync.Mutex

	// mu guards current and live. Light and notifier calls may happen
	// under it; neither may call back into the coordinator.
	mu      sync.Mutex
	current string
	live    *liveProc

	stats counters
}

type run struct {
	id       uint64
	snapshot mapping.Snapshot
	cancel   context.CancelFunc
	done     chan struct{}

	// abandoned is set when Stop gave up waiting; the run's teardown then
	// leaves shared state alone.
	abandoned atomic.Bool

	sessMu  sync.Mutex
	session reader.Session
}

func (r *run) setSession(s reader.Session) {
	r.sessMu.Lock()
	r.session = s
	r.sessMu.Unlock()
}

func (r *run) closeSession() {
	r.sessMu.Lock()
	s := r.session
	r.session = nil
	r.sessMu.Unlock()
	if s != nil {
		s.Close() //nolint:errcheck // Releasing the reader
	}
}

type liveProc struct {
	owner   *run
	proc    Process
	track   media.Track
	watched chan struct{}
}

type counters struct {
	runs          atomic.Uint64
	scans         atomic.Uint64
	unmapped      atomic.Uint64
	plays         atomic.Uint64
	readFailures  atomic.Uint64
	spawnFailures atomic.Uint64
}

// New creates a stopped coordinator. Reader, Player and Light are
// required; the other dependencies default to no-ops.
func New(cfg Config, deps Deps) *Coordinator {
	c := &Coordinator{
		cfg:      cfg,
		reader:   deps.Reader,
		player:   deps.Player,
		light:    deps.Light,
		chimes:   deps.Chimes,
		notifier: deps.Notifier,
		logger:   deps.Logger,
	}
	if c.light == nil {
		c.light = indicator.None{}
	}
	if c.chimes == nil {
		c.chimes = noopChimes{}
	}
	if c.notifier == nil {
		c.notifier = noopNotifier{}
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}
	return c
}

// Start begins a run bound to snapshot. It returns ErrAlreadyRunning if a
// run has not been stopped.
func (c *Coordinator) Start(snapshot mapping.Snapshot) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	return c.startLocked(snapshot)
}

// Stop ends the current run: the loop is cancelled, a live player is
// killed, and the loop is joined for at most JoinTimeout. If the loop does
// not exit in time it is abandoned, its reader session is closed, state is
// reset and ErrStopTimeout is returned. Stop is a no-op when stopped.
//
// After Stop returns there is no current track and no live player.
func (c *Coordinator) Stop() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	return c.stopLocked()
}

// Restart stops the current run, if any, and starts a new one bound to
// snapshot. A new run is started even when stopping timed out; the stop
// error is still returned.
func (c *Coordinator) Restart(snapshot mapping.Snapshot) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	stopErr := c.stopLocked()
	if err := c.startLocked(snapshot); err != nil {
		return err
	}
	return stopErr
}

// Running reports whether a run is active.
func (c *Coordinator) Running() bool {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	return c.run != nil
}

// CurrentTrack returns the playing track's name without extension.
func (c *Coordinator) CurrentTrack() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.current != ""
}

// StopPlayback kills the live player and clears the current track. The
// loop keeps running, so the next different tag starts playback again.
func (c *Coordinator) StopPlayback() {
	c.procMu.Lock()
	c.stopLive(nil, 0)
	c.procMu.Unlock()

	c.light.Off()
	c.notifier.TrackChanged("")
	c.logger.Info("playback stopped")
}

func (c *Coordinator) startLocked(snapshot mapping.Snapshot) error {
	if c.run != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:       c.stats.runs.Add(1),
		snapshot: snapshot,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.run = r

	c.logger.Info("playback loop starting", "run", r.id, "mappings", snapshot.Len())
	go c.loop(ctx, r)
	return nil
}

func (c *Coordinator) stopLocked() error {
	r := c.run
	if r == nil {
		return nil
	}
	c.run = nil

	r.cancel()

	// Kill the player now rather than after the loop notices the cancel.
	c.mu.Lock()
	if c.live != nil && c.live.owner == r {
		go c.live.proc.Terminate(0) //nolint:errcheck // The loop's teardown collects the result
	}
	c.mu.Unlock()

	timer := time.NewTimer(c.cfg.JoinTimeout)
	defer timer.Stop()

	select {
	case <-r.done:
		c.logger.Info("playback loop stopped", "run", r.id)
		return nil
	case <-timer.C:
	}

	c.logger.Error("playback loop did not stop, abandoning it", "run", r.id, "timeout", c.cfg.JoinTimeout)
	r.abandoned.Store(true)
	go r.closeSession()

	c.mu.Lock()
	lp := c.live
	c.live = nil
	c.current = ""
	c.mu.Unlock()
	if lp != nil {
		go lp.proc.Terminate(0) //nolint:errcheck // Abandoned
	}

	c.light.Off()
	c.notifier.TrackChanged("")
	return ErrStopTimeout
}

// loop is the body of one run.
func (c *Coordinator) loop(ctx context.Context, r *run) {
	defer close(r.done)
	defer c.teardown(r)

	if !sleep(ctx, c.cfg.StartupDelay) {
		return
	}

	session := c.openSession(ctx, r)
	if session == nil {
		return
	}

	// failed is the last track whose player could not be started; it is
	// not retried until a different track is resolved.
	var failed media.Track

	for {
		if ctx.Err() != nil {
			return
		}

		tagID, ok, err := session.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, reader.ErrClosed) {
				return
			}
			c.stats.readFailures.Add(1)
			c.logger.Warn("tag read failed", "error", err)
			c.signalError(ctx)
			if !sleep(ctx, c.cfg.Cooldown) {
				return
			}
			continue
		}
		if !ok {
			if !sleep(ctx, c.cfg.PollInterval) {
				return
			}
			continue
		}

		c.stats.scans.Add(1)
		track, found := r.snapshot.Resolve(tagID)
		c.notifier.TagScanned(Scan{TagID: tagID, Track: track, Mapped: found})

		if !found {
			c.stats.unmapped.Add(1)
			c.logger.Info("unmapped tag", "tag_id", tagID)
			c.setCurrent("")
			c.notifier.TrackChanged("")
			c.signalError(ctx)
			if !sleep(ctx, c.cfg.Cooldown) {
				return
			}
			continue
		}

		if c.playing(track) || track == failed {
			if !sleep(ctx, c.cfg.PollInterval) {
				return
			}
			continue
		}

		if err := c.switchTo(ctx, r, track); err != nil {
			if ctx.Err() != nil {
				return
			}
			failed = track
			c.stats.spawnFailures.Add(1)
			c.logger.Error("starting player failed", "track", track, "error", err)
			c.notifier.TrackChanged("")
			c.signalError(ctx)
			if !sleep(ctx, c.cfg.Cooldown) {
				return
			}
			continue
		}
		failed = ""

		if !sleep(ctx, c.cfg.PollInterval) {
			return
		}
	}
}

// switchTo replaces the live player, if any, with one playing track.
func (c *Coordinator) switchTo(ctx context.Context, r *run, track media.Track) error {
	c.procMu.Lock()
	defer c.procMu.Unlock()

	c.stopLive(nil, c.cfg.TerminateTimeout)
	if err := ctx.Err(); err != nil {
		return err
	}

	c.chimes.Play(audio.SoundPlay)
	c.setCurrent(track.Stem())
	c.light.On()

	proc, err := c.player.Play(track)
	if err != nil {
		c.setCurrent("")
		c.light.Off()
		return err
	}

	// Stop may have cancelled the run while the player was starting.
	if ctx.Err() != nil {
		proc.Terminate(0) //nolint:errcheck // Never became live
		c.setCurrent("")
		return ctx.Err()
	}

	lp := &liveProc{owner: r, proc: proc, track: track, watched: make(chan struct{})}
	c.mu.Lock()
	c.live = lp
	c.mu.Unlock()
	go c.watch(lp)

	c.stats.plays.Add(1)
	c.logger.Info("playing", "track", track)
	c.notifier.TrackChanged(track.Stem())
	return nil
}

// watch waits for lp to exit. If lp is still the live player at that point
// the track has finished on its own: state is cleared and announced.
func (c *Coordinator) watch(lp *liveProc) {
	defer close(lp.watched)
	<-lp.proc.Done()

	// mu is held until the end is announced, so a switch racing this exit
	// turns the light on and announces its track only afterwards.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live != lp {
		return
	}
	c.live = nil
	c.current = ""

	c.logger.Info("track finished", "track", lp.track)
	c.light.Off()
	c.notifier.TrackChanged("")
}

// stopLive terminates the live player and waits for its watcher. With a
// non-nil owner only that run's player is touched. The caller holds procMu.
func (c *Coordinator) stopLive(owner *run, timeout time.Duration) {
	c.mu.Lock()
	lp := c.live
	if lp == nil || (owner != nil && lp.owner != owner) {
		c.mu.Unlock()
		return
	}
	c.live = nil
	c.current = ""
	c.mu.Unlock()

	if err := lp.proc.Terminate(timeout); err != nil {
		c.logger.Error("terminating player", "track", lp.track, "error", err)
	}

	// A process that survived SIGKILL never closes Done; do not wait on it
	// forever.
	wait := time.NewTimer(c.cfg.TerminateTimeout)
	defer wait.Stop()
	select {
	case <-lp.watched:
	case <-wait.C:
		c.logger.Error("player watcher did not finish", "track", lp.track)
	}
}

// teardown runs when a loop exits for any reason.
func (c *Coordinator) teardown(r *run) {
	r.closeSession()

	c.procMu.Lock()
	c.stopLive(r, 0)
	c.procMu.Unlock()

	if r.abandoned.Load() {
		return
	}
	c.setCurrent("")
	c.light.Off()
	c.notifier.TrackChanged("")
}

// openSession claims the reader, retrying every cooldown while it is busy
// or failing. Returns nil once ctx is cancelled.
func (c *Coordinator) openSession(ctx context.Context, r *run) reader.Session {
	var lastErr string
	for {
		s, err := c.reader.Open()
		if err == nil {
			if ctx.Err() != nil {
				s.Close() //nolint:errcheck // Cancelled while opening
				return nil
			}
			r.setSession(s)
			c.logger.Debug("reader session open", "run", r.id)
			return s
		}
		if err.Error() != lastErr {
			c.logger.Warn("reader unavailable, retrying", "error", err)
			lastErr = err.Error()
		}
		if !sleep(ctx, c.cfg.Cooldown) {
			return nil
		}
	}
}

func (c *Coordinator) signalError(ctx context.Context) {
	c.chimes.Play(audio.SoundError)
	c.light.Flash(ctx, indicator.PatternError)
}

func (c *Coordinator) setCurrent(track string) {
	c.mu.Lock()
	c.current = track
	c.mu.Unlock()
}

// playing reports whether the live player is playing track.
func (c *Coordinator) playing(track media.Track) bool {
	c.mu.Lock()
	lp := c.live
	c.mu.Unlock()
	if lp == nil || lp.track != track {
		return false
	}
	select {
	case <-lp.proc.Done():
		return false
	default:
		return true
	}
}

// Stats is a point-in-time view of the coordinator.
type Stats struct {
	Running       bool   `json:"running"`
	CurrentTrack  string `json:"current_track,omitempty"`
	Runs          uint64 `json:"runs"`
	Scans         uint64 `json:"scans"`
	Unmapped      uint64 `json:"unmapped"`
	Plays         uint64 `json:"plays"`
	ReadFailures  uint64 `json:"read_failures"`
	SpawnFailures uint64 `json:"spawn_failures"`
}

// Stats returns loop counters since process start.
func (c *Coordinator) Stats() Stats {
	current, _ := c.CurrentTrack()
	return Stats{
		Running:       c.Running(),
		CurrentTrack:  current,
		Runs:          c.stats.runs.Load(),
		Scans:         c.stats.scans.Load(),
		Unmapped:      c.stats.unmapped.Load(),
		Plays:         c.stats.plays.Load(),
		ReadFailures:  c.stats.readFailures.Load(),
		SpawnFailures: c.stats.spawnFailures.Load(),
	}
}

// sleep waits for d or until ctx ends, reporting whether the full time
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

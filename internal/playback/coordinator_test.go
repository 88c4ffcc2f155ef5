package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tagbox-core/internal/audio"
	"github.com/nerrad567/tagbox-core/internal/hardware/indicator"
	"github.com/nerrad567/tagbox-core/internal/hardware/reader"
	"github.com/nerrad567/tagbox-core/internal/mapping"
	"github.com/nerrad567/tagbox-core/internal/media"
	"github.com/nerrad567/tagbox-core/internal/process"
)

const waitFor = 2 * time.Second

// fakeReader serves tags pushed through scan, one per Poll.
type fakeReader struct {
	tags chan string
	errs chan error

	mu     sync.Mutex
	open   bool
	opens  int
	hang   chan struct{}
	polled chan struct{}
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		tags:   make(chan string),
		errs:   make(chan error),
		polled: make(chan struct{}, 1),
	}
}

func (r *fakeReader) Open() (reader.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open {
		return nil, reader.ErrSessionBusy
	}
	r.open = true
	r.opens++
	return &fakeSession{r: r}, nil
}

func (r *fakeReader) isOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

// scan presents tagID to the next Poll.
func (r *fakeReader) scan(t *testing.T, tagID string) {
	t.Helper()
	select {
	case r.tags <- tagID:
	case <-time.After(waitFor):
		t.Fatalf("loop never polled for tag %s", tagID)
	}
}

func (r *fakeReader) fail(t *testing.T, err error) {
	t.Helper()
	select {
	case r.errs <- err:
	case <-time.After(waitFor):
		t.Fatal("loop never polled for the read error")
	}
}

type fakeSession struct {
	r    *fakeReader
	once sync.Once
}

func (s *fakeSession) Read(ctx context.Context) (string, error) {
	return "", errors.New("not used by the loop")
}

func (s *fakeSession) Poll(ctx context.Context) (string, bool, error) {
	s.r.mu.Lock()
	hang := s.r.hang
	s.r.mu.Unlock()
	if hang != nil {
		select {
		case s.r.polled <- struct{}{}:
		default:
		}
		<-hang
	}

	select {
	case id := <-s.r.tags:
		return id, true, nil
	case err := <-s.r.errs:
		return "", false, err
	default:
		return "", false, nil
	}
}

func (s *fakeSession) Close() error {
	s.once.Do(func() {
		s.r.mu.Lock()
		s.r.open = false
		s.r.mu.Unlock()
	})
	return nil
}

// fakeProc is a player that runs until terminated or finished.
type fakeProc struct {
	track  media.Track
	done   chan struct{}
	once   sync.Once
	player *fakePlayer

	mu         sync.Mutex
	terminated bool
}

func (p *fakeProc) Done() <-chan struct{} { return p.done }

func (p *fakeProc) exit() {
	p.once.Do(func() {
		p.player.mu.Lock()
		p.player.alive--
		p.player.mu.Unlock()
		close(p.done)
	})
}

func (p *fakeProc) Terminate(time.Duration) error {
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()
	p.exit()
	return nil
}

func (p *fakeProc) wasTerminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

func (p *fakeProc) running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

type fakePlayer struct {
	mu       sync.Mutex
	procs    []*fakeProc
	attempts []media.Track
	fail     map[media.Track]bool
	alive    int
	overlaps int
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{fail: make(map[media.Track]bool)}
}

func (p *fakePlayer) Play(track media.Track) (Process, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attempts = append(p.attempts, track)
	if p.fail[track] {
		return nil, fmt.Errorf("%w: %s: no such file", process.ErrSpawn, track)
	}
	if p.alive > 0 {
		p.overlaps++
	}
	p.alive++
	proc := &fakeProc{track: track, done: make(chan struct{}), player: p}
	p.procs = append(p.procs, proc)
	return proc, nil
}

func (p *fakePlayer) spawned() []*fakeProc {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*fakeProc(nil), p.procs...)
}

func (p *fakePlayer) attemptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.attempts)
}

func (p *fakePlayer) stats() (alive, overlaps int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive, p.overlaps
}

type fakeLight struct {
	mu      sync.Mutex
	on      bool
	flashes []string
	offGate func()
}

func (l *fakeLight) On() {
	l.mu.Lock()
	l.on = true
	l.mu.Unlock()
}

func (l *fakeLight) Off() {
	l.mu.Lock()
	gate := l.offGate
	l.mu.Unlock()
	if gate != nil {
		gate()
	}

	l.mu.Lock()
	l.on = false
	l.mu.Unlock()
}

func (l *fakeLight) gateOff(gate func()) {
	l.mu.Lock()
	l.offGate = gate
	l.mu.Unlock()
}

func (l *fakeLight) Flash(_ context.Context, p indicator.Pattern) {
	l.mu.Lock()
	l.flashes = append(l.flashes, p.Name)
	l.on = false
	l.mu.Unlock()
}

func (l *fakeLight) isOn() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

func (l *fakeLight) flashCount(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, f := range l.flashes {
		if f == name {
			n++
		}
	}
	return n
}

type fakeChimes struct {
	mu     sync.Mutex
	played []audio.Sound
}

func (c *fakeChimes) Play(s audio.Sound) {
	c.mu.Lock()
	c.played = append(c.played, s)
	c.mu.Unlock()
}

func (c *fakeChimes) count(s audio.Sound) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.played {
		if p == s {
			n++
		}
	}
	return n
}

type fakeNotifier struct {
	mu     sync.Mutex
	tracks []string
	scans  []Scan
}

func (n *fakeNotifier) TrackChanged(track string) {
	n.mu.Lock()
	n.tracks = append(n.tracks, track)
	n.mu.Unlock()
}

func (n *fakeNotifier) TagScanned(s Scan) {
	n.mu.Lock()
	n.scans = append(n.scans, s)
	n.mu.Unlock()
}

func (n *fakeNotifier) last() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.tracks) == 0 {
		return "", false
	}
	return n.tracks[len(n.tracks)-1], true
}

type harness struct {
	c        *Coordinator
	reader   *fakeReader
	player   *fakePlayer
	light    *fakeLight
	chimes   *fakeChimes
	notifier *fakeNotifier
}

func testConfig() Config {
	return Config{
		StartupDelay:     0,
		PollInterval:     2 * time.Millisecond,
		Cooldown:         10 * time.Millisecond,
		TerminateTimeout: 50 * time.Millisecond,
		JoinTimeout:      time.Second,
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		reader:   newFakeReader(),
		player:   newFakePlayer(),
		light:    &fakeLight{},
		chimes:   &fakeChimes{},
		notifier: &fakeNotifier{},
	}
	h.c = New(cfg, Deps{
		Reader:   h.reader,
		Player:   h.player,
		Light:    h.light,
		Chimes:   h.chimes,
		Notifier: h.notifier,
	})
	t.Cleanup(func() { h.c.Stop() })
	return h
}

func snapshotOf(t *testing.T, pairs map[string]string) mapping.Snapshot {
	t.Helper()
	var entries []mapping.Entry
	for id, track := range pairs {
		e, err := mapping.NewEntry(id, track)
		if err != nil {
			t.Fatalf("NewEntry(%q, %q) error = %v", id, track, err)
		}
		entries = append(entries, e)
	}
	return mapping.NewSnapshot(entries)
}

func eventually(t *testing.T, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf(format, args...)
}

func (h *harness) currentIs(want string) func() bool {
	return func() bool {
		got, ok := h.c.CurrentTrack()
		if want == "" {
			return !ok
		}
		return ok && got == want
	}
}

// settle waits until the loop has polled a few more times. A nil error
// reads as "no tag".
func (h *harness) settle(t *testing.T) {
	t.Helper()
	for i := 0; i < 3; i++ {
		h.reader.fail(t, nil)
	}
}

const (
	songTag    = "123456789012"
	unknownTag = "000000000000"
)

func startScenarioA(t *testing.T) (*harness, *fakeProc) {
	t.Helper()
	h := newHarness(t, testConfig())
	if err := h.c.Start(snapshotOf(t, map[string]string{songTag: "song.mp3"})); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	h.reader.scan(t, songTag)
	eventually(t, h.currentIs("song"), "current track never became %q", "song")

	procs := h.player.spawned()
	if len(procs) != 1 || procs[0].track != "song.mp3" {
		t.Fatalf("spawned = %v, want one player for song.mp3", procs)
	}
	return h, procs[0]
}

func TestCoordinator_ScanPlaysMappedTrack(t *testing.T) {
	h, proc := startScenarioA(t)

	if !proc.running() {
		t.Error("player not running")
	}
	if !h.light.isOn() {
		t.Error("light off while playing")
	}
	if h.chimes.count(audio.SoundPlay) != 1 {
		t.Errorf("play chime count = %d, want 1", h.chimes.count(audio.SoundPlay))
	}
	eventually(t, func() bool {
		last, ok := h.notifier.last()
		return ok && last == "song"
	}, "track_update(song) never sent")
}

func TestCoordinator_RepeatedScanIsIdempotent(t *testing.T) {
	h, proc := startScenarioA(t)

	for i := 0; i < 5; i++ {
		h.reader.scan(t, songTag)
	}
	h.settle(t)

	if n := len(h.player.spawned()); n != 1 {
		t.Errorf("spawned %d players for repeated scans, want 1", n)
	}
	if proc.wasTerminated() {
		t.Error("repeated scan terminated the playing track")
	}
}

func TestCoordinator_UnmappedTagLeavesPlayerAlone(t *testing.T) {
	h, proc := startScenarioA(t)

	h.reader.scan(t, unknownTag)
	eventually(t, h.currentIs(""), "current track not cleared after unmapped tag")
	eventually(t, func() bool { return h.light.flashCount("error") == 1 }, "no error flash for unmapped tag")

	if proc.wasTerminated() || !proc.running() {
		t.Error("unmapped tag stopped the running player")
	}
	if h.chimes.count(audio.SoundError) != 1 {
		t.Errorf("error chime count = %d, want 1", h.chimes.count(audio.SoundError))
	}
	if last, _ := h.notifier.last(); last != "" {
		t.Errorf("last track_update = %q, want null", last)
	}
	if !h.c.Running() {
		t.Error("loop exited after unmapped tag")
	}
}

func TestCoordinator_SwitchTerminatesPreviousFirst(t *testing.T) {
	h := newHarness(t, testConfig())
	snap := snapshotOf(t, map[string]string{"111": "first.mp3", "222": "second.ogg", "333": "third.wav"})
	if err := h.c.Start(snap); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for _, step := range []struct{ tag, want string }{
		{"111", "first"},
		{"222", "second"},
		{"333", "third"},
		{"111", "first"},
	} {
		h.reader.scan(t, step.tag)
		eventually(t, h.currentIs(step.want), "current track never became %q", step.want)
	}

	procs := h.player.spawned()
	if len(procs) != 4 {
		t.Fatalf("spawned %d players, want 4", len(procs))
	}
	for i, p := range procs[:3] {
		if !p.wasTerminated() {
			t.Errorf("player %d (%s) not terminated before the next track", i, p.track)
		}
	}
	alive, overlaps := h.player.stats()
	if overlaps != 0 {
		t.Errorf("a player was spawned while another was alive (%d times)", overlaps)
	}
	if alive != 1 {
		t.Errorf("alive players = %d, want 1", alive)
	}
}

func TestCoordinator_TrackFinishes(t *testing.T) {
	h, proc := startScenarioA(t)

	proc.exit()

	eventually(t, h.currentIs(""), "current track not cleared after the player exited")
	eventually(t, func() bool { return !h.light.isOn() }, "light still on after the track finished")

	// The same tag plays again once the track is over.
	h.reader.scan(t, songTag)
	eventually(t, func() bool { return len(h.player.spawned()) == 2 }, "finished track did not replay")
}

func TestCoordinator_TrackFinishesWhileSwitching(t *testing.T) {
	h := newHarness(t, testConfig())
	snap := snapshotOf(t, map[string]string{"111": "first.mp3", "222": "second.ogg"})
	if err := h.c.Start(snap); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.reader.scan(t, "111")
	eventually(t, h.currentIs("first"), "current track never became %q", "first")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.light.gateOff(func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	})

	// The first track ends on its own and the end is being announced
	// when the next tag arrives.
	h.player.spawned()[0].exit()
	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("finished track never turned the light off")
	}
	h.reader.scan(t, "222")
	time.Sleep(20 * time.Millisecond)
	close(release)

	eventually(t, h.currentIs("second"), "current track never became %q", "second")
	eventually(t, func() bool {
		last, ok := h.notifier.last()
		return ok && last == "second"
	}, "last track_update is not the new track")
	if !h.light.isOn() {
		t.Error("light off while the new track plays")
	}
}

func TestCoordinator_StopPlayback(t *testing.T) {
	h, proc := startScenarioA(t)

	h.c.StopPlayback()

	if _, ok := h.c.CurrentTrack(); ok {
		t.Error("current track set after StopPlayback")
	}
	if !proc.wasTerminated() || proc.running() {
		t.Error("player still alive after StopPlayback")
	}
	if h.light.isOn() {
		t.Error("light on after StopPlayback")
	}
	if !h.c.Running() {
		t.Fatal("StopPlayback stopped the loop")
	}

	h.reader.scan(t, songTag)
	eventually(t, h.currentIs("song"), "loop did not play again after StopPlayback")
}

func TestCoordinator_Stop(t *testing.T) {
	h, proc := startScenarioA(t)

	if err := h.c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if _, ok := h.c.CurrentTrack(); ok {
		t.Error("current track set after Stop")
	}
	if proc.running() {
		t.Error("player alive after Stop")
	}
	if alive, _ := h.player.stats(); alive != 0 {
		t.Errorf("alive players = %d after Stop", alive)
	}
	if h.light.isOn() {
		t.Error("light on after Stop")
	}
	if h.reader.isOpen() {
		t.Error("reader session still open after Stop")
	}
	if h.c.Running() {
		t.Error("Running() = true after Stop")
	}
	if last, _ := h.notifier.last(); last != "" {
		t.Errorf("final track_update = %q, want null", last)
	}

	// Idempotent.
	if err := h.c.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestCoordinator_StopWhenNeverStarted(t *testing.T) {
	h := newHarness(t, testConfig())
	if err := h.c.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if _, ok := h.c.CurrentTrack(); ok {
		t.Error("current track set")
	}
}

func TestCoordinator_StartTwice(t *testing.T) {
	h := newHarness(t, testConfig())
	snap := snapshotOf(t, nil)

	if err := h.c.Start(snap); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := h.c.Start(snap); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestCoordinator_RestartAppliesNewSnapshot(t *testing.T) {
	h, _ := startScenarioA(t)

	// The mapping for songTag has been removed.
	if err := h.c.Restart(snapshotOf(t, map[string]string{"999": "other.mp3"})); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if alive, _ := h.player.stats(); alive != 0 {
		t.Errorf("alive players after Restart = %d, want 0", alive)
	}

	h.reader.scan(t, songTag)
	eventually(t, func() bool { return h.light.flashCount("error") == 1 }, "removed tag not treated as unmapped")
	if n := len(h.player.spawned()); n != 1 {
		t.Errorf("removed tag spawned a player (%d total)", n)
	}

	h.reader.scan(t, "999")
	eventually(t, h.currentIs("other"), "new mapping not applied after Restart")
}

func TestCoordinator_SpawnFailureIsNotRetried(t *testing.T) {
	h := newHarness(t, testConfig())
	h.player.fail["broken.mp3"] = true
	snap := snapshotOf(t, map[string]string{"111": "broken.mp3", "222": "fine.mp3"})
	if err := h.c.Start(snap); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	h.reader.scan(t, "111")
	eventually(t, func() bool { return h.light.flashCount("error") == 1 }, "no error signal for a failed spawn")

	for i := 0; i < 3; i++ {
		h.reader.scan(t, "111")
	}
	h.settle(t)

	if n := h.player.attemptCount(); n != 1 {
		t.Errorf("spawn attempts = %d, want 1", n)
	}
	if _, ok := h.c.CurrentTrack(); ok {
		t.Error("current track set after failed spawn")
	}
	if h.light.isOn() {
		t.Error("light on after failed spawn")
	}

	h.reader.scan(t, "222")
	eventually(t, h.currentIs("fine"), "loop stuck after a failed spawn")

	// A different track resets the failure memory.
	h.reader.scan(t, "111")
	eventually(t, func() bool { return h.player.attemptCount() == 3 }, "failed track not retried after another track")
}

func TestCoordinator_ReadFailureRecovers(t *testing.T) {
	h := newHarness(t, testConfig())
	if err := h.c.Start(snapshotOf(t, map[string]string{songTag: "song.mp3"})); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	h.reader.fail(t, fmt.Errorf("%w: crc error", reader.ErrReadFailed))
	eventually(t, func() bool { return h.light.flashCount("error") == 1 }, "no error flash for a read failure")

	h.reader.scan(t, songTag)
	eventually(t, h.currentIs("song"), "loop did not recover after a read failure")

	if s := h.c.Stats(); s.ReadFailures != 1 || s.Plays != 1 {
		t.Errorf("Stats() = %+v, want 1 read failure and 1 play", s)
	}
}

func TestCoordinator_WaitsForBusyReader(t *testing.T) {
	h := newHarness(t, testConfig())

	held, err := h.reader.Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := h.c.Start(snapshotOf(t, map[string]string{songTag: "song.mp3"})); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	held.Close()

	h.reader.scan(t, songTag)
	eventually(t, h.currentIs("song"), "loop did not claim the reader once it was released")
}

func TestCoordinator_StopTimeoutAbandonsRun(t *testing.T) {
	cfg := testConfig()
	cfg.JoinTimeout = 50 * time.Millisecond
	h := newHarness(t, cfg)

	hang := make(chan struct{})
	if err := h.c.Start(snapshotOf(t, nil)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.settle(t)

	h.reader.mu.Lock()
	h.reader.hang = hang
	h.reader.mu.Unlock()
	select {
	case <-h.reader.polled:
	case <-time.After(waitFor):
		t.Fatal("loop never entered the hanging poll")
	}

	h.c.lifeMu.Lock()
	old := h.c.run
	h.c.lifeMu.Unlock()

	start := time.Now()
	err := h.c.Stop()
	if !errors.Is(err, ErrStopTimeout) {
		t.Fatalf("Stop() error = %v, want ErrStopTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop() took %v, want bounded by the join timeout", elapsed)
	}
	if h.c.Running() {
		t.Error("Running() = true after abandoned stop")
	}
	eventually(t, func() bool { return !h.reader.isOpen() }, "abandoned run kept the reader session")

	h.reader.mu.Lock()
	h.reader.hang = nil
	h.reader.mu.Unlock()
	close(hang)
	select {
	case <-old.done:
	case <-time.After(waitFor):
		t.Fatal("abandoned loop did not exit once its poll returned")
	}

	// A fresh run works normally.
	if err := h.c.Start(snapshotOf(t, map[string]string{songTag: "song.mp3"})); err != nil {
		t.Fatalf("Start() after abandoned stop error = %v", err)
	}
	h.reader.scan(t, songTag)
	eventually(t, h.currentIs("song"), "new run did not play")
}

func TestCoordinator_StartupDelay(t *testing.T) {
	cfg := testConfig()
	cfg.StartupDelay = time.Hour
	h := newHarness(t, cfg)

	if err := h.c.Start(snapshotOf(t, nil)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if h.reader.isOpen() {
		t.Error("reader opened before the startup delay elapsed")
	}

	start := time.Now()
	if err := h.c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Stop() waited out the startup delay")
	}
}

func TestCoordinator_ScanNotifications(t *testing.T) {
	h, _ := startScenarioA(t)
	h.reader.scan(t, unknownTag)
	eventually(t, h.currentIs(""), "unmapped tag not handled")

	h.notifier.mu.Lock()
	scans := append([]Scan(nil), h.notifier.scans...)
	h.notifier.mu.Unlock()

	if len(scans) != 2 {
		t.Fatalf("scans = %+v, want 2", scans)
	}
	if !scans[0].Mapped || scans[0].Track != "song.mp3" || scans[0].TagID != songTag {
		t.Errorf("first scan = %+v", scans[0])
	}
	if scans[1].Mapped || scans[1].TagID != unknownTag {
		t.Errorf("second scan = %+v", scans[1])
	}
}

func TestHandlePlayer_NilHandleOnError(t *testing.T) {
	p := HandlePlayer(func(media.Track) (*process.Handle, error) {
		return nil, process.ErrSpawn
	})
	proc, err := p.Play("x.mp3")
	if !errors.Is(err, process.ErrSpawn) {
		t.Fatalf("Play() error = %v", err)
	}
	if proc != nil {
		t.Error("Play() returned a non-nil Process on error")
	}
}

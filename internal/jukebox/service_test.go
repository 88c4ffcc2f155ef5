package jukebox

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tagbox-core/internal/audio"
	"github.com/nerrad567/tagbox-core/internal/hardware/indicator"
	"github.com/nerrad567/tagbox-core/internal/hardware/reader"
	"github.com/nerrad567/tagbox-core/internal/mapping"
	"github.com/nerrad567/tagbox-core/internal/media"
	"github.com/nerrad567/tagbox-core/internal/notify"
	"github.com/nerrad567/tagbox-core/internal/playback"
)

// memRepo is an in-memory mapping.Repository.
type memRepo struct {
	mu         sync.Mutex
	records    []mapping.Record
	failWrites bool
}

func (r *memRepo) List(context.Context) ([]mapping.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]mapping.Record(nil), r.records...), nil
}

func (r *memRepo) ReplaceAll(_ context.Context, entries []mapping.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrites {
		return errors.New("disk I/O error")
	}
	r.records = r.records[:0]
	for _, e := range entries {
		r.records = append(r.records, mapping.Record{TagID: string(e.TagID), Track: string(e.Track)})
	}
	return nil
}

// tagDriver delivers line once per session, or nothing when line is empty.
type tagDriver struct {
	line string
}

func (d *tagDriver) Name() string { return "test" }

func (d *tagDriver) Open() (reader.Conn, error) {
	if d.line == "" {
		r, _ := io.Pipe()
		return reader.NewLineConn(r), nil
	}
	return reader.NewLineConn(io.NopCloser(strings.NewReader(d.line + "\n"))), nil
}

type fakeCoord struct {
	mu         sync.Mutex
	calls      []string
	last       mapping.Snapshot
	running    bool
	current    string
	restartErr error
}

func (c *fakeCoord) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *fakeCoord) Start(s mapping.Snapshot) error {
	c.record("start")
	c.mu.Lock()
	c.last, c.running = s, true
	c.mu.Unlock()
	return nil
}

func (c *fakeCoord) Stop() error {
	c.record("stop")
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	return nil
}

func (c *fakeCoord) Restart(s mapping.Snapshot) error {
	c.record("restart")
	c.mu.Lock()
	c.last, c.running = s, true
	c.mu.Unlock()
	return c.restartErr
}

func (c *fakeCoord) StopPlayback() {
	c.record("stop_playback")
	c.mu.Lock()
	c.current = ""
	c.mu.Unlock()
}

func (c *fakeCoord) CurrentTrack() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.current != ""
}

func (c *fakeCoord) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *fakeCoord) history() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.calls, ",")
}

type fakeMixer struct {
	mu      sync.Mutex
	applied []int
}

func (m *fakeMixer) Set(_ context.Context, level int) (int, error) {
	level = audio.Clamp(level)
	m.mu.Lock()
	m.applied = append(m.applied, audio.RemapVolume(level))
	m.mu.Unlock()
	return level, nil
}

func (m *fakeMixer) Level(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.applied) == 0 {
		return 0, nil
	}
	return audio.UnmapVolume(m.applied[len(m.applied)-1]), nil
}

type fakeLight struct {
	mu      sync.Mutex
	flashes []string
}

func (l *fakeLight) On()  {}
func (l *fakeLight) Off() {}

func (l *fakeLight) Flash(_ context.Context, p indicator.Pattern) {
	l.mu.Lock()
	l.flashes = append(l.flashes, p.Name)
	l.mu.Unlock()
}

func (l *fakeLight) patterns() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.flashes, ",")
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

func (c *fakeChimes) Stop(audio.Sound) {}

func (c *fakeChimes) has(s audio.Sound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.played {
		if p == s {
			return true
		}
	}
	return false
}

type event struct {
	channel string
	payload any
}

type fakeSink struct {
	mu     sync.Mutex
	events []event
}

func (s *fakeSink) Broadcast(channel string, payload any) {
	s.mu.Lock()
	s.events = append(s.events, event{channel, payload})
	s.mu.Unlock()
}

func (s *fakeSink) last() event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return event{}
	}
	return s.events[len(s.events)-1]
}

type fakeAudit struct {
	mu      sync.Mutex
	actions []string
	sources []string
}

func (a *fakeAudit) Record(action, _, _, source string, _ map[string]any) {
	a.mu.Lock()
	a.actions = append(a.actions, action)
	a.sources = append(a.sources, source)
	a.mu.Unlock()
}

type fixture struct {
	svc    *Service
	repo   *memRepo
	store  *mapping.Store
	lib    *media.Library
	dir    string
	coord  *fakeCoord
	driver *tagDriver
	mixer  *fakeMixer
	light  *fakeLight
	chimes *fakeChimes
	sink   *fakeSink
	audit  *fakeAudit
}

func newFixture(t *testing.T, files []string, mappings map[string]string) *fixture {
	t.Helper()

	dir := t.TempDir()
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("audio"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	lib, err := media.NewLibrary(dir)
	if err != nil {
		t.Fatalf("NewLibrary() error = %v", err)
	}

	repo := &memRepo{}
	for id, track := range mappings {
		repo.records = append(repo.records, mapping.Record{TagID: id, Track: track})
	}
	store := mapping.NewStore(repo)
	if _, err := store.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	f := &fixture{
		repo:   repo,
		store:  store,
		lib:    lib,
		dir:    dir,
		coord:  &fakeCoord{running: true},
		driver: &tagDriver{},
		mixer:  &fakeMixer{},
		light:  &fakeLight{},
		chimes: &fakeChimes{},
		sink:   &fakeSink{},
		audit:  &fakeAudit{},
	}
	f.svc = New(Config{RegistrationTimeout: 100 * time.Millisecond, InitialVolume: 50}, Deps{
		Store:       store,
		Library:     lib,
		Coordinator: f.coord,
		Reader:      reader.NewDevice(f.driver),
		Mixer:       f.mixer,
		Light:       f.light,
		Chimes:      f.chimes,
		Notifier:    f.sink,
		Audit:       f.audit,
	})
	return f
}

func TestRegister_Success(t *testing.T) {
	f := newFixture(t, []string{"song.mp3"}, nil)
	f.driver.line = "123456789012"

	ctx := WithSource(context.Background(), "api")
	res := f.svc.Register(ctx, "song.mp3")

	if !res.OK() {
		t.Fatalf("Register() = %+v, want success", res)
	}
	if res.TagID != "123456789012" || res.Mappings["123456789012"] != "song.mp3" {
		t.Errorf("Register() result = %+v", res)
	}
	if got := f.coord.history(); got != "stop,restart" {
		t.Errorf("coordinator calls = %q, want stop,restart", got)
	}
	if track, ok := f.coord.last.Resolve("123456789012"); !ok || track != "song.mp3" {
		t.Error("coordinator not restarted with the new mapping")
	}
	if track, ok := f.store.Snapshot().Resolve("123456789012"); !ok || track != "song.mp3" {
		t.Error("mapping not committed")
	}
	if len(f.repo.records) != 1 {
		t.Errorf("persisted records = %d, want 1", len(f.repo.records))
	}
	if !f.chimes.has(audio.SoundScanning) || !f.chimes.has(audio.SoundRegistered) {
		t.Error("scanning and registered chimes not played")
	}
	if !strings.Contains(f.light.patterns(), "scanning") {
		t.Error("scanning pattern not flashed")
	}
	if ev := f.sink.last(); ev.channel != notify.RegistrationResult {
		t.Errorf("last notification = %q, want %s", ev.channel, notify.RegistrationResult)
	}
	if len(f.audit.sources) != 1 || f.audit.sources[0] != "api" {
		t.Errorf("audit sources = %v, want [api]", f.audit.sources)
	}
}

func TestRegister_ReadTimeout(t *testing.T) {
	f := newFixture(t, []string{"song.mp3"}, map[string]string{"111": "song.mp3"})

	res := f.svc.Register(context.Background(), "song.mp3")

	if res.OK() || !errors.Is(res.Err, ErrRead) {
		t.Fatalf("Register() = %+v, want ErrRead", res)
	}
	if got := f.coord.history(); got != "stop,start" {
		t.Errorf("coordinator calls = %q, want stop,start", got)
	}
	if _, ok := f.coord.last.Resolve("111"); !ok {
		t.Error("coordinator not resumed with the committed mapping")
	}
	if !strings.Contains(f.light.patterns(), "error") || !f.chimes.has(audio.SoundError) {
		t.Error("read failure not signalled")
	}
	if ev := f.sink.last(); ev.channel != notify.RegistrationResult {
		t.Errorf("last notification = %q, want %s", ev.channel, notify.RegistrationResult)
	}
}

func TestRegister_ReaderReleasedAfterwards(t *testing.T) {
	f := newFixture(t, []string{"song.mp3"}, nil)
	f.driver.line = "42"

	if res := f.svc.Register(context.Background(), "song.mp3"); !res.OK() {
		t.Fatalf("first Register() = %+v", res)
	}
	f.driver.line = "43"
	if res := f.svc.Register(context.Background(), "song.mp3"); !res.OK() {
		t.Fatalf("second Register() = %+v, reader not released", res)
	}
	if f.store.Snapshot().Len() != 2 {
		t.Errorf("mappings = %v, want two tags", f.store.Snapshot().Map())
	}
}

func TestRegister_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		wantErr error
	}{
		{"bad extension", "notes.txt", media.ErrInvalidTrack},
		{"path traversal", "../etc/passwd.mp3", media.ErrInvalidTrack},
		{"missing file", "absent.mp3", media.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, []string{"song.mp3"}, nil)
			f.driver.line = "123"

			res := f.svc.Register(context.Background(), tt.file)
			if res.OK() || !errors.Is(res.Err, tt.wantErr) {
				t.Fatalf("Register(%q) = %+v, want %v", tt.file, res, tt.wantErr)
			}
			if got := f.coord.history(); got != "" {
				t.Errorf("coordinator touched for a rejected request: %q", got)
			}
		})
	}
}

func TestRegister_PersistFailureResumesCommitted(t *testing.T) {
	f := newFixture(t, []string{"song.mp3", "other.mp3"}, map[string]string{"111": "other.mp3"})
	f.driver.line = "222"
	f.repo.failWrites = true

	res := f.svc.Register(context.Background(), "song.mp3")

	if res.OK() || !errors.Is(res.Err, mapping.ErrPersist) {
		t.Fatalf("Register() = %+v, want ErrPersist", res)
	}
	if _, ok := f.store.Snapshot().Resolve("222"); ok {
		t.Error("failed registration visible in the committed mapping")
	}
	if got := f.coord.history(); got != "stop,start" {
		t.Errorf("coordinator calls = %q, want stop,start", got)
	}
	if _, ok := f.coord.last.Resolve("222"); ok {
		t.Error("coordinator resumed with the uncommitted mapping")
	}
}

func TestUnregister(t *testing.T) {
	f := newFixture(t, []string{"song.mp3"}, map[string]string{"111": "song.mp3", "222": "song.mp3"})

	res := f.svc.Unregister(context.Background(), "111")
	if !res.OK() {
		t.Fatalf("Unregister() = %+v", res)
	}
	if _, ok := res.Mappings["111"]; ok {
		t.Error("result still maps the removed tag")
	}
	if got := f.coord.history(); got != "restart" {
		t.Errorf("coordinator calls = %q, want restart", got)
	}
	if _, ok := f.coord.last.Resolve("111"); ok {
		t.Error("coordinator still resolves the removed tag")
	}
	if !f.chimes.has(audio.SoundDelete) {
		t.Error("delete chime not played")
	}
	if ev := f.sink.last(); ev.channel != notify.UnregistrationResult {
		t.Errorf("last notification = %q", ev.channel)
	}
}

func TestUnregister_NotFound(t *testing.T) {
	f := newFixture(t, nil, map[string]string{"111": "song.mp3"})

	res := f.svc.Unregister(context.Background(), "999")
	if res.OK() || !errors.Is(res.Err, mapping.ErrNotFound) {
		t.Fatalf("Unregister() = %+v, want ErrNotFound", res)
	}
	if got := f.coord.history(); got != "" {
		t.Errorf("coordinator calls = %q, want none", got)
	}
}

func TestUnregister_PersistFailureDoesNotRestart(t *testing.T) {
	f := newFixture(t, nil, map[string]string{"111": "song.mp3"})
	f.repo.failWrites = true

	res := f.svc.Unregister(context.Background(), "111")
	if res.OK() || !errors.Is(res.Err, mapping.ErrPersist) {
		t.Fatalf("Unregister() = %+v, want ErrPersist", res)
	}
	if got := f.coord.history(); got != "" {
		t.Errorf("coordinator calls = %q, want none", got)
	}
	if _, ok := f.store.Snapshot().Resolve("111"); !ok {
		t.Error("committed mapping changed despite failed write")
	}
}

func TestMutation_RestartFailureReported(t *testing.T) {
	tests := []struct {
		name string
		run  func(f *fixture) Result
		keep func(f *fixture) bool
	}{
		{
			name: "register",
			run: func(f *fixture) Result {
				f.driver.line = "123456789012"
				return f.svc.Register(context.Background(), "song.mp3")
			},
			keep: func(f *fixture) bool {
				_, ok := f.store.Snapshot().Resolve("123456789012")
				return ok
			},
		},
		{
			name: "unregister",
			run: func(f *fixture) Result {
				return f.svc.Unregister(context.Background(), "111")
			},
			keep: func(f *fixture) bool {
				_, ok := f.store.Snapshot().Resolve("111")
				return !ok
			},
		},
		{
			name: "delete",
			run: func(f *fixture) Result {
				return f.svc.Delete(context.Background(), "song.mp3")
			},
			keep: func(f *fixture) bool {
				return f.store.Snapshot().Len() == 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, []string{"song.mp3"}, map[string]string{"111": "song.mp3"})
			f.coord.restartErr = playback.ErrStopTimeout

			res := tt.run(f)
			if res.OK() {
				t.Fatalf("result = %+v, want error", res)
			}
			if !errors.Is(res.Err, playback.ErrStopTimeout) {
				t.Errorf("Err = %v, want ErrStopTimeout", res.Err)
			}
			if !strings.Contains(res.Message, "playback could not be restarted") {
				t.Errorf("Message = %q", res.Message)
			}
			if !tt.keep(f) {
				t.Error("committed change was not kept")
			}
			if !f.chimes.has(audio.SoundError) {
				t.Error("error chime not played")
			}
		})
	}
}

func TestDelete_RemovesFileAndEveryMapping(t *testing.T) {
	f := newFixture(t, []string{"song.mp3", "keep.ogg"}, map[string]string{
		"111": "song.mp3",
		"222": "song.mp3",
		"333": "keep.ogg",
	})

	res := f.svc.Delete(context.Background(), "song.mp3")
	if !res.OK() {
		t.Fatalf("Delete() = %+v", res)
	}

	if _, err := os.Stat(filepath.Join(f.dir, "song.mp3")); !os.IsNotExist(err) {
		t.Error("track file still present")
	}
	want := map[string]string{"333": "keep.ogg"}
	if len(res.Mappings) != 1 || res.Mappings["333"] != "keep.ogg" {
		t.Errorf("result mappings = %v, want %v", res.Mappings, want)
	}
	if len(res.AudioFiles) != 1 || res.AudioFiles[0] != "keep.ogg" {
		t.Errorf("result audio files = %v, want [keep.ogg]", res.AudioFiles)
	}
	if f.coord.last.Len() != 1 {
		t.Errorf("coordinator snapshot has %d entries, want 1", f.coord.last.Len())
	}
	if ev := f.sink.last(); ev.channel != notify.DeletionResult {
		t.Errorf("last notification = %q", ev.channel)
	}
}

func TestDelete_MissingFile(t *testing.T) {
	f := newFixture(t, nil, nil)

	res := f.svc.Delete(context.Background(), "ghost.mp3")
	if res.OK() || !errors.Is(res.Err, media.ErrNotFound) {
		t.Fatalf("Delete() = %+v, want ErrNotFound", res)
	}
	if got := f.coord.history(); got != "" {
		t.Errorf("coordinator calls = %q, want none", got)
	}
}

func TestSetVolume(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	tests := []struct {
		level     int
		want      int
		wantMixer int
	}{
		{0, 0, 0},
		{150, 100, 90},
		{50, 50, 57},
		{50, 50, 57},
		{-3, 0, 0},
	}

	for i, tt := range tests {
		got, err := f.svc.SetVolume(ctx, tt.level)
		if err != nil {
			t.Fatalf("SetVolume(%d) error = %v", tt.level, err)
		}
		if got != tt.want {
			t.Errorf("SetVolume(%d) = %d, want %d", tt.level, got, tt.want)
		}
		if f.mixer.applied[i] != tt.wantMixer {
			t.Errorf("SetVolume(%d) mixer = %d%%, want %d%%", tt.level, f.mixer.applied[i], tt.wantMixer)
		}
		ev := f.sink.last()
		if p, ok := ev.payload.(notify.VolumePayload); ev.channel != notify.VolumeUpdate || !ok || p.Volume != tt.want {
			t.Errorf("SetVolume(%d) notification = %+v", tt.level, ev)
		}
	}
}

func TestStopPlayback(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.coord.current = "song"

	res := f.svc.StopPlayback(context.Background())
	if !res.OK() {
		t.Fatalf("StopPlayback() = %+v", res)
	}
	if got := f.coord.history(); got != "stop_playback" {
		t.Errorf("coordinator calls = %q", got)
	}
	if _, ok := f.coord.CurrentTrack(); ok {
		t.Error("current track still set")
	}
}

func TestUpload(t *testing.T) {
	f := newFixture(t, nil, nil)

	res := f.svc.Upload(context.Background(), "My Song.mp3", strings.NewReader("ID3"))
	if !res.OK() {
		t.Fatalf("Upload() = %+v", res)
	}
	if res.Track != "My_Song.mp3" {
		t.Errorf("stored as %q, want My_Song.mp3", res.Track)
	}
	ev := f.sink.last()
	if ev.channel != notify.RefreshData {
		t.Fatalf("last notification = %q, want %s", ev.channel, notify.RefreshData)
	}
	if p := ev.payload.(notify.RefreshPayload); len(p.AudioFiles) != 1 {
		t.Errorf("refresh audio files = %v", p.AudioFiles)
	}

	bad := f.svc.Upload(context.Background(), "run.sh", strings.NewReader("#!/bin/sh"))
	if bad.OK() || !errors.Is(bad.Err, media.ErrInvalidTrack) {
		t.Errorf("Upload(run.sh) = %+v, want ErrInvalidTrack", bad)
	}
}

func TestBootAndState(t *testing.T) {
	f := newFixture(t, []string{"song.mp3"}, map[string]string{"111": "song.mp3"})
	f.coord.running = false

	if err := f.svc.Boot(context.Background()); err != nil {
		t.Fatalf("Boot() error = %v", err)
	}
	if !f.chimes.has(audio.SoundBoot) {
		t.Error("boot chime not played")
	}
	if got := f.coord.history(); got != "start" {
		t.Errorf("coordinator calls = %q, want start", got)
	}

	f.coord.current = "song"
	st := f.svc.State(context.Background())
	if st.CurrentTrack == nil || *st.CurrentTrack != "song" {
		t.Errorf("State().CurrentTrack = %v, want song", st.CurrentTrack)
	}
	if st.Volume != 50 {
		t.Errorf("State().Volume = %d, want 50", st.Volume)
	}
	if !st.Running || len(st.AudioFiles) != 1 || st.Mappings["111"] != "song.mp3" {
		t.Errorf("State() = %+v", st)
	}
}

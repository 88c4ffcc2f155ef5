package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nerrad567/tagbox-core/internal/audit"
	"github.com/nerrad567/tagbox-core/internal/bridges/remote"
	"github.com/nerrad567/tagbox-core/internal/infrastructure/config"
	"github.com/nerrad567/tagbox-core/internal/infrastructure/logging"
	"github.com/nerrad567/tagbox-core/internal/jukebox"
	"github.com/nerrad567/tagbox-core/internal/mapping"
	"github.com/nerrad567/tagbox-core/internal/media"
	"github.com/nerrad567/tagbox-core/internal/playback"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Controller is the control plane the API drives. *jukebox.Service
// satisfies it.
type Controller interface {
	Register(ctx context.Context, audioFile string) jukebox.Result
	Unregister(ctx context.Context, tagID string) jukebox.Result
	Delete(ctx context.Context, file string) jukebox.Result
	Upload(ctx context.Context, filename string, r io.Reader) jukebox.Result
	StopPlayback(ctx context.Context) jukebox.Result
	SetVolume(ctx context.Context, level int) (int, error)
	Volume(ctx context.Context) int
	State(ctx context.Context) jukebox.State
	Mappings() mapping.Snapshot
	Library() *media.Library
}

var _ Controller = (*jukebox.Service)(nil)

// StatsProvider reports playback counters for /metrics.
type StatsProvider interface {
	Stats() playback.Stats
}

// HealthChecker is implemented by optional infrastructure (MQTT, InfluxDB).
type HealthChecker interface {
	IsConnected() bool
}

// Database reports health and pool statistics. *database.DB satisfies it.
type Database interface {
	HealthCheck(ctx context.Context) error
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Controller Controller
	Playback   StatsProvider
	Hub        *Hub // If nil, the server creates and runs its own hub
	DB         Database
	AuditRepo  audit.Repository
	MQTT       HealthChecker
	Bridge     *remote.Bridge
	InfluxDB   HealthChecker
	PanelDir   string
	Version    string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	cors      corsPolicy
	logger    *logging.Logger
	ctrl      Controller
	playback  StatsProvider
	db        Database
	auditRepo audit.Repository
	mqtt      HealthChecker
	bridge    *remote.Bridge
	influx    HealthChecker
	panelDir  string
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	ownHub    bool
	cancel    context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}

	s := &Server{
		cfg:       deps.Config,
		cors:      newCORSPolicy(deps.Config.CORS),
		logger:    deps.Logger,
		ctrl:      deps.Controller,
		playback:  deps.Playback,
		db:        deps.DB,
		auditRepo: deps.AuditRepo,
		mqtt:      deps.MQTT,
		bridge:    deps.Bridge,
		influx:    deps.InfluxDB,
		panelDir:  deps.PanelDir,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       deps.Hub,
	}
	if s.hub == nil {
		s.hub = NewHub(deps.WS, deps.Logger)
		s.ownHub = true
	}
	s.hub.SetPrimer(s.primeState)

	return s, nil
}

// Hub returns the WebSocket hub, for registering it as a notification sink.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the router. Start uses it; tests call it directly.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.ownHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

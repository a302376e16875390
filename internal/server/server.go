// Package server wires the action gateway together: secret store, registry,
// gate, dispatcher, response shaper, sessions, events and the HTTP surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/action-gateway/internal/config"
	"github.com/morezero/action-gateway/pkg/action"
	"github.com/morezero/action-gateway/pkg/bootstrap"
	"github.com/morezero/action-gateway/pkg/builtin"
	"github.com/morezero/action-gateway/pkg/commsutil"
	"github.com/morezero/action-gateway/pkg/db"
	"github.com/morezero/action-gateway/pkg/dispatcher"
	"github.com/morezero/action-gateway/pkg/events"
	"github.com/morezero/action-gateway/pkg/gate"
	"github.com/morezero/action-gateway/pkg/hooks"
	"github.com/morezero/action-gateway/pkg/registry"
	"github.com/morezero/action-gateway/pkg/secret"
	"github.com/morezero/action-gateway/pkg/session"
	"github.com/morezero/action-gateway/pkg/shaper"
	"github.com/morezero/action-gateway/pkg/token"
)

const logPrefix = "server:server"

// Server is the action-gateway orchestrator.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	repo       *db.Repository
	httpServer *http.Server

	secrets  secret.Provider
	bus      *hooks.Bus
	reg      *registry.Registry
	gate     *gate.Gate
	shaper   *shaper.Shaper
	sessions *session.Manager
	users    *bootstrap.Directory
	applier  *bootstrap.Applier
	disp     *dispatcher.Dispatcher

	ready atomic.Bool
}

// Components are the external collaborators New wires in. Nil fields use
// in-process defaults, which is how tests build a Server.
type Components struct {
	Secrets   secret.Provider
	Publisher events.EventPublisher
	Pool      *pgxpool.Pool
	Conn      *comms.Conn
}

// New builds a Server from cfg and c. It binds the built-in handlers
// but does not load a manifest or listen.
func New(cfg *config.Config, c Components) *Server {
	s := &Server{cfg: cfg, nc: c.Conn, secrets: c.Secrets}
	if c.Pool != nil {
		s.repo = db.NewRepository(c.Pool)
	}
	if s.secrets == nil {
		s.secrets = secret.Static(cfg.SiteSecret)
	}

	s.bus = hooks.NewBus()
	s.reg = registry.NewRegistry(registry.NewRegistryParams{Config: registry.Config{
		BasePath:   cfg.ActionsPath,
		Duplicates: registry.DuplicatePolicy(cfg.DuplicatePolicy),
	}})
	codec := token.NewCodec(s.secrets, token.WithWindow(cfg.TokenWindow))
	s.gate = gate.New(gate.Params{Codec: codec, Bus: s.bus, Exempt: cfg.GateExempt})
	s.shaper = shaper.New(shaper.Config{Header: cfg.XHRHeader, Marker: cfg.XHRMarker})
	s.shaper.Register(s.bus)
	s.sessions = session.NewManager(session.ManagerParams{
		Secrets: s.secrets,
		Cookie:  cfg.SessionCookie,
		TTL:     cfg.SessionTTL,
		Secure:  cfg.SessionSecure,
	})

	s.users = bootstrap.NewDirectory(nil)
	s.applier = bootstrap.NewApplier(bootstrap.ApplierParams{
		Registry:   s.reg,
		Gate:       s.gate,
		Users:      s.users,
		Base:       builtin.Manifest(),
		BaseExempt: cfg.GateExempt,
	})
	builtin.Bind(s.reg, builtin.Deps{Codec: codec, Sessions: s.sessions, Users: s.users})

	s.disp = dispatcher.New(dispatcher.Params{
		Registry:      s.reg,
		Gate:          s.gate,
		Bus:           s.bus,
		Publisher:     c.Publisher,
		SiteURL:       cfg.SiteURL,
		Service:       cfg.COMMSName,
		BeforeRespond: s.persistSession,
	})
	return s
}

// Registry exposes the action registry so embedding code can bind
// handlers before serving.
func (s *Server) Registry() *registry.Registry { return s.reg }

// Hooks exposes the hook bus for additional subscribers.
func (s *Server) Hooks() *hooks.Bus { return s.bus }

// LoadManifest loads and applies the configured manifest and returns the
// file it came from ("" for the built-in default).
func (s *Server) LoadManifest() (string, error) {
	m, src, err := bootstrap.LoadManifest(s.cfg.ActionsManifest)
	if err != nil {
		return "", fmt.Errorf("%s - failed to load manifest: %w", logPrefix, err)
	}
	s.applier.Apply(m)
	s.ready.Store(true)
	return src, nil
}

func (s *Server) persistSession(ctx context.Context, req *action.Request) {
	next := req.ReplacedSession()
	if next == nil || req.Response == nil {
		return
	}
	if err := s.sessions.Save(ctx, req.Response, next); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to save session for %s: %v", logPrefix, req.Name, err))
	}
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	setupLogging(cfg.LogLevel)
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting action-gateway", logPrefix))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var c Components

	// Step 1: Database-backed site secret, if configured
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
		}
		defer pool.Close()
		c.Pool = pool

		if cfg.RunMigrations {
			migrations, err := db.LoadMigrations(cfg.MigrationPath)
			if err != nil {
				return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
			}
			if err := db.RunMigrations(ctx, pool, migrations); err != nil {
				return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
			}
		}

		store := secret.NewStore(db.NewRepository(pool))
		if _, err := store.Get(ctx); err != nil {
			return fmt.Errorf("%s - site secret unavailable: %w", logPrefix, err)
		}
		c.Secrets = store
	}

	// Step 2: Event stream
	c.Publisher = &events.NoOpPublisher{}
	if cfg.EventsEnabled {
		nc, err := commsutil.Connect(commsutil.ConnectParams{URL: cfg.COMMSURL, Name: cfg.COMMSName})
		if err != nil {
			return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
		}
		defer nc.Drain()
		c.Conn = nc
		c.Publisher = events.NewCommsPublisher(nc, &events.CommsPublisherOpts{
			Subject: cfg.ActionEventSubject,
			Service: cfg.COMMSName,
		})
	}

	// Step 3: Registry, gate, dispatcher and manifest
	s := New(cfg, c)
	src, err := s.LoadManifest()
	if err != nil {
		return err
	}
	if src != "" && cfg.ActionsWatch {
		w, err := bootstrap.NewWatcher(src, s.applier.Reload)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - manifest hot reload disabled: %v", logPrefix, err))
		} else {
			go func() {
				if err := w.Run(ctx); err != nil {
					slog.Error(fmt.Sprintf("%s - manifest watcher stopped: %v", logPrefix, err))
				}
			}()
		}
	}

	// Step 4: HTTP
	addr := cfg.ListenAddr()
	s.httpServer = &http.Server{Addr: addr, Handler: s.Routes(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info(fmt.Sprintf("%s - action-gateway is ready (%d actions)", logPrefix, s.reg.Count()))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))
	case err := <-errCh:
		slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
	}

	// Graceful shutdown
	s.ready.Store(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer shutdownCancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
	}
	cancel()
	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

func setupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

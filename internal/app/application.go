package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"liveclass/internal/api"
	"liveclass/internal/broadcast"
	"liveclass/internal/config"
	"liveclass/internal/database"
	"liveclass/internal/relay"
	"liveclass/internal/room"
	"liveclass/internal/session"
	"liveclass/internal/websocket"
	pkgdatabase "liveclass/pkg/database"
)

// Application wires all components and owns their lifecycle. Initialization
// order follows the dependency chain: database, rooms, registry, sessions,
// relay, broadcaster, API, HTTP.
type Application struct {
	config         *config.Config
	dbManager      *database.Manager
	rooms          *room.Registry
	registry       *websocket.Registry
	sessionManager *session.Manager
	signalRelay    *relay.Relay
	broadcaster    *broadcast.Broadcaster
	apiServer      *api.Server
	httpServer     *http.Server
}

// NewApplication builds the full component graph from configuration.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	rooms := room.NewRegistry()
	registry := websocket.NewRegistry()

	sessionManager := session.NewManager(dbManager, rooms, registry, nil)
	if err := sessionManager.LoadSessions(context.Background()); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	signalRelay := relay.NewRelay(sessionManager, rooms, registry)
	broadcaster := broadcast.NewBroadcaster(rooms, registry, dbManager, nil)

	apiServer := api.NewServer(sessionManager, dbManager, broadcaster, registry)
	wsHandler := websocket.NewHandler(registry, sessionManager, signalRelay, broadcaster)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:         cfg,
		dbManager:      dbManager,
		rooms:          rooms,
		registry:       registry,
		sessionManager: sessionManager,
		signalRelay:    signalRelay,
		broadcaster:    broadcaster,
		apiServer:      apiServer,
		httpServer:     httpServer,
	}, nil
}

// Start begins serving. Returns once the listener is up or startup failed.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting liveclass server on %s", app.httpServer.Addr)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("Liveclass server started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts down in reverse dependency order: HTTP first, then the store.
// Room state is in-memory only and simply dropped; live sessions remain in
// the store and get empty rooms rebuilt on the next start.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down liveclass server")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("Liveclass server shutdown complete")
	return nil
}

// GetAddr returns the listen address.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}

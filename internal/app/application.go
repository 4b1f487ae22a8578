package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"anonfeedback/internal/aggregate"
	"anonfeedback/internal/api"
	"anonfeedback/internal/config"
	"anonfeedback/internal/coordinator"
	"anonfeedback/internal/database"
	"anonfeedback/internal/hub"
	"anonfeedback/internal/presence"
	"anonfeedback/internal/router"
	"anonfeedback/internal/session"
	"anonfeedback/internal/websocket"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config      *config.Config
	dbManager   *database.Manager
	dispatcher  *hub.Dispatcher
	coordinator *coordinator.Coordinator
	frameRouter *router.Router
	liveLimiter *router.RateLimiter
	apiServer   *api.Server
	httpServer  *http.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Registry/Aggregator/Presence/Dispatcher → Coordinator → Router → WebSocket → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Initialize database manager (foundation layer) and bring the schema up to date
	dbManager, err := database.NewManager(cfg.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}
	if err := dbManager.Migrate(); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	log.Println("Database migrations applied successfully")

	// STEP 2: In-memory components
	dispatcher := hub.NewDispatcher()
	feedback := coordinator.New(
		dbManager,
		session.NewRegistry(),
		aggregate.NewAggregator(),
		presence.NewTracker(),
		dispatcher,
		coordinator.Options{CommentMaxLength: cfg.Feedback.CommentMaxLength},
	)

	// STEP 3: Rebuild class sessions from storage so a restart keeps every summary
	hydrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := feedback.Hydrate(hydrateCtx); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("failed to load class sessions: %w", err)
	}

	// STEP 4: Frame router and WebSocket handler
	frameRouter := router.NewRouter(feedback, cfg.Feedback.LiveRatingLimit, cfg.Feedback.LiveRatingWindow)
	wsHandler := websocket.NewHandler(feedback, frameRouter, websocket.ConnectionConfig{
		BufferSize:   cfg.WebSocket.BufferSize,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		PingInterval: cfg.WebSocket.PingInterval,
	})

	// STEP 5: API server with the WebSocket endpoint mounted beside it
	// FUNCTIONAL DISCOVERY: live ratings over HTTP get the WebSocket frame limit, keyed by client address
	liveLimiter := router.NewRateLimiter(cfg.Feedback.LiveRatingLimit, cfg.Feedback.LiveRatingWindow)
	apiServer := api.NewServer(feedback, dbManager, cfg.HTTP.AllowedOrigin)
	apiServer.LimitLiveRatings(liveLimiter)
	apiServer.Mount("/ws", http.HandlerFunc(wsHandler.HandleWebSocket))

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		dbManager:   dbManager,
		dispatcher:  dispatcher,
		coordinator: feedback,
		frameRouter: frameRouter,
		liveLimiter: liveLimiter,
		apiServer:   apiServer,
		httpServer:  httpServer,
	}, nil
}

// Handler returns the root HTTP handler serving the API, health check and WebSocket endpoint
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// StartBackground starts the maintenance goroutines without listening on a port
func (app *Application) StartBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel

	app.wg.Add(2)
	go func() {
		defer app.wg.Done()
		app.frameRouter.Run(ctx)
	}()
	go func() {
		defer app.wg.Done()
		app.liveLimiter.Run(ctx)
	}()
}

// Start begins application execution
// Background maintenance starts first, then the HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting anonfeedback application on %s", app.httpServer.Addr)

	app.StartBackground()

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Verify server is ready before returning
	select {
	case err := <-serverErrCh:
		app.stopBackground()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("anonfeedback application started successfully")
		return nil
	case <-ctx.Done():
		app.stopBackground()
		return ctx.Err()
	}
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → background → rooms → Database
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down anonfeedback application")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	app.stopBackground()
	app.dispatcher.Close()

	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
		return fmt.Errorf("failed to close database: %w", err)
	}

	log.Printf("anonfeedback application shutdown complete")
	return nil
}

func (app *Application) stopBackground() {
	if app.cancel != nil {
		app.cancel()
		app.cancel = nil
	}
	app.wg.Wait()
}

// GetAddr returns the server address for external connections
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}

// GetStats returns runtime statistics of every in-memory component
func (app *Application) GetStats() map[string]interface{} {
	return app.coordinator.GetStats()
}

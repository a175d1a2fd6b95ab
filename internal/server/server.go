package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/a-essam23/pairpad/internal/relay"
	"github.com/a-essam23/pairpad/internal/server/middleware"
	"github.com/a-essam23/pairpad/pkg/config"
	"github.com/a-essam23/pairpad/pkg/metrics"
	"github.com/a-essam23/pairpad/pkg/session"
	"github.com/a-essam23/pairpad/pkg/transport"
)

type App struct {
	logger   *slog.Logger
	registry session.Registry
	conns    *relay.ConnManager
	engine   *relay.Engine
	wg       sync.WaitGroup
	http     *http.Server
	config   *config.Config

	startedAt time.Time
	ctx       context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, registry session.Registry, conns *relay.ConnManager, engine *relay.Engine) *App {
	app := &App{
		logger:    logger,
		registry:  registry,
		conns:     conns,
		engine:    engine,
		config:    cfg,
		startedAt: time.Now(),
		ctx:       rootCtx,
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", middleware.Chain(
		http.HandlerFunc(app.upgradeHandler),
		middleware.RequestMetadataMiddleware(),
		middleware.NewRequestLogger(app.logger),
		middleware.NewAcceptLimiter(logger, cfg.Server.AcceptsPerSecond, cfg.Server.AcceptBurst),
	))

	// Control plane: read-only diagnostics, never mutates relay state.
	mux.HandleFunc("GET /health", app.handleHealth)
	mux.HandleFunc("GET /config", app.handleConfig)
	mux.HandleFunc("GET /stats", app.handleStats)
	mux.Handle("GET /metrics", metrics.Handler())

	handler := cors.New(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet},
	}).Handler(mux)

	app.http = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(l net.Listener) context.Context {
			return app.ctx
		},
	}
	return app
}

// Handler exposes the fully wired HTTP handler.
func (a *App) Handler() http.Handler { return a.http.Handler }

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger
	if reqMeta != nil {
		connLogger = a.logger.With(slog.String("remoteAddr", reqMeta.IP))
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(a.config.Server.CORSOrigins),
	})
	if err != nil {
		connLogger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig{ReadTimeout: a.config.Transport.ReadTimeout},
		a.logger,
	)

	// Resolve the durable identity before any message can arrive. The client
	// may supply its own id and name; weak ids get replaced server-side.
	q := r.URL.Query()
	a.engine.OnConnect(conn, q.Get("client"), q.Get("name"))

	conn.SetOnMessageHandler(a.engine.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		a.engine.HandleDisconnect(id, err)
	})

	connLogger.Info("Connection fully established", slog.String("connID", conn.ID().String()))
	conn.Run()
	<-conn.Done()
}

// originPatterns converts configured origins into coder/websocket host
// patterns (scheme stripped).
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		if o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		out = []string{"*"}
	}
	return out
}

// Shutdown runs the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	for _, t := range a.conns.All() {
		t.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}

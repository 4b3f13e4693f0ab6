package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	hitlwebui "github.com/MegaGrindStone/hitl-web-ui"
	"github.com/MegaGrindStone/hitl-web-ui/internal/config"
	"github.com/MegaGrindStone/hitl-web-ui/internal/handlers"
	"github.com/MegaGrindStone/hitl-web-ui/internal/services"
)

func main() {
	if err := config.LoadEnv(); err != nil {
		log.Fatal(err)
	}

	cfgDir, err := config.Dir()
	if err != nil {
		log.Fatal(err)
	}

	cfg := defaultServerConfig()
	if err := config.Decode(filepath.Join(cfgDir, "server.yaml"), &cfg); err != nil {
		log.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		log.Fatal(fmt.Errorf("invalid server config: %w", err))
	}

	logger, err := cfg.NewLogger(os.Stdout)
	if err != nil {
		log.Fatal(err)
	}

	backend := services.NewConversationClient(cfg.BackendURL, cfg.RequestTimeout, logger)

	m, err := handlers.NewMain(backend, cfg.SessionTTL, logger)
	if err != nil {
		panic(err)
	}

	// Serve static files
	staticFS, err := fs.Sub(hitlwebui.StaticFS, "static")
	if err != nil {
		panic(err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	// Create custom mux
	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/messages", m.HandleMessages)
	mux.HandleFunc("/approve", m.HandleApprove)
	mux.HandleFunc("/sessions/close", m.HandleCloseSession)
	mux.HandleFunc("/sse", m.HandleSSE)

	// Create custom server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("Server starting",
			slog.String("port", cfg.Port),
			slog.String("backendURL", cfg.BackendURL))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("err", err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}
}

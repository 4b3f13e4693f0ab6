package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MegaGrindStone/hitl-web-ui/internal/agent"
	"github.com/MegaGrindStone/hitl-web-ui/internal/api"
	"github.com/MegaGrindStone/hitl-web-ui/internal/config"
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

	cfg := defaultBackendConfig()
	if err := config.Decode(filepath.Join(cfgDir, "backend.yaml"), &cfg); err != nil {
		log.Fatal(err)
	}

	logger, err := cfg.NewLogger(os.Stdout)
	if err != nil {
		log.Fatal(err)
	}

	llm, err := cfg.LLM.llm(cfg.SystemPrompt, logger)
	if err != nil {
		log.Fatal(fmt.Errorf("error creating llm: %w", err))
	}

	dbPath := filepath.Join(cfgDir, "threads.db")
	boltDB, err := services.NewBoltDB(dbPath)
	if err != nil {
		log.Fatal(fmt.Errorf("error opening thread store: %w", err))
	}
	defer boltDB.Close()

	mcpSrvs, err := populateMCPClients(cfg)
	if err != nil {
		mcpSrvs.close(logger)
		log.Fatal(err)
	}
	mcpTools, err := mcpSrvs.connect(logger)
	if err != nil {
		mcpSrvs.close(logger)
		log.Fatal(err)
	}
	defer mcpSrvs.close(logger)

	tools := append([]agent.Tool{agent.WeatherSearch{}}, mcpTools...)
	a := agent.New(llm, boltDB, tools, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(api.NewHandler(a, logger), logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Backend starting",
			slog.String("port", cfg.Port),
			slog.String("store", dbPath))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("err", err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		// In-flight model calls get a generous window to finish so their checkpoints are written.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"matchrag/internal/app"
	"matchrag/internal/config"
	"matchrag/internal/httpapi"
	"matchrag/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the exit code so deferred closes always happen.
func run(args []string) int {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("matchrag-server", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to YAML config file (optional; uses ~/.config/matchrag/config.yaml if not provided)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var cfg *config.AppConfig
	var err error
	if *cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(*cfgPath)
	}
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return 1
	}

	logger, closeLog, err := app.NewLogger(cfg.Log, os.Stdout)
	if err != nil {
		log.Printf("failed to init logger: %v", err)
		return 1
	}
	defer closeLog()
	defer func() { _ = logger.Sync() }()
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("assemble components", "err", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close resources", "err", err)
		}
	}()

	handler := httpapi.New(httpapi.Config{
		Service:           a.Service,
		Logger:            logger,
		DefaultDataset:    cfg.Dataset.Path,
		DatasetDir:        cfg.HTTP.DatasetDir,
		CompetitionSuffix: cfg.Dataset.CompetitionSuffix,
		AllowedOrigins:    cfg.HTTP.AllowedOrigins,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server starting", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.Dataset.Path != "" {
		// Predictions answer with the building sentinel until this finishes.
		g.Go(func() error {
			if _, err := a.Service.Build(gctx, cfg.Dataset.Path); err != nil {
				logger.Error("initial knowledge base build failed", "path", cfg.Dataset.Path, "err", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("http server failed", "err", err)
		return 1
	}
	logger.Info("http server stopped")
	return 0
}

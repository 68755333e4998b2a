package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"matchrag/internal/app"
	"matchrag/internal/config"
	"matchrag/internal/logging"
	"matchrag/internal/tui"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the exit code so deferred closes always happen.
func run(args []string) int {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("matchrag", flag.ContinueOnError)
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

	path := cfg.Dataset.Path
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if path == "" {
		fmt.Println("Usage: matchrag [--config=config.yaml] matches.csv")
		return 2
	}

	// The TUI owns stdout.
	logger, closeLog, err := app.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		log.Printf("failed to init logger: %v", err)
		return 1
	}
	defer closeLog()
	defer func() { _ = logger.Sync() }()
	logging.SetDefault(logger)

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to assemble components", "err", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close resources", "err", err)
		}
	}()

	svc := a.Service
	report, err := svc.Build(ctx, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "knowledge base build failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "indexed %d of %d rows from %s in %s\n", report.Documents, report.Rows, report.Path, report.Duration)

	summary := tui.Summary(svc.Dataset().Stats(cfg.Dataset.CompetitionSuffix), svc.Documents())
	m := tui.New(ctx, svc, summary)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		logger.Error("console exited", "err", err)
		return 1
	}
	return 0
}

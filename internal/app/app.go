// Package app assembles the prediction service from configuration.
package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"

	"matchrag/internal/config"
	"matchrag/internal/domain"
	"matchrag/internal/embedding/cache"
	embedopenai "matchrag/internal/embedding/openai"
	"matchrag/internal/embedding/tfidf"
	genopenai "matchrag/internal/generation/openai"
	"matchrag/internal/index"
	"matchrag/internal/logging"
	"matchrag/internal/service"
	"matchrag/internal/vectorstore/memory"
	"matchrag/internal/vectorstore/qdrant"
	"matchrag/internal/vectorstore/sqlite"
)

// App owns the service and the resources that must be closed on exit.
type App struct {
	Service *service.PredictionService
	Config  *config.AppConfig

	newEmbedder func() domain.Embedder
	closers     []io.Closer
}

// New wires embedder, vector store, cache and generator according to cfg.
func New(ctx context.Context, cfg *config.AppConfig, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Default()
	}
	a := &App{Config: cfg}

	newEmbedder, err := a.embedder(ctx, cfg, logger)
	if err != nil {
		return nil, a.closeWith(err)
	}
	a.newEmbedder = newEmbedder
	newStore, err := a.vectorStore(cfg)
	if err != nil {
		return nil, a.closeWith(err)
	}
	gen, err := generator(cfg)
	if err != nil {
		return nil, a.closeWith(err)
	}

	newIndex := func() service.Index {
		return index.New(newEmbedder(), newStore(),
			index.WithWorkers(cfg.Build.EmbedWorkers),
			index.WithLogger(logger),
		)
	}
	a.Service = service.New(newIndex, gen, service.Options{
		CompetitionSuffix: cfg.Dataset.CompetitionSuffix,
		TopK:              cfg.Retrieval.TopK,
		BucketSize:        cfg.Retrieval.BucketSize,
		AnswerTopK:        cfg.Retrieval.AnswerTopK,
		Logger:            logger,
	})
	logger.Info("components ready",
		"embedder", cfg.Embedder.Type,
		"vector_store", cfg.VectorStore.Type,
		"cache", cfg.Cache.Type,
		"generator", gen.Name(),
	)
	return a, nil
}

// embedder returns a constructor called once per index. A tfidf embedder is
// fitted to the corpus of its build, so each index gets its own and an
// in-flight query on the old index never sees the new vocabulary. Remote
// embedders are stateless and shared.
func (a *App) embedder(ctx context.Context, cfg *config.AppConfig, logger *logging.Logger) (func() domain.Embedder, error) {
	switch cfg.Embedder.Type {
	case "tfidf", "":
		if cfg.Cache.Type != "none" && cfg.Cache.Type != "" {
			logger.Warn("embedding cache ignored for corpus-dependent embedder", "embedder", "tfidf")
		}
		return func() domain.Embedder { return tfidf.NewEmbedder() }, nil
	case "openai":
		oc := cfg.Embedder.OpenAI
		if oc == nil {
			return nil, errors.New("openai embedder config missing")
		}
		client, err := embedopenai.NewClient(embedopenai.Config{
			BaseURL:    oc.BaseURL,
			APIKey:     os.Getenv(oc.APIKeyEnv),
			Model:      oc.Model,
			Dimension:  oc.Dimension,
			Timeout:    time.Duration(oc.TimeoutSecs) * time.Second,
			MaxRetries: oc.MaxRetries,
		})
		if err != nil {
			return nil, errors.Wrap(err, "openai embedder init")
		}
		emb, err := a.cached(ctx, cfg, client, logger)
		if err != nil {
			return nil, err
		}
		return func() domain.Embedder { return emb }, nil
	}
	return nil, errors.Newf("unknown embedder: %s", cfg.Embedder.Type)
}

func (a *App) cached(ctx context.Context, cfg *config.AppConfig, emb domain.Embedder, logger *logging.Logger) (domain.Embedder, error) {
	switch cfg.Cache.Type {
	case "none", "":
		return emb, nil
	case "memory":
		return cache.New(emb, cache.NewMemoryStore(), logger), nil
	case "redis":
		store, err := cache.NewRedisStore(cfg.Cache.RedisURL, time.Duration(cfg.Cache.TTLSecs)*time.Second)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store)
		if err := store.Ping(ctx); err != nil {
			logger.Warn("redis cache unreachable, continuing without hits", "err", err)
		}
		return cache.New(emb, store, logger), nil
	}
	return nil, errors.Newf("unknown cache: %s", cfg.Cache.Type)
}

// vectorStore returns a constructor. The memory store is recreated on every
// build; persistent stores are shared and reset by the index.
func (a *App) vectorStore(cfg *config.AppConfig) (func() domain.VectorStore, error) {
	switch cfg.VectorStore.Type {
	case "memory", "":
		return func() domain.VectorStore { return memory.NewStorage() }, nil
	case "qdrant":
		qc := cfg.VectorStore.Qdrant
		if qc == nil {
			return nil, errors.New("qdrant config missing")
		}
		st := qdrant.NewStorage(qdrant.Config{
			URL:        qc.URL,
			APIKey:     qc.APIKey,
			Collection: qc.Collection,
			Timeout:    time.Duration(qc.TimeoutSecs) * time.Second,
		})
		return func() domain.VectorStore { return st }, nil
	case "sqlite":
		sc := cfg.VectorStore.SQLite
		if sc == nil {
			return nil, errors.New("sqlite config missing")
		}
		if dir := filepath.Dir(sc.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(err, "create sqlite directory")
			}
		}
		st, err := sqlite.Open(sc.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, st)
		return func() domain.VectorStore { return st }, nil
	}
	return nil, errors.Newf("unknown vector store: %s", cfg.VectorStore.Type)
}

func generator(cfg *config.AppConfig) (domain.Generator, error) {
	switch cfg.Generator.Type {
	case "openai", "":
		gc := cfg.Generator.OpenAI
		if gc == nil {
			return nil, errors.New("openai generator config missing")
		}
		client, err := genopenai.NewClient(genopenai.Config{
			BaseURL:     gc.BaseURL,
			APIKey:      os.Getenv(gc.APIKeyEnv),
			Model:       gc.Model,
			Temperature: gc.Temperature,
			MaxTokens:   gc.MaxTokens,
			Timeout:     time.Duration(gc.TimeoutSecs) * time.Second,
			MaxRetries:  gc.MaxRetries,
		})
		if err != nil {
			return nil, errors.Wrap(err, "openai generator init")
		}
		return client, nil
	}
	return nil, errors.Newf("unknown generator: %s", cfg.Generator.Type)
}

// Close releases stores and caches.
func (a *App) Close() error {
	var errs error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = errors.CombineErrors(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errs
}

func (a *App) closeWith(err error) error {
	return errors.CombineErrors(err, a.Close())
}

// NewLogger builds the process logger from cfg. Console output goes to w,
// or to cfg.File when set; the returned func closes that file.
func NewLogger(cfg config.LogConfig, w io.Writer) (*logging.Logger, func(), error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "open log file %s", cfg.File)
		}
		w = f
		closeFn = func() { _ = f.Close() }
	}
	if cfg.Format == "json" {
		return logging.NewJSON(w, level), closeFn, nil
	}
	return logging.NewConsole(w, level), closeFn, nil
}

package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/embedding"
	"github.com/hyperjump/kura/internal/keyword"
	"github.com/hyperjump/kura/internal/lifecycle"
	"github.com/hyperjump/kura/internal/metrics"
	"github.com/hyperjump/kura/internal/storage"
	"github.com/hyperjump/kura/internal/store"
	"github.com/hyperjump/kura/internal/vector"
)

// Components holds initialized services.
type Components struct {
	Store    *store.Store
	Embedder embedding.Embedder
	Listener *lifecycle.Listener
	Registry *prometheus.Registry
}

// Close persists the store and releases the embedder. The store owns and
// closes the catalog and keyword index.
func (c *Components) Close() error {
	var err error
	if c.Store != nil {
		err = c.Store.Close()
	}
	if c.Embedder != nil {
		if cerr := c.Embedder.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func embeddingConfig(cfg *config.Config) embedding.Config {
	e := cfg.Embedding
	return embedding.Config{
		Provider:   e.Provider,
		ModelPath:  e.ModelPath,
		Model:      e.Model,
		APIKey:     e.APIKey,
		BaseURL:    e.BaseURL,
		Dimensions: e.Dimensions,
		MaxTokens:  e.MaxTokens,
		OutputName: e.OutputName,
		CacheSize:  e.CacheSize,
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	policy, err := store.ParseRebuildPolicy(cfg.Vector.RebuildPolicy)
	if err != nil {
		return nil, err
	}

	indexType := vector.IndexType(cfg.Vector.IndexType)
	if indexType == vector.IndexTypeFAISS && !vector.IsFAISSAvailable() {
		logger.Warn("FAISS not compiled in, falling back to memory index",
			zap.String("requested_type", cfg.Vector.IndexType))
		indexType = vector.IndexTypeMemory
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector, err := metrics.NewPrometheus(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	emb, err := embedding.New(ctx, embeddingConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	closers := []func() error{emb.Close}
	fail := func(err error) (*Components, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	opts := []store.Option{
		store.WithLogger(logger),
		store.WithRebuildPolicy(policy),
		store.WithIndexType(indexType),
		store.WithMetrics(collector),
	}
	if cfg.Search.KeywordEnabledOrDefault() {
		kw, err := keyword.NewBleveIndex("")
		if err != nil {
			return fail(fmt.Errorf("failed to initialize keyword index: %w", err))
		}
		closers = append(closers, kw.Close)
		opts = append(opts, store.WithKeywordIndex(kw))
	}
	if cfg.Storage.CatalogPath != "" {
		catalog, err := storage.NewSQLiteCatalog(cfg.Storage.CatalogPath)
		if err != nil {
			return fail(fmt.Errorf("failed to open catalog: %w", err))
		}
		opts = append(opts, store.WithCatalog(catalog))
	}

	// Open closes the keyword index and catalog itself when it fails.
	st, err := store.Open(ctx, cfg.Storage.DataDir, emb, opts...)
	if err != nil {
		_ = emb.Close()
		return nil, err
	}
	logger.Info("store opened",
		zap.String("data_dir", st.Dir()),
		zap.Int("rows", st.Len()),
		zap.Int("dimensions", st.Dimensions()),
		zap.String("index_type", string(indexType)),
		zap.String("provider", cfg.Embedding.Provider))

	return &Components{
		Store:    st,
		Embedder: emb,
		Listener: lifecycle.NewListener(st, lifecycle.WithLogger(logger)),
		Registry: registry,
	}, nil
}

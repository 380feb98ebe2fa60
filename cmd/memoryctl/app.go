package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/commentary"
	"github.com/becomeliminal/nim-memory/memory/config"
	"github.com/becomeliminal/nim-memory/memory/exact"
	"github.com/becomeliminal/nim-memory/memory/localstore"
	"github.com/becomeliminal/nim-memory/memory/metrics"
	"github.com/becomeliminal/nim-memory/memory/search"
	"github.com/becomeliminal/nim-memory/memory/summary"
	"github.com/becomeliminal/nim-memory/memory/tags"
	"github.com/becomeliminal/nim-memory/memory/vectorindex"
	"github.com/becomeliminal/nim-memory/memory/vectorindex/chromem"
	"github.com/becomeliminal/nim-memory/memory/vectorindex/memindex"
	"github.com/becomeliminal/nim-memory/memory/vectorindex/sqlite"
)

// errNeedsIndex is returned by commands that only work with a vector index.
var errNeedsIndex = errors.New("this command needs a vector index backend (memory, chromem or sqlite)")

// app holds everything a command may use. manager is nil for the local
// backend.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Collector

	local       *localstore.Store
	manager     *memory.Manager
	summarizer  *summary.Generator
	commentator *commentary.Generator
	searcher    *search.Searcher

	closers []func() error
}

func openApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.backend != "" {
		cfg.Backend = opts.backend
	}
	if opts.dataDir != "" {
		cfg.DataDir = opts.dataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := config.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		log:     log,
		metrics: metrics.NewCollector(cfg.Metrics.Namespace),
	}
	a.closers = append(a.closers, func() error {
		_ = log.Sync()
		return nil
	})

	a.local, err = localstore.New(filepath.Join(cfg.DataDir, "local"), localstore.WithLogger(log), localstore.WithMetrics(a.metrics))
	if err != nil {
		return nil, err
	}

	gen, err := a.newGenerator(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.summarizer = summary.New(gen, cfg.Summary, summary.WithLogger(log), summary.WithMetrics(a.metrics))
	a.commentator = commentary.New(gen, cfg.Commentary, commentary.WithLogger(log), commentary.WithMetrics(a.metrics))

	if cfg.Backend == config.BackendLocal {
		a.searcher = search.New(search.NewLocal(a.local), search.WithLogger(log), search.WithMetrics(a.metrics))
		log.Debug("using local fallback store", zap.String("root", a.local.Root()))
		return a, nil
	}

	embedder, err := a.newEmbedder(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	index, err := a.newIndex()
	if err != nil {
		a.Close()
		return nil, err
	}

	es, err := exact.New(ctx, index, cfg.Exact, exact.WithLogger(log), exact.WithMetrics(a.metrics))
	if err != nil {
		a.Close()
		return nil, err
	}
	ts, err := tags.New(ctx, index, cfg.Tags, tags.WithLogger(log), tags.WithMetrics(a.metrics))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.manager = memory.NewManager(es, ts, &cfg.Manager,
		memory.WithEmbedder(embedder),
		memory.WithSummarizer(a.summarizer),
		memory.WithCommentator(a.commentator),
		memory.WithArchive(a.local),
		memory.WithLogger(log),
	)
	a.searcher = search.New(search.NewLayered(a.manager), search.WithLogger(log), search.WithMetrics(a.metrics))
	return a, nil
}

func (a *app) newIndex() (vectorindex.Index, error) {
	switch a.cfg.Backend {
	case config.BackendMemory:
		return memindex.New(), nil
	case config.BackendChromem:
		return chromem.New(chromem.Config{Path: filepath.Join(a.cfg.DataDir, "chromem"), Compress: a.cfg.Compress})
	case config.BackendSQLite:
		idx, err := sqlite.Open(filepath.Join(a.cfg.DataDir, "vectors.db"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, idx.Close)
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", a.cfg.Backend)
	}
}

func (a *app) needManager() error {
	if a.manager == nil {
		return errNeedsIndex
	}
	return nil
}

// Close runs the closers in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
}

// Package loader seeds the vector collections from the search indexes at
// startup. When a collection is already populated it is left alone, so the
// seed pass is cheap on every restart after the first.
package loader

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/blueconnect/triage/internal/model"
)

const (
	// maxSeedDocs caps how many documents one seed pass pulls from an index.
	maxSeedDocs = 1000
	// embedBatchSize is the chunk size for batch embedding calls.
	embedBatchSize = 64
)

// Source lists documents from a search index.
type Source interface {
	ListDocuments(ctx context.Context, top int) ([]model.Document, error)
}

// Target is a vector collection that can be seeded.
type Target interface {
	Count(ctx context.Context) (uint64, error)
	Upsert(ctx context.Context, doc model.Document, embedding []float32) error
}

// Embedder generates embeddings in batches.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Loader bootstraps the active and historic ticket collections.
type Loader struct {
	activeSource   Source
	historicSource Source
	activeStore    Target
	historicStore  Target
	embedder       Embedder
	logger         *slog.Logger
}

// Config holds the loader's dependencies; all are required.
type Config struct {
	ActiveSource   Source
	HistoricSource Source
	ActiveStore    Target
	HistoricStore  Target
	Embedder       Embedder
	Logger         *slog.Logger
}

// New creates a Loader.
func New(cfg Config) *Loader {
	return &Loader{
		activeSource:   cfg.ActiveSource,
		historicSource: cfg.HistoricSource,
		activeStore:    cfg.ActiveStore,
		historicStore:  cfg.HistoricStore,
		embedder:       cfg.Embedder,
		logger:         cfg.Logger,
	}
}

// Run seeds both collections concurrently and returns the first hard error.
// Per-document failures are logged and skipped; only index-level failures
// (source unreadable, embedding batch dead) abort a corpus.
func (l *Loader) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.seed(ctx, "active", l.activeSource, l.activeStore) })
	g.Go(func() error { return l.seed(ctx, "historic", l.historicSource, l.historicStore) })
	return g.Wait()
}

func (l *Loader) seed(ctx context.Context, corpus string, src Source, dst Target) error {
	count, err := dst.Count(ctx)
	if err != nil {
		return fmt.Errorf("loader: count %s collection: %w", corpus, err)
	}
	if count > 0 {
		l.logger.Info("loader: collection already seeded", "corpus", corpus, "points", count)
		return nil
	}

	docs, err := src.ListDocuments(ctx, maxSeedDocs)
	if err != nil {
		return fmt.Errorf("loader: list %s documents: %w", corpus, err)
	}
	if len(docs) == 0 {
		l.logger.Info("loader: source index empty, nothing to seed", "corpus", corpus)
		return nil
	}

	var seeded, skipped int
	for start := 0; start < len(docs); start += embedBatchSize {
		end := min(start+embedBatchSize, len(docs))
		batch := docs[start:end]

		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = d.Description
		}

		vecs, err := l.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("loader: embed %s batch at %d: %w", corpus, start, err)
		}

		for i, d := range batch {
			if d.Description == "" || vecs[i] == nil {
				skipped++
				continue
			}
			if err := dst.Upsert(ctx, d, vecs[i]); err != nil {
				l.logger.Warn("loader: document skipped", "corpus", corpus, "ticket_id", d.TicketID, "error", err)
				skipped++
				continue
			}
			seeded++
		}
	}

	l.logger.Info("loader: collection seeded", "corpus", corpus, "seeded", seeded, "skipped", skipped)
	return nil
}

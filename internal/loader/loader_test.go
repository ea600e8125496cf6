package loader

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueconnect/triage/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeSource struct {
	docs  []model.Document
	err   error
	calls int
}

func (f *fakeSource) ListDocuments(context.Context, int) ([]model.Document, error) {
	f.calls++
	return f.docs, f.err
}

type fakeTarget struct {
	count     uint64
	upserts   []model.Document
	upsertErr map[string]error // keyed by ticket ID
}

func (f *fakeTarget) Count(context.Context) (uint64, error) {
	return f.count, nil
}

func (f *fakeTarget) Upsert(_ context.Context, doc model.Document, _ []float32) error {
	if err := f.upsertErr[doc.TicketID]; err != nil {
		return err
	}
	f.upserts = append(f.upserts, doc)
	return nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i := range vecs {
		vecs[i] = []float32{1, 0}
	}
	return vecs, nil
}

func TestRunSeedsEmptyCollections(t *testing.T) {
	activeSrc := &fakeSource{docs: []model.Document{
		{TicketID: "1", LocationID: "15", Description: "email outage"},
		{TicketID: "2", LocationID: "15", Description: "printer jam"},
	}}
	historicSrc := &fakeSource{docs: []model.Document{
		{TicketID: "3", LocationID: "9", Description: "resolved vpn issue", ActualResolutionTime: "30"},
	}}
	activeDst := &fakeTarget{}
	historicDst := &fakeTarget{}

	l := New(Config{
		ActiveSource: activeSrc, HistoricSource: historicSrc,
		ActiveStore: activeDst, HistoricStore: historicDst,
		Embedder: fakeEmbedder{}, Logger: testLogger(),
	})

	require.NoError(t, l.Run(context.Background()))
	assert.Len(t, activeDst.upserts, 2)
	assert.Len(t, historicDst.upserts, 1)
}

func TestRunSkipsPopulatedCollection(t *testing.T) {
	activeSrc := &fakeSource{docs: []model.Document{{TicketID: "1", Description: "x"}}}
	historicSrc := &fakeSource{}
	activeDst := &fakeTarget{count: 500}
	historicDst := &fakeTarget{}

	l := New(Config{
		ActiveSource: activeSrc, HistoricSource: historicSrc,
		ActiveStore: activeDst, HistoricStore: historicDst,
		Embedder: fakeEmbedder{}, Logger: testLogger(),
	})

	require.NoError(t, l.Run(context.Background()))
	assert.Zero(t, activeSrc.calls)
	assert.Empty(t, activeDst.upserts)
}

func TestRunSkipsBadDocuments(t *testing.T) {
	src := &fakeSource{docs: []model.Document{
		{TicketID: "1", Description: "good"},
		{TicketID: "2", Description: ""}, // no text to embed
		{TicketID: "3", Description: "upsert fails"},
	}}
	dst := &fakeTarget{upsertErr: map[string]error{"3": errors.New("write rejected")}}

	l := New(Config{
		ActiveSource: src, HistoricSource: &fakeSource{},
		ActiveStore: dst, HistoricStore: &fakeTarget{},
		Embedder: fakeEmbedder{}, Logger: testLogger(),
	})

	require.NoError(t, l.Run(context.Background()))
	require.Len(t, dst.upserts, 1)
	assert.Equal(t, "1", dst.upserts[0].TicketID)
}

func TestRunPropagatesSourceError(t *testing.T) {
	l := New(Config{
		ActiveSource: &fakeSource{err: errors.New("index down")}, HistoricSource: &fakeSource{},
		ActiveStore: &fakeTarget{}, HistoricStore: &fakeTarget{},
		Embedder: fakeEmbedder{}, Logger: testLogger(),
	})

	err := l.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "active")
}

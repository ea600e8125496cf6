package ticket

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueconnect/triage/internal/model"
	"github.com/blueconnect/triage/internal/search"
)

const testDescription = "Email server connectivity issues at branch office"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeIndex struct {
	queryFn  func(req search.Request) ([]model.Match, error)
	queries  []search.Request
	upserts  []model.Document
	maxT     int
	maxC     int
	maxErr   error
	maxCalls int
	maxPanic bool
}

func (f *fakeIndex) Query(_ context.Context, req search.Request) ([]model.Match, error) {
	f.queries = append(f.queries, req)
	if f.queryFn != nil {
		return f.queryFn(req)
	}
	return nil, nil
}

func (f *fakeIndex) Upsert(_ context.Context, doc model.Document, _ []float32) error {
	f.upserts = append(f.upserts, doc)
	return nil
}

func (f *fakeIndex) MaxIDs(context.Context) (int, int, error) {
	f.maxCalls++
	if f.maxPanic {
		panic("id scan exploded")
	}
	return f.maxT, f.maxC, f.maxErr
}

type fakeVectors struct {
	matches []model.Match
	err     error
	calls   int
}

func (f *fakeVectors) Search(context.Context, []float32, string, int) ([]model.Match, error) {
	f.calls++
	return f.matches, f.err
}

type fakeCache struct {
	store map[string][]byte
	gets  int
	sets  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{store: map[string][]byte{}}
}

func (f *fakeCache) Get(_ context.Context, key string) ([]byte, error) {
	f.gets++
	return f.store[key], nil
}

func (f *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.sets++
	f.store[key] = value
	return nil
}

type fakeEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	f.calls++
	return f.vec, f.err
}

type fakeLLM struct {
	out   string
	err   error
	calls int
}

func (f *fakeLLM) Complete(context.Context, string) (string, error) {
	f.calls++
	return f.out, f.err
}

func activeMatch(ert string) model.Match {
	return model.Match{
		Doc:   model.Document{TicketID: "1", LocationID: "15", Description: "prior email outage", EstimatedResolutionTime: ert},
		Score: 0.9,
	}
}

func historicMatch(art string) model.Match {
	return model.Match{
		Doc:   model.Document{TicketID: "2", LocationID: "15", Description: "resolved email outage", ActualResolutionTime: art},
		Score: 0.8,
	}
}

func TestValidationShortCircuits(t *testing.T) {
	idx := &fakeIndex{}
	vec := &fakeVectors{matches: []model.Match{activeMatch("10")}}
	emb := &fakeEmbedder{vec: []float32{1}}
	cache := newFakeCache()
	p := New(Config{Index: idx, Active: vec, Cache: cache, Embedder: emb, Logger: testLogger()})

	res := p.Process(context.Background(), "short", "15")

	assert.Equal(t, model.TypeValidationError, res.Type)
	assert.Zero(t, res.Ticket.EstimatedResolutionTime)
	assert.NotEmpty(t, res.Notification)

	// No adapter may be touched on the validation path.
	assert.Zero(t, idx.maxCalls)
	assert.Empty(t, idx.queries)
	assert.Zero(t, vec.calls)
	assert.Zero(t, emb.calls)
	assert.Zero(t, cache.gets)
}

func TestCascadeOrdering(t *testing.T) {
	tests := []struct {
		name     string
		stage    int // 1=active vectors, 2=historic vectors, 3=hybrid, 4=text, 5=global
		wantType string
	}{
		{name: "active vectors", stage: 1, wantType: model.TypeActiveTicket},
		{name: "historic vectors", stage: 2, wantType: model.TypeHistoricTicket},
		{name: "hybrid", stage: 3, wantType: model.TypeHybridTicket},
		{name: "text only", stage: 4, wantType: model.TypeTextTicket},
		{name: "global", stage: 5, wantType: model.TypeGlobalTicket},
		{name: "exhausted", stage: 6, wantType: model.TypeInvalidQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			active := &fakeVectors{}
			historic := &fakeVectors{}
			if tt.stage == 1 {
				active.matches = []model.Match{activeMatch("10")}
			}
			if tt.stage == 2 {
				historic.matches = []model.Match{historicMatch("30")}
			}

			idx := &fakeIndex{maxT: 100, maxC: 200}
			idx.queryFn = func(req search.Request) ([]model.Match, error) {
				switch {
				case req.LocationID != "" && !req.TextOnly && tt.stage == 3:
					return []model.Match{activeMatch("12")}, nil
				case req.TextOnly && tt.stage == 4:
					return []model.Match{activeMatch("8")}, nil
				case req.LocationID == "" && tt.stage == 5:
					return []model.Match{activeMatch("6")}, nil
				}
				return nil, nil
			}

			p := New(Config{
				Index:    idx,
				Active:   active,
				Historic: historic,
				Embedder: &fakeEmbedder{vec: []float32{1}},
				Logger:   testLogger(),
			})

			res := p.Process(context.Background(), testDescription, "15")
			assert.Equal(t, tt.wantType, res.Type)

			// No strategy after the matching one may run.
			if tt.stage < 2 {
				assert.Zero(t, historic.calls)
			}
			wantIndexQueries := 0
			if tt.stage >= 3 {
				wantIndexQueries = tt.stage - 2
			}
			if tt.stage == 6 {
				wantIndexQueries = 3
			}
			assert.Len(t, idx.queries, wantIndexQueries)
		})
	}
}

func TestCacheIdempotence(t *testing.T) {
	idx := &fakeIndex{maxT: 100, maxC: 200}
	active := &fakeVectors{matches: []model.Match{activeMatch("18")}}
	emb := &fakeEmbedder{vec: []float32{1}}
	llm := &fakeLLM{out: "Your ticket is in. Expect resolution in 18 hours."}
	cache := newFakeCache()

	p := New(Config{Index: idx, Active: active, Cache: cache, Embedder: emb, LLM: llm, Logger: testLogger()})

	first := p.Process(context.Background(), testDescription, "15")
	require.Equal(t, model.TypeActiveTicket, first.Type)

	second := p.Process(context.Background(), testDescription, "15")
	assert.Equal(t, model.TypeActiveTicket, second.Type)
	assert.Equal(t, first.Ticket, second.Ticket)
	assert.NotEmpty(t, second.Notification)

	// Search, embedding, and LLM adapters are invoked exactly once in total.
	assert.Equal(t, 1, active.calls)
	assert.Equal(t, 1, emb.calls)
	assert.Equal(t, 1, llm.calls)
	assert.Equal(t, 1, idx.maxCalls)
	assert.Equal(t, 1, cache.sets)
}

func TestVectorStoreFailureDegrades(t *testing.T) {
	failing := &fakeVectors{err: errors.New("qdrant unreachable")}
	idx := &fakeIndex{maxT: 100, maxC: 200}
	idx.queryFn = func(req search.Request) ([]model.Match, error) {
		if req.LocationID != "" && !req.TextOnly {
			return []model.Match{activeMatch("9")}, nil
		}
		return nil, nil
	}

	p := New(Config{
		Index:    idx,
		Active:   failing,
		Historic: failing,
		Embedder: &fakeEmbedder{vec: []float32{1}},
		Logger:   testLogger(),
	})

	res := p.Process(context.Background(), testDescription, "15")
	assert.Equal(t, model.TypeHybridTicket, res.Type)
	assert.Equal(t, 9, res.Ticket.EstimatedResolutionTime)
	assert.Equal(t, 2, failing.calls)
}

func TestGlobalFallback(t *testing.T) {
	// The only match lives under a different location, so scoped strategies
	// come up empty and the unfiltered global stage finds it.
	idx := &fakeIndex{maxT: 100, maxC: 200}
	idx.queryFn = func(req search.Request) ([]model.Match, error) {
		if req.LocationID == "" {
			return []model.Match{{
				Doc:   model.Document{TicketID: "9", LocationID: "99", Description: "same issue elsewhere", EstimatedResolutionTime: "40"},
				Score: 0.7,
			}}, nil
		}
		return nil, nil
	}

	p := New(Config{Index: idx, Logger: testLogger()})

	res := p.Process(context.Background(), testDescription, "15")
	assert.Equal(t, model.TypeGlobalTicket, res.Type)
	assert.Equal(t, 40, res.Ticket.EstimatedResolutionTime)

	// Global ran last: hybrid and text-only were both tried with the filter first.
	require.Len(t, idx.queries, 3)
	assert.Equal(t, "15", idx.queries[0].LocationID)
	assert.Equal(t, "15", idx.queries[1].LocationID)
	assert.True(t, idx.queries[1].TextOnly)
	assert.Equal(t, "", idx.queries[2].LocationID)
	assert.Equal(t, 10, idx.queries[2].Top)
}

func TestEndToEndActiveMatch(t *testing.T) {
	idx := &fakeIndex{maxT: 100, maxC: 200}
	active := &fakeVectors{matches: []model.Match{activeMatch("18")}}

	p := New(Config{
		Index:    idx,
		Active:   active,
		Embedder: &fakeEmbedder{vec: []float32{1}},
		Logger:   testLogger(),
	})

	res := p.Process(context.Background(), "Email server connectivity issues at branch office", "15")

	assert.Equal(t, model.TypeActiveTicket, res.Type)
	assert.Equal(t, 18, res.Ticket.EstimatedResolutionTime)
	assert.Equal(t, 101, res.Ticket.TicketID)
	assert.Equal(t, 201, res.Ticket.CustomerID)
	assert.Equal(t, "15", res.Ticket.LocationID)
	assert.Equal(t, "complaint", res.Ticket.Type)
	assert.Equal(t, 5, res.Ticket.ClusterID)
	assert.True(t, res.Ticket.IsValid)
	require.NotEmpty(t, res.Notification)
	assert.Contains(t, res.Notification, "18")

	// Write-back persisted the new ticket with string-typed fields.
	require.Len(t, idx.upserts, 1)
	assert.Equal(t, "101", idx.upserts[0].TicketID)
	assert.Equal(t, "18", idx.upserts[0].EstimatedResolutionTime)
}

func TestInvalidQueryPersistedAndCached(t *testing.T) {
	idx := &fakeIndex{maxT: 100, maxC: 200}
	cache := newFakeCache()

	p := New(Config{Index: idx, Cache: cache, Logger: testLogger()})

	res := p.Process(context.Background(), testDescription, "15")
	assert.Equal(t, model.TypeInvalidQuery, res.Type)
	assert.Zero(t, res.Ticket.EstimatedResolutionTime)
	assert.Zero(t, res.Ticket.ClusterID)
	assert.False(t, res.Ticket.IsValid)
	assert.Len(t, idx.upserts, 1)
	assert.Equal(t, 1, cache.sets)

	// A repeat of the same unmatched query is served from cache.
	idx.queries = nil
	res2 := p.Process(context.Background(), testDescription, "15")
	assert.Equal(t, model.TypeInvalidQuery, res2.Type)
	assert.Empty(t, idx.queries)
}

func TestPreviewSkipsSideEffects(t *testing.T) {
	idx := &fakeIndex{maxT: 100, maxC: 200}
	active := &fakeVectors{matches: []model.Match{activeMatch("18")}}
	cache := newFakeCache()

	p := New(Config{Index: idx, Active: active, Cache: cache, Embedder: &fakeEmbedder{vec: []float32{1}}, Logger: testLogger()})

	res := p.Preview(context.Background(), testDescription, "15")
	assert.Equal(t, model.TypeActiveTicket, res.Type)
	assert.Empty(t, idx.upserts)
	assert.Zero(t, cache.sets)
}

func TestEmbeddingFailureFallsThroughToLexical(t *testing.T) {
	idx := &fakeIndex{maxT: 100, maxC: 200}
	idx.queryFn = func(req search.Request) ([]model.Match, error) {
		if req.TextOnly {
			return []model.Match{activeMatch("7")}, nil
		}
		return nil, nil
	}
	active := &fakeVectors{matches: []model.Match{activeMatch("18")}}
	emb := &fakeEmbedder{err: errors.New("embedding provider down")}

	p := New(Config{Index: idx, Active: active, Embedder: emb, Logger: testLogger()})

	res := p.Process(context.Background(), testDescription, "15")
	assert.Equal(t, model.TypeTextTicket, res.Type)
	// The vector store is never queried without an embedding, and the failed
	// embed call is not retried within the request.
	assert.Zero(t, active.calls)
	assert.Equal(t, 1, emb.calls)
}

func TestPanicProducesErrorTicket(t *testing.T) {
	idx := &fakeIndex{maxPanic: true}
	p := New(Config{Index: idx, Logger: testLogger()})

	res := p.Process(context.Background(), testDescription, "15")
	assert.Equal(t, model.TypeError, res.Type)
	assert.Zero(t, res.Ticket.EstimatedResolutionTime)
	assert.NotEmpty(t, res.Notification)
}

func TestNextIDs(t *testing.T) {
	t.Run("increments scanned maxima", func(t *testing.T) {
		p := New(Config{Index: &fakeIndex{maxT: 350, maxC: 2750}, Logger: testLogger()})
		ticketID, customerID := p.nextIDs(context.Background())
		assert.Equal(t, 351, ticketID)
		assert.Equal(t, 2751, customerID)
	})

	t.Run("random fallback on scan error", func(t *testing.T) {
		p := New(Config{Index: &fakeIndex{maxErr: errors.New("index down")}, Logger: testLogger()})
		ticketID, customerID := p.nextIDs(context.Background())
		assert.GreaterOrEqual(t, ticketID, ticketIDRandMin)
		assert.LessOrEqual(t, ticketID, ticketIDRandMax)
		assert.GreaterOrEqual(t, customerID, customerIDRandMin)
		assert.LessOrEqual(t, customerID, customerIDRandMax)
	})

	t.Run("random fallback on empty index", func(t *testing.T) {
		p := New(Config{Index: &fakeIndex{}, Logger: testLogger()})
		ticketID, customerID := p.nextIDs(context.Background())
		assert.GreaterOrEqual(t, ticketID, ticketIDRandMin)
		assert.GreaterOrEqual(t, customerID, customerIDRandMin)
	})
}

func TestCacheKeyStable(t *testing.T) {
	k1 := cacheKey("email down", "15")
	k2 := cacheKey("email down", "15")
	k3 := cacheKey("email down", "16")
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Len(t, k1, 64)
}

func TestNotificationMentionsEstimate(t *testing.T) {
	msg := fallbackNotification(model.Ticket{TicketID: 101, EstimatedResolutionTime: 18})
	assert.Contains(t, msg, "18")
	assert.Contains(t, msg, "101")
}

func TestSummarizeTruncatesWithoutProvider(t *testing.T) {
	p := New(Config{Index: &fakeIndex{}, Logger: testLogger()})

	long := strings.Repeat("a", 2000)
	got := p.summarize(context.Background(), long)
	assert.Len(t, got, truncateLen+3)
	assert.True(t, strings.HasSuffix(got, "..."))

	short := strings.Repeat("a", 100)
	assert.Equal(t, short, p.summarize(context.Background(), short))
}

func TestSummarizeUsesProvider(t *testing.T) {
	llm := &fakeLLM{out: "condensed summary"}
	p := New(Config{Index: &fakeIndex{}, LLM: llm, Logger: testLogger()})

	got := p.summarize(context.Background(), strings.Repeat("a", 2000))
	assert.Equal(t, "condensed summary", got)
	assert.Equal(t, 1, llm.calls)
}

func TestTruncateRespectsRuneBoundary(t *testing.T) {
	s := strings.Repeat("é", 300) // 2 bytes per rune
	got := truncate(s, truncateLen)
	assert.True(t, len(got) <= truncateLen)
	for _, r := range got {
		assert.Equal(t, 'é', r)
	}
}

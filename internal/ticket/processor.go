// Package ticket implements the search orchestrator at the heart of the triage
// service: a fixed-order cascade of search strategies that finds the
// best-matching prior ticket for a new issue and derives a resolution-time
// estimate from it.
//
// Strategy order: cache lookup, active-ticket vector similarity,
// historic-ticket vector similarity, hybrid index search, text-only index
// search, global (unfiltered) index search. Each strategy's failure (error or
// empty result) falls through to the next; only input validation
// short-circuits. Every processed request yields exactly one ticket.
package ticket

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/blueconnect/triage/internal/model"
	"github.com/blueconnect/triage/internal/search"
	"github.com/blueconnect/triage/internal/telemetry"
)

const (
	// minDescriptionLen is the validation floor for incoming descriptions.
	minDescriptionLen = 20
	// topK is the match count requested from every scoped strategy.
	topK = 15
	// globalTopK caps the final unfiltered strategy.
	globalTopK = 10
	// defaultClusterID is a placeholder categorical tag on new tickets.
	defaultClusterID = 5
)

// Index is the managed search index the orchestrator queries and writes back to.
type Index interface {
	Query(ctx context.Context, req search.Request) ([]model.Match, error)
	Upsert(ctx context.Context, doc model.Document, vector []float32) error
	MaxIDs(ctx context.Context) (maxTicket, maxCustomer int, err error)
}

// VectorSearcher is a similarity-search collection of prior tickets.
type VectorSearcher interface {
	Search(ctx context.Context, embedding []float32, locationID string, k int) ([]model.Match, error)
}

// Cache memoizes results keyed by (description, location).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer produces notification and summary text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config holds the orchestrator's dependencies. Index and Logger are required;
// everything else is optional and resolved into a capability flag: an absent
// collaborator disables its strategies rather than failing construction.
type Config struct {
	Index       Index
	Active      VectorSearcher
	Historic    VectorSearcher
	Cache       Cache
	Embedder    Embedder
	LLM         Completer
	VectorField string // discovered index vector field; "" disables hybrid vectors
	CacheTTL    time.Duration
	Logger      *slog.Logger
}

// Processor runs the strategy cascade for one request at a time. It holds no
// per-request state, so a single instance is safe for concurrent use.
type Processor struct {
	index       Index
	active      VectorSearcher
	historic    VectorSearcher
	cache       Cache
	embedder    Embedder
	llm         Completer
	vectorField string
	cacheTTL    time.Duration
	logger      *slog.Logger

	hasActiveVectors   bool
	hasHistoricVectors bool
	hasCache           bool
	hasEmbeddings      bool
	hasLLM             bool

	processDuration otelmetric.Float64Histogram
	processResults  otelmetric.Int64Counter
}

var tracer = otel.Tracer("triage/ticket")

// New creates a Processor, resolving capability flags once so the cascade's
// entry guards are plain booleans.
func New(cfg Config) *Processor {
	p := &Processor{
		index:       cfg.Index,
		active:      cfg.Active,
		historic:    cfg.Historic,
		cache:       cfg.Cache,
		embedder:    cfg.Embedder,
		llm:         cfg.LLM,
		vectorField: cfg.VectorField,
		cacheTTL:    cfg.CacheTTL,
		logger:      cfg.Logger,

		hasActiveVectors:   cfg.Active != nil,
		hasHistoricVectors: cfg.Historic != nil,
		hasCache:           cfg.Cache != nil,
		hasEmbeddings:      cfg.Embedder != nil,
		hasLLM:             cfg.LLM != nil,
	}

	meter := telemetry.Meter("triage/ticket")
	p.processDuration, _ = meter.Float64Histogram("ticket.process.duration", otelmetric.WithUnit("ms"))
	p.processResults, _ = meter.Int64Counter("ticket.process.results")

	return p
}

// Result is the orchestrator's answer for one request.
type Result struct {
	Type         string       `json:"ticket_type"`
	Ticket       model.Ticket `json:"ticket"`
	Notification string       `json:"notification"`
}

type cacheEntry struct {
	Type   string       `json:"ticket_type"`
	Ticket model.Ticket `json:"ticket"`
}

// Process runs the full cascade and applies side effects: the new ticket is
// written back into the search index and the result is cached.
func (p *Processor) Process(ctx context.Context, description, locationID string) Result {
	return p.process(ctx, description, locationID, true)
}

// Preview runs the cascade without persistence or caching, for estimate-only
// callers.
func (p *Processor) Preview(ctx context.Context, description, locationID string) Result {
	return p.process(ctx, description, locationID, false)
}

func (p *Processor) process(ctx context.Context, description, locationID string, persist bool) (res Result) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "ticket.process",
		trace.WithAttributes(attribute.String("triage.location_id", locationID)),
	)
	defer span.End()
	defer func() {
		// Outermost safety net: an escaped panic is a defect, but the caller
		// still gets a sentinel ticket rather than a 500 with no record.
		if r := recover(); r != nil {
			p.logger.Error("ticket: recovered from panic", "panic", r, "location_id", locationID)
			res = p.errorResult(locationID)
		}
		span.SetAttributes(attribute.String("triage.ticket_type", res.Type))
		attrs := otelmetric.WithAttributes(attribute.String("ticket_type", res.Type))
		if p.processDuration != nil {
			p.processDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
		}
		if p.processResults != nil {
			p.processResults.Add(ctx, 1, attrs)
		}
	}()

	trimmed := strings.TrimSpace(description)
	if len(trimmed) < minDescriptionLen {
		return p.validationResult(locationID)
	}

	key := cacheKey(description, locationID)
	if p.hasCache {
		if data, err := p.cache.Get(ctx, key); err != nil {
			p.logger.Warn("ticket: cache get failed", "error", err)
		} else if data != nil {
			var entry cacheEntry
			if err := json.Unmarshal(data, &entry); err != nil {
				p.logger.Warn("ticket: corrupt cache entry ignored", "key", key, "error", err)
			} else {
				p.logger.Info("ticket: cache hit", "ticket_type", entry.Type, "location_id", locationID)
				// The cached path must not touch any other adapter, so the
				// notification is the deterministic template.
				notification := fallbackNotification(entry.Ticket)
				if entry.Type == model.TypeInvalidQuery {
					notification = invalidQueryGuidance
				}
				return Result{
					Type:         entry.Type,
					Ticket:       entry.Ticket,
					Notification: notification,
				}
			}
		}
	}

	// IDs are allocated once, before the cascade, and reused by whichever
	// strategy finalizes.
	ticketID, customerID := p.nextIDs(ctx)

	// The query embedding is shared across all vector-capable strategies and
	// computed at most once. A failed embed call disables vectors for the rest
	// of this request; the lexical strategies still run.
	var queryVec []float32
	embedTried := false
	embedQuery := func() []float32 {
		if !p.hasEmbeddings {
			return nil
		}
		if embedTried {
			return queryVec
		}
		embedTried = true
		v, err := p.embedder.Embed(ctx, trimmed)
		if err != nil {
			p.logger.Warn("ticket: query embedding failed", "error", err)
			return nil
		}
		queryVec = v
		return queryVec
	}
	hybridVec := func() []float32 {
		if p.vectorField == "" {
			return nil
		}
		return embedQuery()
	}

	fin := finalizeInput{
		ticketID:    ticketID,
		customerID:  customerID,
		description: trimmed,
		locationID:  locationID,
		cacheKey:    key,
		persist:     persist,
	}

	// 1. Active-ticket vector similarity.
	if p.hasActiveVectors {
		if vec := embedQuery(); vec != nil {
			matches, err := p.active.Search(ctx, vec, locationID, topK)
			switch {
			case err != nil:
				p.logger.Warn("ticket: active vector search failed", "error", err)
			case len(matches) > 0:
				fin.typ, fin.matches, fin.method = model.TypeActiveTicket, matches, "active ticket similarity"
				return p.finalize(ctx, fin)
			}
		}
	}

	// 2. Historic-ticket vector similarity.
	if p.hasHistoricVectors {
		if vec := embedQuery(); vec != nil {
			matches, err := p.historic.Search(ctx, vec, locationID, topK)
			switch {
			case err != nil:
				p.logger.Warn("ticket: historic vector search failed", "error", err)
			case len(matches) > 0:
				fin.typ, fin.matches, fin.method = model.TypeHistoricTicket, matches, "historic ticket similarity"
				fin.historic = true
				return p.finalize(ctx, fin)
			}
		}
	}

	// 3. Hybrid index search. Downgrades silently to text ranking when no
	// vector is available.
	matches, err := p.index.Query(ctx, search.Request{
		Text: trimmed, LocationID: locationID, Vector: hybridVec(), Top: topK,
	})
	switch {
	case err != nil:
		p.logger.Warn("ticket: hybrid search failed", "error", err)
	case len(matches) > 0:
		fin.typ, fin.matches, fin.method = model.TypeHybridTicket, matches, "hybrid index search"
		return p.finalize(ctx, fin)
	}

	// 4. Text-only index search with maximal-recall semantics.
	matches, err = p.index.Query(ctx, search.Request{
		Text: trimmed, LocationID: locationID, TextOnly: true, Top: topK,
	})
	switch {
	case err != nil:
		p.logger.Warn("ticket: text search failed", "error", err)
	case len(matches) > 0:
		fin.typ, fin.matches, fin.method = model.TypeTextTicket, matches, "text search"
		return p.finalize(ctx, fin)
	}

	// 5. Global search: drop the location filter as a last resort.
	matches, err = p.index.Query(ctx, search.Request{
		Text: trimmed, Vector: hybridVec(), Top: globalTopK,
	})
	switch {
	case err != nil:
		p.logger.Warn("ticket: global search failed", "error", err)
	case len(matches) > 0:
		fin.typ, fin.matches, fin.method = model.TypeGlobalTicket, matches, "global search across all locations"
		return p.finalize(ctx, fin)
	}

	// 6. Exhausted.
	return p.invalidQueryResult(ctx, fin)
}

type finalizeInput struct {
	typ         string
	matches     []model.Match
	historic    bool
	method      string
	ticketID    int
	customerID  int
	description string
	locationID  string
	cacheKey    string
	persist     bool
}

// finalize is the shared tail of every match-producing strategy:
// estimate, build ticket, notify, persist, cache.
func (p *Processor) finalize(ctx context.Context, in finalizeInput) Result {
	est := Estimate(in.matches, in.historic)

	t := model.Ticket{
		TicketID:                in.ticketID,
		CustomerID:              in.customerID,
		LocationID:              in.locationID,
		Type:                    "complaint",
		Description:             p.summarize(ctx, in.description),
		ClusterID:               defaultClusterID,
		EstimatedResolutionTime: est,
		IsValid:                 true,
	}

	notification := p.notification(ctx, t, in.method)

	if in.persist {
		p.persistTicket(ctx, t)
		p.cacheResult(ctx, in.cacheKey, in.typ, t)
	}

	p.logger.Info("ticket: created",
		"ticket_type", in.typ,
		"ticket_id", t.TicketID,
		"location_id", t.LocationID,
		"matches", len(in.matches),
		"estimate_hours", est,
	)

	return Result{Type: in.typ, Ticket: t, Notification: notification}
}

// persistTicket writes the new ticket back into the active search index so it
// becomes discoverable by future requests. An embedding is attached when
// possible; embedding failure degrades to a plain document and write failure
// is logged, never surfaced.
func (p *Processor) persistTicket(ctx context.Context, t model.Ticket) {
	doc := model.Document{
		TicketID:                strconv.Itoa(t.TicketID),
		CustomerID:              strconv.Itoa(t.CustomerID),
		LocationID:              t.LocationID,
		Description:             t.Description,
		EstimatedResolutionTime: strconv.Itoa(t.EstimatedResolutionTime),
	}

	var vec []float32
	if p.hasEmbeddings && p.vectorField != "" {
		v, err := p.embedder.Embed(ctx, t.Description)
		if err != nil {
			p.logger.Warn("ticket: persist embedding failed, writing without vector", "ticket_id", t.TicketID, "error", err)
		} else {
			vec = v
		}
	}

	if err := p.index.Upsert(ctx, doc, vec); err != nil {
		p.logger.Warn("ticket: index write-back failed", "ticket_id", t.TicketID, "error", err)
	}
}

func (p *Processor) cacheResult(ctx context.Context, key, typ string, t model.Ticket) {
	if !p.hasCache {
		return
	}
	data, err := json.Marshal(cacheEntry{Type: typ, Ticket: t})
	if err != nil {
		p.logger.Warn("ticket: cache marshal failed", "error", err)
		return
	}
	if err := p.cache.Set(ctx, key, data, p.cacheTTL); err != nil {
		p.logger.Warn("ticket: cache set failed", "error", err)
	}
}

const invalidQueryGuidance = "We could not match your issue against any known tickets. Please provide a more detailed description, including the affected system, any error messages, and when the problem started."

// invalidQueryResult is the exhaustion path: every strategy ran and none
// produced matches. The sentinel ticket is still persisted and cached so
// repeated unmatched queries don't re-run the cascade.
func (p *Processor) invalidQueryResult(ctx context.Context, in finalizeInput) Result {
	t := model.Ticket{
		TicketID:    in.ticketID,
		CustomerID:  in.customerID,
		LocationID:  in.locationID,
		Type:        model.TypeInvalidQuery,
		Description: invalidQueryGuidance,
		ClusterID:   0,
	}
	if in.persist {
		p.persistTicket(ctx, t)
		p.cacheResult(ctx, in.cacheKey, model.TypeInvalidQuery, t)
	}
	p.logger.Info("ticket: no strategy matched", "location_id", in.locationID)
	return Result{Type: model.TypeInvalidQuery, Ticket: t, Notification: invalidQueryGuidance}
}

const validationMessage = "Your description is too short to process. Please provide at least 20 characters describing the issue."

func (p *Processor) validationResult(locationID string) Result {
	return Result{
		Type: model.TypeValidationError,
		Ticket: model.Ticket{
			LocationID: locationID,
			Type:       model.TypeValidationError,
		},
		Notification: validationMessage,
	}
}

const errorMessage = "We apologize, but an unexpected error occurred while processing your request. Our team has been notified. Please try again later."

func (p *Processor) errorResult(locationID string) Result {
	return Result{
		Type: model.TypeError,
		Ticket: model.Ticket{
			LocationID: locationID,
			Type:       model.TypeError,
		},
		Notification: errorMessage,
	}
}

// cacheKey hashes (description, location) into a stable cache key.
func cacheKey(description, locationID string) string {
	sum := sha256.Sum256([]byte(description + ":" + locationID))
	return hex.EncodeToString(sum[:])
}

// Package vectorstore wraps Qdrant collections holding active and historic
// prior tickets for similarity search.
//
// The store is optional: when no Qdrant URL is configured, the orchestrator
// skips the vector strategies and falls through to the search-index cascade.
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/singleflight"

	"github.com/blueconnect/triage/internal/model"
)

// Config holds configuration for connecting a Store to one Qdrant collection.
type Config struct {
	URL        string // e.g. "https://xyz.cloud.qdrant.io:6333" or "http://localhost:6333"
	APIKey     string
	Collection string
	Dims       uint64
}

// Store is a similarity-search adapter over a single Qdrant collection.
// Create one per ticket corpus (active, historic).
type Store struct {
	client     *qdrant.Client
	collection string
	dims       uint64
	logger     *slog.Logger

	healthGroup singleflight.Group
	healthErr   atomic.Value // stores *error (pointer-to-error, never nil pointer; inner error may be nil)
	healthAt    atomic.Int64 // unix nanos of last check
}

// parseQdrantURL extracts host, port, and TLS flag from a Qdrant URL.
// Accepts forms like "https://host:6333", "http://host:6333", or "host:6334".
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("vectorstore: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("vectorstore: invalid port in qdrant URL: %q", portStr)
		}
		// If the user specified the REST port (6333), use the gRPC port (6334).
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}

	return host, port, useTLS, nil
}

// New connects to the Qdrant server via gRPC.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: connect to qdrant at %s:%d: %w", host, port, err)
	}

	return &Store{
		client:     client,
		collection: cfg.Collection,
		dims:       cfg.Dims,
		logger:     logger,
	}, nil
}

// EnsureCollection creates the collection if it doesn't already exist and
// ensures the location payload index is present. CreateFieldIndex is
// idempotent on Qdrant, so the index call is safe on every startup.
func (s *Store) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("vectorstore: check collection exists: %w", err)
	}

	if !exists {
		if err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.dims,
				Distance: qdrant.Distance_Cosine,
			}),
		}); err != nil {
			return fmt.Errorf("vectorstore: create collection %q: %w", s.collection, err)
		}
		s.logger.Info("qdrant: created collection", "collection", s.collection, "dims", s.dims)
	} else {
		s.logger.Info("qdrant: collection already exists", "collection", s.collection)
	}

	// Every similarity search filters on location_id, so it needs a keyword index.
	keywordType := qdrant.FieldType_FieldTypeKeyword
	if _, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      "location_id",
		FieldType:      &keywordType,
	}); err != nil {
		return fmt.Errorf("vectorstore: ensure index on location_id: %w", err)
	}

	return nil
}

// Search returns prior tickets similar to the embedding, highest score first.
// locationID, when non-empty, is applied as a hard payload filter.
func (s *Store) Search(ctx context.Context, embedding []float32, locationID string, k int) ([]model.Match, error) {
	if k <= 0 {
		k = 15
	}

	var filter *qdrant.Filter
	if locationID != "" {
		filter = &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("location_id", locationID),
			},
		}
	}

	limit := uint64(k) //nolint:gosec // k is a small positive constant
	scored, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(embedding),
		Filter:         filter,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: qdrant query: %w", err)
	}

	matches := make([]model.Match, 0, len(scored))
	for _, sp := range scored {
		matches = append(matches, model.Match{
			Doc:   documentFromPayload(sp.Payload),
			Score: sp.Score,
		})
	}

	return matches, nil
}

// Upsert writes a ticket document with its embedding into the collection.
// The point ID is a fresh UUID; ticket identity lives in the payload.
func (s *Store) Upsert(ctx context.Context, doc model.Document, embedding []float32) error {
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewID(uuid.New().String()),
				Vectors: qdrant.NewVectorsDense(embedding),
				Payload: qdrant.NewValueMap(payloadFromDocument(doc)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: qdrant upsert ticket %s: %w", doc.TicketID, err)
	}
	return nil
}

// Count returns the number of points in the collection.
func (s *Store) Count(ctx context.Context) (uint64, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("vectorstore: qdrant count: %w", err)
	}
	return n, nil
}

// Healthy returns nil if Qdrant is reachable. Results are cached for 5 seconds
// to avoid hammering the health endpoint on every request. Concurrent calls
// after cache expiry are deduplicated via singleflight so only one gRPC call
// is made; all waiters share its result.
func (s *Store) Healthy(ctx context.Context) error {
	// Fast path: return the cached result if fresh.
	if time.Since(time.Unix(0, s.healthAt.Load())) < 5*time.Second {
		return s.loadHealthErr()
	}

	// Deduplicate concurrent checks. Use context.Background() instead of the
	// caller's ctx because singleflight reuses the first caller's context —
	// if that caller cancels, all waiters would get a stale error.
	result, _, _ := s.healthGroup.Do("health", func() (any, error) {
		checkCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		_, err := s.client.HealthCheck(checkCtx)
		if err != nil {
			s.storeHealthErr(fmt.Errorf("vectorstore: qdrant unhealthy: %w", err))
		} else {
			s.storeHealthErr(nil)
		}
		s.healthAt.Store(time.Now().UnixNano())
		return s.loadHealthErr(), nil
	})
	if result == nil {
		return nil
	}
	return result.(error)
}

// storeHealthErr stores an error (or nil) in the atomic.Value.
// atomic.Value cannot store nil directly, so we wrap it in a pointer.
func (s *Store) storeHealthErr(err error) {
	s.healthErr.Store(&err)
}

func (s *Store) loadHealthErr() error {
	v := s.healthErr.Load()
	if v == nil {
		return nil
	}
	return *v.(*error)
}

// Close shuts down the Qdrant gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func payloadFromDocument(doc model.Document) map[string]any {
	payload := map[string]any{
		"ticket_id":   doc.TicketID,
		"location_id": doc.LocationID,
		"description": doc.Description,
	}
	if doc.CustomerID != "" {
		payload["customer_id"] = doc.CustomerID
	}
	if doc.EstimatedResolutionTime != "" {
		payload["estimated_resolution_time"] = doc.EstimatedResolutionTime
	}
	if doc.ActualResolutionTime != "" {
		payload["actual_resolution_time"] = doc.ActualResolutionTime
	}
	return payload
}

func documentFromPayload(payload map[string]*qdrant.Value) model.Document {
	return model.Document{
		TicketID:                payloadString(payload, "ticket_id"),
		CustomerID:              payloadString(payload, "customer_id"),
		LocationID:              payloadString(payload, "location_id"),
		Description:             payloadString(payload, "description"),
		EstimatedResolutionTime: payloadString(payload, "estimated_resolution_time"),
		ActualResolutionTime:    payloadString(payload, "actual_resolution_time"),
	}
}

// payloadString renders a payload value as a string regardless of whether the
// writer stored it as a string, integer, or double.
func payloadString(payload map[string]*qdrant.Value, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	switch kind := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return strconv.FormatInt(kind.IntegerValue, 10)
	case *qdrant.Value_DoubleValue:
		return strconv.FormatFloat(kind.DoubleValue, 'f', -1, 64)
	default:
		return ""
	}
}

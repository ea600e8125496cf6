// Package search wraps a managed search index (Azure AI Search wire format)
// behind a small REST client. The index is the system of record for tickets:
// every strategy below the vector tiers queries it, and every new ticket is
// written back into it.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/blueconnect/triage/internal/model"
)

const apiVersion = "2023-11-01"

// DefaultTop is the match count requested when a query doesn't specify one.
const DefaultTop = 15

// vectorFieldCandidates are the field names probed, in order, when discovering
// where the index stores embeddings. Deployed indexes are inconsistent here.
var vectorFieldCandidates = []string{
	"content_vector",
	"vector",
	"embedding",
	"content_embedding",
	"text_vector",
	"embeddings",
}

// Config holds connection settings for one search index.
type Config struct {
	Endpoint string // e.g. "https://myservice.search.windows.net"
	APIKey   string
	Index    string
}

// Client is a REST adapter for one search index.
//
// vectorField is resolved once at startup via DiscoverVectorField and read-only
// afterwards; the client is otherwise safe for concurrent use.
type Client struct {
	endpoint   string
	apiKey     string
	index      string
	httpClient *http.Client
	logger     *slog.Logger

	vectorField string
}

// New creates a search index client. It performs no network calls;
// use Healthy or DiscoverVectorField to verify connectivity.
func New(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		index:      cfg.Index,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Request describes one query against the index.
type Request struct {
	// Text is the free-text query.
	Text string
	// LocationID, when non-empty, is applied as a hard filter.
	// Empty means global scope.
	LocationID string
	// Vector, when non-nil and a vector field has been discovered, upgrades
	// the query to hybrid (lexical + vector). Silently ignored otherwise.
	Vector []float32
	// TextOnly requests maximal-recall pure text semantics: all terms must
	// match and the full query parser is used.
	TextOnly bool
	// Top caps the result count. Zero means DefaultTop.
	Top int
}

type vectorQuery struct {
	Kind   string    `json:"kind"`
	Vector []float32 `json:"vector"`
	Fields string    `json:"fields"`
	K      int       `json:"k"`
}

type queryBody struct {
	Search        string        `json:"search"`
	Filter        string        `json:"filter,omitempty"`
	Top           int           `json:"top"`
	SearchMode    string        `json:"searchMode,omitempty"`
	QueryType     string        `json:"queryType,omitempty"`
	VectorQueries []vectorQuery `json:"vectorQueries,omitempty"`
}

type queryResults struct {
	Value []map[string]any `json:"value"`
}

// Query runs one search and returns matches highest score first.
// An empty result list is not an error.
func (c *Client) Query(ctx context.Context, req Request) ([]model.Match, error) {
	top := req.Top
	if top <= 0 {
		top = DefaultTop
	}

	body := queryBody{
		Search: req.Text,
		Top:    top,
	}
	if req.LocationID != "" {
		body.Filter = locationFilter(req.LocationID)
	}
	if req.TextOnly {
		body.SearchMode = "all"
		body.QueryType = "full"
	}
	if req.Vector != nil && c.vectorField != "" {
		body.VectorQueries = []vectorQuery{{
			Kind:   "vector",
			Vector: req.Vector,
			Fields: c.vectorField,
			K:      top,
		}}
	}

	var results queryResults
	if err := c.do(ctx, "/docs/search", body, &results); err != nil {
		return nil, err
	}

	matches := make([]model.Match, 0, len(results.Value))
	for _, raw := range results.Value {
		score, _ := raw["@search.score"].(float64)
		matches = append(matches, model.Match{
			Doc:   model.NormalizeDocument(raw),
			Score: float32(score),
		})
	}
	return matches, nil
}

// Upsert writes a ticket document into the index. The vector, when non-nil and
// a vector field is known, is attached under the discovered field name.
func (c *Client) Upsert(ctx context.Context, doc model.Document, vector []float32) error {
	// The index schema stores every field string-typed.
	action := map[string]any{
		"@search.action": "mergeOrUpload",
		"id":             doc.TicketID,
		"TicketID":       doc.TicketID,
		"locationID":     doc.LocationID,
		"description":    doc.Description,
	}
	if doc.CustomerID != "" {
		action["customer_id"] = doc.CustomerID
	}
	if doc.EstimatedResolutionTime != "" {
		action["estimated_resolution_time"] = doc.EstimatedResolutionTime
	}
	if doc.ActualResolutionTime != "" {
		action["actual_resolution_time"] = doc.ActualResolutionTime
	}
	if vector != nil && c.vectorField != "" {
		action[c.vectorField] = vector
	}

	body := map[string]any{"value": []map[string]any{action}}
	if err := c.do(ctx, "/docs/index", body, nil); err != nil {
		return fmt.Errorf("search: upsert ticket %s: %w", doc.TicketID, err)
	}
	return nil
}

// MaxIDs scans up to 1000 documents and returns the maximum numeric ticket and
// customer IDs found, tolerating field-name aliases. Zero means no parseable
// IDs (empty index); callers fall back to random allocation.
func (c *Client) MaxIDs(ctx context.Context) (maxTicket, maxCustomer int, err error) {
	var results queryResults
	if err := c.do(ctx, "/docs/search", queryBody{Search: "*", Top: 1000}, &results); err != nil {
		return 0, 0, fmt.Errorf("search: id scan: %w", err)
	}

	for _, raw := range results.Value {
		doc := model.NormalizeDocument(raw)
		if n, err := strconv.Atoi(doc.TicketID); err == nil && n > maxTicket {
			maxTicket = n
		}
		if n, err := strconv.Atoi(doc.CustomerID); err == nil && n > maxCustomer {
			maxCustomer = n
		}
	}
	return maxTicket, maxCustomer, nil
}

// ListDocuments returns up to top normalized documents from the index.
// Used by the bootstrap loader to seed vector collections.
func (c *Client) ListDocuments(ctx context.Context, top int) ([]model.Document, error) {
	var results queryResults
	if err := c.do(ctx, "/docs/search", queryBody{Search: "*", Top: top}, &results); err != nil {
		return nil, fmt.Errorf("search: list documents: %w", err)
	}

	docs := make([]model.Document, 0, len(results.Value))
	for _, raw := range results.Value {
		docs = append(docs, model.NormalizeDocument(raw))
	}
	return docs, nil
}

// DiscoverVectorField probes the index with a throwaway vector query against
// each candidate field name and records the first one the index accepts.
// Returns "" when the index has no recognizable vector field; hybrid queries
// then degrade to text-only. Call once at startup, never per request.
func (c *Client) DiscoverVectorField(ctx context.Context, dims int) string {
	probe := make([]float32, dims)
	for _, field := range vectorFieldCandidates {
		body := queryBody{
			Search: "*",
			Top:    1,
			VectorQueries: []vectorQuery{{
				Kind:   "vector",
				Vector: probe,
				Fields: field,
				K:      1,
			}},
		}
		var results queryResults
		if err := c.do(ctx, "/docs/search", body, &results); err != nil {
			c.logger.Debug("search: vector field probe rejected", "field", field, "error", err)
			continue
		}
		c.logger.Info("search: vector field discovered", "index", c.index, "field", field)
		c.vectorField = field
		return field
	}

	c.logger.Warn("search: no vector field found, hybrid queries will run text-only", "index", c.index)
	return ""
}

// VectorField returns the discovered vector field name, or "" if none.
func (c *Client) VectorField() string {
	return c.vectorField
}

// Healthy returns nil if the index responds to a document count request.
func (c *Client) Healthy(ctx context.Context) error {
	url := fmt.Sprintf("%s/indexes/%s/docs/$count?api-version=%s", c.endpoint, c.index, apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("search: create health request: %w", err)
	}
	req.Header.Set("api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("search: index unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("search: index unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// do posts a JSON body to an index-scoped path and decodes the response.
func (c *Client) do(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("search: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/indexes/%s%s?api-version=%s", c.endpoint, c.index, path, apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("search: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("search: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("search: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("search: status %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("search: unmarshal response: %w", err)
		}
	}
	return nil
}

// locationFilter builds an OData equality filter, escaping embedded quotes.
func locationFilter(locationID string) string {
	escaped := strings.ReplaceAll(locationID, "'", "''")
	return fmt.Sprintf("locationID eq '%s'", escaped)
}

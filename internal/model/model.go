// Package model defines the core domain types shared across the triage service:
// tickets produced by the orchestrator, search documents, and match results.
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Ticket types, one per cascade stage that can produce a result.
const (
	TypeActiveTicket    = "new_active_ticket"
	TypeHistoricTicket  = "new_historic_ticket"
	TypeHybridTicket    = "new_azure_search_ticket"
	TypeTextTicket      = "new_text_search_ticket"
	TypeGlobalTicket    = "new_global_search_ticket"
	TypeInvalidQuery    = "invalid_query"
	TypeValidationError = "validation_error"
	TypeError           = "error"
)

// Ticket is the record produced for every processed request.
// Tickets are never mutated after creation; updates are out of scope.
type Ticket struct {
	TicketID                int    `json:"ticket_id"`
	CustomerID              int    `json:"customer_id"`
	LocationID              string `json:"location_id"`
	Type                    string `json:"type"`
	Description             string `json:"description"`
	ClusterID               int    `json:"cluster_id"`
	EstimatedResolutionTime int    `json:"estimated_resolution_time"`
	IsValid                 bool   `json:"is_valid"`
}

// Document is a normalized prior-ticket record as stored in the search index
// or a vector collection. Fields are strings because the backing index schema
// stores everything string-typed; numeric interpretation happens at the edges
// (estimator, ID allocator).
type Document struct {
	TicketID                string `json:"ticket_id"`
	CustomerID              string `json:"customer_id"`
	LocationID              string `json:"location_id"`
	Description             string `json:"description"`
	EstimatedResolutionTime string `json:"estimated_resolution_time"`
	ActualResolutionTime    string `json:"actual_resolution_time"`
}

// Match pairs a prior-ticket document with its relevance score,
// highest score first in any result list.
type Match struct {
	Doc   Document
	Score float32
}

// Field alias candidates, checked in priority order. Deployed indexes disagree
// on field naming, so normalization tolerates every variant seen in practice.
var (
	ticketIDAliases    = []string{"TicketID", "ticket_id", "ticketId", "id"}
	customerIDAliases  = []string{"customer_id", "customerID", "customerId", "customer"}
	locationIDAliases  = []string{"locationID", "location_id", "locationId", "location"}
	descriptionAliases = []string{"description", "Description", "content", "text"}
	estimatedAliases   = []string{"estimated_resolution_time", "estimatedResolutionTime", "resolution_time"}
	actualAliases      = []string{"actual_resolution_time", "actualResolutionTime"}
)

// NormalizeDocument maps a raw index document onto a Document, resolving
// field-name aliases in priority order. Unknown fields are ignored.
func NormalizeDocument(raw map[string]any) Document {
	return Document{
		TicketID:                firstString(raw, ticketIDAliases),
		CustomerID:              firstString(raw, customerIDAliases),
		LocationID:              firstString(raw, locationIDAliases),
		Description:             firstString(raw, descriptionAliases),
		EstimatedResolutionTime: firstString(raw, estimatedAliases),
		ActualResolutionTime:    firstString(raw, actualAliases),
	}
}

func firstString(raw map[string]any, keys []string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if s := CoerceString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// CoerceString renders a raw JSON value as a string. Floats that are whole
// numbers render without a fractional part (JSON numbers decode as float64,
// but the stored values are integers).
func CoerceString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// FlexID is a location identifier that accepts either a JSON string or a JSON
// number on the wire and normalizes to a string.
type FlexID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexID(n.String())
		return nil
	}
	return fmt.Errorf("model: location id must be a string or number, got %s", string(data))
}

// String returns the normalized identifier.
func (f FlexID) String() string {
	return string(f)
}

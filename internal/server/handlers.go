package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/blueconnect/triage/internal/model"
)

type handlers struct {
	processor           Processor
	checks              []ComponentCheck
	logger              *slog.Logger
	version             string
	maxRequestBodyBytes int64
}

type submitTicketRequest struct {
	Description string       `json:"description"`
	LocationID  model.FlexID `json:"location_id"`
}

type ticketResponse struct {
	TicketType   string       `json:"ticket_type"`
	Ticket       model.Ticket `json:"ticket"`
	Notification string       `json:"notification"`
}

// handleSubmitTicket runs the full cascade and persists the resulting ticket.
// The orchestrator maps every failure to a ticket type, so this handler only
// produces non-200 responses for malformed request bodies.
func (h *handlers) handleSubmitTicket(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestBodyBytes)

	var req submitTicketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return
	}

	res := h.processor.Process(r.Context(), req.Description, req.LocationID.String())
	writeJSON(w, r, http.StatusOK, ticketResponse{
		TicketType:   res.Type,
		Ticket:       res.Ticket,
		Notification: res.Notification,
	})
}

// handleEstimateTicket runs the cascade without side effects: no ticket is
// persisted and nothing is cached. Useful for previewing an estimate.
func (h *handlers) handleEstimateTicket(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestBodyBytes)

	var req submitTicketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return
	}

	res := h.processor.Preview(r.Context(), req.Description, req.LocationID.String())
	writeJSON(w, r, http.StatusOK, ticketResponse{
		TicketType:   res.Type,
		Ticket:       res.Ticket,
		Notification: res.Notification,
	})
}

type healthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components"`
}

// handleHealth reports per-component status. A failing required component
// yields 503; failing optional components are reported but keep the service
// healthy (the cascade degrades around them).
func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	components := make(map[string]string, len(h.checks))
	status := http.StatusOK
	overall := "ok"

	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			components[c.Name] = err.Error()
			if c.Required {
				status = http.StatusServiceUnavailable
				overall = "unavailable"
			} else if overall == "ok" {
				overall = "degraded"
			}
			continue
		}
		components[c.Name] = "ok"
	}

	writeJSON(w, r, status, healthResponse{
		Status:     overall,
		Version:    h.version,
		Components: components,
	})
}

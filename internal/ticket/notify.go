package ticket

import (
	"context"
	"fmt"

	"github.com/blueconnect/triage/internal/model"
)

const (
	// Descriptions longer than this are summarized before persistence.
	// Search always runs on the original text.
	summarizeThreshold = 1500
	// Hard-truncation length when the summarizer itself fails.
	truncateLen = 500
)

const notificationPrompt = `Write a short, professional customer notification for a new support ticket.
Ticket ID: %d
Estimated resolution time: %d hours
Matched via: %s
The message must mention the estimated resolution time in hours. Do not invent details.`

const summaryPrompt = `Summarize the following support ticket description concisely, preserving all technical details (systems, error messages, timings):

%s`

// notification produces the customer-facing message for a finalized ticket.
// Provider failures fall back to a deterministic template; this never fails
// the request.
func (p *Processor) notification(ctx context.Context, t model.Ticket, method string) string {
	if !p.hasLLM {
		return fallbackNotification(t)
	}
	out, err := p.llm.Complete(ctx, fmt.Sprintf(notificationPrompt, t.TicketID, t.EstimatedResolutionTime, method))
	if err != nil || out == "" {
		p.logger.Warn("ticket: notification generation failed, using template", "error", err)
		return fallbackNotification(t)
	}
	return out
}

func fallbackNotification(t model.Ticket) string {
	return fmt.Sprintf(
		"Thank you for contacting support. Your ticket #%d has been created. Based on similar past tickets, the estimated resolution time is %d hours. Our team will follow up shortly.",
		t.TicketID, t.EstimatedResolutionTime,
	)
}

// summarize shortens an oversized description before the ticket is built.
// Falls back to hard truncation when the provider is absent or fails.
func (p *Processor) summarize(ctx context.Context, description string) string {
	if len(description) <= summarizeThreshold {
		return description
	}
	if p.hasLLM {
		out, err := p.llm.Complete(ctx, fmt.Sprintf(summaryPrompt, description))
		if err == nil && out != "" {
			return out
		}
		p.logger.Warn("ticket: summarization failed, truncating", "error", err)
	}
	return truncate(description, truncateLen) + "..."
}

// truncate cuts a string to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}

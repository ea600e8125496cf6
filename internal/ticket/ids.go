package ticket

import (
	"context"
	"math/rand/v2"
)

// Random ID ranges used when the index is empty or unreadable.
// Large enough to make collisions with scanned IDs unlikely.
const (
	ticketIDRandMin   = 10001
	ticketIDRandMax   = 99999
	customerIDRandMin = 1001
	customerIDRandMax = 9999
)

// nextIDs allocates the ticket and customer IDs for one request by scanning
// the index for the current maxima and incrementing.
//
// Known limitation: read-max-then-increment with no lock, so concurrent
// writers can allocate the same ID. Accepted for this subsystem; switch to
// UUIDs if stronger guarantees are ever needed.
func (p *Processor) nextIDs(ctx context.Context) (ticketID, customerID int) {
	maxTicket, maxCustomer, err := p.index.MaxIDs(ctx)
	if err != nil {
		p.logger.Warn("ticket: id scan failed, falling back to random ids", "error", err)
		return randRange(ticketIDRandMin, ticketIDRandMax), randRange(customerIDRandMin, customerIDRandMax)
	}

	ticketID = maxTicket + 1
	if maxTicket == 0 {
		ticketID = randRange(ticketIDRandMin, ticketIDRandMax)
	}
	customerID = maxCustomer + 1
	if maxCustomer == 0 {
		customerID = randRange(customerIDRandMin, customerIDRandMax)
	}
	return ticketID, customerID
}

func randRange(min, max int) int {
	return min + rand.IntN(max-min+1)
}

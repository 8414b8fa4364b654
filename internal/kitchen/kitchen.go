package kitchen

import (
	"fmt"
	"time"

	"rasapos/backend/internal/domain"
	"rasapos/backend/internal/store"
)

var ticketNext = map[domain.TicketStatus]domain.TicketStatus{
	domain.TicketPending:   domain.TicketPreparing,
	domain.TicketPreparing: domain.TicketReady,
	domain.TicketReady:     domain.TicketCompleted,
}

// explicit order transitions; preparing and ready are derived from tickets.
var orderExplicit = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderConfirmed: {domain.OrderPending},
	domain.OrderServed:    {domain.OrderReady},
	domain.OrderCompleted: {domain.OrderServed},
	domain.OrderCancelled: {domain.OrderPending, domain.OrderConfirmed, domain.OrderPreparing, domain.OrderReady, domain.OrderServed},
}

func IsTerminal(status domain.OrderStatus) bool {
	return status == domain.OrderCompleted || status == domain.OrderCancelled
}

// AdvanceTicket moves t one step to the given status.
func AdvanceTicket(t *domain.KitchenTicket, to domain.TicketStatus, preparerRef string, at time.Time) error {
	if ticketNext[t.Status] != to {
		return fmt.Errorf("ticket %s %s -> %s: %w", t.ID, t.Status, to, store.ErrInvalidTransition)
	}
	switch to {
	case domain.TicketPreparing:
		if preparerRef == "" {
			return store.Invalid("preparer_ref", "required")
		}
		t.PreparerRef = preparerRef
		t.StartedAt = &at
	case domain.TicketReady:
		t.ReadyAt = &at
	case domain.TicketCompleted:
		t.CompletedAt = &at
	}
	t.Status = to
	return nil
}

// TransitionOrder applies an explicitly requested order status change.
func TransitionOrder(o *domain.CustomerOrder, to domain.OrderStatus, at time.Time) error {
	allowed, ok := orderExplicit[to]
	if !ok {
		return fmt.Errorf("order status %s is derived: %w", to, store.ErrInvalidTransition)
	}
	for _, from := range allowed {
		if o.Status == from {
			o.Status = to
			o.UpdatedAt = at
			return nil
		}
	}
	return fmt.Errorf("order %s %s -> %s: %w", o.ID, o.Status, to, store.ErrInvalidTransition)
}

// Aggregate derives the order status from its tickets and reports whether it
// changed. The order reaches ready only when every ticket is completed, and
// only from a status that precedes ready, so it fires once.
func Aggregate(o *domain.CustomerOrder, at time.Time) bool {
	switch o.Status {
	case domain.OrderPending, domain.OrderConfirmed, domain.OrderPreparing:
	default:
		return false
	}
	if len(o.Tickets) == 0 {
		return false
	}

	allCompleted := true
	anyStarted := false
	for _, t := range o.Tickets {
		if t.Status != domain.TicketCompleted {
			allCompleted = false
		}
		if t.Status != domain.TicketPending {
			anyStarted = true
		}
	}

	switch {
	case allCompleted:
		o.Status = domain.OrderReady
		o.ReadyAt = &at
	case anyStarted && o.Status != domain.OrderPreparing:
		o.Status = domain.OrderPreparing
	default:
		return false
	}
	o.UpdatedAt = at
	return true
}

// TicketsFor builds one pending ticket per order line.
func TicketsFor(o domain.CustomerOrder, newID func() string) []domain.KitchenTicket {
	tickets := make([]domain.KitchenTicket, 0, len(o.Lines))
	for _, line := range o.Lines {
		tickets = append(tickets, domain.KitchenTicket{
			ID:              newID(),
			OrderID:         o.ID,
			OrderLineID:     line.ID,
			CompositeItemID: line.CompositeItemID,
			Name:            line.Name,
			TableRef:        o.TableRef,
			Quantity:        line.Quantity,
			Status:          domain.TicketPending,
			CreatedAt:       o.CreatedAt,
		})
	}
	return tickets
}

package kitchen

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"rasapos/backend/internal/domain"
	"rasapos/backend/internal/store"
)

var at = time.Date(2026, 5, 1, 19, 0, 0, 0, time.UTC)

func newOrder(n int) *domain.CustomerOrder {
	o := &domain.CustomerOrder{ID: "ord-1", Status: domain.OrderPending}
	for i := 0; i < n; i++ {
		o.Lines = append(o.Lines, domain.OrderLine{ID: fmt.Sprintf("ol-%d", i), OrderID: o.ID, Quantity: 1})
	}
	seq := 0
	o.Tickets = TicketsFor(*o, func() string {
		seq++
		return fmt.Sprintf("tkt-%d", seq)
	})
	return o
}

func permutations(n int) [][]int {
	if n == 1 {
		return [][]int{{0}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			next := make([]int, 0, n)
			next = append(next, p[:i]...)
			next = append(next, n-1)
			next = append(next, p[i:]...)
			out = append(out, next)
		}
	}
	return out
}

func TestAggregateReachesReadyExactlyOnceForEveryPermutation(t *testing.T) {
	const n = 4
	for _, perm := range permutations(n) {
		o := newOrder(n)
		for i := range o.Tickets {
			if err := AdvanceTicket(&o.Tickets[i], domain.TicketPreparing, "chef-a", at); err != nil {
				t.Fatalf("claim failed: %v", err)
			}
			Aggregate(o, at)
			if err := AdvanceTicket(&o.Tickets[i], domain.TicketReady, "", at); err != nil {
				t.Fatalf("ready failed: %v", err)
			}
		}
		if o.Status != domain.OrderPreparing {
			t.Fatalf("expected preparing after claims, got %s", o.Status)
		}

		readyTransitions := 0
		for step, idx := range perm {
			if err := AdvanceTicket(&o.Tickets[idx], domain.TicketCompleted, "", at); err != nil {
				t.Fatalf("complete failed: %v", err)
			}
			changed := Aggregate(o, at)
			if changed && o.Status == domain.OrderReady {
				readyTransitions++
				if step != n-1 {
					t.Fatalf("perm %v: order became ready after completion %d", perm, step+1)
				}
			}
		}
		if readyTransitions != 1 {
			t.Fatalf("perm %v: expected exactly one ready transition, got %d", perm, readyTransitions)
		}
		if Aggregate(o, at) {
			t.Fatalf("perm %v: aggregate fired again after ready", perm)
		}
	}
}

func TestAdvanceTicketRejectsSkips(t *testing.T) {
	o := newOrder(1)
	err := AdvanceTicket(&o.Tickets[0], domain.TicketCompleted, "", at)
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if err := AdvanceTicket(&o.Tickets[0], domain.TicketPreparing, "", at); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected preparer to be required, got %v", err)
	}
}

func TestTransitionOrder(t *testing.T) {
	o := newOrder(1)
	if err := TransitionOrder(o, domain.OrderConfirmed, at); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if err := TransitionOrder(o, domain.OrderReady, at); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("ready must not be settable, got %v", err)
	}
	if err := TransitionOrder(o, domain.OrderServed, at); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("serve before ready must fail, got %v", err)
	}
	if err := TransitionOrder(o, domain.OrderCancelled, at); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if err := TransitionOrder(o, domain.OrderCancelled, at); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("cancel of cancelled order must fail, got %v", err)
	}
}

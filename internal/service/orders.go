package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"rasapos/backend/internal/domain"
	"rasapos/backend/internal/kitchen"
	"rasapos/backend/internal/store"
	"rasapos/backend/internal/validation"
	"rasapos/backend/internal/xid"
)

// PlaceOrder opens a dine-in order with one pending kitchen ticket per line.
func (s *Service) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.CustomerOrder, error) {
	req.TableRef = strings.TrimSpace(req.TableRef)
	for i := range req.Lines {
		req.Lines[i].CompositeItemID = strings.TrimSpace(req.Lines[i].CompositeItemID)
	}
	if err := validation.Struct(req); err != nil {
		return domain.CustomerOrder{}, err
	}

	var order domain.CustomerOrder
	err := s.atomic(ctx, "place_order", func(tx store.Tx) error {
		now := s.now()
		o := domain.CustomerOrder{
			ID:        xid.New("ord"),
			TableRef:  req.TableRef,
			Status:    domain.OrderPending,
			Lines:     make([]domain.OrderLine, 0, len(req.Lines)),
			CreatedBy: actorName(ctx),
			CreatedAt: now,
			UpdatedAt: now,
		}
		for i, rl := range req.Lines {
			item, err := tx.GetCompositeItem(ctx, rl.CompositeItemID)
			if err != nil {
				return fmt.Errorf("lines[%d] composite item %s: %w", i, rl.CompositeItemID, err)
			}
			if !item.Active {
				return store.Invalid(fmt.Sprintf("lines[%d].composite_item_id", i), "composite item is inactive")
			}
			o.Lines = append(o.Lines, domain.OrderLine{
				ID:              xid.New("ol"),
				OrderID:         o.ID,
				CompositeItemID: item.ID,
				Name:            item.Name,
				Quantity:        rl.Quantity,
				UnitPrice:       item.Price,
			})
		}
		o.Tickets = kitchen.TicketsFor(o, func() string { return xid.New("tkt") })
		if err := tx.CreateOrder(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return domain.CustomerOrder{}, err
	}

	s.invalidateOrder(ctx, order.ID)
	s.logAudit(ctx, "order_place", "order", order.ID,
		fmt.Sprintf("table=%s,lines=%d", order.TableRef, len(order.Lines)))
	return order, nil
}

func (s *Service) ConfirmOrder(ctx context.Context, orderID string) (domain.CustomerOrder, error) {
	return s.moveOrder(ctx, orderID, domain.OrderConfirmed, "")
}

func (s *Service) ServeOrder(ctx context.Context, orderID string) (domain.CustomerOrder, error) {
	return s.moveOrder(ctx, orderID, domain.OrderServed, "")
}

func (s *Service) CompleteOrder(ctx context.Context, orderID string) (domain.CustomerOrder, error) {
	return s.moveOrder(ctx, orderID, domain.OrderCompleted, "")
}

// CancelOrder ends an order from any non-terminal status. Its tickets stay
// as they are and reject further moves.
func (s *Service) CancelOrder(ctx context.Context, orderID string, req domain.CancelOrderRequest) (domain.CustomerOrder, error) {
	return s.moveOrder(ctx, orderID, domain.OrderCancelled, strings.TrimSpace(req.Reason))
}

func (s *Service) moveOrder(ctx context.Context, orderID string, to domain.OrderStatus, reason string) (domain.CustomerOrder, error) {
	var updated domain.CustomerOrder
	err := s.atomic(ctx, "order_"+string(to), func(tx store.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := kitchen.TransitionOrder(order, to, s.now()); err != nil {
			return err
		}
		if to == domain.OrderCancelled {
			order.CancelReason = reason
		}
		if err := tx.UpdateOrder(ctx, *order); err != nil {
			return err
		}
		updated = *order
		return nil
	})
	if err != nil {
		return domain.CustomerOrder{}, err
	}

	s.invalidateOrder(ctx, updated.ID)
	detail := "status=" + string(updated.Status)
	if reason != "" {
		detail += ",reason=" + reason
	}
	s.logAudit(ctx, "order_"+string(to), "order", orderID, detail)
	return updated, nil
}

// CheckoutOrder settles a served order as a sale at the prices captured when
// the order was placed, and completes the order in the same transaction.
func (s *Service) CheckoutOrder(ctx context.Context, orderID string, req domain.CheckoutOrderRequest) (domain.SettleResponse, error) {
	settle := domain.SettleRequest{
		IdempotencyKey:   req.IdempotencyKey,
		Discount:         req.Discount,
		CustomerID:       req.CustomerID,
		PaymentMethod:    req.PaymentMethod,
		PaymentReference: req.PaymentReference,
		CashReceived:     req.CashReceived,
	}
	normalizeSettleRequest(&settle)
	req.PaymentMethod = settle.PaymentMethod
	if err := validation.Struct(req); err != nil {
		return domain.SettleResponse{}, err
	}

	if settle.IdempotencyKey != "" {
		existing, err := s.repo.FindSaleByIdempotency(ctx, settle.IdempotencyKey)
		if err == nil {
			return domain.SettleResponse{Sale: *existing, Duplicate: true}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return domain.SettleResponse{}, err
		}
	}

	var (
		sale  domain.Sale
		order domain.CustomerOrder
	)
	err := s.atomic(ctx, "checkout_order", func(tx store.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.SaleID != "" {
			return fmt.Errorf("order %s already settled by %s: %w", o.ID, o.SaleID, store.ErrInvalidTransition)
		}
		if o.Status != domain.OrderServed {
			return fmt.Errorf("order %s is %s, checkout needs served: %w", o.ID, o.Status, store.ErrInvalidTransition)
		}

		cart := settle
		cart.Lines = make([]domain.CartLine, 0, len(o.Lines))
		for _, line := range o.Lines {
			price := line.UnitPrice
			cart.Lines = append(cart.Lines, domain.CartLine{
				ItemKind:          domain.ItemKindComposite,
				ItemID:            line.CompositeItemID,
				Quantity:          decimal.NewFromInt(int64(line.Quantity)),
				UnitPriceOverride: &price,
			})
		}

		created, err := s.settleInTx(ctx, tx, cart, o.ID)
		if err != nil {
			return err
		}
		if err := kitchen.TransitionOrder(o, domain.OrderCompleted, created.CreatedAt); err != nil {
			return err
		}
		o.SaleID = created.ID
		if err := tx.UpdateOrder(ctx, *o); err != nil {
			return err
		}
		sale = created
		order = *o
		return nil
	})
	if err != nil {
		if settle.IdempotencyKey != "" && errors.Is(err, store.ErrDuplicate) {
			existing, lookupErr := s.repo.FindSaleByIdempotency(ctx, settle.IdempotencyKey)
			if lookupErr == nil {
				return domain.SettleResponse{Sale: *existing, Duplicate: true}, nil
			}
		}
		return domain.SettleResponse{}, err
	}

	s.invalidateOrder(ctx, order.ID)
	s.afterSettle(ctx, sale)
	s.logAudit(ctx, "order_checkout", "order", order.ID, "sale="+sale.ID)
	return domain.SettleResponse{Sale: sale}, nil
}

func (s *Service) ClaimTicket(ctx context.Context, ticketID string, req domain.ClaimTicketRequest) (domain.KitchenTicket, error) {
	req.PreparerRef = strings.TrimSpace(req.PreparerRef)
	if err := validation.Struct(req); err != nil {
		return domain.KitchenTicket{}, err
	}
	return s.advanceTicket(ctx, ticketID, domain.TicketPreparing, req.PreparerRef)
}

func (s *Service) MarkTicketReady(ctx context.Context, ticketID string) (domain.KitchenTicket, error) {
	return s.advanceTicket(ctx, ticketID, domain.TicketReady, "")
}

func (s *Service) CompleteTicket(ctx context.Context, ticketID string) (domain.KitchenTicket, error) {
	return s.advanceTicket(ctx, ticketID, domain.TicketCompleted, "")
}

// advanceTicket moves one ticket and re-derives the order status from all of
// its siblings while the order and its tickets are locked, so the last of
// several concurrent completions is the one that sees every ticket done.
func (s *Service) advanceTicket(ctx context.Context, ticketID string, to domain.TicketStatus, preparerRef string) (domain.KitchenTicket, error) {
	ticket, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return domain.KitchenTicket{}, err
	}

	var (
		updated domain.KitchenTicket
		order   domain.CustomerOrder
		derived bool
	)
	err = s.atomic(ctx, "ticket_"+string(to), func(tx store.Tx) error {
		o, err := tx.LockOrder(ctx, ticket.OrderID)
		if err != nil {
			return err
		}
		if o.Status == domain.OrderCancelled {
			return fmt.Errorf("order %s is cancelled: %w", o.ID, store.ErrInvalidTransition)
		}
		idx := slices.IndexFunc(o.Tickets, func(t domain.KitchenTicket) bool { return t.ID == ticketID })
		if idx < 0 {
			return fmt.Errorf("ticket %s: %w", ticketID, store.ErrNotFound)
		}

		now := s.now()
		t := &o.Tickets[idx]
		if err := kitchen.AdvanceTicket(t, to, preparerRef, now); err != nil {
			return err
		}
		if err := tx.UpdateTicket(ctx, *t); err != nil {
			return err
		}
		derived = kitchen.Aggregate(o, now)
		if derived {
			if err := tx.UpdateOrder(ctx, *o); err != nil {
				return err
			}
		}
		updated = *t
		order = *o
		return nil
	})
	if err != nil {
		return domain.KitchenTicket{}, err
	}

	s.invalidateOrder(ctx, order.ID)
	s.logAudit(ctx, "ticket_"+string(to), "kitchen_ticket", ticketID, "order="+order.ID)
	if derived {
		s.logger.Info("order status derived from tickets",
			"order_id", order.ID,
			"status", string(order.Status))
	}
	return updated, nil
}

// ListKitchenTickets feeds the kitchen display. An empty status lists every
// open ticket of orders that are still live.
func (s *Service) ListKitchenTickets(ctx context.Context, status string) ([]domain.KitchenTicket, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	switch domain.TicketStatus(status) {
	case "", domain.TicketPending, domain.TicketPreparing, domain.TicketReady, domain.TicketCompleted:
	default:
		return nil, store.Invalid("status", "unknown ticket status")
	}
	return s.repo.ListTickets(ctx, domain.TicketStatus(status))
}

// GetOrder serves the order tracker, reading through the order cache.
func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.CustomerOrder, error) {
	cached, ok, err := s.orders.Get(ctx, orderID)
	if err != nil {
		s.logger.Warn("order cache read failed", "order_id", orderID, "error", err)
	} else if ok {
		return *cached, nil
	}

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.CustomerOrder{}, err
	}
	s.cacheOrder(ctx, *order)
	return *order, nil
}

// invalidateOrder drops the cached order after a committed write. Only
// GetOrder refills the cache.
func (s *Service) invalidateOrder(ctx context.Context, orderID string) {
	if err := s.orders.Delete(ctx, orderID); err != nil {
		s.logger.Warn("order cache invalidation failed", "order_id", orderID, "error", err)
	}
}

func (s *Service) cacheOrder(ctx context.Context, order domain.CustomerOrder) {
	if err := s.orders.Set(ctx, &order, s.orderTTL); err != nil {
		s.logger.Warn("order cache write failed", "order_id", order.ID, "error", err)
		if err := s.orders.Delete(ctx, order.ID); err != nil {
			s.logger.Warn("order cache invalidation failed", "order_id", order.ID, "error", err)
		}
	}
}

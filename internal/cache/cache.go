package cache

import (
	"context"
	"time"

	"rasapos/backend/internal/domain"
)

// OrderCache holds the order tracker read model that front-of-house and
// kitchen displays poll.
type OrderCache interface {
	Get(ctx context.Context, orderID string) (*domain.CustomerOrder, bool, error)
	Set(ctx context.Context, order *domain.CustomerOrder, ttl time.Duration) error
	Delete(ctx context.Context, orderID string) error
}

type NoopOrderCache struct{}

func (NoopOrderCache) Get(_ context.Context, _ string) (*domain.CustomerOrder, bool, error) {
	return nil, false, nil
}

func (NoopOrderCache) Set(_ context.Context, _ *domain.CustomerOrder, _ time.Duration) error {
	return nil
}

func (NoopOrderCache) Delete(_ context.Context, _ string) error {
	return nil
}

func orderKey(orderID string) string {
	return "rasapos:order:" + orderID
}

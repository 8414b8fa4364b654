package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"rasapos/backend/internal/cache"
	"rasapos/backend/internal/domain"
	"rasapos/backend/internal/ledger"
	"rasapos/backend/internal/store"
	"rasapos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Options tunes the business rules of a Service. Use DefaultOptions as the
// starting point; the zero value disables compensation of side effects.
type Options struct {
	OversellPolicy        ledger.Policy
	CompensateSideEffects bool
	AccrualRate           decimal.Decimal
	PointsPerUnit         decimal.Decimal
	MaxTxRetries          int
	OrderCache            cache.OrderCache
	OrderCacheTTL         time.Duration
	Logger                *slog.Logger
	Now                   func() time.Time
}

func DefaultOptions() Options {
	return Options{
		OversellPolicy:        ledger.PolicyReject,
		CompensateSideEffects: true,
		AccrualRate:           decimal.RequireFromString("0.01"),
		PointsPerUnit:         decimal.NewFromInt(1),
		MaxTxRetries:          3,
		OrderCacheTTL:         30 * time.Second,
	}
}

type Service struct {
	repo          store.Repository
	ledger        *ledger.Ledger
	orders        cache.OrderCache
	orderTTL      time.Duration
	logger        *slog.Logger
	accrualRate   decimal.Decimal
	pointsPerUnit decimal.Decimal
	compensate    bool
	maxRetries    int
	now           func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := opts.OversellPolicy
	if policy == "" {
		policy = ledger.PolicyReject
	}
	orders := opts.OrderCache
	if orders == nil {
		orders = cache.NoopOrderCache{}
	}
	ttl := opts.OrderCacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	pointsPerUnit := opts.PointsPerUnit
	if !pointsPerUnit.IsPositive() {
		pointsPerUnit = decimal.NewFromInt(1)
	}
	retries := opts.MaxTxRetries
	if retries < 0 {
		retries = 0
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		repo:          repo,
		ledger:        ledger.New(policy, logger),
		orders:        orders,
		orderTTL:      ttl,
		logger:        logger.With("component", "service"),
		accrualRate:   opts.AccrualRate,
		pointsPerUnit: pointsPerUnit,
		compensate:    opts.CompensateSideEffects,
		maxRetries:    retries,
		now:           now,
	}
}

// atomic runs fn in a transaction and retries it when the store reports a
// serialization conflict. fn may run more than once and must not leak state
// from a failed attempt.
func (s *Service) atomic(ctx context.Context, op string, fn func(tx store.Tx) error) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err = s.repo.WithinTx(ctx, fn)
		if !errors.Is(err, store.ErrConcurrentModification) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.logger.Warn("transaction conflict", "op", op, "attempt", attempt+1)
	}
	return err
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("actor required: %w", store.ErrForbidden)
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, fmt.Errorf("role %q not allowed: %w", actor.Role, store.ErrForbidden)
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.Invalid("date", "must be YYYY-MM-DD")
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			"component", "audit",
			"action", action,
			"entity", entityType+"/"+entityID,
			"error", err)
	}
}

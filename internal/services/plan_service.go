// Package services orchestrates the reconcile engine, the plan cache and
// AMQP notifications behind one API used by the HTTP layer and the CLIs.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"budgeteer/internal/cache"
	"budgeteer/internal/core"
	"budgeteer/internal/reconcile"
)

var ErrCommitInFlight = errors.New("a plan save is already in progress")

const (
	viewCacheKey     = "view"
	viewEditCacheKey = "view-edit"
)

// Reconciler is the engine surface the service drives.
type Reconciler interface {
	Reconcile(ctx context.Context, editMode bool) (*reconcile.View, error)
	Commit(ctx context.Context, view *reconcile.View) (int, error)
	Dismiss(ctx context.Context, identity core.Identity, amount core.Money) error
	ApplySuggested(ctx context.Context, view *reconcile.View, identity core.Identity, amount core.Money) (int, error)
	RetagByDescriptionKey(ctx context.Context, key string, categoryID int64) error
}

// PlanPublisher notifies downstream workers that a plan was saved.
type PlanPublisher interface {
	PublishPlanSaved(ctx context.Context, periodStart time.Time, savedCount int) error
}

// PlanService serializes saves, keeps the last good view cached for reads
// while storage is down, and publishes save notifications best-effort.
type PlanService struct {
	engine    Reconciler
	publisher PlanPublisher // nil disables notifications
	views     *cache.LRUCache[*reconcile.View]

	commitInFlight atomic.Bool
	now            func() time.Time
}

func NewPlanService(engine Reconciler, publisher PlanPublisher) *PlanService {
	return &PlanService{
		engine:    engine,
		publisher: publisher,
		views:     cache.NewLRUCache[*reconcile.View](2, 10*time.Minute),
		now:       time.Now,
	}
}

// LoadView reconciles a fresh view. When reconciliation fails and a cached
// view exists, the stale view is served instead of the error.
func (s *PlanService) LoadView(ctx context.Context, editMode bool) (*reconcile.View, error) {
	key := viewCacheKey
	if editMode {
		key = viewEditCacheKey
	}

	view, err := s.engine.Reconcile(ctx, editMode)
	if err != nil {
		if cached, ok := s.views.Get(key); ok {
			slog.WarnContext(ctx, "Reconcile failed, serving last good view",
				"error", err,
				"edit_mode", editMode)
			return cached, nil
		}
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	s.views.Set(key, view)
	return view, nil
}

// SavePlan commits the view. Concurrent saves are rejected rather than
// queued so two replace-all writes never interleave.
func (s *PlanService) SavePlan(ctx context.Context, view *reconcile.View) (int, error) {
	if !s.commitInFlight.CompareAndSwap(false, true) {
		return 0, ErrCommitInFlight
	}
	defer s.commitInFlight.Store(false)

	saved, err := s.engine.Commit(ctx, view)
	if err != nil {
		return saved, fmt.Errorf("commit plan: %w", err)
	}

	s.invalidate()
	s.notifySaved(ctx, saved)
	return saved, nil
}

// DismissSuggestion acknowledges an amount without saving a budget.
func (s *PlanService) DismissSuggestion(ctx context.Context, identity core.Identity, amount core.Money) error {
	if err := s.engine.Dismiss(ctx, identity, amount); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// ApplySuggestion adopts a suggested amount and commits immediately.
func (s *PlanService) ApplySuggestion(ctx context.Context, view *reconcile.View, identity core.Identity, amount core.Money) (int, error) {
	if !s.commitInFlight.CompareAndSwap(false, true) {
		return 0, ErrCommitInFlight
	}
	defer s.commitInFlight.Store(false)

	saved, err := s.engine.ApplySuggested(ctx, view, identity, amount)
	if err != nil {
		return saved, err
	}

	s.invalidate()
	s.notifySaved(ctx, saved)
	return saved, nil
}

// Retag points every transaction sharing a description key at a category.
func (s *PlanService) Retag(ctx context.Context, key string, categoryID int64) error {
	if err := s.engine.RetagByDescriptionKey(ctx, key, categoryID); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

func (s *PlanService) invalidate() {
	s.views.Delete(viewCacheKey)
	s.views.Delete(viewEditCacheKey)
}

// notifySaved publishes best-effort: a broker outage never fails a save.
func (s *PlanService) notifySaved(ctx context.Context, saved int) {
	if s.publisher == nil {
		slog.WarnContext(ctx, "Plan publisher not available, skipping notification")
		return
	}
	periodStart := core.WeekStart(s.now())
	if err := s.publisher.PublishPlanSaved(ctx, periodStart, saved); err != nil {
		slog.ErrorContext(ctx, "Failed to publish plan saved message",
			"error", err,
			"saved", saved)
	}
}

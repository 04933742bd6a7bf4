// Package reconcile merges detected budget candidates with saved budgets,
// seen baselines and manual entries, and owns the save/dismiss operations.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"budgeteer/internal/core"
)

const (
	StateNew     ItemState = "new"
	StateStable  ItemState = "stable"
	StateChanged ItemState = "changed"
)

type ItemState string

var ErrUnknownIdentity = errors.New("identity not present in view")

// Item is one reconciled budget candidate.
type Item struct {
	Identity    core.Identity
	DisplayName string
	// Detected is the freshly detected weekly-equivalent amount. Zero for
	// orphaned saved rows that no detection run currently produces.
	Detected core.Money
	// Working is the amount a save would persist: the saved limit when a
	// budget exists for this identity, the detected amount otherwise.
	Working  core.Money
	Selected bool
	Saved    bool
	// Orphan marks a saved budget with no matching detected item,
	// synthesized into the view in edit mode so it can still be removed.
	Orphan bool
	// State derives from the seen baseline only: never acknowledged (new),
	// within tolerance (stable), or drifted beyond it (changed).
	State ItemState
	// Suggested is set when a saved amount drifts from the detected one
	// beyond the kind's tolerance; SuggestedAmount is the detected value.
	Suggested       bool
	SuggestedAmount core.Money

	TransactionCount int
	HasRecurring     bool
	Frequency        core.Frequency
	NextDue          time.Time
}

// View is the unified candidate set plus the wholesale-loaded manual entries.
type View struct {
	Items  []Item
	Manual []core.ManualBudgetEntry
}

type Options struct {
	MinWeekly    core.Money
	LookbackDays int
}

// Engine orchestrates detection, aggregation and the persistent stores. All
// stores are injected so tests run against in-memory fakes.
type Engine struct {
	transactions TransactionSource
	categories   CategorySource
	ledger       BudgetLedger
	baselines    SeenBaselineStore
	manual       ManualBudgetStore
	patterns     PatternReader
	detector     RecurringDetector
	suggestions  SuggestionSource
	opts         Options
	now          func() time.Time
}

func NewEngine(
	transactions TransactionSource,
	categories CategorySource,
	ledger BudgetLedger,
	baselines SeenBaselineStore,
	manual ManualBudgetStore,
	patterns PatternReader,
	detector RecurringDetector,
	suggestions SuggestionSource,
	opts Options,
) *Engine {
	return &Engine{
		transactions: transactions,
		categories:   categories,
		ledger:       ledger,
		baselines:    baselines,
		manual:       manual,
		patterns:     patterns,
		detector:     detector,
		suggestions:  suggestions,
		opts:         opts,
		now:          time.Now,
	}
}

// Reconcile recomputes the unified candidate view. Calling it twice with no
// intervening mutation yields identical selection and amount state.
//
// In edit mode, saved budgets with no matching detected item are synthesized
// into the view as standalone rows instead of silently disappearing.
func (e *Engine) Reconcile(ctx context.Context, editMode bool) (*View, error) {
	var (
		budgets       []core.Budget
		manualEntries []core.ManualBudgetEntry
		seenAmounts   = make(map[core.IdentityKind]map[string]core.Money)
	)

	// Detection runs concurrently with the ledger/baseline/manual loads;
	// both must complete before the merge starts.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.detector.IdentifyRecurringPatterns(gctx)
	})
	g.Go(func() error {
		var err error
		if budgets, err = e.ledger.ListBudgets(gctx); err != nil {
			return fmt.Errorf("load budgets: %w", err)
		}
		if manualEntries, err = e.manual.ListManualBudgets(gctx); err != nil {
			return fmt.Errorf("load manual budgets: %w", err)
		}
		for _, kind := range []core.IdentityKind{core.IdentityRecurring, core.IdentityCategory, core.IdentityUncategorized} {
			amounts, err := e.baselines.SeenAmounts(gctx, kind)
			if err != nil {
				return fmt.Errorf("load seen baselines for %s: %w", kind, err)
			}
			seenAmounts[kind] = amounts
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	patterns, err := e.patterns.GetAllPatterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("load recurring patterns: %w", err)
	}

	suggestions, err := e.suggestions.ComputeSuggestions(ctx, e.opts.MinWeekly, e.opts.LookbackDays)
	if err != nil {
		return nil, fmt.Errorf("compute suggestions: %w", err)
	}

	savedByIdentity := make(map[string]core.Budget)
	for _, b := range budgets {
		if id, ok := b.Identity(); ok {
			savedByIdentity[id.String()] = b
		}
	}

	view := &View{Manual: manualEntries}

	appendItem := func(item Item) {
		saved, hasSaved := savedByIdentity[item.Identity.String()]
		if hasSaved {
			item.Saved = true
			item.Selected = true
			item.Working = saved.WeeklyLimit
			if core.DriftsFor(item.Identity.Kind, item.Detected, saved.WeeklyLimit) {
				item.Suggested = true
				item.SuggestedAmount = item.Detected
			}
			delete(savedByIdentity, item.Identity.String())
		} else {
			item.Working = item.Detected
		}

		baseline, acknowledged := seenAmounts[item.Identity.Kind][item.Identity.StorageID()]
		switch {
		case !acknowledged:
			item.State = StateNew
		case core.DriftsFor(item.Identity.Kind, item.Detected, baseline):
			item.State = StateChanged
		default:
			item.State = StateStable
		}

		view.Items = append(view.Items, item)
	}

	for _, p := range patterns {
		appendItem(Item{
			Identity:     core.RecurringIdentity(p.ID),
			DisplayName:  p.Description,
			Detected:     p.WeeklyEquivalent(),
			HasRecurring: true,
			Frequency:    p.Frequency,
			NextDue:      p.NextDue,
		})
	}

	for _, s := range suggestions {
		item := Item{
			DisplayName:      s.DisplayName,
			Detected:         s.WeeklySuggested,
			TransactionCount: s.TransactionCount,
			HasRecurring:     s.HasRecurring,
		}
		if s.IsUncategorizedGroup {
			item.Identity = core.UncategorizedIdentity(s.DescriptionKey)
		} else {
			item.Identity = core.CategoryIdentity(s.CategoryID)
		}
		appendItem(item)
	}

	if editMode {
		if err := e.appendOrphans(ctx, view, budgets, savedByIdentity); err != nil {
			return nil, err
		}
	}

	slog.DebugContext(ctx, "Reconciled budget view",
		"items", len(view.Items),
		"manual_entries", len(view.Manual),
		"edit_mode", editMode)

	return view, nil
}

// appendOrphans synthesizes rows for saved budgets that no detected item
// matched, preserving insertion order of the ledger.
func (e *Engine) appendOrphans(ctx context.Context, view *View, budgets []core.Budget, remaining map[string]core.Budget) error {
	if len(remaining) == 0 {
		return nil
	}

	var categoryIDs []int64
	for _, b := range remaining {
		if b.CategoryID != 0 {
			categoryIDs = append(categoryIDs, b.CategoryID)
		}
	}
	names := map[int64]string{}
	if len(categoryIDs) > 0 {
		var err error
		if names, err = e.categories.CategoryNamesByIDs(ctx, categoryIDs); err != nil {
			return fmt.Errorf("resolve orphan category names: %w", err)
		}
	}

	for _, b := range budgets {
		id, ok := b.Identity()
		if !ok {
			continue
		}
		if _, orphaned := remaining[id.String()]; !orphaned {
			continue
		}

		name := b.Label
		switch {
		case b.CategoryID != 0 && names[b.CategoryID] != "":
			name = names[b.CategoryID]
		case b.UncategorizedKey != "":
			name = b.UncategorizedKey
		case name == "":
			name = id.String()
		}

		view.Items = append(view.Items, Item{
			Identity:    id,
			DisplayName: name,
			Working:     b.WeeklyLimit,
			Selected:    true,
			Saved:       true,
			Orphan:      true,
			State:       StateStable,
		})
	}
	return nil
}

// Commit persists the current selection with replace-all semantics and
// refreshes the seen baseline of every detected item, selected or not.
// Returns the number of ledger rows written; informational only.
//
// Without a PlanReplacer ledger the clear-then-insert sequence is a series
// of independent writes: a failure aborts the remaining inserts but rows
// already written stay. Callers recover by re-running the pipeline.
func (e *Engine) Commit(ctx context.Context, view *View) (int, error) {
	periodStart := core.WeekStart(e.now())

	var plan []core.Budget
	for _, item := range view.Items {
		if !item.Selected || !item.Working.IsPositive() {
			continue
		}
		b := core.Budget{WeeklyLimit: item.Working, PeriodStart: periodStart}
		switch item.Identity.Kind {
		case core.IdentityCategory:
			b.CategoryID = item.Identity.CategoryID
		case core.IdentityRecurring:
			b.RecurringPatternID = item.Identity.RecurringID
		case core.IdentityUncategorized:
			b.UncategorizedKey = item.Identity.Key
		default:
			continue
		}
		plan = append(plan, b)
	}
	for _, entry := range view.Manual {
		if !entry.Selected || !entry.WeeklyLimit.IsPositive() {
			continue
		}
		plan = append(plan, core.Budget{
			Label:       entry.Name,
			WeeklyLimit: entry.WeeklyLimit,
			PeriodStart: periodStart,
		})
	}

	saved, err := e.writePlan(ctx, plan)
	if err != nil {
		return saved, err
	}

	// All manual entries persist, selected or not, so deselected custom
	// budgets survive the session.
	if err := e.manual.SaveManualBudgets(ctx, view.Manual); err != nil {
		return saved, fmt.Errorf("save manual budgets: %w", err)
	}

	// Every detected item collapses to a stable baseline after a save, even
	// the ones the user chose not to budget.
	detected := make(map[core.IdentityKind]map[string]core.Money)
	for _, item := range view.Items {
		if item.Orphan {
			continue
		}
		kind := item.Identity.Kind
		if detected[kind] == nil {
			detected[kind] = make(map[string]core.Money)
		}
		detected[kind][item.Identity.StorageID()] = item.Detected
	}
	for kind, amounts := range detected {
		if err := e.baselines.MarkAllSeen(ctx, kind, amounts); err != nil {
			return saved, fmt.Errorf("mark %s baselines seen: %w", kind, err)
		}
	}

	slog.InfoContext(ctx, "Budget plan saved",
		"rows", saved,
		"period_start", periodStart.Format("2006-01-02"))

	return saved, nil
}

func (e *Engine) writePlan(ctx context.Context, plan []core.Budget) (int, error) {
	if replacer, ok := e.ledger.(PlanReplacer); ok {
		if err := replacer.ReplacePlan(ctx, plan); err != nil {
			return 0, fmt.Errorf("replace plan: %w", err)
		}
		return len(plan), nil
	}

	if err := e.ledger.ClearBudgets(ctx); err != nil {
		return 0, fmt.Errorf("clear budgets: %w", err)
	}
	saved := 0
	for _, b := range plan {
		if err := e.ledger.InsertBudget(ctx, b); err != nil {
			return saved, fmt.Errorf("insert budget: %w", err)
		}
		saved++
	}
	return saved, nil
}

// Dismiss acknowledges a detected amount without touching the ledger.
func (e *Engine) Dismiss(ctx context.Context, identity core.Identity, amount core.Money) error {
	if err := e.baselines.MarkSeen(ctx, identity.Kind, identity.StorageID(), amount); err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

// ApplySuggested adopts the suggested amount for one item, selects it,
// acknowledges it, and commits the whole view so the change is durable
// immediately.
func (e *Engine) ApplySuggested(ctx context.Context, view *View, identity core.Identity, amount core.Money) (int, error) {
	found := false
	for i := range view.Items {
		if view.Items[i].Identity.String() == identity.String() {
			view.Items[i].Working = amount
			view.Items[i].Selected = true
			found = true
			break
		}
	}
	if !found {
		return 0, fmt.Errorf("apply suggested %s: %w", identity, ErrUnknownIdentity)
	}

	if err := e.Dismiss(ctx, identity, amount); err != nil {
		return 0, err
	}
	return e.Commit(ctx, view)
}

// RetagByDescriptionKey points every transaction sharing the normalized key
// at the target category. Callers re-run reconciliation afterwards; cached
// suggestions are not auto-invalidated here.
func (e *Engine) RetagByDescriptionKey(ctx context.Context, key string, categoryID int64) error {
	if err := e.transactions.UpdateCategoryByDescriptionKey(ctx, key, categoryID); err != nil {
		return fmt.Errorf("retag %q: %w", key, err)
	}
	slog.InfoContext(ctx, "Re-tagged uncategorized transactions",
		"description_key", key,
		"category_id", categoryID)
	return nil
}

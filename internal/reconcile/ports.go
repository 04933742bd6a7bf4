package reconcile

import (
	"context"

	"budgeteer/internal/core"
)

// Ports for the stores the engine orchestrates. Concrete backing (relational
// table vs key-value blob) is an adapter choice, not part of the contract.
type (
	TransactionSource interface {
		GetAll(ctx context.Context) ([]core.Transaction, error)
		// UpdateCategoryByDescriptionKey bulk-retags every transaction whose
		// normalized description matches key. The only mutation this core
		// makes to the transaction store.
		UpdateCategoryByDescriptionKey(ctx context.Context, key string, categoryID int64) error
	}

	CategorySource interface {
		// EnsureCategory returns the id for name, creating it if missing.
		EnsureCategory(ctx context.Context, name string) (int64, error)
		CategoryNamesByIDs(ctx context.Context, ids []int64) (map[int64]string, error)
		GetAllOrderedByUsage(ctx context.Context) ([]core.CategoryInfo, error)
	}

	BudgetLedger interface {
		ListBudgets(ctx context.Context) ([]core.Budget, error)
		InsertBudget(ctx context.Context, b core.Budget) error
		ClearBudgets(ctx context.Context) error
	}

	// PlanReplacer is an optional ledger fast path that swaps the whole plan
	// in one storage-level transaction, closing the partial-failure gap of
	// clear-then-insert without changing the engine's logical contract.
	PlanReplacer interface {
		ReplacePlan(ctx context.Context, plan []core.Budget) error
	}

	SeenBaselineStore interface {
		SeenIDs(ctx context.Context, kind core.IdentityKind) (map[string]bool, error)
		SeenAmounts(ctx context.Context, kind core.IdentityKind) (map[string]core.Money, error)
		MarkSeen(ctx context.Context, kind core.IdentityKind, id string, amount core.Money) error
		MarkAllSeen(ctx context.Context, kind core.IdentityKind, amounts map[string]core.Money) error
	}

	ManualBudgetStore interface {
		ListManualBudgets(ctx context.Context) ([]core.ManualBudgetEntry, error)
		// SaveManualBudgets replaces the whole ordered list.
		SaveManualBudgets(ctx context.Context, entries []core.ManualBudgetEntry) error
	}

	PatternReader interface {
		GetAllPatterns(ctx context.Context) ([]core.RecurringPattern, error)
	}

	RecurringDetector interface {
		IdentifyRecurringPatterns(ctx context.Context) error
	}

	SuggestionSource interface {
		ComputeSuggestions(ctx context.Context, minWeekly core.Money, lookbackDays int) ([]core.BudgetSuggestion, error)
	}
)

package reconcile

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"budgeteer/internal/core"
	"budgeteer/internal/detect"
	"budgeteer/internal/reconcile/memory"
	"budgeteer/internal/suggest"
)

func newTestEngine(store *memory.Store) *Engine {
	detector := detect.NewDetector(store, store)
	aggregator := suggest.NewAggregator(store, store, store)
	return NewEngine(store, store, store, store, store, store, detector, aggregator, Options{
		MinWeekly:    core.Money{Cents: 500},
		LookbackDays: 60,
	})
}

func expense(daysAgo int, description string, cents int64, categoryID int64) core.Transaction {
	return core.Transaction{
		Date:        time.Now().UTC().AddDate(0, 0, -daysAgo),
		Amount:      core.Money{Cents: -cents},
		Type:        core.Expense,
		CategoryID:  categoryID,
		Description: description,
	}
}

// seedSpotify adds four weekly 12.99 charges, enough for a weekly pattern.
func seedSpotify(store *memory.Store) {
	store.SeedTransactions(
		expense(22, "Spotify", 1299, 0),
		expense(15, "Spotify", 1299, 0),
		expense(8, "Spotify", 1299, 0),
		expense(1, "Spotify", 1299, 0),
	)
}

func seedGroceries(store *memory.Store) int64 {
	catID := store.SeedCategory("Groceries", 20)
	store.SeedTransactions(
		expense(5, "Corner Shop", 3000, catID),
		expense(12, "Corner Shop", 3000, catID),
		expense(19, "Corner Shop", 3000, catID),
	)
	return catID
}

func findItem(t *testing.T, view *View, kind core.IdentityKind) *Item {
	t.Helper()
	for i := range view.Items {
		if view.Items[i].Identity.Kind == kind {
			return &view.Items[i]
		}
	}
	t.Fatalf("no %s item in view: %+v", kind, view.Items)
	return nil
}

func TestReconcile_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedSpotify(store)
	seedGroceries(store)
	engine := newTestEngine(store)

	first, err := engine.Reconcile(ctx, false)
	if err != nil {
		t.Fatalf("first Reconcile() error = %v", err)
	}
	second, err := engine.Reconcile(ctx, false)
	if err != nil {
		t.Fatalf("second Reconcile() error = %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("reconcile not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestReconcile_States(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedSpotify(store)
	engine := newTestEngine(store)

	view, err := engine.Reconcile(ctx, false)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	item := findItem(t, view, core.IdentityRecurring)
	if item.State != StateNew {
		t.Errorf("never-acknowledged item State = %s, want new", item.State)
	}
	if item.Selected || item.Saved {
		t.Errorf("unsaved item should start unselected, got selected=%v saved=%v", item.Selected, item.Saved)
	}
	if item.Working != item.Detected {
		t.Errorf("working amount should equal detected for unsaved item")
	}

	// Acknowledge at the detected amount: stable.
	if err := engine.Dismiss(ctx, item.Identity, item.Detected); err != nil {
		t.Fatalf("Dismiss() error = %v", err)
	}
	view, _ = engine.Reconcile(ctx, false)
	if got := findItem(t, view, core.IdentityRecurring).State; got != StateStable {
		t.Errorf("acknowledged item State = %s, want stable", got)
	}

	// A one-cent baseline offset flags a subscription (zero tolerance band).
	offAmount := core.Money{Cents: item.Detected.Cents - 1}
	if err := engine.Dismiss(ctx, item.Identity, offAmount); err != nil {
		t.Fatalf("Dismiss() error = %v", err)
	}
	view, _ = engine.Reconcile(ctx, false)
	if got := findItem(t, view, core.IdentityRecurring).State; got != StateChanged {
		t.Errorf("one-cent drift State = %s, want changed", got)
	}
}

func TestReconcile_CategoryToleranceBand(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedGroceries(store) // detected weekly = 9000*7/60 = 1050
	engine := newTestEngine(store)

	view, _ := engine.Reconcile(ctx, false)
	item := findItem(t, view, core.IdentityCategory)

	// Baseline within 20%: stable.
	within := core.Money{Cents: item.Detected.Cents * 100 / 119} // ~19% below detected
	if err := engine.Dismiss(ctx, item.Identity, within); err != nil {
		t.Fatalf("Dismiss() error = %v", err)
	}
	view, _ = engine.Reconcile(ctx, false)
	if got := findItem(t, view, core.IdentityCategory).State; got != StateStable {
		t.Errorf("19%% drift State = %s, want stable", got)
	}

	// Baseline drifted by exactly 20%: changed.
	base := core.Money{Cents: item.Detected.Cents * 10 / 12} // detected is +20% of base
	if err := engine.Dismiss(ctx, item.Identity, base); err != nil {
		t.Fatalf("Dismiss() error = %v", err)
	}
	view, _ = engine.Reconcile(ctx, false)
	if got := findItem(t, view, core.IdentityCategory).State; got != StateChanged {
		t.Errorf("20%% drift State = %s, want changed", got)
	}
}

func TestReconcile_SuggestedWhenSavedDrifts(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	catID := seedGroceries(store) // detected weekly = 1050
	engine := newTestEngine(store)

	// Saved limit far below the detected amount.
	err := store.InsertBudget(ctx, core.Budget{
		CategoryID:  catID,
		WeeklyLimit: core.Money{Cents: 500},
		PeriodStart: core.WeekStart(time.Now()),
	})
	if err != nil {
		t.Fatalf("InsertBudget() error = %v", err)
	}

	view, err := engine.Reconcile(ctx, false)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	item := findItem(t, view, core.IdentityCategory)
	if !item.Saved || !item.Selected {
		t.Errorf("saved item should be pre-selected, got %+v", item)
	}
	if item.Working.Cents != 500 {
		t.Errorf("working amount = %d, want saved limit 500", item.Working.Cents)
	}
	if !item.Suggested || item.SuggestedAmount != item.Detected {
		t.Errorf("drifted saved item should carry a suggestion, got %+v", item)
	}
}

func TestCommit_ReplaceAllNeverAccumulates(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedSpotify(store)
	seedGroceries(store)
	engine := newTestEngine(store)

	commitAll := func() int {
		view, err := engine.Reconcile(ctx, false)
		if err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		for i := range view.Items {
			view.Items[i].Selected = true
		}
		n, err := engine.Commit(ctx, view)
		if err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
		return n
	}

	first := commitAll()
	second := commitAll()
	if first != second {
		t.Errorf("saved counts differ across identical commits: %d vs %d", first, second)
	}

	budgets, _ := store.ListBudgets(ctx)
	if len(budgets) != first {
		t.Errorf("ledger has %d rows after repeated saves, want %d", len(budgets), first)
	}
}

func TestCommit_SeenBaselineCollapse(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedSpotify(store)
	seedGroceries(store)
	engine := newTestEngine(store)

	view, err := engine.Reconcile(ctx, false)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	// Select only the recurring item; the category item stays unselected.
	for i := range view.Items {
		view.Items[i].Selected = view.Items[i].Identity.Kind == core.IdentityRecurring
	}
	if _, err := engine.Commit(ctx, view); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	// Every detected item has a baseline now, selected or not.
	for _, item := range view.Items {
		amounts, err := store.SeenAmounts(ctx, item.Identity.Kind)
		if err != nil {
			t.Fatalf("SeenAmounts() error = %v", err)
		}
		got, ok := amounts[item.Identity.StorageID()]
		if !ok {
			t.Errorf("no baseline for %s after commit", item.Identity)
			continue
		}
		if got != item.Detected {
			t.Errorf("baseline for %s = %d, want detected %d", item.Identity, got.Cents, item.Detected.Cents)
		}
	}

	view, _ = engine.Reconcile(ctx, false)
	for _, item := range view.Items {
		if item.State != StateStable {
			t.Errorf("item %s State = %s after commit, want stable", item.Identity, item.State)
		}
	}
}

func TestCommit_SkipsNonPositiveAmounts(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedGroceries(store)
	engine := newTestEngine(store)

	view, _ := engine.Reconcile(ctx, false)
	item := findItem(t, view, core.IdentityCategory)
	item.Selected = true
	item.Working = core.Money{Cents: 0}

	n, err := engine.Commit(ctx, view)
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Commit() saved %d rows, want 0 for non-positive amount", n)
	}
}

func TestCommit_ManualEntriesSurviveDeselection(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	engine := newTestEngine(store)

	if err := store.SaveManualBudgets(ctx, []core.ManualBudgetEntry{
		{Name: "holiday fund", WeeklyLimit: core.Money{Cents: 5000}, Selected: true},
	}); err != nil {
		t.Fatalf("SaveManualBudgets() error = %v", err)
	}

	view, err := engine.Reconcile(ctx, false)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(view.Manual) != 1 {
		t.Fatalf("view has %d manual entries, want 1", len(view.Manual))
	}

	view.Manual[0].Selected = false
	if _, err := engine.Commit(ctx, view); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	entries, _ := store.ListManualBudgets(ctx)
	if len(entries) != 1 {
		t.Fatalf("manual store has %d entries after deselect-save, want 1", len(entries))
	}
	if entries[0].Selected {
		t.Error("deselected manual entry came back selected")
	}
	if entries[0].Name != "holiday fund" || entries[0].WeeklyLimit.Cents != 5000 {
		t.Errorf("manual entry mutated: %+v", entries[0])
	}

	budgets, _ := store.ListBudgets(ctx)
	if len(budgets) != 0 {
		t.Errorf("deselected manual entry produced %d ledger rows, want 0", len(budgets))
	}
}

func TestCommit_PartialFailureIsAtLeastOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedSpotify(store)
	seedGroceries(store)
	engine := newTestEngine(store)

	view, _ := engine.Reconcile(ctx, false)
	for i := range view.Items {
		view.Items[i].Selected = true
	}

	store.FailBudgetInsertAfter = 1
	n, err := engine.Commit(ctx, view)
	if err == nil {
		t.Fatal("Commit() should surface the insert failure")
	}
	if n != 1 {
		t.Errorf("Commit() reported %d rows before failing, want 1", n)
	}

	budgets, _ := store.ListBudgets(ctx)
	if len(budgets) != 1 {
		t.Errorf("ledger has %d rows after partial failure, want 1 (no rollback)", len(budgets))
	}

	// Recovery is a plain re-run from current detected state.
	store.FailBudgetInsertAfter = 0
	view, _ = engine.Reconcile(ctx, false)
	for i := range view.Items {
		view.Items[i].Selected = true
	}
	if _, err := engine.Commit(ctx, view); err != nil {
		t.Fatalf("recovery Commit() error = %v", err)
	}
	budgets, _ = store.ListBudgets(ctx)
	if len(budgets) != len(view.Items) {
		t.Errorf("ledger has %d rows after recovery, want %d", len(budgets), len(view.Items))
	}
}

func TestApplySuggested(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedGroceries(store)
	engine := newTestEngine(store)

	view, _ := engine.Reconcile(ctx, false)
	item := findItem(t, view, core.IdentityCategory)

	n, err := engine.ApplySuggested(ctx, view, item.Identity, item.Detected)
	if err != nil {
		t.Fatalf("ApplySuggested() error = %v", err)
	}
	if n != 1 {
		t.Errorf("ApplySuggested() committed %d rows, want 1", n)
	}

	budgets, _ := store.ListBudgets(ctx)
	if len(budgets) != 1 || budgets[0].WeeklyLimit != item.Detected {
		t.Errorf("ledger after apply = %+v, want one row at detected amount", budgets)
	}

	amounts, _ := store.SeenAmounts(ctx, core.IdentityCategory)
	if amounts[item.Identity.StorageID()] != item.Detected {
		t.Error("apply should acknowledge the applied amount")
	}

	if _, err := engine.ApplySuggested(ctx, view, core.CategoryIdentity(999), core.Money{Cents: 1}); !errors.Is(err, ErrUnknownIdentity) {
		t.Errorf("unknown identity error = %v, want ErrUnknownIdentity", err)
	}
}

func TestDismiss_DoesNotTouchLedger(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedGroceries(store)
	engine := newTestEngine(store)

	view, _ := engine.Reconcile(ctx, false)
	item := findItem(t, view, core.IdentityCategory)

	if err := engine.Dismiss(ctx, item.Identity, item.Detected); err != nil {
		t.Fatalf("Dismiss() error = %v", err)
	}

	budgets, _ := store.ListBudgets(ctx)
	if len(budgets) != 0 {
		t.Errorf("Dismiss() wrote %d ledger rows, want 0", len(budgets))
	}
}

func TestReconcile_EditModeSynthesizesOrphans(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	catID := store.SeedCategory("Old Hobby", 3) // no transactions, never detected
	engine := newTestEngine(store)

	err := store.InsertBudget(ctx, core.Budget{
		CategoryID:  catID,
		WeeklyLimit: core.Money{Cents: 1500},
		PeriodStart: core.WeekStart(time.Now()),
	})
	if err != nil {
		t.Fatalf("InsertBudget() error = %v", err)
	}

	plain, err := engine.Reconcile(ctx, false)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(plain.Items) != 0 {
		t.Errorf("non-edit view has %d items, want 0", len(plain.Items))
	}

	edit, err := engine.Reconcile(ctx, true)
	if err != nil {
		t.Fatalf("edit Reconcile() error = %v", err)
	}
	if len(edit.Items) != 1 {
		t.Fatalf("edit view has %d items, want 1 synthesized row", len(edit.Items))
	}
	orphan := edit.Items[0]
	if !orphan.Orphan || !orphan.Selected || !orphan.Saved {
		t.Errorf("orphan flags wrong: %+v", orphan)
	}
	if orphan.DisplayName != "Old Hobby" {
		t.Errorf("orphan DisplayName = %q, want resolved category name", orphan.DisplayName)
	}
	if orphan.Working.Cents != 1500 {
		t.Errorf("orphan Working = %d, want saved limit", orphan.Working.Cents)
	}
}

func TestRetagRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	catID := store.SeedCategory("Streaming", 4)
	store.SeedTransactions(
		expense(3, "NETFLIX *0423", 2999, 0),
		expense(33, "Netflix 0522", 2999, 0),
	)
	engine := newTestEngine(store)

	view, _ := engine.Reconcile(ctx, false)
	cluster := findItem(t, view, core.IdentityUncategorized)
	if cluster.Identity.Key != "netflix" {
		t.Fatalf("cluster key = %q, want netflix", cluster.Identity.Key)
	}

	if err := engine.RetagByDescriptionKey(ctx, "netflix", catID); err != nil {
		t.Fatalf("RetagByDescriptionKey() error = %v", err)
	}

	view, _ = engine.Reconcile(ctx, false)
	for _, item := range view.Items {
		if item.Identity.Kind == core.IdentityUncategorized {
			t.Errorf("uncategorized group survived retag: %+v", item)
		}
	}
	category := findItem(t, view, core.IdentityCategory)
	if category.Identity.CategoryID != catID {
		t.Errorf("retagged spend under category %d, want %d", category.Identity.CategoryID, catID)
	}
	// 5998 cents over 60 days -> 699 weekly.
	if category.Detected.Cents != 699 {
		t.Errorf("category weekly total = %d, want 699", category.Detected.Cents)
	}
}

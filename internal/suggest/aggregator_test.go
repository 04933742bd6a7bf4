package suggest

import (
	"context"
	"testing"
	"time"

	"budgeteer/internal/core"
	"budgeteer/internal/reconcile/memory"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestAggregator(store *memory.Store) *Aggregator {
	a := NewAggregator(store, store, store)
	a.now = func() time.Time { return testNow }
	return a
}

func expenseDaysAgo(days int, description string, cents int64, categoryID int64) core.Transaction {
	return core.Transaction{
		Date:        testNow.AddDate(0, 0, -days),
		Amount:      core.Money{Cents: -cents},
		Type:        core.Expense,
		CategoryID:  categoryID,
		Description: description,
	}
}

func TestComputeSuggestions_WeeklyEquivalentMath(t *testing.T) {
	store := memory.New()
	catID := store.SeedCategory("Groceries", 10)
	// 6000 cents over a 60-day window -> 700 cents per week.
	store.SeedTransactions(
		expenseDaysAgo(10, "Corner Shop", 2000, catID),
		expenseDaysAgo(20, "Corner Shop", 2000, catID),
		expenseDaysAgo(30, "Corner Shop", 2000, catID),
	)

	got, err := newTestAggregator(store).ComputeSuggestions(context.Background(), core.Money{Cents: 500}, 60)
	if err != nil {
		t.Fatalf("ComputeSuggestions() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d suggestions, want 1", len(got))
	}
	if got[0].WeeklySuggested.Cents != 700 {
		t.Errorf("WeeklySuggested = %d, want 700", got[0].WeeklySuggested.Cents)
	}
	if got[0].DisplayName != "Groceries" {
		t.Errorf("DisplayName = %q, want Groceries", got[0].DisplayName)
	}
	if got[0].TransactionCount != 3 {
		t.Errorf("TransactionCount = %d, want 3", got[0].TransactionCount)
	}
}

func TestComputeSuggestions_MinWeeklyFilter(t *testing.T) {
	// weeklySuggested of 499 must be excluded at minWeekly 500 unless the
	// group carries a recurring signal.
	seed := func(recurring bool) *memory.Store {
		store := memory.New()
		catID := store.SeedCategory("Snacks", 1)
		// 4280 cents over 60 days -> 499 cents weekly.
		store.SeedTransactions(
			expenseDaysAgo(5, "Vending", 2140, catID),
			expenseDaysAgo(25, "Vending", 2140, catID),
		)
		if recurring {
			store.SeedPatterns(core.RecurringPattern{
				DescriptionKey: "vending",
				Description:    "Vending",
				Frequency:      core.Monthly,
				Amount:         core.Money{Cents: 2140},
			})
		}
		return store
	}

	got, err := newTestAggregator(seed(false)).ComputeSuggestions(context.Background(), core.Money{Cents: 500}, 60)
	if err != nil {
		t.Fatalf("ComputeSuggestions() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("below-threshold suggestion without recurring should be dropped, got %d", len(got))
	}

	got, err = newTestAggregator(seed(true)).ComputeSuggestions(context.Background(), core.Money{Cents: 500}, 60)
	if err != nil {
		t.Fatalf("ComputeSuggestions() error = %v", err)
	}
	if len(got) != 1 || !got[0].HasRecurring {
		t.Errorf("recurring suggestion must survive the amount filter, got %v", got)
	}
}

func TestComputeSuggestions_UncategorizedClusters(t *testing.T) {
	store := memory.New()
	store.SeedTransactions(
		expenseDaysAgo(3, "NETFLIX *0423", 999, 0),
		expenseDaysAgo(33, "Netflix 0522", 999, 0),
		expenseDaysAgo(7, "One Off Store", 50, 0),
	)

	got, err := newTestAggregator(store).ComputeSuggestions(context.Background(), core.Money{Cents: 500}, 60)
	if err != nil {
		t.Fatalf("ComputeSuggestions() error = %v", err)
	}
	// Both clusters survive: uncategorized groups are never amount-filtered.
	if len(got) != 2 {
		t.Fatalf("got %d suggestions, want 2", len(got))
	}

	// Larger cluster leads.
	if got[0].DescriptionKey != "netflix" || got[0].TransactionCount != 2 {
		t.Errorf("first cluster = %+v, want netflix with 2 transactions", got[0])
	}
	if !got[0].IsUncategorizedGroup || got[0].CategoryID != 0 {
		t.Errorf("cluster flags wrong: %+v", got[0])
	}
	// Display name comes from the most recent raw description.
	if got[0].DisplayName != "NETFLIX *0423" {
		t.Errorf("DisplayName = %q, want most recent raw description", got[0].DisplayName)
	}
}

func TestComputeSuggestions_Ordering(t *testing.T) {
	store := memory.New()
	groceries := store.SeedCategory("Groceries", 50)
	streaming := store.SeedCategory("Streaming", 5)
	store.SeedTransactions(
		// Groceries: 4 transactions, large spend, no recurring signal.
		expenseDaysAgo(4, "Shop", 3000, groceries),
		expenseDaysAgo(11, "Shop", 3000, groceries),
		expenseDaysAgo(18, "Shop", 3000, groceries),
		expenseDaysAgo(25, "Shop", 3000, groceries),
		// Streaming: 2 transactions with a recurring match.
		expenseDaysAgo(5, "Hulu", 799, streaming),
		expenseDaysAgo(35, "Hulu", 799, streaming),
		// Uncategorized cluster.
		expenseDaysAgo(2, "Mystery Vendor", 1200, 0),
	)
	store.SeedPatterns(core.RecurringPattern{
		DescriptionKey: "hulu",
		Description:    "Hulu",
		Frequency:      core.Monthly,
		Amount:         core.Money{Cents: 799},
	})

	got, err := newTestAggregator(store).ComputeSuggestions(context.Background(), core.Money{Cents: 100}, 60)
	if err != nil {
		t.Fatalf("ComputeSuggestions() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d suggestions, want 3", len(got))
	}

	if !got[0].IsUncategorizedGroup {
		t.Errorf("uncategorized group should lead, got %+v", got[0])
	}
	if got[1].DisplayName != "Streaming" || !got[1].HasRecurring {
		t.Errorf("recurring categorized suggestion should come before plain ones, got %+v", got[1])
	}
	if got[2].DisplayName != "Groceries" {
		t.Errorf("plain categorized suggestion last, got %+v", got[2])
	}
}

func TestComputeSuggestions_EmptyHistory(t *testing.T) {
	got, err := newTestAggregator(memory.New()).ComputeSuggestions(context.Background(), core.Money{Cents: 500}, 60)
	if err != nil {
		t.Fatalf("ComputeSuggestions() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("empty history should yield no suggestions, got %d", len(got))
	}
}

func TestComputeSuggestions_InvalidLookback(t *testing.T) {
	if _, err := newTestAggregator(memory.New()).ComputeSuggestions(context.Background(), core.Money{}, 0); err == nil {
		t.Error("zero lookback should error")
	}
}

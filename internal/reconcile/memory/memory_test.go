package memory

import (
	"context"
	"testing"

	"budgeteer/internal/core"
)

func TestReplaceAllPatterns_StableIDs(t *testing.T) {
	ctx := context.Background()
	store := New()

	first := []core.RecurringPattern{
		{DescriptionKey: "spotify", Description: "Spotify"},
		{DescriptionKey: "netflix", Description: "Netflix"},
	}
	if err := store.ReplaceAllPatterns(ctx, first); err != nil {
		t.Fatalf("ReplaceAllPatterns() error = %v", err)
	}
	got, _ := store.GetAllPatterns(ctx)
	idsByKey := make(map[string]int64, len(got))
	for _, p := range got {
		if p.ID == 0 {
			t.Fatalf("pattern %q got no id", p.DescriptionKey)
		}
		idsByKey[p.DescriptionKey] = p.ID
	}

	// Second run drops netflix and adds a newcomer; spotify keeps its id.
	second := []core.RecurringPattern{
		{DescriptionKey: "spotify", Description: "Spotify"},
		{DescriptionKey: "gym", Description: "Gym Membership"},
	}
	if err := store.ReplaceAllPatterns(ctx, second); err != nil {
		t.Fatalf("ReplaceAllPatterns() error = %v", err)
	}
	got, _ = store.GetAllPatterns(ctx)
	if len(got) != 2 {
		t.Fatalf("got %d patterns after replace, want 2", len(got))
	}
	for _, p := range got {
		switch p.DescriptionKey {
		case "spotify":
			if p.ID != idsByKey["spotify"] {
				t.Errorf("spotify id changed across replace: %d -> %d", idsByKey["spotify"], p.ID)
			}
		case "gym":
			if p.ID == 0 || p.ID == idsByKey["spotify"] {
				t.Errorf("gym id = %d, want a fresh id", p.ID)
			}
		default:
			t.Errorf("unexpected pattern %q", p.DescriptionKey)
		}
	}
}

func TestUpdateCategoryByDescriptionKey(t *testing.T) {
	ctx := context.Background()
	store := New()
	store.SeedTransactions(
		core.Transaction{Description: "NETFLIX *0423", Type: core.Expense},
		core.Transaction{Description: "Netflix 0522", Type: core.Expense},
		core.Transaction{Description: "Corner Shop", Type: core.Expense},
	)

	if err := store.UpdateCategoryByDescriptionKey(ctx, "netflix", 7); err != nil {
		t.Fatalf("UpdateCategoryByDescriptionKey() error = %v", err)
	}

	txns, _ := store.GetAll(ctx)
	for _, txn := range txns {
		want := int64(0)
		if txn.DescriptionKey() == "netflix" {
			want = 7
		}
		if txn.CategoryID != want {
			t.Errorf("transaction %q CategoryID = %d, want %d", txn.Description, txn.CategoryID, want)
		}
	}
}

func TestEnsureCategory_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := New()

	first, err := store.EnsureCategory(ctx, "Groceries")
	if err != nil {
		t.Fatalf("EnsureCategory() error = %v", err)
	}
	second, err := store.EnsureCategory(ctx, "Groceries")
	if err != nil {
		t.Fatalf("EnsureCategory() error = %v", err)
	}
	if first != second {
		t.Errorf("EnsureCategory returned different ids for same name: %d vs %d", first, second)
	}
}

// Package storage persists transactions, categories, detected patterns,
// budgets, seen baselines and manual entries in SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"budgeteer/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// AddTransaction stores one bank movement, deriving its description key.
func (r *SQLiteRepository) AddTransaction(ctx context.Context, txn core.Transaction) (int64, error) {
	id, err := r.queries.CreateTransaction(ctx, CreateTransactionParams{
		Date:           txn.Date.UTC().Format(time.RFC3339),
		AmountCents:    txn.Amount.Cents,
		Type:           string(txn.Type),
		CategoryID:     txn.CategoryID,
		Description:    txn.Description,
		DescriptionKey: txn.DescriptionKey(),
	})
	if err != nil {
		return 0, fmt.Errorf("create transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved to SQLite",
		"id", id,
		"description", txn.Description,
		"amount_cents", txn.Amount.Cents)

	return id, nil
}

func (r *SQLiteRepository) GetAll(ctx context.Context) ([]core.Transaction, error) {
	rows, err := r.queries.GetAllTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("get all transactions: %w", err)
	}

	txns := make([]core.Transaction, 0, len(rows))
	for _, row := range rows {
		date, err := time.Parse(time.RFC3339, row.Date)
		if err != nil {
			// One corrupt row must not block reconciliation over the rest.
			slog.WarnContext(ctx, "Skipping transaction with unparseable date",
				"id", row.ID,
				"date", row.Date,
				"error", err)
			continue
		}
		txns = append(txns, core.Transaction{
			ID:          row.ID,
			Date:        date,
			Amount:      core.Money{Cents: row.AmountCents},
			Type:        core.TransactionType(row.Type),
			CategoryID:  row.CategoryID,
			Description: row.Description,
		})
	}
	return txns, nil
}

// UpdateCategoryByDescriptionKey retags every matching transaction and bumps
// the target category's usage counter by the number of rows touched.
func (r *SQLiteRepository) UpdateCategoryByDescriptionKey(ctx context.Context, key string, categoryID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin retag: %w", err)
	}
	defer tx.Rollback()

	q := r.queries.WithTx(tx)
	affected, err := q.RetagTransactions(ctx, categoryID, key)
	if err != nil {
		return fmt.Errorf("retag transactions: %w", err)
	}
	if affected > 0 {
		if err := q.BumpCategoryUsage(ctx, affected, categoryID); err != nil {
			return fmt.Errorf("bump category usage: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit retag: %w", err)
	}

	slog.InfoContext(ctx, "Transactions re-tagged",
		"description_key", key,
		"category_id", categoryID,
		"rows", affected)
	return nil
}

func (r *SQLiteRepository) EnsureCategory(ctx context.Context, name string) (int64, error) {
	id, err := r.queries.GetCategoryByName(ctx, name)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("get category by name: %w", err)
	}

	id, err = r.queries.CreateCategory(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("create category: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) CategoryNamesByIDs(ctx context.Context, ids []int64) (map[int64]string, error) {
	all, err := r.queries.GetCategoriesOrderedByUsage(ctx)
	if err != nil {
		return nil, fmt.Errorf("get categories: %w", err)
	}

	wanted := make(map[int64]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	names := make(map[int64]string, len(ids))
	for _, c := range all {
		if wanted[c.ID] {
			names[c.ID] = c.Name
		}
	}
	return names, nil
}

func (r *SQLiteRepository) GetAllOrderedByUsage(ctx context.Context) ([]core.CategoryInfo, error) {
	rows, err := r.queries.GetCategoriesOrderedByUsage(ctx)
	if err != nil {
		return nil, fmt.Errorf("get categories: %w", err)
	}
	out := make([]core.CategoryInfo, len(rows))
	for i, c := range rows {
		out[i] = core.CategoryInfo{ID: c.ID, Name: c.Name, UsageCount: c.UsageCount}
	}
	return out, nil
}

func (r *SQLiteRepository) ListBudgets(ctx context.Context) ([]core.Budget, error) {
	rows, err := r.queries.ListBudgets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}

	budgets := make([]core.Budget, len(rows))
	for i, row := range rows {
		periodStart, err := time.Parse(time.RFC3339, row.PeriodStart)
		if err != nil {
			// Keep the saved limit; only the period label is lost.
			slog.WarnContext(ctx, "Budget row has unparseable period start, using zero time",
				"id", row.ID,
				"period_start", row.PeriodStart,
				"error", err)
			periodStart = time.Time{}
		}
		budgets[i] = core.Budget{
			ID:                 row.ID,
			CategoryID:         row.CategoryID,
			RecurringPatternID: row.RecurringPatternID,
			UncategorizedKey:   row.UncategorizedKey,
			Label:              row.Label,
			WeeklyLimit:        core.Money{Cents: row.WeeklyLimitCents},
			PeriodStart:        periodStart,
		}
	}
	return budgets, nil
}

func (r *SQLiteRepository) InsertBudget(ctx context.Context, b core.Budget) error {
	if err := r.queries.InsertBudget(ctx, insertBudgetParams(b)); err != nil {
		return fmt.Errorf("insert budget: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ClearBudgets(ctx context.Context) error {
	if err := r.queries.ClearBudgets(ctx); err != nil {
		return fmt.Errorf("clear budgets: %w", err)
	}
	return nil
}

// ReplacePlan swaps the whole budget set in one transaction, so a failed
// save leaves the previous plan intact.
func (r *SQLiteRepository) ReplacePlan(ctx context.Context, plan []core.Budget) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin plan replace: %w", err)
	}
	defer tx.Rollback()

	q := r.queries.WithTx(tx)
	if err := q.ClearBudgets(ctx); err != nil {
		return fmt.Errorf("clear budgets: %w", err)
	}
	for _, b := range plan {
		if err := q.InsertBudget(ctx, insertBudgetParams(b)); err != nil {
			return fmt.Errorf("insert budget: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit plan replace: %w", err)
	}

	slog.InfoContext(ctx, "Budget plan replaced", "rows", len(plan))
	return nil
}

func insertBudgetParams(b core.Budget) InsertBudgetParams {
	return InsertBudgetParams{
		CategoryID:         b.CategoryID,
		RecurringPatternID: b.RecurringPatternID,
		UncategorizedKey:   b.UncategorizedKey,
		Label:              b.Label,
		WeeklyLimitCents:   b.WeeklyLimit.Cents,
		PeriodStart:        b.PeriodStart.UTC().Format(time.RFC3339),
	}
}

func (r *SQLiteRepository) SeenIDs(ctx context.Context, kind core.IdentityKind) (map[string]bool, error) {
	rows, err := r.queries.GetBaselines(ctx, string(kind))
	if err != nil {
		return nil, fmt.Errorf("get baselines: %w", err)
	}
	ids := make(map[string]bool, len(rows))
	for _, row := range rows {
		ids[row.ItemID] = true
	}
	return ids, nil
}

func (r *SQLiteRepository) SeenAmounts(ctx context.Context, kind core.IdentityKind) (map[string]core.Money, error) {
	rows, err := r.queries.GetBaselines(ctx, string(kind))
	if err != nil {
		return nil, fmt.Errorf("get baselines: %w", err)
	}
	amounts := make(map[string]core.Money, len(rows))
	for _, row := range rows {
		amounts[row.ItemID] = core.Money{Cents: row.AmountCents}
	}
	return amounts, nil
}

func (r *SQLiteRepository) MarkSeen(ctx context.Context, kind core.IdentityKind, id string, amount core.Money) error {
	if err := r.queries.UpsertBaseline(ctx, string(kind), id, amount.Cents); err != nil {
		return fmt.Errorf("upsert baseline: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkAllSeen(ctx context.Context, kind core.IdentityKind, amounts map[string]core.Money) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark seen: %w", err)
	}
	defer tx.Rollback()

	q := r.queries.WithTx(tx)
	for id, amount := range amounts {
		if err := q.UpsertBaseline(ctx, string(kind), id, amount.Cents); err != nil {
			return fmt.Errorf("upsert baseline %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark seen: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListManualBudgets(ctx context.Context) ([]core.ManualBudgetEntry, error) {
	rows, err := r.queries.ListManualBudgets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list manual budgets: %w", err)
	}
	entries := make([]core.ManualBudgetEntry, len(rows))
	for i, row := range rows {
		entries[i] = core.ManualBudgetEntry{
			Name:        row.Name,
			WeeklyLimit: core.Money{Cents: row.WeeklyLimitCents},
			Selected:    row.Selected,
		}
	}
	return entries, nil
}

// SaveManualBudgets replaces the whole ordered list in one transaction.
func (r *SQLiteRepository) SaveManualBudgets(ctx context.Context, entries []core.ManualBudgetEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin manual save: %w", err)
	}
	defer tx.Rollback()

	q := r.queries.WithTx(tx)
	if err := q.ClearManualBudgets(ctx); err != nil {
		return fmt.Errorf("clear manual budgets: %w", err)
	}
	for i, entry := range entries {
		err := q.InsertManualBudget(ctx, ManualBudgetRow{
			Position:         int64(i),
			Name:             entry.Name,
			WeeklyLimitCents: entry.WeeklyLimit.Cents,
			Selected:         entry.Selected,
		})
		if err != nil {
			return fmt.Errorf("insert manual budget: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit manual save: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetAllPatterns(ctx context.Context) ([]core.RecurringPattern, error) {
	rows, err := r.queries.GetAllPatterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("get all patterns: %w", err)
	}

	patterns := make([]core.RecurringPattern, len(rows))
	for i, row := range rows {
		var nextDue time.Time
		if row.NextDue != "" {
			parsed, perr := time.Parse(time.RFC3339, row.NextDue)
			if perr != nil {
				slog.WarnContext(ctx, "Pattern has unparseable next due date, using zero time",
					"id", row.ID,
					"next_due", row.NextDue,
					"error", perr)
			} else {
				nextDue = parsed
			}
		}
		patterns[i] = core.RecurringPattern{
			ID:             row.ID,
			CategoryID:     row.CategoryID,
			Description:    row.Description,
			DescriptionKey: row.DescriptionKey,
			Frequency:      core.Frequency(row.Frequency),
			Amount:         core.Money{Cents: row.AmountCents},
			NextDue:        nextDue,
		}
	}
	return patterns, nil
}

// ReplaceAllPatterns swaps the pattern set wholesale inside a transaction.
// Rows are upserted by description key so ids stay stable across runs.
func (r *SQLiteRepository) ReplaceAllPatterns(ctx context.Context, patterns []core.RecurringPattern) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin pattern replace: %w", err)
	}
	defer tx.Rollback()

	q := r.queries.WithTx(tx)
	if len(patterns) == 0 {
		if err := q.DeleteAllPatterns(ctx); err != nil {
			return fmt.Errorf("delete all patterns: %w", err)
		}
	} else {
		keys := make([]string, len(patterns))
		for i, p := range patterns {
			keys[i] = p.DescriptionKey
			err := q.UpsertPattern(ctx, UpsertPatternParams{
				DescriptionKey: p.DescriptionKey,
				Description:    p.Description,
				Frequency:      string(p.Frequency),
				AmountCents:    p.Amount.Cents,
				CategoryID:     p.CategoryID,
				NextDue:        p.NextDue.UTC().Format(time.RFC3339),
			})
			if err != nil {
				return fmt.Errorf("upsert pattern %q: %w", p.DescriptionKey, err)
			}
		}
		keysJSON, err := json.Marshal(keys)
		if err != nil {
			return fmt.Errorf("marshal pattern keys: %w", err)
		}
		if err := q.DeletePatternsExcept(ctx, string(keysJSON)); err != nil {
			return fmt.Errorf("delete stale patterns: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pattern replace: %w", err)
	}

	slog.DebugContext(ctx, "Recurring patterns replaced", "count", len(patterns))
	return nil
}

package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so query methods can run
// inside or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type TransactionRow struct {
	ID             int64
	Date           string
	AmountCents    int64
	Type           string
	CategoryID     int64
	Description    string
	DescriptionKey string
}

type CreateTransactionParams struct {
	Date           string
	AmountCents    int64
	Type           string
	CategoryID     int64
	Description    string
	DescriptionKey string
}

const createTransaction = `
INSERT INTO transactions (date, amount_cents, type, category_id, description, description_key)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING id
`

func (q *Queries) CreateTransaction(ctx context.Context, arg CreateTransactionParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, createTransaction,
		arg.Date, arg.AmountCents, arg.Type, arg.CategoryID, arg.Description, arg.DescriptionKey)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const getAllTransactions = `
SELECT id, date, amount_cents, type, category_id, description, description_key
FROM transactions
ORDER BY date, id
`

func (q *Queries) GetAllTransactions(ctx context.Context) ([]TransactionRow, error) {
	rows, err := q.db.QueryContext(ctx, getAllTransactions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TransactionRow
	for rows.Next() {
		var t TransactionRow
		if err := rows.Scan(&t.ID, &t.Date, &t.AmountCents, &t.Type, &t.CategoryID, &t.Description, &t.DescriptionKey); err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

const retagTransactions = `
UPDATE transactions SET category_id = ? WHERE description_key = ?
`

func (q *Queries) RetagTransactions(ctx context.Context, categoryID int64, descriptionKey string) (int64, error) {
	res, err := q.db.ExecContext(ctx, retagTransactions, categoryID, descriptionKey)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const getCategoryByName = `
SELECT id FROM categories WHERE name = ?
`

func (q *Queries) GetCategoryByName(ctx context.Context, name string) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, getCategoryByName, name).Scan(&id)
	return id, err
}

const createCategory = `
INSERT INTO categories (name) VALUES (?) RETURNING id
`

func (q *Queries) CreateCategory(ctx context.Context, name string) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, createCategory, name).Scan(&id)
	return id, err
}

const bumpCategoryUsage = `
UPDATE categories SET usage_count = usage_count + ? WHERE id = ?
`

func (q *Queries) BumpCategoryUsage(ctx context.Context, delta, id int64) error {
	_, err := q.db.ExecContext(ctx, bumpCategoryUsage, delta, id)
	return err
}

type CategoryRow struct {
	ID         int64
	Name       string
	UsageCount int64
}

const getCategoriesOrderedByUsage = `
SELECT id, name, usage_count FROM categories
ORDER BY usage_count DESC, name
`

func (q *Queries) GetCategoriesOrderedByUsage(ctx context.Context) ([]CategoryRow, error) {
	rows, err := q.db.QueryContext(ctx, getCategoriesOrderedByUsage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CategoryRow
	for rows.Next() {
		var c CategoryRow
		if err := rows.Scan(&c.ID, &c.Name, &c.UsageCount); err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

type PatternRow struct {
	ID             int64
	DescriptionKey string
	Description    string
	Frequency      string
	AmountCents    int64
	CategoryID     int64
	NextDue        string
}

const getAllPatterns = `
SELECT id, description_key, description, frequency, amount_cents, category_id, next_due
FROM recurring_patterns
ORDER BY description_key
`

func (q *Queries) GetAllPatterns(ctx context.Context) ([]PatternRow, error) {
	rows, err := q.db.QueryContext(ctx, getAllPatterns)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PatternRow
	for rows.Next() {
		var p PatternRow
		if err := rows.Scan(&p.ID, &p.DescriptionKey, &p.Description, &p.Frequency, &p.AmountCents, &p.CategoryID, &p.NextDue); err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

type UpsertPatternParams struct {
	DescriptionKey string
	Description    string
	Frequency      string
	AmountCents    int64
	CategoryID     int64
	NextDue        string
}

// upsertPattern keeps the row id stable when the description key already
// exists, so baselines keyed by pattern id survive re-detection.
const upsertPattern = `
INSERT INTO recurring_patterns (description_key, description, frequency, amount_cents, category_id, next_due)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(description_key) DO UPDATE SET
    description = excluded.description,
    frequency = excluded.frequency,
    amount_cents = excluded.amount_cents,
    category_id = excluded.category_id,
    next_due = excluded.next_due
`

func (q *Queries) UpsertPattern(ctx context.Context, arg UpsertPatternParams) error {
	_, err := q.db.ExecContext(ctx, upsertPattern,
		arg.DescriptionKey, arg.Description, arg.Frequency, arg.AmountCents, arg.CategoryID, arg.NextDue)
	return err
}

const deletePatternsExcept = `
DELETE FROM recurring_patterns WHERE description_key NOT IN (SELECT value FROM json_each(?))
`

func (q *Queries) DeletePatternsExcept(ctx context.Context, keysJSON string) error {
	_, err := q.db.ExecContext(ctx, deletePatternsExcept, keysJSON)
	return err
}

const deleteAllPatterns = `
DELETE FROM recurring_patterns
`

func (q *Queries) DeleteAllPatterns(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteAllPatterns)
	return err
}

type BudgetRow struct {
	ID                 int64
	CategoryID         int64
	RecurringPatternID int64
	UncategorizedKey   string
	Label              string
	WeeklyLimitCents   int64
	PeriodStart        string
}

const listBudgets = `
SELECT id, category_id, recurring_pattern_id, uncategorized_key, label, weekly_limit_cents, period_start
FROM budgets
ORDER BY id
`

func (q *Queries) ListBudgets(ctx context.Context) ([]BudgetRow, error) {
	rows, err := q.db.QueryContext(ctx, listBudgets)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BudgetRow
	for rows.Next() {
		var b BudgetRow
		if err := rows.Scan(&b.ID, &b.CategoryID, &b.RecurringPatternID, &b.UncategorizedKey, &b.Label, &b.WeeklyLimitCents, &b.PeriodStart); err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

type InsertBudgetParams struct {
	CategoryID         int64
	RecurringPatternID int64
	UncategorizedKey   string
	Label              string
	WeeklyLimitCents   int64
	PeriodStart        string
}

const insertBudget = `
INSERT INTO budgets (category_id, recurring_pattern_id, uncategorized_key, label, weekly_limit_cents, period_start)
VALUES (?, ?, ?, ?, ?, ?)
`

func (q *Queries) InsertBudget(ctx context.Context, arg InsertBudgetParams) error {
	_, err := q.db.ExecContext(ctx, insertBudget,
		arg.CategoryID, arg.RecurringPatternID, arg.UncategorizedKey, arg.Label, arg.WeeklyLimitCents, arg.PeriodStart)
	return err
}

const clearBudgets = `
DELETE FROM budgets
`

func (q *Queries) ClearBudgets(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, clearBudgets)
	return err
}

type BaselineRow struct {
	ItemID      string
	AmountCents int64
}

const getBaselines = `
SELECT item_id, amount_cents FROM seen_baselines WHERE kind = ?
`

func (q *Queries) GetBaselines(ctx context.Context, kind string) ([]BaselineRow, error) {
	rows, err := q.db.QueryContext(ctx, getBaselines, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BaselineRow
	for rows.Next() {
		var b BaselineRow
		if err := rows.Scan(&b.ItemID, &b.AmountCents); err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

const upsertBaseline = `
INSERT INTO seen_baselines (kind, item_id, amount_cents, updated_at)
VALUES (?, ?, ?, datetime('now'))
ON CONFLICT(kind, item_id) DO UPDATE SET
    amount_cents = excluded.amount_cents,
    updated_at = excluded.updated_at
`

func (q *Queries) UpsertBaseline(ctx context.Context, kind, itemID string, amountCents int64) error {
	_, err := q.db.ExecContext(ctx, upsertBaseline, kind, itemID, amountCents)
	return err
}

type ManualBudgetRow struct {
	Position         int64
	Name             string
	WeeklyLimitCents int64
	Selected         bool
}

const listManualBudgets = `
SELECT position, name, weekly_limit_cents, selected FROM manual_budgets ORDER BY position
`

func (q *Queries) ListManualBudgets(ctx context.Context) ([]ManualBudgetRow, error) {
	rows, err := q.db.QueryContext(ctx, listManualBudgets)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ManualBudgetRow
	for rows.Next() {
		var m ManualBudgetRow
		if err := rows.Scan(&m.Position, &m.Name, &m.WeeklyLimitCents, &m.Selected); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

const clearManualBudgets = `
DELETE FROM manual_budgets
`

func (q *Queries) ClearManualBudgets(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, clearManualBudgets)
	return err
}

const insertManualBudget = `
INSERT INTO manual_budgets (position, name, weekly_limit_cents, selected)
VALUES (?, ?, ?, ?)
`

func (q *Queries) InsertManualBudget(ctx context.Context, arg ManualBudgetRow) error {
	_, err := q.db.ExecContext(ctx, insertManualBudget,
		arg.Position, arg.Name, arg.WeeklyLimitCents, arg.Selected)
	return err
}

package core

import (
	"errors"
	"strings"
	"time"
	"unicode"
)

const (
	Income   TransactionType = "income"
	Expense  TransactionType = "expense"
	Transfer TransactionType = "transfer"
)

const (
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

type (
	TransactionType string

	Frequency string

	Money struct {
		Cents int64
	}

	// Transaction is a single bank movement. Read-only to this core except
	// for category re-tagging by description key.
	Transaction struct {
		ID          int64
		Date        time.Time
		Amount      Money // signed: expenses carry negative cents
		Type        TransactionType
		CategoryID  int64 // 0 means no category assigned
		Description string
	}

	// RecurringPattern is a detected repeating expense. The whole set is
	// regenerated on every detection run; rows are never partially updated.
	RecurringPattern struct {
		ID             int64
		CategoryID     int64
		Description    string
		DescriptionKey string
		Frequency      Frequency
		Amount         Money // per-occurrence, most recent representative
		NextDue        time.Time
	}

	// BudgetSuggestion is a detected weekly spending candidate. Recomputed
	// fresh on every load, never mutated in place.
	BudgetSuggestion struct {
		CategoryID           int64 // 0 for uncategorized groups
		DisplayName          string
		WeeklySuggested      Money
		TransactionCount     int
		UsageCount           int64
		HasRecurring         bool
		IsUncategorizedGroup bool
		DescriptionKey       string
	}

	// Budget is a saved weekly limit. Exactly one of CategoryID,
	// RecurringPatternID or UncategorizedKey identifies the target, or all
	// are empty for a free-form manual budget using Label.
	Budget struct {
		ID                 int64
		CategoryID         int64
		RecurringPatternID int64
		UncategorizedKey   string
		Label              string
		WeeklyLimit        Money
		PeriodStart        time.Time
	}

	// SeenBaseline is the last amount acknowledged by the user for a
	// budgetable identity. Used only for change detection, never ranking.
	SeenBaseline struct {
		Acknowledged           bool
		LastAcknowledgedAmount Money
	}

	// ManualBudgetEntry is a user-created budget line keyed by list
	// position; the whole list is replaced on every mutation.
	ManualBudgetEntry struct {
		Name        string
		WeeklyLimit Money
		Selected    bool
	}

	// CategoryInfo is a directory row with its lifetime usage counter.
	CategoryInfo struct {
		ID         int64
		Name       string
		UsageCount int64
	}
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrEmptyName       = errors.New("empty name")
	ErrNoBudgetTarget  = errors.New("budget has no target identity")
	ErrAmbiguousTarget = errors.New("budget targets more than one identity")
)

// Abs returns the absolute value of the amount.
func (m Money) Abs() Money {
	if m.Cents < 0 {
		return Money{Cents: -m.Cents}
	}
	return m
}

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool {
	return m.Cents > 0
}

func (t Transaction) DescriptionKey() string {
	return NormalizeDescription(t.Description)
}

// WeeklyEquivalent normalizes the per-occurrence amount to a 7-day rate.
func (p RecurringPattern) WeeklyEquivalent() Money {
	switch p.Frequency {
	case Weekly:
		return p.Amount.Abs()
	case Monthly:
		return Money{Cents: p.Amount.Abs().Cents * 7 / 30}
	default:
		return p.Amount.Abs()
	}
}

func (b Budget) Validate() error {
	if !b.WeeklyLimit.IsPositive() {
		return ErrInvalidAmount
	}
	targets := 0
	if b.CategoryID != 0 {
		targets++
	}
	if b.RecurringPatternID != 0 {
		targets++
	}
	if b.UncategorizedKey != "" {
		targets++
	}
	if targets > 1 {
		return ErrAmbiguousTarget
	}
	if targets == 0 && strings.TrimSpace(b.Label) == "" {
		return ErrNoBudgetTarget
	}
	return nil
}

// Identity returns the detection identity this budget targets. The second
// return is false for pure manual budgets, which live in the manual store
// and have no detection counterpart.
func (b Budget) Identity() (Identity, bool) {
	switch {
	case b.RecurringPatternID != 0:
		return RecurringIdentity(b.RecurringPatternID), true
	case b.CategoryID != 0:
		return CategoryIdentity(b.CategoryID), true
	case b.UncategorizedKey != "":
		return UncategorizedIdentity(b.UncategorizedKey), true
	default:
		return Identity{}, false
	}
}

func (e ManualBudgetEntry) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return ErrEmptyName
	}
	if !e.WeeklyLimit.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// NormalizeDescription lowers the description, replaces every non-letter
// with a space and collapses runs of whitespace, so "Netflix *0423" and
// "NETFLIX 0522" share one key.
func NormalizeDescription(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// WeekStart returns the Monday of t's ISO week at midnight UTC.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	daysSinceMonday := (int(t.Weekday()) + 6) % 7
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -daysSinceMonday)
}

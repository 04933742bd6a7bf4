// Package detect derives recurring-payment patterns from transaction history.
package detect

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"budgeteer/internal/core"
)

const (
	// minOccurrences is the smallest group that can qualify as recurring.
	minOccurrences = 3
	// amountToleranceBps drops groups whose amounts deviate from the group
	// median by more than 20%.
	amountToleranceBps = 2000
)

type TransactionSource interface {
	GetAll(ctx context.Context) ([]core.Transaction, error)
}

type PatternStore interface {
	ReplaceAllPatterns(ctx context.Context, patterns []core.RecurringPattern) error
}

// Detector recomputes the stored recurring pattern set from scratch on every
// run. It owns the pattern lifecycle; rows are never partially updated.
type Detector struct {
	transactions TransactionSource
	patterns     PatternStore
}

func NewDetector(transactions TransactionSource, patterns PatternStore) *Detector {
	return &Detector{
		transactions: transactions,
		patterns:     patterns,
	}
}

// IdentifyRecurringPatterns scans all expense transactions and replaces the
// stored pattern set with the freshly detected one. Finding nothing is a
// valid outcome and yields an empty set, not an error.
func (d *Detector) IdentifyRecurringPatterns(ctx context.Context) error {
	transactions, err := d.transactions.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("load transactions: %w", err)
	}

	patterns := DetectPatterns(transactions)

	if err := d.patterns.ReplaceAllPatterns(ctx, patterns); err != nil {
		return fmt.Errorf("replace recurring patterns: %w", err)
	}

	slog.InfoContext(ctx, "Recurring pattern detection complete",
		"transactions_scanned", len(transactions),
		"patterns_found", len(patterns))

	return nil
}

// DetectPatterns groups expense transactions by normalized description key,
// estimates the modal inter-transaction interval per group, and classifies
// qualifying groups as weekly or monthly subscriptions.
func DetectPatterns(transactions []core.Transaction) []core.RecurringPattern {
	groups := make(map[string][]core.Transaction)
	for _, txn := range transactions {
		if txn.Type != core.Expense {
			continue
		}
		key := txn.DescriptionKey()
		if key == "" {
			continue
		}
		groups[key] = append(groups[key], txn)
	}

	var patterns []core.RecurringPattern
	for key, group := range groups {
		if p, ok := classifyGroup(key, group); ok {
			patterns = append(patterns, p)
		}
	}

	// Deterministic output regardless of map iteration order.
	sort.Slice(patterns, func(i, j int) bool {
		return patterns[i].DescriptionKey < patterns[j].DescriptionKey
	})

	return patterns
}

func classifyGroup(key string, group []core.Transaction) (core.RecurringPattern, bool) {
	if len(group) < minOccurrences {
		return core.RecurringPattern{}, false
	}

	sort.Slice(group, func(i, j int) bool {
		return group[i].Date.Before(group[j].Date)
	})

	interval := modalIntervalDays(group)
	frequency, ok := classifyInterval(interval)
	if !ok {
		return core.RecurringPattern{}, false
	}

	if !amountsConsistent(group) {
		return core.RecurringPattern{}, false
	}

	latest := group[len(group)-1]
	return core.RecurringPattern{
		CategoryID:     latest.CategoryID,
		Description:    latest.Description,
		DescriptionKey: key,
		Frequency:      frequency,
		Amount:         latest.Amount.Abs(),
		NextDue:        latest.Date.AddDate(0, 0, interval),
	}, true
}

// modalIntervalDays returns the most frequent rounded day-interval between
// consecutive transactions. Ties resolve to the shorter interval.
func modalIntervalDays(group []core.Transaction) int {
	counts := make(map[int]int)
	for i := 1; i < len(group); i++ {
		days := int(group[i].Date.Sub(group[i-1].Date).Round(24*time.Hour) / (24 * time.Hour))
		counts[days]++
	}

	modal, best := 0, 0
	for days, n := range counts {
		if n > best || (n == best && days < modal) {
			modal, best = days, n
		}
	}
	return modal
}

func classifyInterval(days int) (core.Frequency, bool) {
	switch {
	case days >= 5 && days <= 9:
		return core.Weekly, true
	case days >= 25 && days <= 34:
		return core.Monthly, true
	default:
		return "", false
	}
}

// amountsConsistent checks every amount against the group median; a single
// outlier beyond the tolerance disqualifies the group.
func amountsConsistent(group []core.Transaction) bool {
	amounts := make([]int64, len(group))
	for i, txn := range group {
		amounts[i] = txn.Amount.Abs().Cents
	}
	sort.Slice(amounts, func(i, j int) bool { return amounts[i] < amounts[j] })

	median := amounts[len(amounts)/2]
	if median <= 0 {
		return false
	}

	for _, cents := range amounts {
		diff := cents - median
		if diff < 0 {
			diff = -diff
		}
		if diff*10000 > median*amountToleranceBps {
			return false
		}
	}
	return true
}

// Package suggest computes weekly-equivalent budget suggestions from
// transaction history.
package suggest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"budgeteer/internal/core"
)

type TransactionSource interface {
	GetAll(ctx context.Context) ([]core.Transaction, error)
}

type CategorySource interface {
	GetAllOrderedByUsage(ctx context.Context) ([]core.CategoryInfo, error)
}

type PatternReader interface {
	GetAllPatterns(ctx context.Context) ([]core.RecurringPattern, error)
}

// Aggregator produces the ranked suggestion list. It is a pure read: no
// store is mutated and results are recomputed fresh on every call.
type Aggregator struct {
	transactions TransactionSource
	categories   CategorySource
	patterns     PatternReader
	now          func() time.Time
}

func NewAggregator(transactions TransactionSource, categories CategorySource, patterns PatternReader) *Aggregator {
	return &Aggregator{
		transactions: transactions,
		categories:   categories,
		patterns:     patterns,
		now:          time.Now,
	}
}

// ComputeSuggestions partitions expense transactions over the lookback
// window into category groups and uncategorized description clusters, and
// returns them as weekly-equivalent suggestions, filtered and ordered.
//
// Categorized suggestions below minWeekly are dropped unless they carry a
// recurring signal; uncategorized groups are never amount-filtered.
func (a *Aggregator) ComputeSuggestions(ctx context.Context, minWeekly core.Money, lookbackDays int) ([]core.BudgetSuggestion, error) {
	if lookbackDays <= 0 {
		return nil, fmt.Errorf("lookback days must be positive, got %d", lookbackDays)
	}

	transactions, err := a.transactions.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}

	categories, err := a.categories.GetAllOrderedByUsage(ctx)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}

	patterns, err := a.patterns.GetAllPatterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("load recurring patterns: %w", err)
	}

	recurringKeys := make(map[string]bool, len(patterns))
	for _, p := range patterns {
		recurringKeys[p.DescriptionKey] = true
	}

	categoryInfo := make(map[int64]core.CategoryInfo, len(categories))
	for _, c := range categories {
		categoryInfo[c.ID] = c
	}

	cutoff := a.now().AddDate(0, 0, -lookbackDays)

	type group struct {
		totalCents   int64
		count        int
		hasRecurring bool
		latestDate   time.Time
		latestDesc   string
	}
	byCategory := make(map[int64]*group)
	uncategorized := make(map[string]*group)

	for _, txn := range transactions {
		if txn.Type != core.Expense || txn.Date.Before(cutoff) {
			continue
		}

		var g *group
		if txn.CategoryID != 0 {
			g = byCategory[txn.CategoryID]
			if g == nil {
				g = &group{}
				byCategory[txn.CategoryID] = g
			}
		} else {
			key := txn.DescriptionKey()
			if key == "" {
				continue
			}
			g = uncategorized[key]
			if g == nil {
				g = &group{}
				uncategorized[key] = g
			}
		}

		g.totalCents += txn.Amount.Abs().Cents
		g.count++
		if recurringKeys[txn.DescriptionKey()] {
			g.hasRecurring = true
		}
		if txn.Date.After(g.latestDate) {
			g.latestDate = txn.Date
			g.latestDesc = txn.Description
		}
	}

	var categorized, clusters []core.BudgetSuggestion

	for categoryID, g := range byCategory {
		weekly := core.Money{Cents: g.totalCents * 7 / int64(lookbackDays)}
		if weekly.Cents < minWeekly.Cents && !g.hasRecurring {
			continue
		}

		info := categoryInfo[categoryID]
		name := info.Name
		if name == "" {
			name = g.latestDesc
		}

		categorized = append(categorized, core.BudgetSuggestion{
			CategoryID:       categoryID,
			DisplayName:      name,
			WeeklySuggested:  weekly,
			TransactionCount: g.count,
			UsageCount:       info.UsageCount,
			HasRecurring:     g.hasRecurring,
		})
	}

	for key, g := range uncategorized {
		clusters = append(clusters, core.BudgetSuggestion{
			DisplayName:          g.latestDesc,
			WeeklySuggested:      core.Money{Cents: g.totalCents * 7 / int64(lookbackDays)},
			TransactionCount:     g.count,
			HasRecurring:         g.hasRecurring,
			IsUncategorizedGroup: true,
			DescriptionKey:       key,
		})
	}

	// Uncategorized clusters lead, ordered by transaction count.
	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].TransactionCount != clusters[j].TransactionCount {
			return clusters[i].TransactionCount > clusters[j].TransactionCount
		}
		return clusters[i].DescriptionKey < clusters[j].DescriptionKey
	})

	// Categorized: recurring signal first, then detection strength, then
	// amount, with name as the deterministic final tie-break.
	sort.Slice(categorized, func(i, j int) bool {
		a, b := categorized[i], categorized[j]
		if a.HasRecurring != b.HasRecurring {
			return a.HasRecurring
		}
		if a.TransactionCount != b.TransactionCount {
			return a.TransactionCount > b.TransactionCount
		}
		if a.WeeklySuggested.Cents != b.WeeklySuggested.Cents {
			return a.WeeklySuggested.Cents > b.WeeklySuggested.Cents
		}
		return a.DisplayName < b.DisplayName
	})

	suggestions := append(clusters, categorized...)

	slog.DebugContext(ctx, "Computed budget suggestions",
		"categorized", len(categorized),
		"uncategorized_groups", len(clusters),
		"lookback_days", lookbackDays,
		"min_weekly_cents", minWeekly.Cents)

	return suggestions, nil
}

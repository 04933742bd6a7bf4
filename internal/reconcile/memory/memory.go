// Package memory provides an in-memory implementation of every reconcile
// store port, used by tests and the memory backend.
package memory

import (
	"context"
	"sort"
	"sync"

	"budgeteer/internal/core"
)

// Store keeps all state in process. Safe for concurrent use.
type Store struct {
	mu sync.Mutex

	transactions []core.Transaction
	categories   []core.CategoryInfo
	patterns     []core.RecurringPattern
	budgets      []core.Budget
	manual       []core.ManualBudgetEntry
	baselines    map[core.IdentityKind]map[string]core.Money

	nextTransactionID int64
	nextCategoryID    int64
	nextBudgetID      int64
	nextPatternID     int64
	patternIDsByKey   map[string]int64

	// FailBudgetInsertAfter, when positive, makes InsertBudget fail once n
	// inserts have succeeded since the last clear. Exercises the partial
	// failure path of clear-then-insert saves.
	FailBudgetInsertAfter int
	budgetInserts         int
	InsertErr             error
}

func New() *Store {
	return &Store{
		baselines:       make(map[core.IdentityKind]map[string]core.Money),
		patternIDsByKey: make(map[string]int64),
	}
}

// SeedTransactions adds transactions, assigning ids.
func (s *Store) SeedTransactions(txns ...core.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, txn := range txns {
		s.nextTransactionID++
		txn.ID = s.nextTransactionID
		s.transactions = append(s.transactions, txn)
	}
}

// AddTransaction stores one imported bank movement and returns its id.
func (s *Store) AddTransaction(ctx context.Context, txn core.Transaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTransactionID++
	txn.ID = s.nextTransactionID
	s.transactions = append(s.transactions, txn)
	return txn.ID, nil
}

// SeedCategory registers a category and returns its id.
func (s *Store) SeedCategory(name string, usage int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCategoryID++
	s.categories = append(s.categories, core.CategoryInfo{
		ID:         s.nextCategoryID,
		Name:       name,
		UsageCount: usage,
	})
	return s.nextCategoryID
}

// SeedPatterns stores patterns directly, assigning stable ids by key.
func (s *Store) SeedPatterns(patterns ...core.RecurringPattern) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range patterns {
		s.patterns = append(s.patterns, s.assignPatternID(p))
	}
}

// GetAll implements the transaction source port.
func (s *Store) GetAll(ctx context.Context) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Transaction, len(s.transactions))
	copy(out, s.transactions)
	return out, nil
}

func (s *Store) UpdateCategoryByDescriptionKey(ctx context.Context, key string, categoryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.transactions {
		if s.transactions[i].DescriptionKey() == key {
			s.transactions[i].CategoryID = categoryID
		}
	}
	return nil
}

func (s *Store) EnsureCategory(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.categories {
		if c.Name == name {
			return c.ID, nil
		}
	}
	s.nextCategoryID++
	s.categories = append(s.categories, core.CategoryInfo{ID: s.nextCategoryID, Name: name})
	return s.nextCategoryID, nil
}

func (s *Store) CategoryNamesByIDs(ctx context.Context, ids []int64) (map[int64]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make(map[int64]string, len(ids))
	for _, c := range s.categories {
		for _, id := range ids {
			if c.ID == id {
				names[id] = c.Name
			}
		}
	}
	return names, nil
}

func (s *Store) GetAllOrderedByUsage(ctx context.Context) ([]core.CategoryInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.CategoryInfo, len(s.categories))
	copy(out, s.categories)
	sort.Slice(out, func(i, j int) bool {
		if out[i].UsageCount != out[j].UsageCount {
			return out[i].UsageCount > out[j].UsageCount
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) ListBudgets(ctx context.Context) ([]core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Budget, len(s.budgets))
	copy(out, s.budgets)
	return out, nil
}

func (s *Store) InsertBudget(ctx context.Context, b core.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertErr != nil {
		return s.InsertErr
	}
	if s.FailBudgetInsertAfter > 0 && s.budgetInserts >= s.FailBudgetInsertAfter {
		return context.DeadlineExceeded
	}
	s.nextBudgetID++
	b.ID = s.nextBudgetID
	s.budgets = append(s.budgets, b)
	s.budgetInserts++
	return nil
}

func (s *Store) ClearBudgets(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budgets = nil
	s.budgetInserts = 0
	return nil
}

func (s *Store) SeenIDs(ctx context.Context, kind core.IdentityKind) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]bool, len(s.baselines[kind]))
	for id := range s.baselines[kind] {
		ids[id] = true
	}
	return ids, nil
}

func (s *Store) SeenAmounts(ctx context.Context, kind core.IdentityKind) (map[string]core.Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	amounts := make(map[string]core.Money, len(s.baselines[kind]))
	for id, amount := range s.baselines[kind] {
		amounts[id] = amount
	}
	return amounts, nil
}

func (s *Store) MarkSeen(ctx context.Context, kind core.IdentityKind, id string, amount core.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baselines[kind] == nil {
		s.baselines[kind] = make(map[string]core.Money)
	}
	s.baselines[kind][id] = amount
	return nil
}

func (s *Store) MarkAllSeen(ctx context.Context, kind core.IdentityKind, amounts map[string]core.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baselines[kind] == nil {
		s.baselines[kind] = make(map[string]core.Money)
	}
	for id, amount := range amounts {
		s.baselines[kind][id] = amount
	}
	return nil
}

func (s *Store) ListManualBudgets(ctx context.Context) ([]core.ManualBudgetEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.ManualBudgetEntry, len(s.manual))
	copy(out, s.manual)
	return out, nil
}

func (s *Store) SaveManualBudgets(ctx context.Context, entries []core.ManualBudgetEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manual = make([]core.ManualBudgetEntry, len(entries))
	copy(s.manual, entries)
	return nil
}

func (s *Store) GetAllPatterns(ctx context.Context) ([]core.RecurringPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.RecurringPattern, len(s.patterns))
	copy(out, s.patterns)
	return out, nil
}

// ReplaceAllPatterns swaps the pattern set wholesale. Ids stay stable for
// description keys that persist across runs, so seen baselines keyed by
// pattern id survive re-detection.
func (s *Store) ReplaceAllPatterns(ctx context.Context, patterns []core.RecurringPattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	replaced := make([]core.RecurringPattern, 0, len(patterns))
	for _, p := range patterns {
		replaced = append(replaced, s.assignPatternID(p))
	}
	s.patterns = replaced
	return nil
}

func (s *Store) assignPatternID(p core.RecurringPattern) core.RecurringPattern {
	if p.ID != 0 {
		s.patternIDsByKey[p.DescriptionKey] = p.ID
		if p.ID > s.nextPatternID {
			s.nextPatternID = p.ID
		}
		return p
	}
	if id, ok := s.patternIDsByKey[p.DescriptionKey]; ok {
		p.ID = id
		return p
	}
	s.nextPatternID++
	s.patternIDsByKey[p.DescriptionKey] = s.nextPatternID
	p.ID = s.nextPatternID
	return p
}

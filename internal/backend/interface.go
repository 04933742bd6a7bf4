package backend

import (
	"context"

	"budgeteer/internal/core"
	"budgeteer/internal/detect"
	"budgeteer/internal/reconcile"
)

// Store is the full persistence surface the reconcile engine needs, plus
// the pattern store the detector writes to and the ingest write path.
type Store interface {
	reconcile.TransactionSource
	reconcile.CategorySource
	reconcile.BudgetLedger
	reconcile.SeenBaselineStore
	reconcile.ManualBudgetStore
	reconcile.PatternReader
	detect.PatternStore

	// AddTransaction stores one imported bank movement and returns its id.
	AddTransaction(ctx context.Context, txn core.Transaction) (int64, error)
}

type CleanupFunc func() error

// Result contains the store instance and an optional cleanup function.
type Result struct {
	Store   Store
	Cleanup CleanupFunc
}

type Factory interface {
	CreateStore(ctx context.Context, config Config) (*Result, error)
}

type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string
}

type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

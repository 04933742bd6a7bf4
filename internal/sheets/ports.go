// Package sheets defines the outbound port for exporting budget plan
// snapshots to a spreadsheet.
package sheets

import (
	"context"
	"time"

	"budgeteer/internal/core"
)

// PlanRow is one exported budget line.
type PlanRow struct {
	Name        string
	Kind        core.IdentityKind
	WeeklyLimit core.Money
}

type PlanWriter interface {
	// AppendPlanSnapshot appends the whole saved plan for one week as a
	// block of rows. Snapshots are append-only; history is the point.
	AppendPlanSnapshot(ctx context.Context, periodStart time.Time, rows []PlanRow) error
}

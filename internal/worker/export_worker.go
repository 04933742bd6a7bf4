// Package worker exports saved budget plans to a spreadsheet.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"budgeteer/internal/amqp"
	"budgeteer/internal/core"
	"budgeteer/internal/sheets"
)

// PlanReader is the slice of storage the export worker needs to turn saved
// budget rows back into displayable plan lines.
type PlanReader interface {
	ListBudgets(ctx context.Context) ([]core.Budget, error)
	CategoryNamesByIDs(ctx context.Context, ids []int64) (map[int64]string, error)
	GetAllPatterns(ctx context.Context) ([]core.RecurringPattern, error)
}

// ExportWorker consumes plan-saved notifications and appends the saved plan
// to the spreadsheet. The message only announces that a save happened; the
// plan itself is always re-read from storage.
type ExportWorker struct {
	storage PlanReader
	writer  sheets.PlanWriter
}

func NewExportWorker(storage PlanReader, writer sheets.PlanWriter) *ExportWorker {
	return &ExportWorker{
		storage: storage,
		writer:  writer,
	}
}

// HandlePlanSaved processes a single plan-saved message from AMQP.
func (w *ExportWorker) HandlePlanSaved(ctx context.Context, msg *amqp.PlanSavedMessage) error {
	slog.InfoContext(ctx, "Processing plan saved message",
		"period_start", msg.PeriodStart.Format("2006-01-02"),
		"saved_count", msg.SavedCount)

	rows, err := w.buildPlanRows(ctx)
	if err != nil {
		return fmt.Errorf("build plan rows: %w", err)
	}
	if len(rows) == 0 {
		slog.WarnContext(ctx, "Saved plan is empty, nothing to export",
			"period_start", msg.PeriodStart.Format("2006-01-02"))
		return nil
	}

	if err := w.writer.AppendPlanSnapshot(ctx, msg.PeriodStart, rows); err != nil {
		return fmt.Errorf("append plan snapshot: %w", err)
	}

	slog.InfoContext(ctx, "Exported plan snapshot", "rows", len(rows))
	return nil
}

// buildPlanRows reads the current plan and resolves each row to a display
// name. A budget row names exactly one target; label-only rows are manual
// entries.
func (w *ExportWorker) buildPlanRows(ctx context.Context) ([]sheets.PlanRow, error) {
	budgets, err := w.storage.ListBudgets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	if len(budgets) == 0 {
		return nil, nil
	}

	var categoryIDs []int64
	needPatterns := false
	for _, b := range budgets {
		if b.CategoryID != 0 {
			categoryIDs = append(categoryIDs, b.CategoryID)
		}
		if b.RecurringPatternID != 0 {
			needPatterns = true
		}
	}

	categoryNames := map[int64]string{}
	if len(categoryIDs) > 0 {
		if categoryNames, err = w.storage.CategoryNamesByIDs(ctx, categoryIDs); err != nil {
			return nil, fmt.Errorf("resolve category names: %w", err)
		}
	}

	patternNames := map[int64]string{}
	if needPatterns {
		patterns, err := w.storage.GetAllPatterns(ctx)
		if err != nil {
			return nil, fmt.Errorf("load recurring patterns: %w", err)
		}
		for _, p := range patterns {
			patternNames[p.ID] = p.Description
		}
	}

	rows := make([]sheets.PlanRow, 0, len(budgets))
	for _, b := range budgets {
		row := sheets.PlanRow{WeeklyLimit: b.WeeklyLimit}
		switch {
		case b.RecurringPatternID != 0:
			row.Kind = core.IdentityRecurring
			row.Name = patternNames[b.RecurringPatternID]
			if row.Name == "" {
				// The pattern set was regenerated since the save; keep the
				// row with a stable placeholder instead of dropping it.
				row.Name = "recurring #" + strconv.FormatInt(b.RecurringPatternID, 10)
			}
		case b.CategoryID != 0:
			row.Kind = core.IdentityCategory
			row.Name = categoryNames[b.CategoryID]
			if row.Name == "" {
				row.Name = "category #" + strconv.FormatInt(b.CategoryID, 10)
			}
		case b.UncategorizedKey != "":
			row.Kind = core.IdentityUncategorized
			row.Name = b.UncategorizedKey
		default:
			row.Kind = core.IdentityManual
			row.Name = b.Label
		}
		rows = append(rows, row)
	}
	return rows, nil
}

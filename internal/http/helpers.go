package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"budgeteer/internal/core"
	"budgeteer/internal/reconcile"
)

const maxBodyBytes = 1 << 20

type identityDTO struct {
	Kind           string `json:"kind"`
	CategoryID     int64  `json:"category_id,omitempty"`
	RecurringID    int64  `json:"recurring_id,omitempty"`
	DescriptionKey string `json:"description_key,omitempty"`
}

type itemDTO struct {
	Identity         identityDTO `json:"identity"`
	DisplayName      string      `json:"display_name"`
	DetectedCents    int64       `json:"detected_cents"`
	WorkingCents     int64       `json:"working_cents"`
	Selected         bool        `json:"selected"`
	Saved            bool        `json:"saved"`
	Orphan           bool        `json:"orphan,omitempty"`
	State            string      `json:"state"`
	Suggested        bool        `json:"suggested,omitempty"`
	SuggestedCents   int64       `json:"suggested_cents,omitempty"`
	TransactionCount int         `json:"transaction_count,omitempty"`
	HasRecurring     bool        `json:"has_recurring,omitempty"`
	Frequency        string      `json:"frequency,omitempty"`
	NextDue          string      `json:"next_due,omitempty"`
}

type manualDTO struct {
	Name        string `json:"name"`
	WeeklyCents int64  `json:"weekly_cents"`
	Selected    bool   `json:"selected"`
}

type viewDTO struct {
	Items  []itemDTO   `json:"items"`
	Manual []manualDTO `json:"manual"`
}

type saveResponse struct {
	Saved int `json:"saved"`
}

type amountRequest struct {
	Identity    identityDTO `json:"identity"`
	AmountCents int64       `json:"amount_cents"`
}

func (r amountRequest) parse() (core.Identity, core.Money, error) {
	identity, err := toIdentity(r.Identity)
	if err != nil {
		return core.Identity{}, core.Money{}, err
	}
	return identity, core.Money{Cents: r.AmountCents}, nil
}

type ingestRequest struct {
	Date        string `json:"date,omitempty"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Type        string `json:"type,omitempty"`
	CategoryID  int64  `json:"category_id,omitempty"`
}

type ingestResponse struct {
	ID     int64  `json:"id"`
	Amount string `json:"amount"`
}

// parse turns an ingest request into a transaction. Bank exports come in two
// shapes: signed amounts ("-12.99") where the sign decides the direction, and
// unsigned debit columns ("12.99") whose direction the type field carries
// (default expense). Expenses are stored with negative cents either way.
func (r ingestRequest) parse() (core.Transaction, error) {
	if strings.TrimSpace(r.Description) == "" {
		return core.Transaction{}, errors.New("description is required")
	}
	date, err := parseIngestDate(r.Date)
	if err != nil {
		return core.Transaction{}, err
	}

	amount := strings.TrimSpace(r.Amount)
	txnType := core.TransactionType(r.Type)
	var cents int64
	if strings.HasPrefix(amount, "-") || strings.HasPrefix(amount, "+") {
		if cents, err = core.ParseSignedDecimalToCents(amount); err != nil {
			return core.Transaction{}, fmt.Errorf("parse amount %q: %w", r.Amount, err)
		}
		if txnType == "" {
			if cents < 0 {
				txnType = core.Expense
			} else {
				txnType = core.Income
			}
		}
	} else {
		if cents, err = core.ParseDecimalToCents(amount); err != nil {
			return core.Transaction{}, fmt.Errorf("parse amount %q: %w", r.Amount, err)
		}
		if txnType == "" {
			txnType = core.Expense
		}
		if txnType == core.Expense {
			cents = -cents
		}
	}

	return core.Transaction{
		Date:        date,
		Amount:      core.Money{Cents: cents},
		Type:        txnType,
		CategoryID:  r.CategoryID,
		Description: r.Description,
	}, nil
}

func parseIngestDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Now().UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if d, err := time.Parse(layout, s); err == nil {
			return d.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

type retagRequest struct {
	DescriptionKey string `json:"description_key"`
	CategoryID     int64  `json:"category_id,omitempty"`
	CategoryName   string `json:"category_name,omitempty"`
}

type retagResponse struct {
	CategoryID int64 `json:"category_id"`
}

type patternDTO struct {
	ID                    int64  `json:"id"`
	Description           string `json:"description"`
	DescriptionKey        string `json:"description_key"`
	Frequency             string `json:"frequency"`
	AmountCents           int64  `json:"amount_cents"`
	WeeklyEquivalentCents int64  `json:"weekly_equivalent_cents"`
	CategoryID            int64  `json:"category_id,omitempty"`
	NextDue               string `json:"next_due"`
}

type categoryDTO struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	UsageCount int64  `json:"usage_count"`
}

func toIdentity(dto identityDTO) (core.Identity, error) {
	switch core.IdentityKind(dto.Kind) {
	case core.IdentityCategory:
		if dto.CategoryID == 0 {
			return core.Identity{}, errors.New("category identity needs category_id")
		}
		return core.CategoryIdentity(dto.CategoryID), nil
	case core.IdentityRecurring:
		if dto.RecurringID == 0 {
			return core.Identity{}, errors.New("recurring identity needs recurring_id")
		}
		return core.RecurringIdentity(dto.RecurringID), nil
	case core.IdentityUncategorized:
		if dto.DescriptionKey == "" {
			return core.Identity{}, errors.New("uncategorized identity needs description_key")
		}
		return core.UncategorizedIdentity(dto.DescriptionKey), nil
	default:
		return core.Identity{}, fmt.Errorf("unknown identity kind %q", dto.Kind)
	}
}

func fromIdentity(identity core.Identity) identityDTO {
	return identityDTO{
		Kind:           string(identity.Kind),
		CategoryID:     identity.CategoryID,
		RecurringID:    identity.RecurringID,
		DescriptionKey: identity.Key,
	}
}

func viewToDTO(view *reconcile.View) *viewDTO {
	dto := &viewDTO{
		Items:  make([]itemDTO, len(view.Items)),
		Manual: make([]manualDTO, len(view.Manual)),
	}
	for i, item := range view.Items {
		out := itemDTO{
			Identity:         fromIdentity(item.Identity),
			DisplayName:      item.DisplayName,
			DetectedCents:    item.Detected.Cents,
			WorkingCents:     item.Working.Cents,
			Selected:         item.Selected,
			Saved:            item.Saved,
			Orphan:           item.Orphan,
			State:            string(item.State),
			Suggested:        item.Suggested,
			SuggestedCents:   item.SuggestedAmount.Cents,
			TransactionCount: item.TransactionCount,
			HasRecurring:     item.HasRecurring,
			Frequency:        string(item.Frequency),
		}
		if !item.NextDue.IsZero() {
			out.NextDue = item.NextDue.Format(time.RFC3339)
		}
		dto.Items[i] = out
	}
	for i, entry := range view.Manual {
		dto.Manual[i] = manualDTO{
			Name:        entry.Name,
			WeeklyCents: entry.WeeklyLimit.Cents,
			Selected:    entry.Selected,
		}
	}
	return dto
}

func dtoToView(dto *viewDTO) (*reconcile.View, error) {
	view := &reconcile.View{
		Items:  make([]reconcile.Item, len(dto.Items)),
		Manual: make([]core.ManualBudgetEntry, len(dto.Manual)),
	}
	for i, item := range dto.Items {
		identity, err := toIdentity(item.Identity)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		view.Items[i] = reconcile.Item{
			Identity:    identity,
			DisplayName: item.DisplayName,
			Detected:    core.Money{Cents: item.DetectedCents},
			Working:     core.Money{Cents: item.WorkingCents},
			Selected:    item.Selected,
			Saved:       item.Saved,
			Orphan:      item.Orphan,
			State:       reconcile.ItemState(item.State),
		}
	}
	for i, entry := range dto.Manual {
		view.Manual[i] = core.ManualBudgetEntry{
			Name:        entry.Name,
			WeeklyLimit: core.Money{Cents: entry.WeeklyCents},
			Selected:    entry.Selected,
		}
	}
	return view, nil
}

func isUnknownIdentity(err error) bool {
	return errors.Is(err, reconcile.ErrUnknownIdentity)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	slog.ErrorContext(r.Context(), "Request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"error", err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

package http

import (
	"errors"
	"net/http"
	"time"

	"budgeteer/internal/core"
	"budgeteer/internal/services"
)

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGetPlan(w, r)
	case http.MethodPost:
		s.handleSavePlan(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	editMode := r.URL.Query().Get("edit") == "true"

	view, err := s.plans.LoadView(r.Context(), editMode)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, viewToDTO(view))
}

func (s *Server) handleSavePlan(w http.ResponseWriter, r *http.Request) {
	var dto viewDTO
	if err := decodeJSON(w, r, &dto); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	view, err := dtoToView(&dto)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	saved, err := s.plans.SavePlan(r.Context(), view)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrCommitInFlight) {
			status = http.StatusConflict
		}
		writeError(w, r, status, err)
		return
	}

	writeJSON(w, http.StatusOK, saveResponse{Saved: saved})
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	identity, amount, err := req.parse()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	if err := s.plans.DismissSuggestion(r.Context(), identity, amount); err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleApplySuggested(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	identity, amount, err := req.parse()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	view, err := s.plans.LoadView(r.Context(), false)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	saved, err := s.plans.ApplySuggestion(r.Context(), view, identity, amount)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, services.ErrCommitInFlight):
			status = http.StatusConflict
		case isUnknownIdentity(err):
			status = http.StatusNotFound
		}
		writeError(w, r, status, err)
		return
	}

	writeJSON(w, http.StatusOK, saveResponse{Saved: saved})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ingestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	txn, err := req.parse()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	id, err := s.store.AddTransaction(r.Context(), txn)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusCreated, ingestResponse{
		ID:     id,
		Amount: core.FormatCents(txn.Amount.Cents),
	})
}

func (s *Server) handleRetag(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req retagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if req.DescriptionKey == "" {
		writeError(w, r, http.StatusBadRequest, errors.New("description_key is required"))
		return
	}

	categoryID := req.CategoryID
	if categoryID == 0 {
		if req.CategoryName == "" {
			writeError(w, r, http.StatusBadRequest, errors.New("category_id or category_name is required"))
			return
		}
		var err error
		if categoryID, err = s.store.EnsureCategory(r.Context(), req.CategoryName); err != nil {
			writeError(w, r, http.StatusInternalServerError, err)
			return
		}
	}

	if err := s.plans.Retag(r.Context(), req.DescriptionKey, categoryID); err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, retagResponse{CategoryID: categoryID})
}

func (s *Server) handleRecurring(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	patterns, err := s.store.GetAllPatterns(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	out := make([]patternDTO, len(patterns))
	for i, p := range patterns {
		out[i] = patternDTO{
			ID:                   p.ID,
			Description:          p.Description,
			DescriptionKey:       p.DescriptionKey,
			Frequency:            string(p.Frequency),
			AmountCents:          p.Amount.Cents,
			WeeklyEquivalentCents: p.WeeklyEquivalent().Cents,
			CategoryID:           p.CategoryID,
			NextDue:              p.NextDue.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	categories, err := s.store.GetAllOrderedByUsage(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	out := make([]categoryDTO, len(categories))
	for i, c := range categories {
		out[i] = categoryDTO{ID: c.ID, Name: c.Name, UsageCount: c.UsageCount}
	}
	writeJSON(w, http.StatusOK, out)
}

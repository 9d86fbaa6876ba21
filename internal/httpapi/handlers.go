package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"profitboard/internal/domain"
	"profitboard/internal/period"
	"profitboard/internal/store"
)

func (a *API) handleTiers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tiers": a.service.Tiers().Values()})
}

// handleListEntries serves one day (?date=2024-06-01) as a flat list or one
// month (?month=2024-06) grouped per day.
func (a *API) handleListEntries(w http.ResponseWriter, r *http.Request) {
	rawDate := strings.TrimSpace(r.URL.Query().Get("date"))
	rawMonth := strings.TrimSpace(r.URL.Query().Get("month"))

	switch {
	case rawDate != "" && rawMonth != "":
		writeError(w, http.StatusBadRequest, errors.New("pass either date or month, not both"))
	case rawDate != "":
		day, err := period.ParseDay(rawDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		entries, err := a.service.ListByDate(r.Context(), day)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"date":    period.FormatDay(day),
			"entries": entries,
		})
	case rawMonth != "":
		month, err := period.ParseMonth(rawMonth)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		days, err := a.service.History(r.Context(), month)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"month": period.FormatMonth(month),
			"days":  days,
		})
	default:
		writeError(w, http.StatusBadRequest, errors.New("date or month query parameter is required"))
	}
}

func (a *API) handleAddEntry(w http.ResponseWriter, r *http.Request) {
	var req domain.AddEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.service.AddEntry(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if result.WasUpdated {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (a *API) handleReclassify(w http.ResponseWriter, r *http.Request) {
	var req domain.ReclassifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.service.Reclassify(r.Context(), chi.URLParam(r, "id"), req.CPDCategory)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleUpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req domain.QuantityUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entry, err := a.service.UpdateQuantity(r.Context(), chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry": entry})
}

func (a *API) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.service.DeleteEntry(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (a *API) handleMonthlySummary(w http.ResponseWriter, r *http.Request) {
	month, err := period.ParseMonth(chi.URLParam(r, "month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	summary, err := a.service.MonthlySummary(r.Context(), month)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleGetFigures(w http.ResponseWriter, r *http.Request) {
	month, err := period.ParseMonth(chi.URLParam(r, "month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	figures, err := a.service.MonthlyFigures(r.Context(), month)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, figures)
}

func (a *API) handlePutFigures(w http.ResponseWriter, r *http.Request) {
	month, err := period.ParseMonth(chi.URLParam(r, "month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req domain.MonthlyFiguresRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	figures, err := a.service.PutMonthlyFigures(r.Context(), month, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, figures)
}

func (a *API) handleListMembers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"members": a.auth.ListMembers(r.Context())})
}

func (a *API) handleCreateMember(w http.ResponseWriter, r *http.Request) {
	var req domain.MemberCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	member, err := a.auth.CreateMember(r.Context(), req)
	if errors.Is(err, errUsernameTaken) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if store.IsStoreError(err) {
		writeServiceError(w, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"member": member})
}

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"settlement-engine/internal/money"
	"settlement-engine/internal/services"
)

type ReconciliationHandler struct {
	reconciliationService *services.ReconciliationService
}

func NewReconciliationHandler(reconciliationService *services.ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{
		reconciliationService: reconciliationService,
	}
}

func (h *ReconciliationHandler) Match(w http.ResponseWriter, r *http.Request) {
	var request struct {
		BatchID    string `json:"batch_id"`
		BankAmount string `json:"bank_amount"`
		Currency   string `json:"currency"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if request.BatchID == "" {
		respondWithError(w, http.StatusBadRequest, "batch_id is required")
		return
	}
	if request.BankAmount == "" {
		respondWithError(w, http.StatusBadRequest, "bank_amount is required")
		return
	}
	if request.Currency == "" {
		request.Currency = "INR"
	}

	amount, err := decimal.NewFromString(request.BankAmount)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "bank_amount must be a decimal string")
		return
	}

	reconciliation, err := h.reconciliationService.Match(r.Context(), request.BatchID, money.FromDecimal(amount, request.Currency))
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, reconciliation)
}

func (h *ReconciliationHandler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	reconciliationID := vars["reconciliation_id"]

	if reconciliationID == "" {
		respondWithError(w, http.StatusBadRequest, "Reconciliation ID is required")
		return
	}

	reconciliation, err := h.reconciliationService.Get(r.Context(), reconciliationID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, reconciliation)
}

func (h *ReconciliationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	reconciliationID := vars["reconciliation_id"]

	if reconciliationID == "" {
		respondWithError(w, http.StatusBadRequest, "Reconciliation ID is required")
		return
	}

	var request struct {
		Remarks    string `json:"remarks"`
		ResolvedBy string `json:"resolved_by"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if request.Remarks == "" {
		respondWithError(w, http.StatusBadRequest, "remarks is required")
		return
	}
	if request.ResolvedBy == "" {
		respondWithError(w, http.StatusBadRequest, "resolved_by is required")
		return
	}

	reconciliation, err := h.reconciliationService.Resolve(r.Context(), reconciliationID, request.Remarks, request.ResolvedBy)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, reconciliation)
}

func (h *ReconciliationHandler) Escalate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	reconciliationID := vars["reconciliation_id"]

	if reconciliationID == "" {
		respondWithError(w, http.StatusBadRequest, "Reconciliation ID is required")
		return
	}

	reconciliation, err := h.reconciliationService.Escalate(r.Context(), reconciliationID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, reconciliation)
}

func (h *ReconciliationHandler) ListMismatches(w http.ResponseWriter, r *http.Request) {
	includeReview := r.URL.Query().Get("include_review") == "true"

	reconciliations, err := h.reconciliationService.ListMismatches(r.Context(), includeReview)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, reconciliations)
}

func (h *ReconciliationHandler) ListByBatch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	batchID := vars["batch_id"]

	if batchID == "" {
		respondWithError(w, http.StatusBadRequest, "Batch ID is required")
		return
	}

	reconciliations, err := h.reconciliationService.ListByBatch(r.Context(), batchID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, reconciliations)
}

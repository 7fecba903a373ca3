package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"settlement-engine/internal/models"
	"settlement-engine/internal/repositories"
	"settlement-engine/internal/services"
)

type BatchHandler struct {
	settlementService *services.SettlementService
	processor         *services.BatchProcessor
	runService        *services.RunService
}

func NewBatchHandler(
	settlementService *services.SettlementService,
	processor *services.BatchProcessor,
	runService *services.RunService,
) *BatchHandler {
	return &BatchHandler{
		settlementService: settlementService,
		processor:         processor,
		runService:        runService,
	}
}

func (h *BatchHandler) BuildBatch(w http.ResponseWriter, r *http.Request) {
	var request struct {
		ClientID string `json:"client_id"`
		RunDate  string `json:"run_date"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if request.ClientID == "" {
		respondWithError(w, http.StatusBadRequest, "client_id is required")
		return
	}

	runDate := time.Now().UTC()
	if request.RunDate != "" {
		parsed, err := time.Parse("2006-01-02", request.RunDate)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid run_date format. Use YYYY-MM-DD")
			return
		}
		runDate = parsed
	}

	batch, err := h.settlementService.Build(r.Context(), request.ClientID, runDate)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, batch)
}

func (h *BatchHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	batchID := vars["batch_id"]

	if batchID == "" {
		respondWithError(w, http.StatusBadRequest, "Batch ID is required")
		return
	}

	batch, err := h.settlementService.GetBatch(r.Context(), batchID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, batch)
}

func (h *BatchHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	filter := repositories.BatchFilter{
		ClientID: r.URL.Query().Get("client_id"),
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = models.BatchStatus(status)
	}
	if fromDate := r.URL.Query().Get("from_date"); fromDate != "" {
		parsed, err := time.Parse("2006-01-02", fromDate)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid from_date format. Use YYYY-MM-DD")
			return
		}
		filter.DateFrom = &parsed
	}
	if toDate := r.URL.Query().Get("to_date"); toDate != "" {
		parsed, err := time.Parse("2006-01-02", toDate)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid to_date format. Use YYYY-MM-DD")
			return
		}
		filter.DateTo = &parsed
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		parsed, err := strconv.Atoi(limit)
		if err != nil || parsed < 1 {
			respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = parsed
	}

	batches, err := h.settlementService.ListBatches(r.Context(), filter)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, batches)
}

func (h *BatchHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	batchID := vars["batch_id"]

	if batchID == "" {
		respondWithError(w, http.StatusBadRequest, "Batch ID is required")
		return
	}

	items, err := h.settlementService.ListItems(r.Context(), batchID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, items)
}

func (h *BatchHandler) ApproveBatch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	batchID := vars["batch_id"]

	if batchID == "" {
		respondWithError(w, http.StatusBadRequest, "Batch ID is required")
		return
	}

	batch, err := h.processor.Approve(r.Context(), batchID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, batch)
}

func (h *BatchHandler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	batchID := vars["batch_id"]

	if batchID == "" {
		respondWithError(w, http.StatusBadRequest, "Batch ID is required")
		return
	}

	batch, err := h.processor.Process(r.Context(), batchID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, batch)
}

func (h *BatchHandler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	batchID := vars["batch_id"]

	if batchID == "" {
		respondWithError(w, http.StatusBadRequest, "Batch ID is required")
		return
	}

	batch, err := h.processor.Cancel(r.Context(), batchID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{
		Message: "Cancellation accepted",
		Data:    batch,
	})
}

func (h *BatchHandler) RunSettlement(w http.ResponseWriter, r *http.Request) {
	var request struct {
		RunDate string `json:"run_date"`
	}

	if r.Body != nil {
		// An empty body runs for today.
		_ = json.NewDecoder(r.Body).Decode(&request)
	}

	runDate := time.Now().UTC()
	if request.RunDate != "" {
		parsed, err := time.Parse("2006-01-02", request.RunDate)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid run_date format. Use YYYY-MM-DD")
			return
		}
		runDate = parsed
	}

	summary, err := h.runService.RunSettlement(r.Context(), runDate)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, summary)
}

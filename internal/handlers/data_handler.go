package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"settlement-engine/internal/services"
)

type DataHandler struct {
	ingestionService *services.IngestionService
}

func NewDataHandler(ingestionService *services.IngestionService) *DataHandler {
	return &DataHandler{
		ingestionService: ingestionService,
	}
}

func (h *DataHandler) IngestTransactions(w http.ResponseWriter, r *http.Request) {
	var transactions []services.TransactionInput

	if err := json.NewDecoder(r.Body).Decode(&transactions); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if len(transactions) == 0 {
		respondWithError(w, http.StatusBadRequest, "No transactions provided")
		return
	}

	result, err := h.ingestionService.IngestTransactions(r.Context(), transactions)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	status := http.StatusOK
	if len(result.Errors) > 0 {
		status = http.StatusPartialContent
	}
	respondWithJSON(w, status, result)
}

func (h *DataHandler) CreateConfiguration(w http.ResponseWriter, r *http.Request) {
	var input services.ConfigurationInput

	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	configuration, err := h.ingestionService.CreateConfiguration(r.Context(), input)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondWithJSON(w, http.StatusCreated, configuration)
}

func (h *DataHandler) ListConfigurations(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	clientID := vars["client_id"]

	if clientID == "" {
		respondWithError(w, http.StatusBadRequest, "Client ID is required")
		return
	}

	configurations, err := h.ingestionService.ListConfigurations(r.Context(), clientID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, configurations)
}

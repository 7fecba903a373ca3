package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"settlement-engine/internal/models"
	"settlement-engine/internal/repositories"
	"settlement-engine/internal/services"
)

func SetupRouter(
	batchHandler *BatchHandler,
	reconciliationHandler *ReconciliationHandler,
	dataHandler *DataHandler,
	reportHandler *ReportHandler,
	logger *zap.Logger,
) *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()

	api.Use(loggingMiddleware(logger))
	api.Use(jsonContentTypeMiddleware)

	api.HandleFunc("/transactions", dataHandler.IngestTransactions).Methods(http.MethodPost)
	api.HandleFunc("/configurations", dataHandler.CreateConfiguration).Methods(http.MethodPost)
	api.HandleFunc("/clients/{client_id}/configurations", dataHandler.ListConfigurations).Methods(http.MethodGet)

	api.HandleFunc("/batches", batchHandler.BuildBatch).Methods(http.MethodPost)
	api.HandleFunc("/batches", batchHandler.ListBatches).Methods(http.MethodGet)
	api.HandleFunc("/batches/{batch_id}", batchHandler.GetBatch).Methods(http.MethodGet)
	api.HandleFunc("/batches/{batch_id}/items", batchHandler.ListItems).Methods(http.MethodGet)
	api.HandleFunc("/batches/{batch_id}/approve", batchHandler.ApproveBatch).Methods(http.MethodPost)
	api.HandleFunc("/batches/{batch_id}/process", batchHandler.ProcessBatch).Methods(http.MethodPost)
	api.HandleFunc("/batches/{batch_id}/cancel", batchHandler.CancelBatch).Methods(http.MethodPost)
	api.HandleFunc("/batches/{batch_id}/export", reportHandler.ExportBatch).Methods(http.MethodGet)
	api.HandleFunc("/batches/{batch_id}/reconciliations", reconciliationHandler.ListByBatch).Methods(http.MethodGet)

	api.HandleFunc("/settlements/run", batchHandler.RunSettlement).Methods(http.MethodPost)

	api.HandleFunc("/reconciliations", reconciliationHandler.Match).Methods(http.MethodPost)
	api.HandleFunc("/reconciliations/mismatches", reconciliationHandler.ListMismatches).Methods(http.MethodGet)
	api.HandleFunc("/reconciliations/{reconciliation_id}", reconciliationHandler.GetReconciliation).Methods(http.MethodGet)
	api.HandleFunc("/reconciliations/{reconciliation_id}/resolve", reconciliationHandler.Resolve).Methods(http.MethodPost)
	api.HandleFunc("/reconciliations/{reconciliation_id}/escalate", reconciliationHandler.Escalate).Methods(http.MethodPost)

	api.HandleFunc("/reports/statistics", reportHandler.Statistics).Methods(http.MethodGet)
	api.HandleFunc("/reports/clients/{client_id}/summary", reportHandler.ClientSummary).Methods(http.MethodGet)

	router.HandleFunc("/health", healthCheckHandler).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return router
}

func loggingMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote", r.RemoteAddr),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status": "healthy",
	}
	respondWithJSON(w, http.StatusOK, response)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// statusForError maps domain errors onto HTTP statuses so handlers stay
// uniform.
func statusForError(err error) int {
	switch {
	case errors.Is(err, repositories.ErrBatchNotFound),
		errors.Is(err, repositories.ErrTransactionNotFound),
		errors.Is(err, repositories.ErrReconciliationNotFound),
		errors.Is(err, repositories.ErrConfigurationMissing):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, services.ErrInvalidResolution),
		errors.Is(err, services.ErrBatchNotCompleted):
		return http.StatusConflict
	case errors.Is(err, services.ErrNoEligibleTransactions),
		errors.Is(err, services.ErrBelowMinimumAmount):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

func respondWithServiceError(w http.ResponseWriter, err error) {
	respondWithError(w, statusForError(err), err.Error())
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Error marshaling JSON response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

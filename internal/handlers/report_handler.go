package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"settlement-engine/internal/services"
)

type ReportHandler struct {
	reportService *services.ReportService
}

func NewReportHandler(reportService *services.ReportService) *ReportHandler {
	return &ReportHandler{
		reportService: reportService,
	}
}

func (h *ReportHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	from, to, ok := dateRange(w, r)
	if !ok {
		return
	}

	stats, err := h.reportService.Statistics(r.Context(), from, to)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, stats)
}

func (h *ReportHandler) ClientSummary(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	clientID := vars["client_id"]

	if clientID == "" {
		respondWithError(w, http.StatusBadRequest, "Client ID is required")
		return
	}

	from, to, ok := dateRange(w, r)
	if !ok {
		return
	}

	summary, err := h.reportService.ClientSummary(r.Context(), clientID, from, to)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, summary)
}

func (h *ReportHandler) ExportBatch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	batchID := vars["batch_id"]

	if batchID == "" {
		respondWithError(w, http.StatusBadRequest, "Batch ID is required")
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}

	switch format {
	case "csv":
		data, err := h.reportService.ExportBatchCSV(r.Context(), batchID)
		if err != nil {
			respondWithServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="settlement_%s.csv"`, batchID))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	case "xlsx":
		data, err := h.reportService.ExportBatchXLSX(r.Context(), batchID)
		if err != nil {
			respondWithServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="settlement_%s.xlsx"`, batchID))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	default:
		respondWithError(w, http.StatusBadRequest, "Unsupported format. Use csv or xlsx")
	}
}

func dateRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	fromDate := r.URL.Query().Get("from_date")
	toDate := r.URL.Query().Get("to_date")

	if fromDate == "" || toDate == "" {
		respondWithError(w, http.StatusBadRequest, "Both from_date and to_date query parameters are required")
		return time.Time{}, time.Time{}, false
	}

	from, err := time.Parse("2006-01-02", fromDate)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid from_date format. Use YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	to, err := time.Parse("2006-01-02", toDate)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid to_date format. Use YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}

	return from, to, true
}

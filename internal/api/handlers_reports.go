package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/income-verifier/internal/service"
	"github.com/income-verifier/internal/types"
)

type createReportRequest struct {
	Title             string    `json:"title" validate:"required,max=200"`
	Purpose           string    `json:"purpose" validate:"required,oneof=bank landlord immigration other"`
	PeriodStart       time.Time `json:"periodStart" validate:"required"`
	PeriodEnd         time.Time `json:"periodEnd" validate:"required,gtefield=PeriodStart"`
	TransactionHashes []string  `json:"transactionHashes" validate:"required,min=1,dive,required"`
}

// handleCreateReport handles POST /api/reports
func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req createReportRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondBadRequest(w, err)
		return
	}

	report, err := s.services.Reports.BuildReport(r.Context(), service.BuildReportInput{
		UserID:            userID,
		Title:             req.Title,
		Purpose:           types.ReportPurpose(req.Purpose),
		PeriodStart:       req.PeriodStart,
		PeriodEnd:         req.PeriodEnd,
		TransactionHashes: req.TransactionHashes,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, report)
}

// handleGetReport handles GET /api/reports/{id}
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	report, err := s.services.Reports.GetReport(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, report)
}

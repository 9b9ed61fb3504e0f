package models

import (
	"time"

	"github.com/income-verifier/internal/types"
)

// Report is a persisted income report draft
type Report struct {
	ID           string                       `json:"id" db:"id"`
	UserID       string                       `json:"userId" db:"user_id"`
	Title        string                       `json:"title" db:"title"`
	Purpose      types.ReportPurpose          `json:"purpose" db:"purpose"`
	PeriodStart  time.Time                    `json:"periodStart" db:"period_start"`
	PeriodEnd    time.Time                    `json:"periodEnd" db:"period_end"`
	Transactions []*types.EnrichedTransaction `json:"transactions" db:"transactions"` // JSONB snapshot
	Summary      types.TransactionSummary     `json:"summary" db:"summary"`           // JSONB
	TotalIncome  string                       `json:"totalIncome" db:"total_income"`  // Exact decimal, 2dp
	Status       types.ReportStatus           `json:"status" db:"status"`
	CreatedAt    time.Time                    `json:"createdAt" db:"created_at"`
}

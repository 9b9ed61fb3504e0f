package service

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/income-verifier/internal/errors"
	"github.com/income-verifier/internal/logging"
	"github.com/income-verifier/internal/models"
	"github.com/income-verifier/internal/retry"
	"github.com/income-verifier/internal/types"
)

// TransactionLister supplies a user's enriched transactions across wallets
type TransactionLister interface {
	GetAllUserTransactions(ctx context.Context, userID string, q AllQuery) ([]*types.EnrichedTransaction, error)
}

// ReportService builds and stores income report drafts
type ReportService struct {
	transactions TransactionLister
	reports      ReportRepository
	retry        *retry.RetryConfig
	now          func() time.Time
}

// NewReportService creates a new report service. Persistence is retried on transient store errors.
func NewReportService(transactions TransactionLister, reports ReportRepository, retryCfg *retry.RetryConfig) *ReportService {
	if retryCfg == nil {
		retryCfg = retry.DefaultRetryConfig()
		retryCfg.ShouldRetry = apperrors.IsRetryable
	}
	return &ReportService{
		transactions: transactions,
		reports:      reports,
		retry:        retryCfg,
		now:          time.Now,
	}
}

// BuildReportInput represents input for creating a report draft
type BuildReportInput struct {
	UserID            string
	Title             string
	Purpose           types.ReportPurpose
	PeriodStart       time.Time
	PeriodEnd         time.Time
	TransactionHashes []string
	MaxCountPerWallet int
}

func (in *BuildReportInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return apperrors.NewInvalidParameterError("title", "required")
	}
	switch in.Purpose {
	case types.PurposeBank, types.PurposeLandlord, types.PurposeImmigration, types.PurposeOther:
	default:
		return apperrors.NewInvalidParameterError("purpose", "must be one of bank, landlord, immigration, other")
	}
	if in.PeriodStart.IsZero() || in.PeriodEnd.IsZero() {
		return apperrors.NewInvalidParameterError("period", "periodStart and periodEnd are required")
	}
	if in.PeriodEnd.Before(in.PeriodStart) {
		return apperrors.NewInvalidParameterError("periodEnd", "must not be before periodStart")
	}
	if len(in.TransactionHashes) == 0 {
		return apperrors.NewInvalidParameterError("transactionHashes", "at least one transaction is required")
	}
	return nil
}

// BuildReport snapshots the selected transactions inside the period and persists a draft.
// Selected hashes that are unknown or outside the period are ignored.
func (s *ReportService) BuildReport(ctx context.Context, in BuildReportInput) (*models.Report, error) {
	if in.UserID == "" {
		return nil, apperrors.NewUnauthorizedError("missing user")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	all, err := s.transactions.GetAllUserTransactions(ctx, in.UserID, AllQuery{MaxCountPerWallet: in.MaxCountPerWallet})
	if err != nil {
		return nil, err
	}

	selected := SelectTransactions(all, in.TransactionHashes, in.PeriodStart, in.PeriodEnd)
	summary := Summarize(selected)

	report := &models.Report{
		UserID:       in.UserID,
		Title:        strings.TrimSpace(in.Title),
		Purpose:      in.Purpose,
		PeriodStart:  in.PeriodStart.UTC(),
		PeriodEnd:    in.PeriodEnd.UTC(),
		Transactions: selected,
		Summary:      summary,
		TotalIncome:  FormatTotal(summary.TotalIncome),
		Status:       types.ReportStatusDraft,
		CreatedAt:    s.now().UTC(),
	}

	err = retry.Do(ctx, s.retry, func(ctx context.Context, attempt int) error {
		return s.reports.Create(ctx, report)
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"report_id":    report.ID,
		"purpose":      string(report.Purpose),
		"transactions": len(selected),
		"total_income": report.TotalIncome,
	}).Info("Report draft created")
	return report, nil
}

// GetReport returns one of the user's reports
func (s *ReportService) GetReport(ctx context.Context, userID, reportID string) (*models.Report, error) {
	report, err := s.reports.GetByID(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if report.UserID != userID {
		return nil, apperrors.NewUnauthorizedError("report does not belong to user")
	}
	return report, nil
}

// SelectTransactions keeps transactions whose hash was selected and whose
// timestamp falls within [start, end]. Input order is preserved.
func SelectTransactions(txs []*types.EnrichedTransaction, hashes []string, start, end time.Time) []*types.EnrichedTransaction {
	wanted := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		wanted[strings.ToLower(strings.TrimSpace(h))] = true
	}

	from, to := start.Unix(), end.Unix()
	selected := make([]*types.EnrichedTransaction, 0, len(hashes))
	seen := make(map[string]bool)
	for _, tx := range txs {
		key := strings.ToLower(tx.Hash) + ":" + tx.ChainID.String()
		if !wanted[strings.ToLower(tx.Hash)] || seen[key] {
			continue
		}
		if tx.Timestamp < from || tx.Timestamp > to {
			continue
		}
		seen[key] = true
		selected = append(selected, tx)
	}
	return selected
}

// FormatTotal renders a summary total in cents, rounding half away from zero.
// The stored total is always derived from the summary so the two never disagree.
func FormatTotal(total float64) string {
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return decimal.Zero.StringFixed(2)
	}
	return decimal.NewFromFloat(total).StringFixed(2)
}

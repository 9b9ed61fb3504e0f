package service

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/income-verifier/internal/errors"
	"github.com/income-verifier/internal/retry"
	"github.com/income-verifier/internal/types"
)

func fastRetry() *retry.RetryConfig {
	return &retry.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
		ShouldRetry:  apperrors.IsRetryable,
	}
}

func reportInput() BuildReportInput {
	return BuildReportInput{
		UserID:            "user-1",
		Title:             " Rental application ",
		Purpose:           types.PurposeLandlord,
		PeriodStart:       time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		PeriodEnd:         time.Date(2024, 3, 1, 23, 59, 59, 0, time.UTC),
		TransactionHashes: []string{"0xUSDC", "0xeth", "0xfoo", "0xpoly", "0xnotmine"},
	}
}

func TestBuildReport(t *testing.T) {
	f := newFixture(t)
	repo := &mockReportRepo{}
	svc := NewReportService(f.svc, repo, fastRetry())

	report, err := svc.BuildReport(context.Background(), reportInput())
	require.NoError(t, err)

	assert.NotEmpty(t, report.ID)
	assert.Equal(t, "Rental application", report.Title)
	assert.Equal(t, types.ReportStatusDraft, report.Status)
	require.Len(t, report.Transactions, 3, "0xfoo is outside the period and 0xnotmine is unknown")
	assert.Equal(t, "0xusdc", report.Transactions[0].Hash)
	assert.Equal(t, "0xpoly", report.Transactions[1].Hash)
	assert.Equal(t, "0xeth", report.Transactions[2].Hash)

	assert.Equal(t, "3001.00", report.TotalIncome)
	assert.Equal(t, Summarize(report.Transactions), report.Summary)
	assert.InDelta(t, 3001.0, report.Summary.TotalIncome, 1e-9)
	assert.Equal(t, 1, repo.calls)
}

func TestBuildReportRetriesTransientStoreErrors(t *testing.T) {
	f := newFixture(t)
	repo := &mockReportRepo{failures: 2}
	svc := NewReportService(f.svc, repo, fastRetry())

	report, err := svc.BuildReport(context.Background(), reportInput())
	require.NoError(t, err)
	assert.Equal(t, 3, repo.calls)
	assert.Contains(t, repo.reports, report.ID)

	repo = &mockReportRepo{failures: 5}
	svc = NewReportService(f.svc, repo, fastRetry())
	_, err = svc.BuildReport(context.Background(), reportInput())
	require.Error(t, err)
	assert.Equal(t, 3, repo.calls)
}

func TestBuildReportValidation(t *testing.T) {
	f := newFixture(t)
	svc := NewReportService(f.svc, &mockReportRepo{}, fastRetry())

	tests := []struct {
		name   string
		mutate func(*BuildReportInput)
	}{
		{"blank title", func(in *BuildReportInput) { in.Title = "  " }},
		{"bad purpose", func(in *BuildReportInput) { in.Purpose = "mortgage" }},
		{"missing period", func(in *BuildReportInput) { in.PeriodStart = time.Time{} }},
		{"inverted period", func(in *BuildReportInput) { in.PeriodEnd = in.PeriodStart.Add(-time.Hour) }},
		{"no transactions", func(in *BuildReportInput) { in.TransactionHashes = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := reportInput()
			tt.mutate(&in)
			_, err := svc.BuildReport(context.Background(), in)
			require.Error(t, err)
			assert.True(t, apperrors.IsUserError(err))
		})
	}
}

func TestGetReport(t *testing.T) {
	f := newFixture(t)
	repo := &mockReportRepo{}
	svc := NewReportService(f.svc, repo, fastRetry())
	ctx := context.Background()

	created, err := svc.BuildReport(ctx, reportInput())
	require.NoError(t, err)

	got, err := svc.GetReport(ctx, "user-1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.TotalIncome, got.TotalIncome)

	_, err = svc.GetReport(ctx, "user-2", created.ID)
	assert.True(t, apperrors.IsUnauthorized(err))

	_, err = svc.GetReport(ctx, "user-1", "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestFormatTotal(t *testing.T) {
	assert.Equal(t, "3001.00", FormatTotal(3001))
	assert.Equal(t, "0.13", FormatTotal(0.125))
	assert.Equal(t, "0.00", FormatTotal(0))
	assert.Equal(t, "0.00", FormatTotal(math.Inf(1)))
	assert.Equal(t, "0.00", FormatTotal(math.NaN()))
}

// staticLister serves a fixed transaction list to the report service
type staticLister []*types.EnrichedTransaction

func (l staticLister) GetAllUserTransactions(ctx context.Context, userID string, q AllQuery) ([]*types.EnrichedTransaction, error) {
	return l, nil
}

func TestBuildReportTotalMatchesSummary(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Unix()
	svc := NewReportService(staticLister{
		{NormalizedTransfer: types.NormalizedTransfer{Hash: "0xa", ChainID: types.ChainEthereum, Timestamp: at}, AmountUSD: amount(0.025)},
		{NormalizedTransfer: types.NormalizedTransfer{Hash: "0xb", ChainID: types.ChainEthereum, Timestamp: at}, AmountUSD: amount(0.1)},
	}, &mockReportRepo{}, fastRetry())

	in := reportInput()
	in.TransactionHashes = []string{"0xa", "0xb"}
	report, err := svc.BuildReport(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, FormatTotal(report.Summary.TotalIncome), report.TotalIncome)
	assert.Equal(t, "0.13", report.TotalIncome)
}

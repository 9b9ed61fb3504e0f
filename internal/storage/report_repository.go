package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	apperrors "github.com/income-verifier/internal/errors"
	"github.com/income-verifier/internal/models"
	"github.com/income-verifier/internal/types"
)

// ReportRepository persists report drafts with their transaction snapshot
type ReportRepository struct {
	db *PostgresDB
}

// NewReportRepository creates a new report repository
func NewReportRepository(db *PostgresDB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create inserts a report
func (r *ReportRepository) Create(ctx context.Context, report *models.Report) error {
	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}

	txJSON, err := json.Marshal(report.Transactions)
	if err != nil {
		return fmt.Errorf("failed to marshal report transactions: %w", err)
	}
	summaryJSON, err := json.Marshal(report.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal report summary: %w", err)
	}

	query := `
		INSERT INTO reports (id, user_id, title, purpose, period_start, period_end, transactions, summary, total_income, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11)
	`
	_, err = r.db.Pool().Exec(ctx, query,
		report.ID,
		report.UserID,
		report.Title,
		string(report.Purpose),
		report.PeriodStart,
		report.PeriodEnd,
		txJSON,
		summaryJSON,
		report.TotalIncome,
		string(report.Status),
		report.CreatedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("create report", err)
	}
	return nil
}

// GetByID retrieves a report by ID
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*models.Report, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NewNotFoundError("report", id)
	}

	query := `
		SELECT id, user_id, title, purpose, period_start, period_end, transactions, summary, total_income::text, status, created_at
		FROM reports
		WHERE id = $1
	`

	var (
		report      models.Report
		purpose     string
		status      string
		txJSON      []byte
		summaryJSON []byte
	)
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&report.ID,
		&report.UserID,
		&report.Title,
		&purpose,
		&report.PeriodStart,
		&report.PeriodEnd,
		&txJSON,
		&summaryJSON,
		&report.TotalIncome,
		&status,
		&report.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("report", id)
		}
		return nil, apperrors.NewDatabaseError("get report", err)
	}

	report.Purpose = types.ReportPurpose(purpose)
	report.Status = types.ReportStatus(status)
	if err := json.Unmarshal(txJSON, &report.Transactions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report transactions: %w", err)
	}
	if err := json.Unmarshal(summaryJSON, &report.Summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report summary: %w", err)
	}
	return &report, nil
}

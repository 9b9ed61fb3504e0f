package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	apperrors "github.com/income-verifier/internal/errors"
	"github.com/income-verifier/internal/models"
	"github.com/income-verifier/internal/types"
)

// VerifiedSenderRepository reads verified sender reference data
type VerifiedSenderRepository struct {
	db *PostgresDB
}

// NewVerifiedSenderRepository creates a new verified sender repository
func NewVerifiedSenderRepository(db *PostgresDB) *VerifiedSenderRepository {
	return &VerifiedSenderRepository{db: db}
}

const senderColumns = `id, address, chain_id, company_name, official_label, is_active, created_at`

// GetByID retrieves a verified sender by ID
func (r *VerifiedSenderRepository) GetByID(ctx context.Context, id string) (*models.VerifiedSender, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NewNotFoundError("verified sender", id)
	}

	row := r.db.Pool().QueryRow(ctx, `SELECT `+senderColumns+` FROM verified_senders WHERE id = $1`, id)
	sender, err := scanSender(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("verified sender", id)
		}
		return nil, apperrors.NewDatabaseError("get verified sender", err)
	}
	return sender, nil
}

// FindActiveByAddresses returns active senders on chainID keyed by lowercase address
func (r *VerifiedSenderRepository) FindActiveByAddresses(ctx context.Context, chainID types.ChainID, addresses []string) (map[string]*models.VerifiedSender, error) {
	result := make(map[string]*models.VerifiedSender)
	if len(addresses) == 0 {
		return result, nil
	}

	lowered := make([]string, len(addresses))
	for i, a := range addresses {
		lowered[i] = strings.ToLower(a)
	}

	query := `SELECT ` + senderColumns + `
		FROM verified_senders
		WHERE chain_id = $1 AND is_active AND address = ANY($2)
	`

	rows, err := r.db.Pool().Query(ctx, query, int64(chainID), lowered)
	if err != nil {
		return nil, apperrors.NewDatabaseError("find verified senders", err)
	}
	defer rows.Close()

	for rows.Next() {
		sender, err := scanSender(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan verified sender", err)
		}
		result[sender.Address] = sender
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("find verified senders", err)
	}
	return result, nil
}

// ListActive returns active senders, optionally restricted to one chain
func (r *VerifiedSenderRepository) ListActive(ctx context.Context, chainID *types.ChainID) ([]*models.VerifiedSender, error) {
	query := `SELECT ` + senderColumns + ` FROM verified_senders WHERE is_active`
	args := []interface{}{}
	if chainID != nil {
		query += ` AND chain_id = $1`
		args = append(args, int64(*chainID))
	}
	query += ` ORDER BY company_name, address`

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list verified senders", err)
	}
	defer rows.Close()

	var senders []*models.VerifiedSender
	for rows.Next() {
		sender, err := scanSender(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan verified sender", err)
		}
		senders = append(senders, sender)
	}
	return senders, rows.Err()
}

// Create inserts a verified sender
func (r *VerifiedSenderRepository) Create(ctx context.Context, sender *models.VerifiedSender) error {
	if sender.ID == "" {
		sender.ID = uuid.New().String()
	}
	sender.Address = strings.ToLower(sender.Address)

	query := `
		INSERT INTO verified_senders (id, address, chain_id, company_name, official_label, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := r.db.Pool().QueryRow(ctx, query,
		sender.ID, sender.Address, int64(sender.ChainID), sender.CompanyName, sender.OfficialLabel, sender.IsActive,
	).Scan(&sender.CreatedAt)
	if err != nil {
		return apperrors.NewDatabaseError("create verified sender", err)
	}
	return nil
}

func scanSender(row pgx.Row) (*models.VerifiedSender, error) {
	var (
		s       models.VerifiedSender
		chainID int64
	)
	if err := row.Scan(&s.ID, &s.Address, &chainID, &s.CompanyName, &s.OfficialLabel, &s.IsActive, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.ChainID = types.ChainID(chainID)
	return &s, nil
}

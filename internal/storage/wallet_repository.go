package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/income-verifier/internal/errors"
	"github.com/income-verifier/internal/models"
	"github.com/income-verifier/internal/types"
)

const uniqueViolation = "23505"

// WalletRepository handles wallet persistence
type WalletRepository struct {
	db *PostgresDB
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(db *PostgresDB) *WalletRepository {
	return &WalletRepository{db: db}
}

// Create inserts a wallet. A duplicate (user, address, chain) is a conflict.
func (r *WalletRepository) Create(ctx context.Context, wallet *models.Wallet) error {
	if wallet.ID == "" {
		wallet.ID = uuid.New().String()
	}
	wallet.Address = strings.ToLower(wallet.Address)
	wallet.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO wallets (id, user_id, address, chain_id, label, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		wallet.ID,
		wallet.UserID,
		wallet.Address,
		int64(wallet.ChainID),
		wallet.Label,
		wallet.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return &types.ServiceError{
				Code:    "WALLET_EXISTS",
				Message: "wallet already linked",
				Details: map[string]interface{}{"address": wallet.Address, "chainId": int64(wallet.ChainID)},
			}
		}
		return apperrors.NewDatabaseError("create wallet", err)
	}
	return nil
}

// GetByID retrieves a wallet by ID
func (r *WalletRepository) GetByID(ctx context.Context, id string) (*models.Wallet, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NewNotFoundError("wallet", id)
	}

	query := `
		SELECT id, user_id, address, chain_id, label, created_at
		FROM wallets
		WHERE id = $1
	`

	wallet, err := scanWallet(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("wallet", id)
		}
		return nil, apperrors.NewDatabaseError("get wallet", err)
	}
	return wallet, nil
}

// ListByUser returns a user's wallets, oldest first
func (r *WalletRepository) ListByUser(ctx context.Context, userID string) ([]*models.Wallet, error) {
	query := `
		SELECT id, user_id, address, chain_id, label, created_at
		FROM wallets
		WHERE user_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list wallets", err)
	}
	defer rows.Close()

	var wallets []*models.Wallet
	for rows.Next() {
		wallet, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, wallet)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list wallets", err)
	}
	return wallets, nil
}

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var (
		w       models.Wallet
		chainID int64
	)
	if err := row.Scan(&w.ID, &w.UserID, &w.Address, &chainID, &w.Label, &w.CreatedAt); err != nil {
		return nil, err
	}
	w.ChainID = types.ChainID(chainID)
	return &w, nil
}

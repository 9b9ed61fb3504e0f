package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	apperrors "github.com/income-verifier/internal/errors"
	"github.com/income-verifier/internal/models"
	"github.com/income-verifier/internal/types"
)

// MetadataRepository persists user annotations of on-chain transactions.
// Rows are unique per (tx_hash, chain_id); each upsert touches only its own field.
type MetadataRepository struct {
	db *PostgresDB
}

// NewMetadataRepository creates a new metadata repository
func NewMetadataRepository(db *PostgresDB) *MetadataRepository {
	return &MetadataRepository{db: db}
}

// MetaKey identifies the row an upsert targets and the owner writing it
type MetaKey struct {
	TxHash   string
	ChainID  types.ChainID
	UserID   string
	WalletID string
}

const metaReturning = `RETURNING id, tx_hash, chain_id, user_id, wallet_id, label, verified_sender_id, created_at, updated_at`

// UpsertLabel sets the label, keeping any verified sender link. nil clears the label.
// A row annotated by another user is left untouched and reported as Unauthorized.
func (r *MetadataRepository) UpsertLabel(ctx context.Context, key MetaKey, label *string) (*models.TransactionMeta, error) {
	query := `
		INSERT INTO transaction_meta (id, tx_hash, chain_id, user_id, wallet_id, label, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (tx_hash, chain_id) DO UPDATE
		SET label = EXCLUDED.label,
		    wallet_id = EXCLUDED.wallet_id,
		    updated_at = NOW()
		WHERE transaction_meta.user_id = EXCLUDED.user_id
		` + metaReturning

	return r.upsert(ctx, "upsert label", query, key, label)
}

// UpsertVerifiedSender sets the sender link, keeping any label.
// A row annotated by another user is left untouched and reported as Unauthorized.
func (r *MetadataRepository) UpsertVerifiedSender(ctx context.Context, key MetaKey, senderID string) (*models.TransactionMeta, error) {
	query := `
		INSERT INTO transaction_meta (id, tx_hash, chain_id, user_id, wallet_id, verified_sender_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (tx_hash, chain_id) DO UPDATE
		SET verified_sender_id = EXCLUDED.verified_sender_id,
		    wallet_id = EXCLUDED.wallet_id,
		    updated_at = NOW()
		WHERE transaction_meta.user_id = EXCLUDED.user_id
		` + metaReturning

	return r.upsert(ctx, "upsert verified sender", query, key, senderID)
}

// upsert runs one of the annotation upserts. The conditional DO UPDATE
// returns no row when the existing annotation belongs to someone else.
func (r *MetadataRepository) upsert(ctx context.Context, op, query string, key MetaKey, value interface{}) (*models.TransactionMeta, error) {
	row := r.db.Pool().QueryRow(ctx, query,
		uuid.New().String(), strings.ToLower(key.TxHash), int64(key.ChainID), key.UserID, key.WalletID, value,
	)
	meta, err := scanMeta(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewUnauthorizedError("transaction is annotated by another user")
		}
		return nil, apperrors.NewDatabaseError(op, err)
	}
	return meta, nil
}

// FindByHashes returns the user's rows for hashes on chainID, with linked senders loaded in the same query
func (r *MetadataRepository) FindByHashes(ctx context.Context, userID string, chainID types.ChainID, hashes []string) ([]*models.TransactionMeta, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	lowered := make([]string, len(hashes))
	for i, h := range hashes {
		lowered[i] = strings.ToLower(h)
	}

	query := `
		SELECT m.id, m.tx_hash, m.chain_id, m.user_id, m.wallet_id, m.label, m.verified_sender_id, m.created_at, m.updated_at,
		       s.id, s.address, s.chain_id, s.company_name, s.official_label, s.is_active, s.created_at
		FROM transaction_meta m
		LEFT JOIN verified_senders s ON s.id = m.verified_sender_id
		WHERE m.user_id = $1 AND m.chain_id = $2 AND m.tx_hash = ANY($3)
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, int64(chainID), lowered)
	if err != nil {
		return nil, apperrors.NewDatabaseError("find transaction metadata", err)
	}
	defer rows.Close()

	var metas []*models.TransactionMeta
	for rows.Next() {
		meta, err := scanMetaWithSender(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction metadata: %w", err)
		}
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("find transaction metadata", err)
	}
	return metas, nil
}

func scanMeta(row pgx.Row) (*models.TransactionMeta, error) {
	var (
		m       models.TransactionMeta
		chainID int64
	)
	if err := row.Scan(&m.ID, &m.TxHash, &chainID, &m.UserID, &m.WalletID, &m.Label, &m.VerifiedSenderID, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.ChainID = types.ChainID(chainID)
	return &m, nil
}

func scanMetaWithSender(row pgx.Row) (*models.TransactionMeta, error) {
	var (
		m       models.TransactionMeta
		chainID int64

		senderID      *string
		senderAddress *string
		senderChain   *int64
		companyName   *string
		officialLabel *string
		isActive      *bool
		senderCreated *time.Time
	)
	err := row.Scan(
		&m.ID, &m.TxHash, &chainID, &m.UserID, &m.WalletID, &m.Label, &m.VerifiedSenderID, &m.CreatedAt, &m.UpdatedAt,
		&senderID, &senderAddress, &senderChain, &companyName, &officialLabel, &isActive, &senderCreated,
	)
	if err != nil {
		return nil, err
	}
	m.ChainID = types.ChainID(chainID)

	if senderID != nil {
		m.VerifiedSender = &models.VerifiedSender{
			ID:            *senderID,
			Address:       deref(senderAddress),
			ChainID:       types.ChainID(derefInt(senderChain)),
			CompanyName:   deref(companyName),
			OfficialLabel: officialLabel,
			IsActive:      isActive != nil && *isActive,
		}
		if senderCreated != nil {
			m.VerifiedSender.CreatedAt = *senderCreated
		}
	}
	return &m, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(i *int64) int64 {
	if i == nil {
		return 0
	}
	return *i
}

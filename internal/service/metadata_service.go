package service

import (
	"context"
	"strings"

	apperrors "github.com/income-verifier/internal/errors"
	"github.com/income-verifier/internal/logging"
	"github.com/income-verifier/internal/models"
	"github.com/income-verifier/internal/storage"
	"github.com/income-verifier/internal/types"
)

// MetadataService records user annotations on transactions of owned wallets
type MetadataService struct {
	wallets  WalletRepository
	metadata MetadataRepository
	senders  VerifiedSenderRepository
}

// NewMetadataService creates a new metadata service
func NewMetadataService(wallets WalletRepository, metadata MetadataRepository, senders VerifiedSenderRepository) *MetadataService {
	return &MetadataService{
		wallets:  wallets,
		metadata: metadata,
		senders:  senders,
	}
}

// AnnotationTarget identifies the transaction being annotated and the wallet it was seen on
type AnnotationTarget struct {
	UserID   string
	TxHash   string
	ChainID  types.ChainID
	WalletID string
}

// SetLabel stores a free-text label, keeping any sender link.
// A blank label clears it. Repeating the same label leaves the same state.
func (s *MetadataService) SetLabel(ctx context.Context, target AnnotationTarget, label string) (*models.TransactionMeta, error) {
	key, err := s.authorize(ctx, target)
	if err != nil {
		return nil, err
	}

	var stored *string
	if trimmed := strings.TrimSpace(label); trimmed != "" {
		stored = &trimmed
	}

	meta, err := s.metadata.UpsertLabel(ctx, key, stored)
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"tx_hash":   key.TxHash,
		"chain_id":  key.ChainID.String(),
		"wallet_id": key.WalletID,
		"cleared":   stored == nil,
	}).Info("Transaction label updated")
	return meta, nil
}

// LinkVerifiedSender attributes the transaction to an active verified sender, keeping any label
func (s *MetadataService) LinkVerifiedSender(ctx context.Context, target AnnotationTarget, senderID string) (*models.TransactionMeta, error) {
	key, err := s.authorize(ctx, target)
	if err != nil {
		return nil, err
	}

	sender, err := s.senders.GetByID(ctx, senderID)
	if err != nil {
		return nil, err
	}
	if !sender.IsActive {
		return nil, apperrors.NewNotFoundError("verified sender", senderID)
	}

	meta, err := s.metadata.UpsertVerifiedSender(ctx, key, sender.ID)
	if err != nil {
		return nil, err
	}
	meta.VerifiedSender = sender

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"tx_hash":   key.TxHash,
		"chain_id":  key.ChainID.String(),
		"sender_id": sender.ID,
	}).Info("Verified sender linked")
	return meta, nil
}

// ListVerifiedSenders returns active senders, optionally for one chain
func (s *MetadataService) ListVerifiedSenders(ctx context.Context, chainID *types.ChainID) ([]*models.VerifiedSender, error) {
	senders, err := s.senders.ListActive(ctx, chainID)
	if err != nil {
		return nil, err
	}
	if senders == nil {
		senders = []*models.VerifiedSender{}
	}
	return senders, nil
}

func (s *MetadataService) authorize(ctx context.Context, target AnnotationTarget) (storage.MetaKey, error) {
	hash := strings.ToLower(strings.TrimSpace(target.TxHash))
	if hash == "" {
		return storage.MetaKey{}, apperrors.NewInvalidParameterError("hash", "required")
	}
	if target.ChainID <= 0 {
		return storage.MetaKey{}, apperrors.NewInvalidParameterError("chainId", "must be a positive chain id")
	}

	wallet, err := loadOwnedWallet(ctx, s.wallets, target.UserID, target.WalletID)
	if err != nil {
		return storage.MetaKey{}, err
	}
	if wallet.ChainID != target.ChainID {
		return storage.MetaKey{}, apperrors.NewInvalidParameterError("chainId", "does not match wallet chain")
	}
	return storage.MetaKey{
		TxHash:   hash,
		ChainID:  target.ChainID,
		UserID:   target.UserID,
		WalletID: wallet.ID,
	}, nil
}

package service

import (
	"context"

	apperrors "github.com/income-verifier/internal/errors"
	"github.com/income-verifier/internal/models"
)

// loadOwnedWallet returns the wallet when it exists and belongs to userID
func loadOwnedWallet(ctx context.Context, repo WalletRepository, userID, walletID string) (*models.Wallet, error) {
	if userID == "" {
		return nil, apperrors.NewUnauthorizedError("missing user")
	}
	if walletID == "" {
		return nil, apperrors.NewInvalidParameterError("walletId", "required")
	}

	wallet, err := repo.GetByID(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if wallet.UserID != userID {
		return nil, apperrors.NewUnauthorizedError("wallet does not belong to user")
	}
	return wallet, nil
}

package models

import (
	"time"

	"github.com/income-verifier/internal/types"
)

// TransactionMeta holds user-owned annotations for one on-chain transaction.
// Unique per (tx_hash, chain_id); created lazily on first label edit or sender link.
type TransactionMeta struct {
	ID               string        `json:"id" db:"id"`
	TxHash           string        `json:"txHash" db:"tx_hash"`
	ChainID          types.ChainID `json:"chainId" db:"chain_id"`
	UserID           string        `json:"userId" db:"user_id"`
	WalletID         string        `json:"walletId" db:"wallet_id"`
	Label            *string       `json:"label,omitempty" db:"label"`
	VerifiedSenderID *string       `json:"verifiedSenderId,omitempty" db:"verified_sender_id"`
	CreatedAt        time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time     `json:"updatedAt" db:"updated_at"`

	// Loaded by bulk reads, not a column
	VerifiedSender *VerifiedSender `json:"verifiedSender,omitempty" db:"-"`
}

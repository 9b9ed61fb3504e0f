// Package models provides persisted data models for the income verifier system.
package models

import (
	"time"

	"github.com/income-verifier/internal/types"
)

// Wallet is a blockchain address a user has proven control of
type Wallet struct {
	ID        string        `json:"id" db:"id"`
	UserID    string        `json:"userId" db:"user_id"`
	Address   string        `json:"address" db:"address"` // Lowercase hex
	ChainID   types.ChainID `json:"chainId" db:"chain_id"`
	Label     *string       `json:"label,omitempty" db:"label"`
	CreatedAt time.Time     `json:"createdAt" db:"created_at"`
}

// View returns the wallet summary attached to enriched transactions
func (w *Wallet) View() types.WalletView {
	return types.WalletView{ID: w.ID, Address: w.Address, Label: w.Label}
}

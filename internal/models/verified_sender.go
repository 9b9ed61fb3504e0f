package models

import (
	"time"

	"github.com/income-verifier/internal/types"
)

// VerifiedSender is a known payer address (employer, payroll provider, exchange)
type VerifiedSender struct {
	ID            string        `json:"id" db:"id"`
	Address       string        `json:"address" db:"address"`
	ChainID       types.ChainID `json:"chainId" db:"chain_id"`
	CompanyName   string        `json:"companyName" db:"company_name"`
	OfficialLabel *string       `json:"officialLabel,omitempty" db:"official_label"`
	IsActive      bool          `json:"isActive" db:"is_active"`
	CreatedAt     time.Time     `json:"createdAt" db:"created_at"`
}

// View returns the public projection of the sender
func (v *VerifiedSender) View() *types.VerifiedSenderView {
	return &types.VerifiedSenderView{
		ID:            v.ID,
		CompanyName:   v.CompanyName,
		OfficialLabel: v.OfficialLabel,
	}
}

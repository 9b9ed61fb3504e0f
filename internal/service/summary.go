package service

import (
	"math"
	"strings"

	"github.com/income-verifier/internal/types"
)

// Summarize aggregates counts and USD totals. Unknown amounts count as zero.
func Summarize(txs []*types.EnrichedTransaction) types.TransactionSummary {
	var s types.TransactionSummary
	for _, tx := range txs {
		if tx == nil {
			continue
		}
		s.TotalTransactions++

		amount := 0.0
		if tx.AmountUSD != nil && !math.IsNaN(*tx.AmountUSD) && !math.IsInf(*tx.AmountUSD, 0) {
			amount = *tx.AmountUSD
		}
		s.TotalIncome += amount

		if tx.VerifiedSender != nil {
			s.VerifiedTransactions++
			s.VerifiedIncome += amount
		}
		if tx.UserLabel != nil && strings.TrimSpace(*tx.UserLabel) != "" {
			s.LabeledTransactions++
		}
	}
	return s
}

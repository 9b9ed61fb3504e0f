// Package types provides common type definitions for the income verifier system.
package types

import (
	"strconv"
	"strings"
)

// ChainID is the numeric EVM chain id of a supported network
type ChainID int64

const (
	// ChainEthereum represents the Ethereum mainnet
	ChainEthereum ChainID = 1
	// ChainOptimism represents the Optimism network
	ChainOptimism ChainID = 10
	// ChainBNB represents the BNB Chain (BSC)
	ChainBNB ChainID = 56
	// ChainPolygon represents the Polygon PoS network
	ChainPolygon ChainID = 137
	// ChainBase represents the Base network
	ChainBase ChainID = 8453
	// ChainArbitrum represents the Arbitrum One network
	ChainArbitrum ChainID = 42161
	// ChainSepolia represents the Sepolia testnet
	ChainSepolia ChainID = 11155111
)

// String returns the decimal form used in cache keys and logs
func (c ChainID) String() string {
	return strconv.FormatInt(int64(c), 10)
}

// ParseChainID parses a decimal chain id
func ParseChainID(s string) (ChainID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	return ChainID(id), nil
}

// TransferCategory is the kind of value movement reported by the indexer
type TransferCategory string

const (
	// CategoryNative represents a native coin transfer (ETH, MATIC, ...)
	CategoryNative TransferCategory = "external"
	// CategoryToken represents a fungible token (ERC-20) transfer
	CategoryToken TransferCategory = "erc20"
)

// ZeroAddress is used as the token address of native transfers
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// MaxTokenDecimals is the largest decimals value an ERC-20 token can declare (uint8)
const MaxTokenDecimals = 255

// ReportPurpose is the audience a report draft is prepared for
type ReportPurpose string

const (
	PurposeBank        ReportPurpose = "bank"
	PurposeLandlord    ReportPurpose = "landlord"
	PurposeImmigration ReportPurpose = "immigration"
	PurposeOther       ReportPurpose = "other"
)

// ReportStatus is the lifecycle state of a report
type ReportStatus string

const (
	// ReportStatusDraft is the only state the pipeline produces
	ReportStatusDraft ReportStatus = "draft"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// NormalizedTransfer is one incoming value transfer as returned by the indexer
type NormalizedTransfer struct {
	Hash          string           `json:"hash"`
	ChainID       ChainID          `json:"chainId"`
	From          string           `json:"from"`          // Lowercase sender address
	To            string           `json:"to"`            // Lowercase recipient address
	RawAmount     string           `json:"rawAmount"`     // Integer string in token base units
	TokenAddress  string           `json:"tokenAddress"`  // ZeroAddress for native transfers
	TokenSymbol   string           `json:"tokenSymbol"`
	TokenDecimals int              `json:"tokenDecimals"`
	BlockNumber   uint64           `json:"blockNumber"`
	Timestamp     int64            `json:"timestamp"` // Unix seconds
	Category      TransferCategory `json:"category"`
}

// TransferPage is one page of indexer results
type TransferPage struct {
	Transfers []*NormalizedTransfer `json:"transfers"`
	PageKey   string                `json:"pageKey,omitempty"` // Empty when there are no more pages
}

// VerifiedSenderView is the subset of a verified sender exposed on a transaction
type VerifiedSenderView struct {
	ID            string  `json:"id"`
	CompanyName   string  `json:"companyName"`
	OfficialLabel *string `json:"officialLabel,omitempty"`
}

// WalletView identifies the wallet a transaction was fetched for
type WalletView struct {
	ID      string  `json:"id"`
	Address string  `json:"address"`
	Label   *string `json:"label,omitempty"`
}

// EnrichedTransaction is a transfer merged with user metadata and a USD valuation
type EnrichedTransaction struct {
	NormalizedTransfer
	AmountUSD      *float64            `json:"amountUsd"` // nil when the price is unknown
	MetaID         *string             `json:"metaId,omitempty"`
	UserLabel      *string             `json:"userLabel"`
	VerifiedSender *VerifiedSenderView `json:"verifiedSender"`
	Wallet         WalletView          `json:"wallet"`
}

// TransactionSummary aggregates counts and USD totals over a transaction list
type TransactionSummary struct {
	TotalTransactions    int     `json:"totalTransactions"`
	VerifiedTransactions int     `json:"verifiedTransactions"`
	LabeledTransactions  int     `json:"labeledTransactions"`
	TotalIncome          float64 `json:"totalIncome"`
	VerifiedIncome       float64 `json:"verifiedIncome"`
}

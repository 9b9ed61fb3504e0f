package adapter

import (
	"context"
	"fmt"

	"github.com/income-verifier/internal/types"
)

// TransferSource fetches incoming value transfers for an address from a chain indexer.
// Implementations never fail across this boundary: unsupported chains, missing
// credentials and upstream errors yield an empty page and a log entry.
type TransferSource interface {
	// FetchTransfers returns one page of transfers into address, newest first
	FetchTransfers(ctx context.Context, address string, chainID types.ChainID, opts FetchOptions) *types.TransferPage

	// SupportsChain reports whether the source can serve chainID
	SupportsChain(chainID types.ChainID) bool
}

// FetchOptions bounds a transfer query
type FetchOptions struct {
	FromBlock *uint64 // nil = genesis
	ToBlock   *uint64 // nil = latest
	PageKey   string  // Opaque continuation token from a previous page
	MaxCount  int     // <= 0 uses the source default
}

// Common error types for transfer sources

var (
	// ErrUnsupportedChain indicates no indexer network exists for the chain id
	ErrUnsupportedChain = fmt.Errorf("unsupported chain")

	// ErrMissingAPIKey indicates the indexer credentials are not configured
	ErrMissingAPIKey = fmt.Errorf("indexer api key not configured")

	// ErrInvalidAddress indicates the address format is invalid
	ErrInvalidAddress = fmt.Errorf("invalid address format")

	// ErrProviderUnavailable indicates the data provider is unavailable
	ErrProviderUnavailable = fmt.Errorf("data provider unavailable")

	// ErrProviderRateLimit indicates the provider rate limit was exceeded
	ErrProviderRateLimit = fmt.Errorf("provider rate limit exceeded")
)

// AdapterError wraps errors with additional context
type AdapterError struct {
	Chain   types.ChainID
	Op      string // Operation that failed (e.g., "FetchPage")
	Err     error
	Details map[string]interface{}
}

func (e *AdapterError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("chain adapter error [%s:%s]: %v (details: %+v)", e.Chain, e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("chain adapter error [%s:%s]: %v", e.Chain, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new AdapterError
func NewAdapterError(chain types.ChainID, op string, err error, details map[string]interface{}) *AdapterError {
	return &AdapterError{
		Chain:   chain,
		Op:      op,
		Err:     err,
		Details: details,
	}
}

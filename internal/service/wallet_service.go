package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	apperrors "github.com/income-verifier/internal/errors"
	"github.com/income-verifier/internal/logging"
	"github.com/income-verifier/internal/models"
	"github.com/income-verifier/internal/types"
)

// WalletService links wallets after proof of control.
// Proofs are signatures over a single-use challenge issued by IssueChallenge.
type WalletService struct {
	wallets    WalletRepository
	chains     ChainSupport
	challenges *ChallengeStore
}

// NewWalletService creates a new wallet service. A nil store gets one with DefaultChallengeTTL.
func NewWalletService(wallets WalletRepository, chains ChainSupport, challenges *ChallengeStore) *WalletService {
	if challenges == nil {
		challenges = NewChallengeStore(DefaultChallengeTTL)
	}
	return &WalletService{wallets: wallets, chains: chains, challenges: challenges}
}

// IssueChallenge returns the message the wallet must sign to be linked by userID
func (s *WalletService) IssueChallenge(ctx context.Context, userID, address string, chainID types.ChainID) (*WalletChallenge, error) {
	if err := s.checkTarget(userID, address, chainID); err != nil {
		return nil, err
	}
	ch := s.challenges.Issue(userID, address, chainID)

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"address":  strings.ToLower(address),
		"chain_id": chainID.String(),
	}).Debug("Wallet challenge issued")
	return ch, nil
}

func (s *WalletService) checkTarget(userID, address string, chainID types.ChainID) error {
	if userID == "" {
		return apperrors.NewUnauthorizedError("missing user")
	}
	if !common.IsHexAddress(address) {
		return apperrors.NewInvalidAddressError(address)
	}
	if s.chains != nil && !s.chains.SupportsChain(chainID) {
		return apperrors.NewInvalidParameterError("chainId", fmt.Sprintf("chain %s is not supported", chainID))
	}
	return nil
}

// LinkWalletInput represents input for linking a wallet
type LinkWalletInput struct {
	UserID    string
	Address   string
	ChainID   types.ChainID
	Label     *string
	Message   string // Challenge text the wallet signed with personal_sign
	Signature string // 65-byte hex signature
}

// LinkWallet verifies that Signature was produced by Address over the outstanding
// challenge in Message, consumes the challenge and stores the wallet
func (s *WalletService) LinkWallet(ctx context.Context, in LinkWalletInput) (*models.Wallet, error) {
	if err := s.checkTarget(in.UserID, in.Address, in.ChainID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Message) == "" {
		return nil, apperrors.NewInvalidParameterError("message", "required")
	}
	if !s.challenges.Matches(in.UserID, in.Address, in.ChainID, in.Message) {
		return nil, apperrors.NewInvalidParameterError("message", "not an outstanding challenge for this wallet")
	}

	if err := VerifySignature(in.Address, in.Message, in.Signature); err != nil {
		logging.FromContext(ctx).WithField("address", strings.ToLower(in.Address)).WithError(err).Warn("Wallet signature rejected")
		return nil, apperrors.NewInvalidSignatureError(in.Address)
	}
	if !s.challenges.Consume(in.UserID, in.Address, in.ChainID, in.Message) {
		return nil, apperrors.NewInvalidParameterError("message", "challenge was already used")
	}

	var label *string
	if in.Label != nil {
		if trimmed := strings.TrimSpace(*in.Label); trimmed != "" {
			label = &trimmed
		}
	}

	wallet := &models.Wallet{
		UserID:  in.UserID,
		Address: strings.ToLower(in.Address),
		ChainID: in.ChainID,
		Label:   label,
	}
	if err := s.wallets.Create(ctx, wallet); err != nil {
		return nil, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"wallet_id": wallet.ID,
		"chain_id":  wallet.ChainID.String(),
	}).Info("Wallet linked")
	return wallet, nil
}

// ListWallets returns the user's wallets
func (s *WalletService) ListWallets(ctx context.Context, userID string) ([]*models.Wallet, error) {
	if userID == "" {
		return nil, apperrors.NewUnauthorizedError("missing user")
	}
	wallets, err := s.wallets.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wallets == nil {
		wallets = []*models.Wallet{}
	}
	return wallets, nil
}

// VerifySignature checks an EIP-191 personal_sign signature of message by address
func VerifySignature(address, message, signature string) error {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("invalid signature length %d", len(sig))
	}

	// Wallets emit v as 27/28
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pubKey, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return fmt.Errorf("failed to recover public key: %w", err)
	}

	recovered := crypto.PubkeyToAddress(*pubKey)
	if recovered != common.HexToAddress(address) {
		return fmt.Errorf("signature from %s does not match %s", strings.ToLower(recovered.Hex()), strings.ToLower(address))
	}
	return nil
}

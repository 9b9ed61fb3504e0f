package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/income-verifier/internal/service"
	"github.com/income-verifier/internal/types"
)

type linkWalletRequest struct {
	Address   string  `json:"address" validate:"required"`
	ChainID   int64   `json:"chainId" validate:"required,gt=0"`
	Label     *string `json:"label,omitempty" validate:"omitempty,max=100"`
	Message   string  `json:"message" validate:"required"`
	Signature string  `json:"signature" validate:"required"`
}

type challengeRequest struct {
	Address string `json:"address" validate:"required"`
	ChainID int64  `json:"chainId" validate:"required,gt=0"`
}

// handleIssueChallenge handles POST /api/wallets/challenge
func (s *Server) handleIssueChallenge(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req challengeRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondBadRequest(w, err)
		return
	}

	challenge, err := s.services.Wallets.IssueChallenge(r.Context(), userID, req.Address, types.ChainID(req.ChainID))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, challenge)
}

// handleLinkWallet handles POST /api/wallets
func (s *Server) handleLinkWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req linkWalletRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondBadRequest(w, err)
		return
	}

	wallet, err := s.services.Wallets.LinkWallet(r.Context(), service.LinkWalletInput{
		UserID:    userID,
		Address:   req.Address,
		ChainID:   types.ChainID(req.ChainID),
		Label:     req.Label,
		Message:   req.Message,
		Signature: req.Signature,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, wallet)
}

// handleListWallets handles GET /api/wallets
func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	wallets, err := s.services.Wallets.ListWallets(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"wallets": wallets,
	})
}

// handleRefreshWallet handles POST /api/wallets/{id}/refresh
func (s *Server) handleRefreshWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	walletID := mux.Vars(r)["id"]
	if err := s.services.Transactions.RefreshWallet(r.Context(), userID, walletID); err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"walletId":  walletID,
		"refreshed": true,
	})
}

package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/income-verifier/internal/service"
	"github.com/income-verifier/internal/types"
)

const maxPageSize = 1000

// transactionsResponse is the body of GET /api/transactions
type transactionsResponse struct {
	Transactions []*types.EnrichedTransaction `json:"transactions"`
	Summary      types.TransactionSummary     `json:"summary"`
	PageKey      string                       `json:"pageKey,omitempty"`
	FromCache    bool                         `json:"fromCache"`
}

// handleGetTransactions handles GET /api/transactions.
// With walletId it returns one page of that wallet; without, the first page of every wallet.
func (s *Server) handleGetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	walletID := query.Get("walletId")
	pageKey := query.Get("pageKey")

	maxCount := 0
	if raw := query.Get("maxCount"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPageSize {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "maxCount must be between 1 and 1000", nil)
			return
		}
		maxCount = n
	}

	refresh := false
	if raw := query.Get("refresh"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "refresh must be a boolean", nil)
			return
		}
		refresh = b
	}

	if walletID == "" {
		if pageKey != "" {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "pageKey requires walletId", nil)
			return
		}
		txs, err := s.services.Transactions.GetAllUserTransactions(r.Context(), userID, service.AllQuery{
			MaxCountPerWallet: maxCount,
			SkipCache:         refresh,
		})
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, transactionsResponse{
			Transactions: txs,
			Summary:      service.Summarize(txs),
		})
		return
	}

	result, err := s.services.Transactions.GetWalletTransactions(r.Context(), userID, walletID, service.WalletQuery{
		MaxCount:  maxCount,
		PageKey:   pageKey,
		SkipCache: refresh,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, transactionsResponse{
		Transactions: result.Transactions,
		Summary:      service.Summarize(result.Transactions),
		PageKey:      result.PageKey,
		FromCache:    result.FromCache,
	})
}

type setLabelRequest struct {
	ChainID  int64   `json:"chainId" validate:"required,gt=0"`
	WalletID string  `json:"walletId" validate:"required"`
	Label    *string `json:"label"`
}

// handleSetLabel handles PUT /api/transactions/{hash}/label. A null or blank label clears it.
func (s *Server) handleSetLabel(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req setLabelRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondBadRequest(w, err)
		return
	}

	label := ""
	if req.Label != nil {
		label = *req.Label
	}

	meta, err := s.services.Metadata.SetLabel(r.Context(), service.AnnotationTarget{
		UserID:   userID,
		TxHash:   mux.Vars(r)["hash"],
		ChainID:  types.ChainID(req.ChainID),
		WalletID: req.WalletID,
	}, label)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, meta)
}

type linkSenderRequest struct {
	ChainID          int64  `json:"chainId" validate:"required,gt=0"`
	WalletID         string `json:"walletId" validate:"required"`
	VerifiedSenderID string `json:"verifiedSenderId" validate:"required"`
}

// handleLinkVerifiedSender handles PUT /api/transactions/{hash}/verified-sender
func (s *Server) handleLinkVerifiedSender(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req linkSenderRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondBadRequest(w, err)
		return
	}

	meta, err := s.services.Metadata.LinkVerifiedSender(r.Context(), service.AnnotationTarget{
		UserID:   userID,
		TxHash:   mux.Vars(r)["hash"],
		ChainID:  types.ChainID(req.ChainID),
		WalletID: req.WalletID,
	}, req.VerifiedSenderID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, meta)
}

// handleListVerifiedSenders handles GET /api/verified-senders?chainId=
func (s *Server) handleListVerifiedSenders(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	var chainID *types.ChainID
	if raw := r.URL.Query().Get("chainId"); raw != "" {
		id, err := types.ParseChainID(raw)
		if err != nil || id <= 0 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "chainId must be a positive integer", nil)
			return
		}
		chainID = &id
	}

	senders, err := s.services.Metadata.ListVerifiedSenders(r.Context(), chainID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"verifiedSenders": senders,
	})
}

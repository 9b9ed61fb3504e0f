package service

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/income-verifier/internal/types"
)

// DefaultChallengeTTL is how long an issued wallet-link challenge stays valid
const DefaultChallengeTTL = 10 * time.Minute

// WalletChallenge is the server-issued text a wallet signs to prove control
type WalletChallenge struct {
	Message   string    `json:"message"`
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ChallengeStore keeps one outstanding challenge per (user, address, chain).
// A challenge is single use and expires after its TTL.
type ChallengeStore struct {
	mu    sync.Mutex
	items *gocache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewChallengeStore creates a store; ttl <= 0 uses DefaultChallengeTTL
func NewChallengeStore(ttl time.Duration) *ChallengeStore {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &ChallengeStore{
		items: gocache.New(ttl, 2*ttl),
		ttl:   ttl,
		now:   time.Now,
	}
}

func challengeKey(userID, address string, chainID types.ChainID) string {
	return userID + "|" + strings.ToLower(address) + "|" + chainID.String()
}

// Issue creates a fresh challenge, replacing any outstanding one for the same key
func (c *ChallengeStore) Issue(userID, address string, chainID types.ChainID) *WalletChallenge {
	issued := c.now().UTC()
	ch := &WalletChallenge{
		Nonce:     uuid.NewString(),
		ExpiresAt: issued.Add(c.ttl),
	}
	ch.Message = fmt.Sprintf(
		"Income Verifier asks you to confirm control of %s on chain %s.\n\nUser: %s\nNonce: %s\nIssued At: %s\nExpires At: %s",
		strings.ToLower(address), chainID, userID, ch.Nonce,
		issued.Format(time.RFC3339), ch.ExpiresAt.Format(time.RFC3339),
	)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Set(challengeKey(userID, address, chainID), ch, c.ttl)
	return ch
}

// Matches reports whether message is the outstanding, unexpired challenge for the key
func (c *ChallengeStore) Matches(userID, address string, chainID types.ChainID, message string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(challengeKey(userID, address, chainID), message) != nil
}

// Consume removes the challenge if message still matches it. It returns false when
// the challenge was already used, replaced, or has expired.
func (c *ChallengeStore) Consume(userID, address string, chainID types.ChainID, message string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := challengeKey(userID, address, chainID)
	if c.lookup(key, message) == nil {
		return false
	}
	c.items.Delete(key)
	return true
}

func (c *ChallengeStore) lookup(key, message string) *WalletChallenge {
	v, ok := c.items.Get(key)
	if !ok {
		return nil
	}
	ch := v.(*WalletChallenge)
	if ch.Message != message || !c.now().Before(ch.ExpiresAt) {
		return nil
	}
	return ch
}

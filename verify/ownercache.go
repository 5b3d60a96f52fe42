package verify

import (
	"sync"
	"time"

	"github.com/mark3labs/paywall-go/chain"
)

// ownerCache holds successful token account lookups. Only hits that are still
// fresh are served; everything else goes back to the chain.
type ownerCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]ownerEntry
}

type ownerEntry struct {
	account chain.TokenAccount
	expires time.Time
}

func newOwnerCache(ttl time.Duration) *ownerCache {
	return &ownerCache{ttl: ttl, entries: make(map[string]ownerEntry)}
}

func (c *ownerCache) get(address string, now time.Time) (chain.TokenAccount, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[address]
	if !ok {
		return chain.TokenAccount{}, false
	}
	if !now.Before(e.expires) {
		delete(c.entries, address)
		return chain.TokenAccount{}, false
	}
	return e.account, true
}

func (c *ownerCache) put(acct chain.TokenAccount, now time.Time) {
	if acct.Address == "" || acct.Owner == "" || acct.Mint == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[acct.Address] = ownerEntry{account: acct, expires: now.Add(c.ttl)}
}

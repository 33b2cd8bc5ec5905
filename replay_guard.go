package tollgate

import (
	"strings"
	"sync"
	"time"
)

// TTLReplayGuard is an in-memory ReplayGuard that remembers accepted
// settlement transaction hashes for a fixed TTL. Entries are pruned lazily on
// access. The TTL should cover at least the challenge deadline window, since
// an authorization cannot be replayed after its deadline anyway.
type TTLReplayGuard struct {
	mu     sync.Mutex
	used   map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
	sweeps int
}

// NewTTLReplayGuard creates a replay guard with the specified TTL.
func NewTTLReplayGuard(ttl time.Duration) *TTLReplayGuard {
	return &TTLReplayGuard{
		used: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// MarkUsed records a transaction hash, returning false if it was already
// recorded and has not yet expired. Hashes are compared case-insensitively.
func (g *TTLReplayGuard) MarkUsed(txHash string) bool {
	key := strings.ToLower(txHash)
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	// Sweep expired entries every so often to keep the map bounded.
	g.sweeps++
	if g.sweeps%1024 == 0 {
		for k, expiry := range g.used {
			if now.After(expiry) {
				delete(g.used, k)
			}
		}
	}

	if expiry, ok := g.used[key]; ok && now.Before(expiry) {
		return false
	}
	g.used[key] = now.Add(g.ttl)
	return true
}

// Len reports the number of tracked hashes, including expired entries not yet
// swept.
func (g *TTLReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.used)
}

package protocol

import (
	"net"
	"sync"
	"time"

	"github.com/nmxmxh/dht-core/internal/settings"
	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"
)

// Admission gates inbound queries per source address: a sender that
// exceeds Settings.BlockRatelimit queries/second is blocked for
// Settings.BlockTimeout seconds, mirroring the source's block_ratelimit
// and block_timeout knobs.
type Admission struct {
	mu           sync.Mutex
	limiterStore store.Store
	bucket       *limiter.TokenBucket
	blockTimeout time.Duration
	blockedUntil map[string]time.Time
}

// NewAdmission builds an Admission gate from cfg, reusing the teacher's
// token-bucket rate-limiter wiring (github.com/yasserelgammal/rate-limiter)
// in place of its gossip-peer throttling, here throttling inbound DHT
// queries by source address instead.
func NewAdmission(cfg settings.Settings) *Admission {
	st := store.NewMemoryStore(time.Minute)
	bucket, _ := limiter.NewTokenBucket(limiter.Config{
		Rate:     int64(cfg.BlockRatelimit),
		Duration: time.Second,
		Burst:    int64(cfg.BlockRatelimit),
	}, st)

	return &Admission{
		limiterStore: st,
		bucket:       bucket,
		blockTimeout: time.Duration(cfg.BlockTimeout) * time.Second,
		blockedUntil: make(map[string]time.Time),
	}
}

// Allow reports whether a query from addr should be processed. A source
// that has tripped the rate limit is blocked outright until its block
// window expires, rather than merely throttled, matching the source's
// all-or-nothing block semantics.
func (a *Admission) Allow(addr net.IP) bool {
	key := addr.String()

	a.mu.Lock()
	if until, blocked := a.blockedUntil[key]; blocked {
		if time.Now().Before(until) {
			a.mu.Unlock()
			return false
		}
		delete(a.blockedUntil, key)
	}
	a.mu.Unlock()

	if a.bucket == nil {
		return true
	}
	if a.bucket.Allow(key) {
		return true
	}

	a.mu.Lock()
	a.blockedUntil[key] = time.Now().Add(a.blockTimeout)
	a.mu.Unlock()
	return false
}

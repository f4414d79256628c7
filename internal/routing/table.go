package routing

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nmxmxh/dht-core/internal/dhtid"
	"github.com/nmxmxh/dht-core/internal/dhtmsg"
	"github.com/sony/gobreaker"
)

// Pinger sends a liveness ping to a node and reports whether it responded.
// Supplied by the protocol/transport layer; the routing table never talks
// to the network directly.
type Pinger func(n dhtmsg.Node) (alive bool)

// Table is the routing table: an ordered sequence of Buckets covering the
// id space, a reference to the owning node's own id, and the bucket size
// K. The zero Table is not usable; construct with New.
type Table struct {
	own      dhtid.NodeId
	k        int
	buckets  []*Bucket
	logger   *slog.Logger
	pinger   Pinger
	breakers map[dhtid.NodeId]*gobreaker.CircuitBreaker
}

// New builds a routing table for the given local id with one bucket
// covering the whole space. pinger may be nil, in which case a bucket-head
// liveness ping is a no-op that reports the head alive (useful for tests
// that only exercise insertion/splitting).
func New(own dhtid.NodeId, k int, logger *slog.Logger, pinger Pinger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	if k <= 0 {
		k = 8
	}
	return &Table{
		own:      own,
		k:        k,
		buckets:  []*Bucket{{Lower: dhtid.Min(), Upper: dhtid.Max(), LastUpdated: time.Now()}},
		logger:   logger.With("component", "routing"),
		pinger:   pinger,
		breakers: make(map[dhtid.NodeId]*gobreaker.CircuitBreaker),
	}
}

// K returns the configured bucket size.
func (t *Table) K() int { return t.k }

// Buckets returns the current bucket list (read-only snapshot; callers
// must not mutate it).
func (t *Table) Buckets() []*Bucket { return t.buckets }

func (t *Table) bucketIndexFor(id dhtid.NodeId) int {
	for i, b := range t.buckets {
		if b.Contains(id) {
			return i
		}
	}
	return -1
}

// AddContact inserts or refreshes node in the routing table, splitting
// buckets per the core's policy; when a full bucket cannot split, node
// goes to the replacement list and the bucket head is pinged.
func (t *Table) AddContact(node dhtmsg.Node) {
	idx := t.bucketIndexFor(node.Id)
	if idx < 0 {
		t.logger.Warn("no bucket covers id", "id", fmt.Sprintf("%x", node.Id.Bytes()))
		return
	}
	b := t.buckets[idx]

	if pos := indexOf(b.Primary, node.Id); pos >= 0 {
		b.Primary[pos] = node
		b.LastUpdated = time.Now()
		return
	}

	if len(b.Primary) < t.k {
		b.Primary = append(b.Primary, node)
		b.LastUpdated = time.Now()
		return
	}

	ownBucket := b.Contains(t.own)
	if ownBucket || b.depth()%5 != 0 {
		t.splitBucket(idx)
		t.AddContact(node)
		return
	}

	if pos := indexOf(b.Replacement, node.Id); pos >= 0 {
		b.Replacement[pos] = node
	} else {
		b.Replacement = append(b.Replacement, node)
	}
	t.pingHead(b)
}

// splitBucket replaces the bucket at idx with its two children.
func (t *Table) splitBucket(idx int) {
	left, right := t.buckets[idx].split()
	next := make([]*Bucket, 0, len(t.buckets)+1)
	next = append(next, t.buckets[:idx]...)
	next = append(next, left, right)
	next = append(next, t.buckets[idx+1:]...)
	t.buckets = next
}

// pingHead liveness-checks the primary bucket head through a per-node
// circuit breaker, so a head that has failed three consecutive pings isn't
// re-pinged on every subsequent insert attempt into a full, non-splitting
// bucket — its breaker stays open until the 30-second cooldown elapses.
func (t *Table) pingHead(b *Bucket) {
	if t.pinger == nil || len(b.Primary) == 0 {
		return
	}
	head := b.Primary[0]
	cb := t.breakerFor(head.Id)
	_, err := cb.Execute(func() (interface{}, error) {
		if !t.pinger(head) {
			return nil, fmt.Errorf("routing: bucket head %x did not respond", head.Id.Bytes())
		}
		return nil, nil
	})
	if err != nil {
		t.logger.Debug("bucket head liveness ping failed", "error", err)
	}
}

func (t *Table) breakerFor(id dhtid.NodeId) *gobreaker.CircuitBreaker {
	if cb, ok := t.breakers[id]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("bucket-head-%x", id.Bytes()[:4]),
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	t.breakers[id] = cb
	return cb
}

// StaleBuckets returns the buckets not touched in over an hour.
func (t *Table) StaleBuckets() []*Bucket {
	now := time.Now()
	var out []*Bucket
	for _, b := range t.buckets {
		if b.isStale(now) {
			out = append(out, b)
		}
	}
	return out
}

type neighbour struct {
	node dhtmsg.Node
	dist dhtid.NodeId
}

// FindNeighbours returns up to k contacts ordered by XOR distance to
// target, excluding any node sharing a home with exclude (if non-zero) and
// excluding the target id itself.
func (t *Table) FindNeighbours(target dhtid.NodeId, k int, exclude *dhtmsg.Node) []dhtmsg.Node {
	if k <= 0 {
		k = t.k
	}
	var candidates []neighbour
	for _, b := range t.buckets {
		for _, n := range b.Primary {
			if n.Id == target {
				continue
			}
			if exclude != nil && n.SameHomeAs(*exclude) {
				continue
			}
			candidates = append(candidates, neighbour{node: n, dist: dhtid.Distance(n.Id, target)})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].dist.Compare(candidates[j].dist) < 0
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]dhtmsg.Node, len(candidates))
	for i, c := range candidates {
		out[i] = c.node
	}
	return out
}

// RefreshTargets returns one random id per stale bucket, uniformly
// distributed in that bucket's range, to seed a background refresh
// traversal.
func (t *Table) RefreshTargets() []dhtid.NodeId {
	stale := t.StaleBuckets()
	out := make([]dhtid.NodeId, 0, len(stale))
	for _, b := range stale {
		out = append(out, dhtid.RangedRandom(b.Lower, b.Upper))
	}
	return out
}

// TotalContacts returns the number of primary contacts across all buckets.
func (t *Table) TotalContacts() int {
	n := 0
	for _, b := range t.buckets {
		n += len(b.Primary)
	}
	return n
}

// Package traversal implements the Kademlia iterative lookup: repeatedly
// query the closest uncontacted nodes until the K closest responders have
// been found, driven by Observer reply/timeout/abort callbacks.
package traversal

import (
	"log/slog"
	"sort"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/nmxmxh/dht-core/internal/dhtid"
	"github.com/nmxmxh/dht-core/internal/dhtmsg"
	"github.com/nmxmxh/dht-core/internal/routing"
)

// DefaultDeadline is how long a traversal runs before every in-flight
// observer is marked aborted.
const DefaultDeadline = 60 * time.Second

// Querier issues one outbound request to a node on behalf of the
// traversal and returns the observer tracking it. The traversal never
// talks to the network directly; this is supplied by the protocol/
// transport layer.
type Querier func(t *Traversal, node dhtmsg.Node) dhtmsg.Observer

type candidate struct {
	node      dhtmsg.Node
	dist      dhtid.NodeId
	contacted bool
	failures  int
}

// observerSlot is one arena entry: the traversal holds observers by index
// so an observer can reference its owning traversal only via slot number,
// never a direct pointer back — avoiding the observer<->traversal
// reference cycle the source warns about.
type observerSlot struct {
	node     dhtmsg.Node
	flags    dhtmsg.ObserverFlags
	sentAt   time.Time
	observer dhtmsg.Observer
}

// Traversal tracks one outstanding Kademlia lookup.
type Traversal struct {
	id           uint64
	target       dhtid.NodeId
	k            int
	branching    int
	maxFailCount int
	deadline     time.Time
	logger       *slog.Logger

	candidates []candidate
	pool       []observerSlot

	// seen deduplicates query issuance against nodes already queried this
	// traversal, reusing the teacher's gossip-message-dedup Bloom filter
	// pattern for a different purpose: RPC-retry-loop suppression rather
	// than gossip replay suppression.
	seen *bloom.BloomFilter

	querier Querier
	done    bool
}

// New seeds a traversal with the routing table's current closest
// neighbours to target.
func New(id uint64, target dhtid.NodeId, table *routing.Table, branching, maxFailCount int, querier Querier, logger *slog.Logger) *Traversal {
	if logger == nil {
		logger = slog.Default()
	}
	k := table.K()
	seed := table.FindNeighbours(target, k, nil)
	cands := make([]candidate, 0, len(seed))
	for _, n := range seed {
		cands = append(cands, candidate{node: n, dist: dhtid.Distance(n.Id, target)})
	}
	sortCandidates(cands)

	return &Traversal{
		id:           id,
		target:       target,
		k:            k,
		branching:    branching,
		maxFailCount: maxFailCount,
		deadline:     time.Now().Add(DefaultDeadline),
		logger:       logger.With("component", "traversal", "traversal_id", id),
		candidates:   cands,
		seen:         bloom.NewWithEstimates(1000, 0.01),
		querier:      querier,
	}
}

func sortCandidates(c []candidate) {
	sort.Slice(c, func(i, j int) bool { return c[i].dist.Compare(c[j].dist) < 0 })
}

// Step drives one round of progress: issues requests to uncontacted,
// closer-than-worst-contacted candidates until branching observers are in
// flight or there is nothing left to query.
func (t *Traversal) Step() {
	if t.done || time.Now().After(t.deadline) {
		t.abortAll()
		return
	}

	inFlight := t.inFlightCount()
	worst := t.worstContactedDistance()

	for i := range t.candidates {
		if inFlight >= t.branching {
			break
		}
		c := &t.candidates[i]
		if c.contacted {
			continue
		}
		if worst != nil && c.dist.Compare(*worst) >= 0 {
			continue
		}
		retry := false
		if t.seen.Test(c.node.Id[:]) {
			for j := range t.pool {
				s := &t.pool[j]
				if s.node.Id == c.node.Id && s.flags.Has(dhtmsg.FlagShortTimeout) && !s.flags.Has(dhtmsg.FlagDone) {
					s.flags = s.flags.Set(dhtmsg.FlagDone)
					inFlight--
					retry = true
				}
			}
			if !retry {
				continue
			}
		}
		t.seen.Add(c.node.Id[:])
		c.contacted = true
		obs := t.querier(t, c.node)
		flags := dhtmsg.FlagQueried
		if retry {
			flags = flags.Set(dhtmsg.FlagShortTimeout)
		}
		t.pool = append(t.pool, observerSlot{
			node:     c.node,
			flags:    flags,
			sentAt:   time.Now(),
			observer: obs,
		})
		inFlight++
	}

	if t.allClosestContacted() {
		t.done = true
	}
}

func (t *Traversal) inFlightCount() int {
	n := 0
	for _, s := range t.pool {
		if s.flags.Has(dhtmsg.FlagQueried) && !s.flags.Has(dhtmsg.FlagDone) {
			n++
		}
	}
	return n
}

func (t *Traversal) worstContactedDistance() *dhtid.NodeId {
	var worst *dhtid.NodeId
	count := 0
	for _, c := range t.candidates {
		if !c.contacted {
			continue
		}
		count++
		if worst == nil || c.dist.Compare(*worst) > 0 {
			d := c.dist
			worst = &d
		}
	}
	if count < t.k {
		return nil // haven't filled the closest-k set yet; nothing is "worst" yet
	}
	return worst
}

func (t *Traversal) allClosestContacted() bool {
	limit := t.k
	if limit > len(t.candidates) {
		limit = len(t.candidates)
	}
	sortCandidates(t.candidates)
	for i := 0; i < limit; i++ {
		if !t.candidates[i].contacted {
			return false
		}
	}
	return true
}

// OnReply inserts any new contacts harvested from msg into the candidate
// heap and marks the responder contacted.
func (t *Traversal) OnReply(slot int, newContacts []dhtmsg.Node) {
	if slot < 0 || slot >= len(t.pool) {
		return
	}
	t.pool[slot].flags = t.pool[slot].flags.Set(dhtmsg.FlagAlive).Set(dhtmsg.FlagDone)
	for _, n := range newContacts {
		t.addCandidate(n)
	}
	sortCandidates(t.candidates)
}

func (t *Traversal) addCandidate(n dhtmsg.Node) {
	for _, c := range t.candidates {
		if c.node.Id == n.Id {
			return
		}
	}
	t.candidates = append(t.candidates, candidate{node: n, dist: dhtid.Distance(n.Id, t.target)})
}

// OnShortTimeout marks the observer for a single retry.
func (t *Traversal) OnShortTimeout(slot int) {
	if slot < 0 || slot >= len(t.pool) {
		return
	}
	s := &t.pool[slot]
	if s.flags.Has(dhtmsg.FlagShortTimeout) {
		t.OnTimeout(slot)
		return
	}
	s.flags = s.flags.Set(dhtmsg.FlagShortTimeout)
	for i := range t.candidates {
		if t.candidates[i].node.Id == s.node.Id {
			t.candidates[i].contacted = false
		}
	}
}

// OnTimeout marks the observer failed; after maxFailCount consecutive
// failures the caller should evict the node from the routing table (the
// traversal itself has no routing-table reference, so it only reports the
// node and the eviction verdict back through its return values).
func (t *Traversal) OnTimeout(slot int) (node dhtmsg.Node, shouldEvict bool) {
	if slot < 0 || slot >= len(t.pool) {
		return dhtmsg.Node{}, false
	}
	s := &t.pool[slot]
	s.flags = s.flags.Set(dhtmsg.FlagFailed).Set(dhtmsg.FlagDone)
	for i := range t.candidates {
		if t.candidates[i].node.Id == s.node.Id {
			t.candidates[i].failures++
			shouldEvict = t.candidates[i].failures >= t.maxFailCount
		}
	}
	return s.node, shouldEvict
}

func (t *Traversal) abortAll() {
	for i := range t.pool {
		if !t.pool[i].flags.Has(dhtmsg.FlagDone) {
			t.pool[i].flags = t.pool[i].flags.Set(dhtmsg.FlagDone)
			if t.pool[i].observer != nil {
				t.pool[i].observer.Abort()
			}
		}
	}
	t.done = true
}

// Done reports whether the traversal has finished (closest-k all
// contacted, or the deadline elapsed).
func (t *Traversal) Done() bool { return t.done }

// Results returns the current closest-k candidates, closest first.
func (t *Traversal) Results() []dhtmsg.Node {
	sortCandidates(t.candidates)
	limit := t.k
	if limit > len(t.candidates) {
		limit = len(t.candidates)
	}
	out := make([]dhtmsg.Node, limit)
	for i := 0; i < limit; i++ {
		out[i] = t.candidates[i].node
	}
	return out
}

// Package routing implements the Kademlia-style bucketed routing table: a
// sequence of Buckets covering the 160-bit id space, splitting policy,
// staleness tracking, and closest-neighbour queries.
package routing

import (
	"math/big"
	"time"

	"github.com/nmxmxh/dht-core/internal/dhtid"
	"github.com/nmxmxh/dht-core/internal/dhtmsg"
)

// Bucket covers the inclusive range [Lower, Upper] of the id space. Primary
// holds up to K live contacts; Replacement holds overflow candidates kept
// in case a primary contact goes stale.
type Bucket struct {
	Lower       dhtid.NodeId
	Upper       dhtid.NodeId
	Primary     []dhtmsg.Node
	Replacement []dhtmsg.Node
	LastUpdated time.Time
}

// Contains reports whether id falls in [Lower, Upper].
func (b *Bucket) Contains(id dhtid.NodeId) bool {
	return b.Lower.Compare(id) <= 0 && id.Compare(b.Upper) <= 0
}

// indexOf returns the index of id within nodes, or -1.
func indexOf(nodes []dhtmsg.Node, id dhtid.NodeId) int {
	for i, n := range nodes {
		if n.Id == id {
			return i
		}
	}
	return -1
}

// isStale reports whether the bucket hasn't been touched in over an hour.
func (b *Bucket) isStale(now time.Time) bool {
	return now.Sub(b.LastUpdated) > time.Hour
}

// depth is a proxy for how deep into the tree this bucket sits: the
// maximum XOR-distance (160 - leading_zeros, one past DistanceExp's
// distance-exponent) from the all-ones id to any contact currently held
// in the bucket. An empty bucket reports 0.
func (b *Bucket) depth() int {
	best := 0
	max := dhtid.Max()
	consider := func(n dhtmsg.Node) {
		if e := dhtid.Size*8 - dhtid.Distance(max, n.Id).LeadingZeros(); e > best {
			best = e
		}
	}
	for _, n := range b.Primary {
		consider(n)
	}
	for _, n := range b.Replacement {
		consider(n)
	}
	return best
}

// split partitions b into two children at its midpoint and redistributes
// every primary and replacement contact into whichever child's range
// contains it.
func (b *Bucket) split() (left, right *Bucket) {
	mid := midpoint(b.Lower, b.Upper)
	now := time.Now()
	left = &Bucket{Lower: b.Lower, Upper: mid, LastUpdated: now}
	right = &Bucket{Lower: increment(mid), Upper: b.Upper, LastUpdated: now}

	place := func(n dhtmsg.Node, primary bool) {
		dst := left
		if !left.Contains(n.Id) {
			dst = right
		}
		if primary {
			dst.Primary = append(dst.Primary, n)
		} else {
			dst.Replacement = append(dst.Replacement, n)
		}
	}
	for _, n := range b.Primary {
		place(n, true)
	}
	for _, n := range b.Replacement {
		place(n, false)
	}
	return left, right
}

// midpoint returns lower + distance(lower, upper)/2. For a bucket's two
// endpoints — which share the prefix bits that define the bucket's range —
// the XOR distance and the arithmetic difference coincide, so this uses
// plain big-integer arithmetic for the addition and halving.
func midpoint(lower, upper dhtid.NodeId) dhtid.NodeId {
	lo := new(big.Int).SetBytes(lower[:])
	hi := new(big.Int).SetBytes(upper[:])
	dist := new(big.Int).Sub(hi, lo)
	half := new(big.Int).Rsh(dist, 1)
	mid := new(big.Int).Add(lo, half)

	var out dhtid.NodeId
	b := mid.Bytes()
	copy(out[dhtid.Size-len(b):], b)
	return out
}

// increment returns id+1 (saturating at all-ones), used to build the
// right child's lower bound immediately after the left child's upper
// bound.
func increment(id dhtid.NodeId) dhtid.NodeId {
	out := id
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out
		}
		out[i] = 0
	}
	return dhtid.Max()
}

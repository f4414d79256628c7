// Package dhtmsg holds the cross-cutting value types every other DHT
// package depends on: contact identity (Node), the pending-request state
// machine (Observer/ObserverFlags), and message envelopes and schema
// verification (Msg/KeyDesc).
package dhtmsg

import (
	"net"

	"github.com/nmxmxh/dht-core/internal/dhtid"
)

// Node identifies a DHT contact: an id plus the endpoint it was last seen
// at. Addr may be nil for a node known only by id (e.g. the local node
// before it has observed its own external address).
type Node struct {
	Id   dhtid.NodeId
	Addr net.IP
	Port uint16
}

// SameHomeAs reports whether two nodes share the same (ip, port) endpoint.
// This compares against the other node's fields, not the receiver's own
// fields against themselves — a self-comparison bug present in one
// revision of the reference implementation that would make SameHomeAs
// always true.
func (n Node) SameHomeAs(other Node) bool {
	if n.Addr == nil || other.Addr == nil {
		return false
	}
	return n.Addr.Equal(other.Addr) && n.Port == other.Port
}

// Distance returns the XOR distance between two nodes' ids.
func (n Node) Distance(other Node) dhtid.NodeId {
	return dhtid.Distance(n.Id, other.Id)
}

// PeerEntry is one announced peer for a torrent: when it was added, its
// endpoint, and whether it announced as a seed. PeerEntry ordering is by
// (ip, port), which is what storage relies on for binary-search dedup.
type PeerEntry struct {
	AddedAt int64 // unix seconds
	Addr    net.IP
	Port    uint16
	IsSeed  bool
}

// Compare orders two peer entries by (ip, port) for sorted-list storage.
func (p PeerEntry) Compare(other PeerEntry) int {
	if c := compareIP(p.Addr, other.Addr); c != 0 {
		return c
	}
	switch {
	case p.Port < other.Port:
		return -1
	case p.Port > other.Port:
		return 1
	default:
		return 0
	}
}

func compareIP(a, b net.IP) int {
	ab, bb := []byte(a), []byte(b)
	for i := 0; i < len(ab) && i < len(bb); i++ {
		if ab[i] != bb[i] {
			if ab[i] < bb[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(ab) < len(bb):
		return -1
	case len(ab) > len(bb):
		return 1
	default:
		return 0
	}
}

// Package protocol implements the glue between routing, storage, and the
// wire: welcoming newly-discovered nodes with the data they're now
// responsible for, generating refresh targets for stale buckets, and
// admission control (per-source rate limiting) for inbound queries.
package protocol

import (
	"log/slog"

	"github.com/nmxmxh/dht-core/internal/dhtid"
	"github.com/nmxmxh/dht-core/internal/dhtmsg"
	"github.com/nmxmxh/dht-core/internal/routing"
)

// StoreFunc emits a store RPC (the concrete put/announce message is built
// by the caller) to node for the given key, because node is now
// responsible for data near that key.
type StoreFunc func(node dhtmsg.Node, key dhtid.NodeId)

// Glue bundles a routing table with the callbacks protocol operations
// need, and a logger grounded in the ambient logging convention shared by
// every package.
type Glue struct {
	Table  *routing.Table
	Store  StoreFunc
	Logger *slog.Logger
}

// New constructs a Glue. logger may be nil.
func New(table *routing.Table, store StoreFunc, logger *slog.Logger) *Glue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Glue{Table: table, Store: store, Logger: logger.With("component", "protocol")}
}

// WelcomeIfNew re-replicates data to a genuinely new contact: for each
// stored key k, it treats k itself as the DHT target id (storage keys are
// already 160-bit hashes, so no further digest is needed) and consults
// the routing table's current neighbours of that id. If our distance to
// that id is less than the current closest neighbour's distance, and the
// new node's distance is also less than the current farthest neighbour's
// distance, the new node is now within the set of nodes responsible for
// that key, so a store RPC is emitted to it. The node is always added to
// the routing table afterward, new or not.
func (g *Glue) WelcomeIfNew(own dhtid.NodeId, node dhtmsg.Node, storedKeys []dhtid.NodeId) {
	for _, key := range storedKeys {
		neighbours := g.Table.FindNeighbours(key, g.Table.K(), nil)
		if len(neighbours) == 0 {
			continue
		}
		closest := dhtid.Distance(neighbours[0].Id, key)
		farthest := dhtid.Distance(neighbours[len(neighbours)-1].Id, key)
		ownDist := dhtid.Distance(own, key)
		nodeDist := dhtid.Distance(node.Id, key)

		if ownDist.Compare(closest) < 0 && nodeDist.Compare(farthest) < 0 {
			if g.Store != nil {
				g.Store(node, key)
			}
		}
	}
	g.Table.AddContact(node)
}

// GetRefreshIds returns one random id per stale bucket, to seed a
// background refresh traversal.
func (g *Glue) GetRefreshIds() []dhtid.NodeId {
	return g.Table.RefreshTargets()
}

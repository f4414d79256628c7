package traversal

import (
	"log/slog"

	"github.com/nmxmxh/dht-core/internal/bencode"
	"github.com/nmxmxh/dht-core/internal/dhtid"
	"github.com/nmxmxh/dht-core/internal/dhtmsg"
	"github.com/nmxmxh/dht-core/internal/routing"
)

// responderData is what FindData harvests from one reply: the write token
// needed for a follow-up announce_peer/put, and either a peer list or an
// item body.
type responderData struct {
	token  []byte
	peers  []dhtmsg.Node
	item   bencode.Value
	hasItem bool
}

// FindData specializes Traversal for get_peers / get queries: in addition
// to the normal closest-node lookup, it harvests write-tokens and payload
// bodies per responder id so a subsequent announce_peer or put can reuse
// them.
type FindData struct {
	*Traversal
	byResponder map[dhtid.NodeId]responderData
}

// NewFindData builds a FindData traversal.
func NewFindData(id uint64, target dhtid.NodeId, table *routing.Table, branching, maxFailCount int, querier Querier, logger *slog.Logger) *FindData {
	return &FindData{
		Traversal:   New(id, target, table, branching, maxFailCount, querier, logger),
		byResponder: make(map[dhtid.NodeId]responderData),
	}
}

// HarvestReply records a responder's token, and optionally peers or an
// item body, then forwards to the base traversal's OnReply with any new
// routing candidates found in the response.
func (f *FindData) HarvestReply(slot int, responder dhtid.NodeId, token []byte, peers, newContacts []dhtmsg.Node, item bencode.Value, hasItem bool) {
	f.byResponder[responder] = responderData{token: token, peers: peers, item: item, hasItem: hasItem}
	f.OnReply(slot, newContacts)
}

// Token returns the write-token harvested from responder, if any.
func (f *FindData) Token(responder dhtid.NodeId) ([]byte, bool) {
	d, ok := f.byResponder[responder]
	if !ok {
		return nil, false
	}
	return d.token, ok
}

// Peers returns the peer list harvested from responder, if any.
func (f *FindData) Peers(responder dhtid.NodeId) []dhtmsg.Node {
	return f.byResponder[responder].peers
}

// Item returns the item body harvested from responder, if any.
func (f *FindData) Item(responder dhtid.NodeId) (bencode.Value, bool) {
	d, ok := f.byResponder[responder]
	if !ok || !d.hasItem {
		return bencode.Value{}, false
	}
	return d.item, true
}

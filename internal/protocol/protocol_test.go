package protocol_test

import (
	"net"
	"testing"

	"github.com/nmxmxh/dht-core/internal/dhtid"
	"github.com/nmxmxh/dht-core/internal/dhtmsg"
	"github.com/nmxmxh/dht-core/internal/protocol"
	"github.com/nmxmxh/dht-core/internal/routing"
	"github.com/nmxmxh/dht-core/internal/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWelcomeIfNewAddsContactRegardless(t *testing.T) {
	own := dhtid.Update([]byte("own"))
	table := routing.New(own, 8, nil, nil)
	glue := protocol.New(table, nil, nil)

	node := dhtmsg.Node{Id: dhtid.Update([]byte("newcomer")), Addr: net.ParseIP("5.5.5.5"), Port: 6881}
	glue.WelcomeIfNew(own, node, nil)

	assert.Equal(t, 1, table.TotalContacts())
}

func TestWelcomeIfNewStoresWhenNewNodeIsCloser(t *testing.T) {
	own := dhtid.Update([]byte("own"))
	table := routing.New(own, 8, nil, nil)

	key := dhtid.Update([]byte("some-key"))

	for i := 0; i < 4; i++ {
		var id dhtid.NodeId
		id[0] = byte(i + 10)
		table.AddContact(dhtmsg.Node{Id: id, Addr: net.ParseIP("10.0.0.1"), Port: uint16(i)})
	}

	var stored []dhtid.NodeId
	glue := protocol.New(table, func(n dhtmsg.Node, k dhtid.NodeId) {
		stored = append(stored, k)
	}, nil)

	newcomer := key // distance 0 to key: guaranteed closer than any existing neighbour
	glue.WelcomeIfNew(own, dhtmsg.Node{Id: newcomer, Addr: net.ParseIP("6.6.6.6"), Port: 1}, []dhtid.NodeId{key})

	require.Len(t, stored, 1)
	assert.Equal(t, key, stored[0])
}

func TestGetRefreshIdsSkipsFreshBuckets(t *testing.T) {
	own := dhtid.Update([]byte("own"))
	table := routing.New(own, 8, nil, nil)
	glue := protocol.New(table, nil, nil)

	ids := glue.GetRefreshIds()
	assert.Empty(t, ids, "a freshly created table has no stale buckets yet")
}

func TestAdmissionBlocksAfterRateLimitTrip(t *testing.T) {
	cfg := settings.Default()
	cfg.BlockRatelimit = 1
	cfg.BlockTimeout = 60
	admission := protocol.NewAdmission(cfg)

	addr := net.ParseIP("1.2.3.4")
	assert.True(t, admission.Allow(addr))
	assert.False(t, admission.Allow(addr), "second immediate query should exceed the one-per-second budget")
}

func TestAdmissionTracksSourcesIndependently(t *testing.T) {
	cfg := settings.Default()
	cfg.BlockRatelimit = 1
	cfg.BlockTimeout = 60
	admission := protocol.NewAdmission(cfg)

	assert.True(t, admission.Allow(net.ParseIP("1.1.1.1")))
	assert.True(t, admission.Allow(net.ParseIP("2.2.2.2")))
}

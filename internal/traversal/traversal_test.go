package traversal_test

import (
	"net"
	"testing"

	"github.com/nmxmxh/dht-core/internal/dhtid"
	"github.com/nmxmxh/dht-core/internal/dhtmsg"
	"github.com/nmxmxh/dht-core/internal/routing"
	"github.com/nmxmxh/dht-core/internal/traversal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededTable(t *testing.T, own dhtid.NodeId, n int) *routing.Table {
	table := routing.New(own, 8, nil, nil)
	for i := 0; i < n; i++ {
		var id dhtid.NodeId
		id[0] = byte(i + 1)
		table.AddContact(dhtmsg.Node{Id: id, Addr: net.ParseIP("10.0.0.1"), Port: uint16(i)})
	}
	return table
}

func TestTraversalSeedsFromRoutingTable(t *testing.T) {
	own := dhtid.Update([]byte("own"))
	table := seededTable(t, own, 5)
	target := dhtid.Update([]byte("target"))

	queried := 0
	tr := traversal.New(1, target, table, 3, 20, func(tr *traversal.Traversal, n dhtmsg.Node) dhtmsg.Observer {
		queried++
		return nil
	}, nil)

	require.NotNil(t, tr)
	tr.Step()
	assert.Greater(t, queried, 0)
	assert.LessOrEqual(t, queried, 3) // branching cap
}

func TestTraversalFinishesWhenAllClosestContacted(t *testing.T) {
	own := dhtid.Update([]byte("own"))
	table := seededTable(t, own, 2)
	target := dhtid.Update([]byte("target"))

	tr := traversal.New(2, target, table, 5, 20, func(tr *traversal.Traversal, n dhtmsg.Node) dhtmsg.Observer {
		return nil
	}, nil)

	for i := 0; i < 5 && !tr.Done(); i++ {
		tr.Step()
	}
	assert.True(t, tr.Done())
}

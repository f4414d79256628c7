package routing_test

import (
	"math/big"
	"net"
	"testing"

	"github.com/nmxmxh/dht-core/internal/dhtid"
	"github.com/nmxmxh/dht-core/internal/dhtmsg"
	"github.com/nmxmxh/dht-core/internal/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idWithFirstByte(b byte) dhtid.NodeId {
	var id dhtid.NodeId
	id[0] = b
	return id
}

func nodeWithId(b byte) dhtmsg.Node {
	return dhtmsg.Node{Id: idWithFirstByte(b), Addr: net.ParseIP("10.0.0.1"), Port: uint16(b)}
}

func TestNewTableStartsWithOneFullRangeBucket(t *testing.T) {
	table := routing.New(idWithFirstByte(0), 8, nil, nil)
	require.Len(t, table.Buckets(), 1)
	b := table.Buckets()[0]
	assert.Equal(t, dhtid.Min(), b.Lower)
	assert.Equal(t, dhtid.Max(), b.Upper)
}

func TestEveryContactWithinItsBucketRange(t *testing.T) {
	table := routing.New(idWithFirstByte(0x01), 8, nil, nil)
	for i := byte(1); i <= 9; i++ {
		table.AddContact(nodeWithId(i))
	}
	for _, b := range table.Buckets() {
		for _, n := range b.Primary {
			assert.True(t, b.Lower.Compare(n.Id) <= 0)
			assert.True(t, n.Id.Compare(b.Upper) <= 0)
		}
	}
}

func TestSplitAfterNinthInsertWithK8(t *testing.T) {
	own := idWithFirstByte(0x01)
	table := routing.New(own, 8, nil, nil)

	for i := byte(1); i <= 8; i++ {
		table.AddContact(nodeWithId(i))
	}
	require.Len(t, table.Buckets(), 1, "no split expected before the bucket is full")

	table.AddContact(nodeWithId(9))
	assert.Greater(t, len(table.Buckets()), 1, "9th insert into a full K=8 bucket should split")

	total := 0
	for _, b := range table.Buckets() {
		total += len(b.Primary)
	}
	assert.Equal(t, 9, total)
}

func TestSplitChildrenPartitionParentRangeNoOverlapNoGap(t *testing.T) {
	own := idWithFirstByte(0x01)
	table := routing.New(own, 8, nil, nil)
	for i := byte(1); i <= 9; i++ {
		table.AddContact(nodeWithId(i))
	}
	buckets := table.Buckets()
	require.GreaterOrEqual(t, len(buckets), 2)
	assert.Equal(t, dhtid.Min(), buckets[0].Lower)
	assert.Equal(t, dhtid.Max(), buckets[len(buckets)-1].Upper)

	for i := 0; i < len(buckets)-1; i++ {
		left, right := buckets[i], buckets[i+1]
		assert.True(t, left.Upper.Compare(right.Lower) < 0, "adjacent buckets must not overlap")
		next := new(big.Int).Add(new(big.Int).SetBytes(left.Upper[:]), big.NewInt(1))
		assert.Equal(t, 0, next.Cmp(new(big.Int).SetBytes(right.Lower[:])), "adjacent buckets must leave no gap")
	}
}

func TestFindNeighboursOrdersByDistanceAndExcludesTarget(t *testing.T) {
	own := idWithFirstByte(0x01)
	table := routing.New(own, 8, nil, nil)
	for i := byte(1); i <= 9; i++ {
		table.AddContact(nodeWithId(i))
	}

	target := idWithFirstByte(0x05)
	neighbours := table.FindNeighbours(target, 4, nil)
	require.LessOrEqual(t, len(neighbours), 4)
	for _, n := range neighbours {
		assert.NotEqual(t, target, n.Id)
	}
	for i := 1; i < len(neighbours); i++ {
		prev := dhtid.Distance(neighbours[i-1].Id, target)
		cur := dhtid.Distance(neighbours[i].Id, target)
		assert.True(t, prev.Compare(cur) <= 0)
	}
}

func TestPingerInvokedOnlyWhenBucketCannotSplit(t *testing.T) {
	var pinged int
	pinger := func(n dhtmsg.Node) bool {
		pinged++
		return true
	}
	// With K=1, a 0xF0... contact gives its far bucket depth 156 (not a
	// multiple of 5), so the full far bucket keeps splitting and no ping
	// is sent.
	own := idWithFirstByte(0x00)
	table := routing.New(own, 1, nil, pinger)
	table.AddContact(dhtmsg.Node{Id: idWithFirstByte(0xF0)})
	table.AddContact(dhtmsg.Node{Id: idWithFirstByte(0xF1)})
	assert.Equal(t, 0, pinged)

	// A 0xF8... contact gives depth 155 (a multiple of 5): once the far
	// bucket is full it cannot split, so the newcomer goes to the
	// replacement list and the circuit-breaker-wrapped pinger is called
	// on the bucket head.
	table = routing.New(own, 1, nil, pinger)
	table.AddContact(dhtmsg.Node{Id: idWithFirstByte(0xF8)})
	table.AddContact(dhtmsg.Node{Id: idWithFirstByte(0xF9)})
	assert.Equal(t, 1, pinged)
}

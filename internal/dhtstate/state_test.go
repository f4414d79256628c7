package dhtstate_test

import (
	"net"
	"testing"

	"github.com/nmxmxh/dht-core/internal/bencode"
	"github.com/nmxmxh/dht-core/internal/dhtid"
	"github.com/nmxmxh/dht-core/internal/dhtstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRoundTrip(t *testing.T) {
	id, err := dhtid.FromBytes([]byte("aaaaabbbbbcccccddddd"))
	require.NoError(t, err)

	original := dhtstate.State{
		NodeIds: []dhtstate.NodeIdEntry{{Id: id, Addr: net.ParseIP("100.100.100.100").To4()}},
	}

	encoded := original.Encode()
	raw := encoded.ToVec()

	decoded, err := bencode.Decode(raw)
	require.NoError(t, err)
	restored := dhtstate.Read(decoded)

	require.Len(t, restored.NodeIds, 1)
	assert.Equal(t, original.NodeIds[0].Id, restored.NodeIds[0].Id)
	assert.True(t, original.NodeIds[0].Addr.Equal(restored.NodeIds[0].Addr))
}

func TestLegacySingleNodeIdMapsToLoopback(t *testing.T) {
	id, err := dhtid.FromBytes([]byte("aaaaabbbbbcccccddddd"))
	require.NoError(t, err)

	v := bencode.Dict(map[string]bencode.Value{
		"node-id": bencode.Bytes(id.Bytes()),
	})
	s := dhtstate.Read(v)
	require.Len(t, s.NodeIds, 1)
	assert.Equal(t, id, s.NodeIds[0].Id)
	assert.True(t, s.NodeIds[0].Addr.Equal(net.IPv4(127, 0, 0, 1)))
}

func TestEmptyStateOmitsKeys(t *testing.T) {
	s := dhtstate.State{}
	v := s.Encode()
	_, ok := v.DictFind("node-id")
	assert.False(t, ok)
	_, ok = v.DictFind("nodes")
	assert.False(t, ok)
}

func TestNodesEndpointRoundTrip(t *testing.T) {
	s := dhtstate.State{
		Nodes: []dhtstate.Endpoint{{IP: net.ParseIP("1.2.3.4").To4(), Port: 6881}},
	}
	decoded := dhtstate.Read(s.Encode())
	require.Len(t, decoded.Nodes, 1)
	assert.Equal(t, uint16(6881), decoded.Nodes[0].Port)
	assert.True(t, decoded.Nodes[0].IP.Equal(net.ParseIP("1.2.3.4")))
}

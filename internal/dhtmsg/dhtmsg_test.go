package dhtmsg_test

import (
	"net"
	"testing"

	"github.com/nmxmxh/dht-core/internal/bencode"
	"github.com/nmxmxh/dht-core/internal/dhtid"
	"github.com/nmxmxh/dht-core/internal/dhtmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSameHomeAsComparesOtherNotSelf(t *testing.T) {
	a := dhtmsg.Node{Id: dhtid.Update([]byte("a")), Addr: net.ParseIP("1.1.1.1"), Port: 1000}
	b := dhtmsg.Node{Id: dhtid.Update([]byte("b")), Addr: net.ParseIP("1.1.1.1"), Port: 2000}
	assert.False(t, a.SameHomeAs(b))

	c := dhtmsg.Node{Id: dhtid.Update([]byte("c")), Addr: net.ParseIP("1.1.1.1"), Port: 1000}
	assert.True(t, a.SameHomeAs(c))
}

func TestPeerEntryOrdering(t *testing.T) {
	low := dhtmsg.PeerEntry{Addr: net.ParseIP("1.0.0.1").To4(), Port: 10}
	high := dhtmsg.PeerEntry{Addr: net.ParseIP("1.0.0.1").To4(), Port: 20}
	assert.Equal(t, -1, low.Compare(high))
	assert.Equal(t, 1, high.Compare(low))
}

func TestObserverFlagsSetHasClear(t *testing.T) {
	var f dhtmsg.ObserverFlags
	f = f.Set(dhtmsg.FlagQueried).Set(dhtmsg.FlagAlive)
	assert.True(t, f.Has(dhtmsg.FlagQueried))
	assert.True(t, f.Has(dhtmsg.FlagAlive))
	f = f.Clear(dhtmsg.FlagQueried)
	assert.False(t, f.Has(dhtmsg.FlagQueried))
	assert.True(t, f.Has(dhtmsg.FlagAlive))
}

func TestVerifyMessageRequiredAndOptional(t *testing.T) {
	v := bencode.Dict(map[string]bencode.Value{
		"t": bencode.Bytes([]byte("tx")),
		"q": bencode.Str("ping"),
	})
	msg := dhtmsg.Msg{Value: v}

	descs := []dhtmsg.KeyDesc{
		{Name: "t", Kind: bencode.KindString},
		{Name: "q", Kind: bencode.KindString},
		{Name: "missing_optional", Kind: bencode.KindInt, Flags: dhtmsg.Optional},
	}
	out, err := dhtmsg.VerifyMessage(msg, descs)
	require.NoError(t, err)
	require.Len(t, out, 3)
}

func TestVerifyMessageMissingRequiredFails(t *testing.T) {
	v := bencode.Dict(map[string]bencode.Value{})
	_, err := dhtmsg.VerifyMessage(dhtmsg.Msg{Value: v}, []dhtmsg.KeyDesc{{Name: "t", Kind: bencode.KindString}})
	assert.Error(t, err)
}

func TestVerifyMessageSizeDivisible(t *testing.T) {
	v := bencode.Dict(map[string]bencode.Value{
		"nodes": bencode.Bytes(make([]byte, 52)), // two 26-byte compact records
	})
	descs := []dhtmsg.KeyDesc{
		{Name: "nodes", Kind: bencode.KindString, Size: 26, Flags: dhtmsg.SizeDivisible},
	}
	_, err := dhtmsg.VerifyMessage(dhtmsg.Msg{Value: v}, descs)
	assert.NoError(t, err)
}

func TestVerifyMessageSizeDivisibleFails(t *testing.T) {
	v := bencode.Dict(map[string]bencode.Value{
		"nodes": bencode.Bytes(make([]byte, 51)),
	})
	descs := []dhtmsg.KeyDesc{
		{Name: "nodes", Kind: bencode.KindString, Size: 26, Flags: dhtmsg.SizeDivisible},
	}
	_, err := dhtmsg.VerifyMessage(dhtmsg.Msg{Value: v}, descs)
	assert.Error(t, err)
}

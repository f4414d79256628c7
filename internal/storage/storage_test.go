package storage_test

import (
	"net"
	"testing"
	"time"

	"github.com/nmxmxh/dht-core/internal/bencode"
	"github.com/nmxmxh/dht-core/internal/dhtid"
	"github.com/nmxmxh/dht-core/internal/dhtmsg"
	"github.com/nmxmxh/dht-core/internal/settings"
	"github.com/nmxmxh/dht-core/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStorage(t *testing.T) *storage.Storage {
	t.Helper()
	return storage.New(settings.Default(), nil, nil)
}

func TestAnnouncePeerDedupsSameEndpoint(t *testing.T) {
	s := newStorage(t)
	infoHash := dhtid.Update([]byte("infohash"))
	peer := dhtmsg.PeerEntry{Addr: net.ParseIP("1.2.3.4").To4(), Port: 6881, AddedAt: 100}

	s.AnnouncePeer(infoHash, peer, "", false)
	peer.AddedAt = 200
	s.AnnouncePeer(infoHash, peer, "", false)

	out := map[string]bencode.Value{}
	s.GetPeers(infoHash, false, false, net.ParseIP("9.9.9.9"), 1, out)
	assert.Equal(t, 1, s.Counters().Peers)
}

func TestEvictionByImportance(t *testing.T) {
	cfg := settings.Default()
	cfg.MaxDhtItems = 2
	s := storage.New(cfg, nil, nil)

	a := dhtid.Update([]byte("target-a"))
	b := dhtid.Update([]byte("target-b"))
	c := dhtid.Update([]byte("target-c"))

	s.PutImmutableItem(a, []byte("1:a"), net.ParseIP("1.1.1.1"))
	for i := 0; i < 10; i++ {
		s.PutImmutableItem(b, []byte("1:b"), net.ParseIP(ipFor(i)))
	}

	s.PutImmutableItem(c, []byte("1:c"), net.ParseIP("3.3.3.3"))

	_, aStillThere := s.GetImmutableItem(a)
	_, bStillThere := s.GetImmutableItem(b)
	_, cStillThere := s.GetImmutableItem(c)

	assert.False(t, aStillThere, "A (fewer announcers) should have been evicted")
	assert.True(t, bStillThere)
	assert.True(t, cStillThere)
}

func ipFor(i int) string {
	return net.IPv4(10, 0, byte(i/256), byte(i%256)).String()
}

func TestMutableItemFreshnessBySeq(t *testing.T) {
	s := newStorage(t)
	target := dhtid.Update([]byte("mutable-target"))
	var sig [64]byte
	var pk [32]byte

	s.PutMutableItem(target, []byte("1:a"), sig, 5, pk, nil, net.ParseIP("1.1.1.1"))
	s.PutMutableItem(target, []byte("1:b"), sig, 3, pk, nil, net.ParseIP("1.1.1.1")) // stale, ignored

	seq, ok := s.GetMutableItemSeq(target)
	require.True(t, ok)
	assert.EqualValues(t, 5, seq)

	s.PutMutableItem(target, []byte("1:c"), sig, 9, pk, nil, net.ParseIP("1.1.1.1"))
	seq, ok = s.GetMutableItemSeq(target)
	require.True(t, ok)
	assert.EqualValues(t, 9, seq)
}

func TestTickDropsExpiredItems(t *testing.T) {
	cfg := settings.Default()
	cfg.ItemLifetime = 1 // seconds
	s := storage.New(cfg, nil, nil)
	target := dhtid.Update([]byte("expiring"))
	s.PutImmutableItem(target, []byte("1:x"), net.ParseIP("1.1.1.1"))

	s.Tick(time.Now().Add(10 * time.Second))
	_, ok := s.GetImmutableItem(target)
	assert.False(t, ok)
}

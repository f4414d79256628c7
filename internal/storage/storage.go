// Package storage implements the DHT's authoritative state: per-infohash
// peer sets, immutable and mutable arbitrary data items, Bloom-filter
// scrape summaries, and capacity-bounded eviction by a distance-weighted
// importance score.
package storage

import (
	"log/slog"
	"math/rand"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/nmxmxh/dht-core/internal/bencode"
	"github.com/nmxmxh/dht-core/internal/bloom"
	"github.com/nmxmxh/dht-core/internal/dhtid"
	"github.com/nmxmxh/dht-core/internal/dhtmsg"
	"github.com/nmxmxh/dht-core/internal/settings"
)

// TorrentEntry is the peer directory for one infohash.
type TorrentEntry struct {
	Name    string
	PeersV4 []dhtmsg.PeerEntry
	PeersV6 []dhtmsg.PeerEntry
}

// Counters tracks aggregate entry counts, maintained incrementally so
// callers don't have to walk the maps to report metrics.
type Counters struct {
	Torrents      int
	Peers         int
	ImmutableData int
	MutableData   int
}

// Storage is the concrete in-memory DhtStorage implementation. The core
// spec treats DhtStorage as a capability (interface) so a test/mock
// implementation can stand in for it; Storage is the default one.
type Storage struct {
	mu sync.Mutex

	settings settings.Settings
	logger   *slog.Logger
	rng      *rand.Rand

	torrents  map[dhtid.NodeId]*TorrentEntry
	immutable map[dhtid.NodeId]*ImmutableItem
	mutable   map[dhtid.NodeId]*MutableItem

	nodeIds []dhtid.NodeId
	sample  sampleCache
	counts  Counters
}

// New builds a Storage instance. rng may be nil, in which case a source
// seeded with 1 is used; it must not be shared with other goroutines —
// storage mutation is expected to be serialized by the caller, per the
// core's single-threaded ownership model.
func New(s settings.Settings, logger *slog.Logger, rng *rand.Rand) *Storage {
	if logger == nil {
		logger = slog.Default()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Storage{
		settings:  s,
		logger:    logger.With("component", "storage"),
		rng:       rng,
		torrents:  make(map[dhtid.NodeId]*TorrentEntry),
		immutable: make(map[dhtid.NodeId]*ImmutableItem),
		mutable:   make(map[dhtid.NodeId]*MutableItem),
	}
}

// Counters returns a snapshot of the aggregate counters.
func (s *Storage) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts
}

// UpdateNodeIds replaces the local-id vector used for importance scoring.
func (s *Storage) UpdateNodeIds(ids []dhtid.NodeId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeIds = append([]dhtid.NodeId(nil), ids...)
}

// GetPeers implements the get_peers query: it reports whether the
// requester should be admitted to announce (i.e. is not already recorded
// and the torrent is below capacity), and fills outDict with either a
// scrape summary or a sampled peer list. When no entry exists for
// infoHash, outDict is left untouched and the result is whether the
// torrent table has reached MaxTorrents.
func (s *Storage) GetPeers(infoHash dhtid.NodeId, noSeed, scrape bool, requester net.IP, requesterPort uint16, outDict map[string]bencode.Value) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.torrents[infoHash]
	if !ok {
		return len(s.torrents) >= s.settings.MaxTorrents
	}

	if entry.Name != "" {
		outDict["n"] = bencode.Str(entry.Name)
	}

	if scrape {
		downloaders := bloom.New(bloom.Size256)
		seeds := bloom.New(bloom.Size256)
		for _, p := range entry.PeersV4 {
			key := dhtid.FromAddress(p.Addr).Bytes()
			if p.IsSeed {
				seeds.Set(key)
			} else {
				downloaders.Set(key)
			}
		}
		for _, p := range entry.PeersV6 {
			key := dhtid.FromAddress(p.Addr).Bytes()
			if p.IsSeed {
				seeds.Set(key)
			} else {
				downloaders.Set(key)
			}
		}
		outDict["BFpe"] = bencode.Bytes(downloaders.Bytes())
		outDict["BFsd"] = bencode.Bytes(seeds.Bytes())
	} else {
		peers := entry.PeersV4
		isV6 := requester != nil && requester.To4() == nil
		if isV6 {
			peers = entry.PeersV6
		}
		limit := s.settings.MaxPeersReply
		if isV6 {
			limit /= 4
			if limit <= 0 {
				limit = 1
			}
		}
		if noSeed {
			filtered := peers[:0:0]
			for _, p := range peers {
				if !p.IsSeed {
					filtered = append(filtered, p)
				}
			}
			peers = filtered
		}
		selected := reservoirSample(s.rng, peers, limit)
		values := make([]bencode.Value, 0, len(selected))
		for _, p := range selected {
			values = append(values, bencode.Bytes(packEndpoint(p.Addr, p.Port)))
		}
		outDict["values"] = bencode.List(values)
	}

	alreadyKnown := indexPeer(entry, requester, requesterPort) >= 0
	atCapacity := len(entry.PeersV4)+len(entry.PeersV6) >= s.settings.MaxPeers
	return !alreadyKnown && !atCapacity
}

// AnnouncePeer implements announce_peer: create-or-update the torrent
// entry and insert-or-refresh the peer in its sorted (ip, port) list.
func (s *Storage) AnnouncePeer(infoHash dhtid.NodeId, peer dhtmsg.PeerEntry, name string, seed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.torrents[infoHash]
	if !ok {
		if len(s.torrents) >= s.settings.MaxTorrents {
			return
		}
		entry = &TorrentEntry{}
		s.torrents[infoHash] = entry
		s.counts.Torrents++
	}
	if entry.Name == "" && name != "" {
		if len(name) > 100 {
			name = name[:100]
		}
		entry.Name = name
	}

	peer.IsSeed = seed
	list := &entry.PeersV4
	if peer.Addr.To4() == nil {
		list = &entry.PeersV6
	}

	idx := lowerBound(*list, peer)
	if idx < len(*list) && (*list)[idx].Compare(peer) == 0 {
		(*list)[idx].AddedAt = peer.AddedAt
		(*list)[idx].IsSeed = peer.IsSeed
		return
	}
	if len(entry.PeersV4)+len(entry.PeersV6) >= s.settings.MaxPeers {
		return
	}
	*list = append(*list, dhtmsg.PeerEntry{})
	copy((*list)[idx+1:], (*list)[idx:])
	(*list)[idx] = peer
	s.counts.Peers++
}

func indexPeer(entry *TorrentEntry, addr net.IP, port uint16) int {
	target := dhtmsg.PeerEntry{Addr: addr, Port: port}
	list := entry.PeersV4
	if addr != nil && addr.To4() == nil {
		list = entry.PeersV6
	}
	idx := lowerBound(list, target)
	if idx < len(list) && list[idx].Compare(target) == 0 {
		return idx
	}
	return -1
}

// lowerBound returns the index of the first element in list not less than
// target, via binary search over the (ip, port)-sorted slice.
func lowerBound(list []dhtmsg.PeerEntry, target dhtmsg.PeerEntry) int {
	return sort.Search(len(list), func(i int) bool {
		return list[i].Compare(target) >= 0
	})
}

func packEndpoint(ip net.IP, port uint16) []byte {
	var addr []byte
	if v4 := ip.To4(); v4 != nil {
		addr = v4
	} else {
		addr = ip.To16()
	}
	out := make([]byte, len(addr)+2)
	copy(out, addr)
	out[len(addr)] = byte(port >> 8)
	out[len(addr)+1] = byte(port)
	return out
}

// reservoirSample selects up to limit elements from list with equal
// probability via reservoir sampling, so every eligible peer has the same
// chance of being included in a get_peers reply regardless of list order.
func reservoirSample(rng *rand.Rand, list []dhtmsg.PeerEntry, limit int) []dhtmsg.PeerEntry {
	if limit <= 0 || len(list) == 0 {
		return nil
	}
	if len(list) <= limit {
		out := make([]dhtmsg.PeerEntry, len(list))
		copy(out, list)
		return out
	}
	reservoir := make([]dhtmsg.PeerEntry, limit)
	copy(reservoir, list[:limit])
	for i := limit; i < len(list); i++ {
		j := rng.Intn(i + 1)
		if j < limit {
			reservoir[j] = list[i]
		}
	}
	return reservoir
}

// Tick runs periodic maintenance: dropping expired immutable/mutable items
// and torrents left with no peers after peer-entry aging.
func (s *Storage) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lifetime := s.itemLifetime()
	for k, item := range s.immutable {
		if now.Sub(item.LastSeen) > lifetime {
			delete(s.immutable, k)
			s.counts.ImmutableData--
		}
	}
	for k, item := range s.mutable {
		if now.Sub(item.LastSeen) > lifetime {
			delete(s.mutable, k)
			s.counts.MutableData--
		}
	}

	for k, entry := range s.torrents {
		beforeV4, beforeV6 := len(entry.PeersV4), len(entry.PeersV6)
		entry.PeersV4 = dropOlderThan(entry.PeersV4, now, 30*time.Minute)
		entry.PeersV6 = dropOlderThan(entry.PeersV6, now, 30*time.Minute)
		s.counts.Peers -= (beforeV4 - len(entry.PeersV4)) + (beforeV6 - len(entry.PeersV6))
		if len(entry.PeersV4) == 0 && len(entry.PeersV6) == 0 {
			delete(s.torrents, k)
			s.counts.Torrents--
		}
	}
}

func (s *Storage) itemLifetime() time.Duration {
	if s.settings.ItemLifetime > 0 {
		return time.Duration(s.settings.ItemLifetime) * time.Second
	}
	return 2 * time.Hour
}

func dropOlderThan(peers []dhtmsg.PeerEntry, now time.Time, maxAge time.Duration) []dhtmsg.PeerEntry {
	out := peers[:0]
	cutoff := now.Add(-maxAge).Unix()
	for _, p := range peers {
		if p.AddedAt >= cutoff {
			out = append(out, p)
		}
	}
	return out
}

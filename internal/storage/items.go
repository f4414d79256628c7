package storage

import (
	"net"
	"time"

	"github.com/nmxmxh/dht-core/internal/bencode"
	"github.com/nmxmxh/dht-core/internal/bloom"
	"github.com/nmxmxh/dht-core/internal/dhtid"
)

// ImmutableItem is an opaque value keyed by the SHA-1 of its own bytes.
// Announcers is a 128-byte Bloom filter of announcing source-IP hashes,
// used so NumAnnouncers only increases on genuinely new sources rather
// than every repeated announce.
type ImmutableItem struct {
	Value         []byte
	Announcers    *bloom.Filter
	LastSeen      time.Time
	NumAnnouncers int
}

// MutableItem extends ImmutableItem with the public-key/signature/sequence
// metadata that makes it a signed, freshness-ordered value.
type MutableItem struct {
	ImmutableItem
	Signature [64]byte
	Seq       int64
	PublicKey [32]byte
	Salt      []byte
}

func (item *ImmutableItem) touch(addr net.IP) {
	item.LastSeen = time.Now()
	if addr == nil {
		return
	}
	key := dhtid.FromAddress(addr).Bytes()
	if !item.Announcers.Find(key) {
		item.Announcers.Set(key)
		item.NumAnnouncers++
	}
}

// PutImmutableItem inserts target if absent, evicting the least important
// existing item first if the combined immutable+mutable table is full.
func (s *Storage) PutImmutableItem(target dhtid.NodeId, value []byte, addr net.IP) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item, ok := s.immutable[target]; ok {
		item.touch(addr)
		return
	}
	if s.combinedItemCount() >= s.settings.MaxDhtItems {
		s.evictLeastImportant()
	}
	item := &ImmutableItem{Value: value, Announcers: bloom.New(bloom.Size128)}
	item.touch(addr)
	s.immutable[target] = item
	s.counts.ImmutableData++
}

// GetImmutableItem decodes the stored bytes back into a bencode value. It
// reports false if target is absent or its bytes fail to decode.
func (s *Storage) GetImmutableItem(target dhtid.NodeId) (bencode.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.immutable[target]
	if !ok {
		return bencode.Value{}, false
	}
	v, err := bencode.Decode(item.Value)
	if err != nil {
		return bencode.Value{}, false
	}
	return v, true
}

// PutMutableItem inserts target if absent (subject to eviction); if
// present, updates only when newSeq is strictly greater than the stored
// sequence number, otherwise just refreshes liveness tracking.
func (s *Storage) PutMutableItem(target dhtid.NodeId, value []byte, sig [64]byte, newSeq int64, pk [32]byte, salt []byte, addr net.IP) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item, ok := s.mutable[target]; ok {
		if newSeq > item.Seq {
			item.Value = value
			item.Signature = sig
			item.Seq = newSeq
		}
		item.touch(addr)
		return
	}
	if s.combinedItemCount() >= s.settings.MaxDhtItems {
		s.evictLeastImportant()
	}
	item := &MutableItem{
		ImmutableItem: ImmutableItem{Value: value, Announcers: bloom.New(bloom.Size128)},
		Signature:     sig,
		Seq:           newSeq,
		PublicKey:     pk,
		Salt:          append([]byte(nil), salt...),
	}
	item.touch(addr)
	s.mutable[target] = item
	s.counts.MutableData++
}

// GetMutableItem always fills "seq"; it fills "v", "sig", "k" only when
// forceFill is set or the caller's seq argument is >= 0 and strictly less
// than the stored sequence number (meaning the caller has stale data and
// needs the body).
func (s *Storage) GetMutableItem(target dhtid.NodeId, seq int64, forceFill bool) (map[string]bencode.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.mutable[target]
	if !ok {
		return nil, false
	}
	out := map[string]bencode.Value{"seq": bencode.Int(item.Seq)}
	if forceFill || (seq >= 0 && seq < item.Seq) {
		out["v"] = bencode.Bytes(item.Value)
		out["sig"] = bencode.Bytes(item.Signature[:])
		out["k"] = bencode.Bytes(item.PublicKey[:])
	}
	return out, true
}

// GetMutableItemSeq reports whether target exists and its current sequence
// number.
func (s *Storage) GetMutableItemSeq(target dhtid.NodeId) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.mutable[target]
	if !ok {
		return 0, false
	}
	return item.Seq, true
}

func (s *Storage) combinedItemCount() int {
	return len(s.immutable) + len(s.mutable)
}

// score computes announcers(k)/5 - min_i distance_exp(k, node_ids[i]): the
// importance of a stored key. Rarely-announced keys far from every local
// id score lowest and are evicted first.
func (s *Storage) score(key dhtid.NodeId, numAnnouncers int) float64 {
	minDist := 0
	if len(s.nodeIds) > 0 {
		minDist = dhtid.DistanceExp(key, s.nodeIds[0])
		for _, id := range s.nodeIds[1:] {
			if e := dhtid.DistanceExp(key, id); e < minDist {
				minDist = e
			}
		}
	}
	return float64(numAnnouncers)/5 - float64(minDist)
}

// evictLeastImportant drops the single lowest-scoring immutable or mutable
// entry. Caller must hold s.mu.
func (s *Storage) evictLeastImportant() {
	var (
		bestScore float64
		bestKey   dhtid.NodeId
		bestIsMut bool
		found     bool
	)
	consider := func(k dhtid.NodeId, announcers int, isMut bool) {
		sc := s.score(k, announcers)
		if !found || sc < bestScore {
			bestScore, bestKey, bestIsMut, found = sc, k, isMut, true
		}
	}
	for k, item := range s.immutable {
		consider(k, item.NumAnnouncers, false)
	}
	for k, item := range s.mutable {
		consider(k, item.NumAnnouncers, true)
	}
	if !found {
		return
	}
	if bestIsMut {
		delete(s.mutable, bestKey)
		s.counts.MutableData--
	} else {
		delete(s.immutable, bestKey)
		s.counts.ImmutableData--
	}
}

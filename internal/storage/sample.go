package storage

import (
	"time"

	"github.com/nmxmxh/dht-core/internal/bencode"
	"github.com/nmxmxh/dht-core/internal/dhtid"
)

type sampleCache struct {
	samples   []dhtid.NodeId
	createdAt time.Time
}

// GetInfohashesSample populates the "interval" (SampleInfohashesInterval
// clamped to [0, 21600]) and "num" (current torrent count) reply fields,
// refreshing the cached sample vector at most once per that clamped
// interval in seconds.
func (s *Storage) GetInfohashesSample() map[string]bencode.Value {
	s.mu.Lock()
	defer s.mu.Unlock()

	interval := s.settings.SampleInfohashesInterval
	if interval < 0 {
		interval = 0
	}
	if interval > 21600 {
		interval = 21600
	}

	now := time.Now()
	if s.sample.createdAt.IsZero() || now.Sub(s.sample.createdAt) >= time.Duration(interval)*time.Second {
		s.refreshSample(now)
	}

	out := make([]bencode.Value, 0, len(s.sample.samples))
	for _, id := range s.sample.samples {
		out = append(out, bencode.Bytes(id.Bytes()))
	}

	return map[string]bencode.Value{
		"interval": bencode.Int(int64(interval)),
		"num":      bencode.Int(int64(len(s.torrents))),
		"samples":  bencode.List(out),
	}
}

func (s *Storage) refreshSample(now time.Time) {
	limit := s.settings.MaxInfohashesSampleCount
	if limit <= 0 {
		s.sample = sampleCache{createdAt: now}
		return
	}
	all := make([]dhtid.NodeId, 0, len(s.torrents))
	for k := range s.torrents {
		all = append(all, k)
	}
	if len(all) > limit {
		s.rng.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
		all = all[:limit]
	}
	s.sample = sampleCache{samples: all, createdAt: now}
}

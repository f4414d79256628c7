// Package settings holds the DHT node's policy configuration: the
// enumerated knobs from the specification, each bencode-roundtrippable so
// they can be saved alongside the state snapshot. Unknown keys on load are
// ignored; absent keys retain their default.
package settings

import "github.com/nmxmxh/dht-core/internal/bencode"

// Settings is the full set of per-node policy parameters. None of these are
// wire-protocol invariants — every DHT node in the swarm can run with
// different values.
type Settings struct {
	MaxPeersReply            int
	SearchBranching          int
	MaxFailCount             int
	MaxTorrents              int
	MaxDhtItems              int
	MaxPeers                 int
	MaxTorrentSearchReply    int
	RestrictRoutingIps       bool
	RestrictSearchIps        bool
	ExtendedRoutingTable     bool
	AggressiveLookups        bool
	PrivacyLookups           bool
	EnforceNodeId            bool
	IgnoreDarkInternet       bool
	BlockTimeout             int
	BlockRatelimit           int
	ReadOnly                 bool
	ItemLifetime             int
	UploadRateLimit          int
	SampleInfohashesInterval int
	MaxInfohashesSampleCount int
}

// Default returns the settings table with the specification's documented
// defaults.
func Default() Settings {
	return Settings{
		MaxPeersReply:            100,
		SearchBranching:          5,
		MaxFailCount:             20,
		MaxTorrents:              2000,
		MaxDhtItems:              700,
		MaxPeers:                 500,
		MaxTorrentSearchReply:    20,
		RestrictRoutingIps:       true,
		RestrictSearchIps:        true,
		ExtendedRoutingTable:     true,
		AggressiveLookups:        true,
		PrivacyLookups:           false,
		EnforceNodeId:            false,
		IgnoreDarkInternet:       true,
		BlockTimeout:             300,
		BlockRatelimit:           5,
		ReadOnly:                 false,
		ItemLifetime:             0,
		UploadRateLimit:          8000,
		SampleInfohashesInterval: 21600,
		MaxInfohashesSampleCount: 20,
	}
}

// Encode renders Settings as an owning bencode dict.
func (s Settings) Encode() bencode.Value {
	m := map[string]bencode.Value{
		"max_peers_reply":             bencode.Int(int64(s.MaxPeersReply)),
		"search_branching":            bencode.Int(int64(s.SearchBranching)),
		"max_fail_count":              bencode.Int(int64(s.MaxFailCount)),
		"max_torrents":                bencode.Int(int64(s.MaxTorrents)),
		"max_dht_items":               bencode.Int(int64(s.MaxDhtItems)),
		"max_peers":                   bencode.Int(int64(s.MaxPeers)),
		"max_torrent_search_reply":    bencode.Int(int64(s.MaxTorrentSearchReply)),
		"restrict_routing_ips":        boolValue(s.RestrictRoutingIps),
		"restrict_search_ips":         boolValue(s.RestrictSearchIps),
		"extended_routing_table":      boolValue(s.ExtendedRoutingTable),
		"aggressive_lookups":          boolValue(s.AggressiveLookups),
		"privacy_lookups":             boolValue(s.PrivacyLookups),
		"enforce_node_id":             boolValue(s.EnforceNodeId),
		"ignore_dark_internet":        boolValue(s.IgnoreDarkInternet),
		"block_timeout":               bencode.Int(int64(s.BlockTimeout)),
		"block_ratelimit":             bencode.Int(int64(s.BlockRatelimit)),
		"read_only":                   boolValue(s.ReadOnly),
		"item_lifetime":               bencode.Int(int64(s.ItemLifetime)),
		"upload_rate_limit":           bencode.Int(int64(s.UploadRateLimit)),
		"sample_infohashes_interval":  bencode.Int(int64(s.SampleInfohashesInterval)),
		"max_infohashes_sample_count": bencode.Int(int64(s.MaxInfohashesSampleCount)),
	}
	return bencode.Dict(m)
}

// Decode applies any recognized keys in v onto a copy of the defaults;
// unknown keys are ignored and absent keys keep their default value.
func Decode(v bencode.Value) Settings {
	s := Default()
	readInt(v, "max_peers_reply", &s.MaxPeersReply)
	readInt(v, "search_branching", &s.SearchBranching)
	readInt(v, "max_fail_count", &s.MaxFailCount)
	readInt(v, "max_torrents", &s.MaxTorrents)
	readInt(v, "max_dht_items", &s.MaxDhtItems)
	readInt(v, "max_peers", &s.MaxPeers)
	readInt(v, "max_torrent_search_reply", &s.MaxTorrentSearchReply)
	readBool(v, "restrict_routing_ips", &s.RestrictRoutingIps)
	readBool(v, "restrict_search_ips", &s.RestrictSearchIps)
	readBool(v, "extended_routing_table", &s.ExtendedRoutingTable)
	readBool(v, "aggressive_lookups", &s.AggressiveLookups)
	readBool(v, "privacy_lookups", &s.PrivacyLookups)
	readBool(v, "enforce_node_id", &s.EnforceNodeId)
	readBool(v, "ignore_dark_internet", &s.IgnoreDarkInternet)
	readInt(v, "block_timeout", &s.BlockTimeout)
	readInt(v, "block_ratelimit", &s.BlockRatelimit)
	readBool(v, "read_only", &s.ReadOnly)
	readInt(v, "item_lifetime", &s.ItemLifetime)
	readInt(v, "upload_rate_limit", &s.UploadRateLimit)
	readInt(v, "sample_infohashes_interval", &s.SampleInfohashesInterval)
	readInt(v, "max_infohashes_sample_count", &s.MaxInfohashesSampleCount)
	return s
}

func boolValue(b bool) bencode.Value {
	if b {
		return bencode.Int(1)
	}
	return bencode.Int(0)
}

func readInt(v bencode.Value, key string, dst *int) {
	if n, ok := v.DictFindIntValue(key); ok {
		*dst = int(n)
	}
}

func readBool(v bencode.Value, key string, dst *bool) {
	if n, ok := v.DictFindIntValue(key); ok {
		*dst = n != 0
	}
}

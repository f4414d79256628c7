// Package dhtstate persists and restores a DHT node's identity and
// recently-known contacts across restarts: the node ids it has used per
// network, and compact IPv4/IPv6 node lists to re-seed the routing table
// without a cold bootstrap.
package dhtstate

import (
	"encoding/binary"
	"net"

	"github.com/nmxmxh/dht-core/internal/bencode"
	"github.com/nmxmxh/dht-core/internal/dhtid"
)

// NodeIdEntry pairs a node id with the local address it was derived for or
// used on.
type NodeIdEntry struct {
	Id   dhtid.NodeId
	Addr net.IP
}

// Endpoint is a packed (ip, port) pair as stored in nodes/nodes6.
type Endpoint struct {
	IP   net.IP
	Port uint16
}

// State is the full snapshot persisted to disk between runs.
type State struct {
	NodeIds []NodeIdEntry
	Nodes   []Endpoint // IPv4 contacts
	Nodes6  []Endpoint // IPv6 contacts
}

var loopbackV4 = net.IPv4(127, 0, 0, 1).To4()

// Encode renders the state as the bencode dict described by the core:
// optional node-id/nodes/nodes6 keys, omitted entirely when empty.
func (s State) Encode() bencode.Value {
	m := map[string]bencode.Value{}

	if len(s.NodeIds) > 0 {
		entries := make([]bencode.Value, 0, len(s.NodeIds))
		for _, e := range s.NodeIds {
			buf := make([]byte, 0, dhtid.Size+16)
			buf = append(buf, e.Id.Bytes()...)
			if v4 := e.Addr.To4(); v4 != nil {
				buf = append(buf, v4...)
			} else if v6 := e.Addr.To16(); v6 != nil {
				buf = append(buf, v6...)
			}
			entries = append(entries, bencode.Bytes(buf))
		}
		m["node-id"] = bencode.List(entries)
	}

	if len(s.Nodes) > 0 {
		m["nodes"] = bencode.List(encodeEndpoints(s.Nodes, 4))
	}
	if len(s.Nodes6) > 0 {
		m["nodes6"] = bencode.List(encodeEndpoints(s.Nodes6, 16))
	}

	return bencode.Dict(m)
}

func encodeEndpoints(eps []Endpoint, addrLen int) []bencode.Value {
	out := make([]bencode.Value, 0, len(eps))
	for _, e := range eps {
		buf := make([]byte, 0, addrLen+2)
		if addrLen == 4 {
			buf = append(buf, e.IP.To4()...)
		} else {
			buf = append(buf, e.IP.To16()...)
		}
		var portBytes [2]byte
		binary.BigEndian.PutUint16(portBytes[:], e.Port)
		buf = append(buf, portBytes[:]...)
		out = append(out, bencode.Bytes(buf))
	}
	return out
}

// Read parses an encoded state dict. A legacy single 20-byte node-id string
// (rather than a list of 24/36-byte entries) is accepted and mapped to the
// IPv4 loopback address.
func Read(v bencode.Value) State {
	var s State

	if nid, ok := v.DictFind("node-id"); ok {
		s.NodeIds = readNodeIds(nid)
	}
	if nodes, ok := v.DictFindList("nodes"); ok {
		s.Nodes = readEndpoints(nodes, 4)
	}
	if nodes6, ok := v.DictFindList("nodes6"); ok {
		s.Nodes6 = readEndpoints(nodes6, 16)
	}
	return s
}

func readNodeIds(v bencode.Value) []NodeIdEntry {
	// Legacy single 20-byte string.
	if raw, ok := v.AsBytes(); ok {
		if len(raw) == dhtid.Size {
			id, err := dhtid.FromBytes(raw)
			if err == nil {
				return []NodeIdEntry{{Id: id, Addr: loopbackV4}}
			}
		}
		return nil
	}

	list, ok := v.AsList()
	if !ok {
		return nil
	}
	out := make([]NodeIdEntry, 0, len(list))
	for _, item := range list {
		raw, ok := item.AsBytes()
		if !ok {
			continue
		}
		switch len(raw) {
		case dhtid.Size + 4:
			id, err := dhtid.FromBytes(raw[:dhtid.Size])
			if err != nil {
				continue
			}
			out = append(out, NodeIdEntry{Id: id, Addr: net.IP(append([]byte(nil), raw[dhtid.Size:]...))})
		case dhtid.Size + 16:
			id, err := dhtid.FromBytes(raw[:dhtid.Size])
			if err != nil {
				continue
			}
			out = append(out, NodeIdEntry{Id: id, Addr: net.IP(append([]byte(nil), raw[dhtid.Size:]...))})
		}
	}
	return out
}

func readEndpoints(list []bencode.Value, addrLen int) []Endpoint {
	want := addrLen + 2
	out := make([]Endpoint, 0, len(list))
	for _, item := range list {
		raw, ok := item.AsBytes()
		if !ok || len(raw) != want {
			continue
		}
		ip := net.IP(append([]byte(nil), raw[:addrLen]...))
		port := binary.BigEndian.Uint16(raw[addrLen:])
		out = append(out, Endpoint{IP: ip, Port: port})
	}
	return out
}

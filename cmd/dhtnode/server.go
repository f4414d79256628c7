package main

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/nmxmxh/dht-core/internal/bencode"
	"github.com/nmxmxh/dht-core/internal/dhtid"
	"github.com/nmxmxh/dht-core/internal/dhtmsg"
	"github.com/nmxmxh/dht-core/internal/protocol"
	"github.com/nmxmxh/dht-core/internal/routing"
	"github.com/nmxmxh/dht-core/internal/settings"
	"github.com/nmxmxh/dht-core/internal/storage"
)

// maxPacketSize is generous for a KRPC datagram; anything larger is almost
// certainly not a well-formed message and is dropped before it reaches the
// bencode decoder.
const maxPacketSize = 8192

// decodeDepthLimit and decodeItemLimit bound the bencode decoder against
// adversarial packets, per spec sec 7 ("oversized lists... fail the decode
// and are dropped by the protocol layer").
const (
	decodeDepthLimit = 64
	decodeItemLimit  = 2048
)

// Server is the UDP KRPC reactor: the single-threaded event loop that
// decodes inbound packets, updates routing and storage, and writes replies.
// This is the external I/O reactor the core treats as an outside
// collaborator (spec.md sec 1, sec 5) — routing.Table is synchronous and
// unsynchronized internally, and this loop is its only writer;
// storage.Storage guards its own state with a mutex.
type Server struct {
	conn      net.PacketConn
	own       dhtid.NodeId
	table     *routing.Table
	storage   *storage.Storage
	settings  settings.Settings
	admission *protocol.Admission
	glue      *protocol.Glue
	logger    *slog.Logger

	tokenSecret [sha1.Size]byte
}

// newTokenSecret generates a fresh per-process HMAC key for get_peers write
// tokens. Server's other fields are set directly by main since they're
// already constructed there.
func newTokenSecret() [sha1.Size]byte {
	var buf [32]byte
	_, _ = rand.Read(buf[:])
	return sha1.Sum(buf[:])
}

// Serve runs the reactor loop until the connection is closed.
func (s *Server) Serve() {
	if s.tokenSecret == ([sha1.Size]byte{}) {
		s.tokenSecret = newTokenSecret()
	}
	buf := make([]byte, maxPacketSize)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			s.logger.Debug("udp read failed, stopping reactor", "error", err)
			return
		}
		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		s.handlePacket(append([]byte(nil), buf[:n]...), udpAddr)
	}
}

func (s *Server) handlePacket(data []byte, from *net.UDPAddr) {
	if s.admission != nil && !s.admission.Allow(from.IP) {
		return
	}
	val, err := bencode.DecodeWithLimits(data, decodeDepthLimit, decodeItemLimit)
	if err != nil {
		s.logger.Debug("dropping malformed packet", "from", from, "error", err)
		return
	}
	msg := dhtmsg.Msg{Value: val, Addr: from.IP, Port: uint16(from.Port)}

	y, _ := val.DictFindStrValue("y")
	switch y {
	case "q":
		s.handleQuery(msg, from)
	case "r", "e":
		// Replies and errors for outbound requests are routed to the
		// traversal that owns the pending transaction; wiring a
		// transaction table here is the transport-layer concern spec.md
		// sec 1 names as an external collaborator, not the core.
	}
}

func (s *Server) handleQuery(msg dhtmsg.Msg, from *net.UDPAddr) {
	tid, _ := msg.Value.DictFindBytesValue("t")
	q, _ := msg.Value.DictFindStrValue("q")
	args, ok := msg.Value.DictFindDict("a")
	if !ok {
		s.sendError(tid, from, 203, "a missing")
		return
	}

	idBytes, _ := args.DictFindBytesValue("id")
	var senderId dhtid.NodeId
	if len(idBytes) == dhtid.Size {
		senderId, _ = dhtid.FromBytes(idBytes)
		s.table.AddContact(dhtmsg.Node{Id: senderId, Addr: from.IP, Port: uint16(from.Port)})
	}

	switch q {
	case "ping":
		s.reply(tid, from, map[string]bencode.Value{"id": s.idValue()})
	case "find_node":
		s.handleFindNode(tid, from, args)
	case "get_peers":
		s.handleGetPeers(tid, from, args, senderId)
	case "announce_peer":
		s.handleAnnouncePeer(tid, from, args, senderId)
	case "get":
		s.handleGet(tid, from, args)
	case "put":
		s.handlePut(tid, from, args, senderId)
	default:
		s.sendError(tid, from, 204, fmt.Sprintf("method unknown: %s", q))
	}
}

func (s *Server) handleFindNode(tid []byte, from *net.UDPAddr, args bencode.Value) {
	targetBytes, ok := args.DictFindBytesValue("target")
	if !ok || len(targetBytes) != dhtid.Size {
		s.sendError(tid, from, 203, "target missing")
		return
	}
	target, _ := dhtid.FromBytes(targetBytes)
	neighbours := s.table.FindNeighbours(target, s.table.K(), nil)
	r := map[string]bencode.Value{
		"id":    s.idValue(),
		"nodes": bencode.Bytes(packCompactNodes(neighbours)),
	}
	s.reply(tid, from, r)
}

func (s *Server) handleGetPeers(tid []byte, from *net.UDPAddr, args bencode.Value, senderId dhtid.NodeId) {
	ihBytes, ok := args.DictFindBytesValue("info_hash")
	if !ok || len(ihBytes) != dhtid.Size {
		s.sendError(tid, from, 203, "info_hash missing")
		return
	}
	infoHash, _ := dhtid.FromBytes(ihBytes)
	noSeed, _ := args.DictFindIntValue("noseed")
	scrape, _ := args.DictFindIntValue("scrape")

	out := map[string]bencode.Value{}
	s.storage.GetPeers(infoHash, noSeed != 0, scrape != 0, from.IP, uint16(from.Port), out)
	out["id"] = s.idValue()
	out["token"] = bencode.Bytes(s.makeToken(from.IP))
	if _, hasValues := out["values"]; !hasValues {
		if _, hasScrape := out["BFpe"]; !hasScrape {
			neighbours := s.table.FindNeighbours(infoHash, s.table.K(), nil)
			out["nodes"] = bencode.Bytes(packCompactNodes(neighbours))
		}
	}
	s.reply(tid, from, out)
}

func (s *Server) handleAnnouncePeer(tid []byte, from *net.UDPAddr, args bencode.Value, senderId dhtid.NodeId) {
	token, _ := args.DictFindBytesValue("token")
	if !s.checkToken(token, from.IP) {
		s.sendError(tid, from, 203, "bad token")
		return
	}
	ihBytes, ok := args.DictFindBytesValue("info_hash")
	if !ok || len(ihBytes) != dhtid.Size {
		s.sendError(tid, from, 203, "info_hash missing")
		return
	}
	infoHash, _ := dhtid.FromBytes(ihBytes)
	port, _ := args.DictFindIntValue("port")
	if implied, _ := args.DictFindIntValue("implied_port"); implied != 0 {
		port = int64(from.Port)
	}
	name, _ := args.DictFindStrValue("name")
	seed, _ := args.DictFindIntValue("seed")

	s.storage.AnnouncePeer(infoHash, dhtmsg.PeerEntry{
		AddedAt: time.Now().Unix(),
		Addr:    from.IP,
		Port:    uint16(port),
	}, name, seed != 0)

	s.reply(tid, from, map[string]bencode.Value{"id": s.idValue()})
}

func (s *Server) handleGet(tid []byte, from *net.UDPAddr, args bencode.Value) {
	targetBytes, ok := args.DictFindBytesValue("target")
	if !ok || len(targetBytes) != dhtid.Size {
		s.sendError(tid, from, 203, "target missing")
		return
	}
	target, _ := dhtid.FromBytes(targetBytes)
	seq := int64(-1)
	if n, ok := args.DictFindIntValue("seq"); ok {
		seq = n
	}

	out := map[string]bencode.Value{"id": s.idValue(), "token": bencode.Bytes(s.makeToken(from.IP))}
	if mutDict, ok := s.storage.GetMutableItem(target, seq, false); ok {
		for k, v := range mutDict {
			out[k] = v
		}
	} else if v, ok := s.storage.GetImmutableItem(target); ok {
		out["v"] = v
	} else {
		neighbours := s.table.FindNeighbours(target, s.table.K(), nil)
		out["nodes"] = bencode.Bytes(packCompactNodes(neighbours))
	}
	s.reply(tid, from, out)
}

func (s *Server) handlePut(tid []byte, from *net.UDPAddr, args bencode.Value, senderId dhtid.NodeId) {
	token, _ := args.DictFindBytesValue("token")
	if !s.checkToken(token, from.IP) {
		s.sendError(tid, from, 203, "bad token")
		return
	}
	v, ok := args.DictFind("v")
	if !ok {
		s.sendError(tid, from, 203, "v missing")
		return
	}
	encoded := v.ToVec()

	pk, hasPk := args.DictFindBytesValue("k")
	if !hasPk {
		target := dhtid.Update(encoded)
		s.storage.PutImmutableItem(target, encoded, from.IP)
		s.reply(tid, from, map[string]bencode.Value{"id": s.idValue()})
		return
	}
	if len(pk) != 32 {
		s.sendError(tid, from, 203, "bad public key")
		return
	}
	sigBytes, _ := args.DictFindBytesValue("sig")
	if len(sigBytes) != 64 {
		s.sendError(tid, from, 203, "bad signature")
		return
	}
	salt, _ := args.DictFindBytesValue("salt")
	seq, _ := args.DictFindIntValue("seq")

	var pkArr [32]byte
	copy(pkArr[:], pk)
	var sigArr [64]byte
	copy(sigArr[:], sigBytes)

	target := dhtid.Update(append(append([]byte(nil), pk...), salt...))
	s.storage.PutMutableItem(target, encoded, sigArr, seq, pkArr, salt, from.IP)
	s.reply(tid, from, map[string]bencode.Value{"id": s.idValue()})
}

func (s *Server) idValue() bencode.Value {
	return bencode.Bytes(s.own.Bytes())
}

func (s *Server) reply(tid []byte, to *net.UDPAddr, r map[string]bencode.Value) {
	msg := bencode.Dict(map[string]bencode.Value{
		"t": bencode.Bytes(tid),
		"y": bencode.Str("r"),
		"r": bencode.Dict(r),
	})
	s.send(msg, to)
}

func (s *Server) sendError(tid []byte, to *net.UDPAddr, code int64, text string) {
	msg := bencode.Dict(map[string]bencode.Value{
		"t": bencode.Bytes(tid),
		"y": bencode.Str("e"),
		"e": bencode.List([]bencode.Value{bencode.Int(code), bencode.Str(text)}),
	})
	s.send(msg, to)
}

func (s *Server) send(v bencode.Value, to *net.UDPAddr) {
	if _, err := s.conn.WriteTo(v.ToVec(), to); err != nil {
		s.logger.Debug("udp write failed", "to", to, "error", err)
	}
}

// makeToken derives a get_peers write-token from the requester's IP and the
// server's per-process secret, so announce_peer can verify the token
// without keeping per-requester state.
func (s *Server) makeToken(ip net.IP) []byte {
	mac := hmac.New(sha1.New, s.tokenSecret[:])
	mac.Write(ip)
	return mac.Sum(nil)[:8]
}

func (s *Server) checkToken(token []byte, ip net.IP) bool {
	return hmac.Equal(token, s.makeToken(ip))
}

// packCompactNodes renders a neighbour list as concatenated 26-byte (IPv4)
// or 38-byte (IPv6) compact node records: 20-byte id + address + 2-byte
// big-endian port, per spec sec 6.
func packCompactNodes(nodes []dhtmsg.Node) []byte {
	var out []byte
	for _, n := range nodes {
		if n.Addr == nil {
			continue
		}
		out = append(out, n.Id.Bytes()...)
		if v4 := n.Addr.To4(); v4 != nil {
			out = append(out, v4...)
		} else {
			out = append(out, n.Addr.To16()...)
		}
		var portBytes [2]byte
		binary.BigEndian.PutUint16(portBytes[:], n.Port)
		out = append(out, portBytes[:]...)
	}
	return out
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nmxmxh/dht-core/internal/dhtid"
)

func hexID(id dhtid.NodeId) string {
	return fmt.Sprintf("%x", id.Bytes())
}

// DHTMetrics is the read-only status snapshot pushed to connected metrics
// clients, mirroring the field/tag shape of the teacher's MeshMetrics
// observability struct but reporting this node's routing and storage
// counters rather than mesh/gossip statistics.
type DHTMetrics struct {
	NodeID        string `json:"node_id"`
	RoutingTableN int    `json:"routing_table_nodes"`
	Torrents      int    `json:"torrents"`
	Peers         int    `json:"peers"`
	ImmutableData int    `json:"immutable_items"`
	MutableData   int    `json:"mutable_items"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// MetricsServer exposes a read-only WebSocket feed of DHTMetrics snapshots,
// the non-DHT observability surface the teacher's transport layer already
// exposes over WebSocket (mesh/transport/transport_native.go), repurposed
// here to push status rather than carry mesh traffic.
type MetricsServer struct {
	addr      string
	server    *Server
	logger    *slog.Logger
	startedAt time.Time

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewMetricsServer builds a MetricsServer bound to addr. Serve must be
// called to actually start listening.
func NewMetricsServer(addr string, server *Server, logger *slog.Logger) *MetricsServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricsServer{
		addr:      addr,
		server:    server,
		logger:    logger.With("component", "metrics"),
		startedAt: time.Now(),
		conns:     make(map[*websocket.Conn]struct{}),
	}
}

// Serve runs the metrics HTTP+WebSocket listener and a broadcast loop that
// pushes a snapshot to every connected client once per second. It blocks
// until the listener fails.
func (m *MetricsServer) Serve() {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", m.handleWS)

	go m.broadcastLoop()

	if err := http.ListenAndServe(m.addr, mux); err != nil {
		m.logger.Error("metrics listener stopped", "error", err)
	}
}

func (m *MetricsServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	m.mu.Lock()
	m.conns[conn] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.conns, conn)
		m.mu.Unlock()
		conn.Close()
	}()

	// Read loop exists only to detect client disconnects; this feed is
	// push-only and never interprets incoming frames.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (m *MetricsServer) broadcastLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		snapshot := m.snapshot()
		payload, err := json.Marshal(snapshot)
		if err != nil {
			continue
		}
		m.broadcast(payload)
	}
}

func (m *MetricsServer) snapshot() DHTMetrics {
	counts := m.server.storage.Counters()
	return DHTMetrics{
		NodeID:        hexID(m.server.own),
		RoutingTableN: m.server.table.TotalContacts(),
		Torrents:      counts.Torrents,
		Peers:         counts.Peers,
		ImmutableData: counts.ImmutableData,
		MutableData:   counts.MutableData,
		UptimeSeconds: int64(time.Since(m.startedAt).Seconds()),
	}
}

func (m *MetricsServer) broadcast(payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for conn := range m.conns {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			m.logger.Debug("dropping slow metrics client", "error", err)
			go conn.Close()
			delete(m.conns, conn)
		}
	}
}

// Shutdown closes every currently connected metrics client.
func (m *MetricsServer) Shutdown(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for conn := range m.conns {
		conn.Close()
		delete(m.conns, conn)
	}
}

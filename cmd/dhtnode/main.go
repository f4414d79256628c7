// Command dhtnode runs a standalone Mainline DHT node: it listens for
// KRPC messages over UDP, maintains a routing table and storage engine,
// and optionally exposes a read-only metrics feed over WebSocket.
package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/nmxmxh/dht-core/internal/bencode"
	"github.com/nmxmxh/dht-core/internal/dhtid"
	"github.com/nmxmxh/dht-core/internal/dhtmsg"
	"github.com/nmxmxh/dht-core/internal/dhtstate"
	"github.com/nmxmxh/dht-core/internal/protocol"
	"github.com/nmxmxh/dht-core/internal/routing"
	"github.com/nmxmxh/dht-core/internal/settings"
	"github.com/nmxmxh/dht-core/internal/storage"
)

func main() {
	var (
		listenAddr = flag.String("listen", ":6881", "UDP address to listen for KRPC messages on")
		statePath  = flag.String("state", "", "path to a dht.dat state file to load/save (optional)")
		metricsAddr = flag.String("metrics-addr", "", "address to serve a read-only WebSocket metrics feed on (optional)")
		logLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	flag.Parse()

	logger := newLogger(*logLevel)

	own, err := randomOwnId()
	if err != nil {
		logger.Error("failed to generate node id", "error", err)
		os.Exit(1)
	}
	logger.Info("starting dht node", "own_id", fmt.Sprintf("%x", own.Bytes()), "listen", *listenAddr)

	cfg := settings.Default()
	table := routing.New(own, 8, logger, nil)
	store := storage.New(cfg, logger, nil)

	if *statePath != "" {
		loadState(*statePath, table, logger)
	}

	glue := protocol.New(table, func(node dhtmsg.Node, key dhtid.NodeId) {
		logger.Debug("re-replicating to new neighbour", "node", fmt.Sprintf("%x", node.Id.Bytes()), "key", fmt.Sprintf("%x", key.Bytes()))
	}, logger)
	admission := protocol.NewAdmission(cfg)

	conn, err := net.ListenPacket("udp", *listenAddr)
	if err != nil {
		logger.Error("failed to bind udp listener", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	server := &Server{
		conn:      conn,
		own:       own,
		table:     table,
		storage:   store,
		settings:  cfg,
		admission: admission,
		glue:      glue,
		logger:    logger,
	}

	var metrics *MetricsServer
	if *metricsAddr != "" {
		metrics = NewMetricsServer(*metricsAddr, server, logger)
		go metrics.Serve()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go server.Serve()

	<-sigCh
	logger.Info("shutting down")
	if *statePath != "" {
		saveState(*statePath, table, logger)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}

func randomOwnId() (dhtid.NodeId, error) {
	var seed [dhtid.Size]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return dhtid.NodeId{}, err
	}
	return dhtid.FromBytes(seed[:])
}

func loadState(path string, table *routing.Table, logger *slog.Logger) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("no existing state file, starting fresh", "path", path, "error", err)
		return
	}
	v, err := bencode.Decode(data)
	if err != nil {
		logger.Warn("failed to parse state file", "path", path, "error", err)
		return
	}
	st := dhtstate.Read(v)
	count := 0
	for _, ep := range st.Nodes {
		table.AddContact(dhtmsg.Node{Addr: ep.IP, Port: ep.Port})
		count++
	}
	for _, ep := range st.Nodes6 {
		table.AddContact(dhtmsg.Node{Addr: ep.IP, Port: ep.Port})
		count++
	}
	logger.Info("loaded state", "path", path, "endpoints", count)
}

func saveState(path string, table *routing.Table, logger *slog.Logger) {
	var st dhtstate.State
	for _, b := range table.Buckets() {
		for _, n := range b.Primary {
			ep := dhtstate.Endpoint{IP: n.Addr, Port: n.Port}
			if n.Addr.To4() != nil {
				st.Nodes = append(st.Nodes, ep)
			} else {
				st.Nodes6 = append(st.Nodes6, ep)
			}
		}
	}
	if err := os.WriteFile(path, st.Encode().ToVec(), 0o600); err != nil {
		logger.Error("failed to save state", "path", path, "error", err)
	}
}

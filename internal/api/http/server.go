// Package apihttp exposes the torrent-streaming core over HTTP: torrent
// management, file listing, byte-range streaming, live status over WebSocket
// and Prometheus metrics.
package apihttp

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
	"swarmstream/internal/resolver"
	"swarmstream/internal/session"
)

type Server struct {
	resolver *resolver.Resolver
	registry *session.Registry
	logger   *slog.Logger

	networkCaching time.Duration
	rateLimitRPS   float64

	handler http.Handler
	wsHub   *wsHub

	mu     sync.RWMutex
	pinned map[domain.ContentKey]pinnedTorrent
	status map[domain.ContentKey]domain.StatusSnapshot
}

// pinnedTorrent is a torrent held open by a POST /torrents call: one session
// reference plus the add-parameters needed to hand out further references.
type pinnedTorrent struct {
	sess   *session.Session
	params ports.AddParams
	desc   *resolver.Descriptor
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithNetworkCaching passes the host player's buffering hint through to
// stream capability reporting.
func WithNetworkCaching(d time.Duration) ServerOption {
	return func(s *Server) {
		s.networkCaching = d
	}
}

// WithRateLimit caps request throughput; 0 disables limiting.
func WithRateLimit(rps float64) ServerOption {
	return func(s *Server) {
		s.rateLimitRPS = rps
	}
}

func NewServer(res *resolver.Resolver, reg *session.Registry, opts ...ServerOption) *Server {
	s := &Server{
		resolver: res,
		registry: reg,
		pinned:   make(map[domain.ContentKey]pinnedTorrent),
		status:   make(map[domain.ContentKey]domain.StatusSnapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/torrents", s.handleTorrents)
	mux.HandleFunc("/torrents/", s.handleTorrentByKey)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "swarmstream",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/metrics" && r.URL.Path != "/healthz"
		}),
	)
	chain := metricsMiddleware(corsMiddleware(traced))
	if s.rateLimitRPS > 0 {
		chain = rateLimitMiddleware(s.rateLimitRPS, int(s.rateLimitRPS)*2, chain)
	}
	s.handler = recoveryMiddleware(s.logger, chain)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// UpdateStatus replaces the cached per-torrent snapshots and pushes them to
// all WebSocket clients. Fed from the event bus by the process wiring.
func (s *Server) UpdateStatus(snapshots []domain.StatusSnapshot) {
	s.mu.Lock()
	s.status = make(map[domain.ContentKey]domain.StatusSnapshot, len(snapshots))
	for _, snap := range snapshots {
		s.status[snap.Key] = snap
	}
	s.mu.Unlock()

	s.wsHub.BroadcastStatus(snapshots)
}

// UpdateDHTStats pushes the DHT routing table size to WebSocket clients.
func (s *Server) UpdateDHTStats(nodes int) {
	s.wsHub.BroadcastDHTStats(nodes)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	s.wsHub.register <- client
	go client.writePump()
	go client.readPump()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.registry.Active(),
	})
}

// Close disconnects WebSocket clients and releases every pinned torrent.
func (s *Server) Close() {
	s.wsHub.Close()

	s.mu.Lock()
	pinned := s.pinned
	s.pinned = make(map[domain.ContentKey]pinnedTorrent)
	s.mu.Unlock()

	for _, p := range pinned {
		p.sess.Release()
	}
}

package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"swarmstream/internal/domain"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swarmstream",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "swarmstream",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swarmstream",
		Name:      "active_sessions",
		Help:      "Number of live torrent sessions.",
	})

	SessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swarmstream",
		Name:      "sessions_created_total",
		Help:      "Total torrent sessions constructed.",
	})

	PieceWaitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "swarmstream",
		Name:      "piece_wait_duration_seconds",
		Help:      "Time a read spent blocked waiting for a piece.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	PieceWaitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swarmstream",
		Name:      "piece_waits_total",
		Help:      "Piece-presence waits by outcome.",
	}, []string{"outcome"})

	MetadataCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swarmstream",
		Name:      "metadata_cache_hits_total",
		Help:      "Metadata resolutions answered from the disk cache.",
	})

	MetadataCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swarmstream",
		Name:      "metadata_cache_misses_total",
		Help:      "Metadata resolutions that had to hit the swarm.",
	})

	BytesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swarmstream",
		Name:      "bytes_read_total",
		Help:      "Bytes handed to stream readers.",
	})

	DownloadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swarmstream",
		Name:      "download_speed_bytes",
		Help:      "Aggregate download speed in bytes per second.",
	})

	UploadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swarmstream",
		Name:      "upload_speed_bytes",
		Help:      "Aggregate upload speed in bytes per second.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swarmstream",
		Name:      "peers_connected",
		Help:      "Peers connected across all sessions.",
	})

	DHTNodes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swarmstream",
		Name:      "dht_nodes",
		Help:      "Nodes in the backend's DHT routing table.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveSessions,
		SessionsCreated,
		PieceWaitDuration,
		PieceWaitsTotal,
		MetadataCacheHits,
		MetadataCacheMisses,
		BytesRead,
		DownloadSpeedBytes,
		UploadSpeedBytes,
		PeersConnected,
		DHTNodes,
	)
}

// PieceWaitTimer times one piece-presence wait and records its outcome.
type PieceWaitTimer struct {
	start time.Time
}

func NewPieceWaitTimer() PieceWaitTimer {
	return PieceWaitTimer{start: time.Now()}
}

func (t PieceWaitTimer) Done(err error) {
	PieceWaitDuration.Observe(time.Since(t.start).Seconds())
	PieceWaitsTotal.WithLabelValues(waitOutcome(err)).Inc()
}

func waitOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrCanceled):
		return "canceled"
	default:
		return "error"
	}
}

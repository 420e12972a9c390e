package anacrolix

import (
	"time"

	"github.com/anacrolix/dht/v2"

	"swarmstream/internal/domain"
)

// PostStatus snapshots every live torrent plus the DHT routing table and
// queues the results as status events.
func (b *Backend) PostStatus() {
	b.mu.Lock()
	handles := make([]*handle, 0, len(b.handles))
	for _, h := range b.handles {
		handles = append(handles, h)
	}
	b.mu.Unlock()

	now := time.Now()
	snapshots := make([]domain.StatusSnapshot, 0, len(handles))
	for _, h := range handles {
		snapshots = append(snapshots, b.snapshot(h, now))
	}

	nodes := 0
	for _, srv := range b.client.DhtServers() {
		if stats, ok := srv.Stats().(dht.ServerStats); ok {
			nodes += stats.Nodes
		}
	}

	b.enqueue(
		domain.StatusEvent{Snapshots: snapshots},
		domain.DHTStatsEvent{Nodes: nodes},
	)
}

func (b *Backend) snapshot(h *handle, now time.Time) domain.StatusSnapshot {
	stats := h.t.Stats()
	snap := domain.StatusSnapshot{
		Key:    h.key,
		KeyHex: h.key.Hex(),
		Name:   h.t.Name(),
		Peers:  stats.ActivePeers,
		Seeds:  stats.ConnectedSeeders,
	}
	if infoReady(h.t) {
		if length := h.t.Length(); length > 0 {
			snap.Progress = float64(h.t.BytesCompleted()) / float64(length)
		}
	}
	snap.DownloadRate, snap.UploadRate = b.sampleSpeed(
		h.key,
		stats.BytesReadUsefulData.Int64(),
		stats.BytesWrittenData.Int64(),
		now,
	)
	return snap
}

type speedSample struct {
	at           time.Time
	bytesRead    int64
	bytesWritten int64
}

// sampleSpeed derives byte-per-second rates from the delta against the
// previous sample for the same torrent. The first sample reports zero.
func (b *Backend) sampleSpeed(key domain.ContentKey, currentRead, currentWritten int64, now time.Time) (int64, int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev, ok := b.speeds[key]
	b.speeds[key] = speedSample{
		at:           now,
		bytesRead:    currentRead,
		bytesWritten: currentWritten,
	}
	if !ok || prev.at.IsZero() {
		return 0, 0
	}

	dt := now.Sub(prev.at).Seconds()
	if dt <= 0 {
		return 0, 0
	}
	deltaRead := currentRead - prev.bytesRead
	deltaWritten := currentWritten - prev.bytesWritten
	if deltaRead < 0 {
		deltaRead = 0
	}
	if deltaWritten < 0 {
		deltaWritten = 0
	}
	return int64(float64(deltaRead) / dt), int64(float64(deltaWritten) / dt)
}

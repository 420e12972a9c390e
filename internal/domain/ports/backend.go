package ports

import (
	"time"

	"swarmstream/internal/domain"
)

// AddParams describes a torrent to hand to the backend. Either MetaInfo
// carries a full bencoded descriptor, or Magnet/Trackers describe a
// metadata-less add that must resolve via the swarm.
type AddParams struct {
	Key         domain.ContentKey
	MetaInfo    []byte
	Magnet      string
	Trackers    []string
	DisplayName string
	SavePath    string
}

// Backend is the swarm engine consumed by the event bus. Implementations own
// piece storage and peer connections; this module never touches the wire
// protocol. All methods must be safe for concurrent use.
type Backend interface {
	AddTorrent(p AddParams) (Handle, error)
	RemoveTorrent(h Handle, keepFiles bool) error

	// WaitEvent blocks until at least one event is queued or the timeout
	// elapses. Abort wakes any in-flight wait.
	WaitEvent(timeout time.Duration)
	// PopEvents drains and returns all queued events.
	PopEvents() []domain.Event
	// PostStatus enqueues fresh StatusEvent/DHTStatsEvent snapshots.
	PostStatus()

	Abort()
	Close() error
}

// Handle is one torrent within the backend.
type Handle interface {
	Key() domain.ContentKey
	// Info returns the decoded metadata, or false while it is still being
	// fetched from the swarm.
	Info() (domain.TorrentInfo, bool)
	HavePiece(piece int) bool
	PiecePriority(piece int) domain.PriorityTier
	SetPiecePriority(piece int, tier domain.PriorityTier)
	// ReadPiece asynchronously fetches the piece's bytes from storage; the
	// result arrives as a PieceBytesEvent on the bus.
	ReadPiece(piece int)
	// Metadata returns the bencoded descriptor once Info is available.
	Metadata() ([]byte, error)
}

package domain

// Event is the closed union of notifications the swarm backend emits.
// Consumers dispatch with a type switch; the set of concrete payloads below
// is exhaustive.
type Event interface {
	isEvent()
}

// PieceCompleteEvent: a piece passed verification and is on disk.
type PieceCompleteEvent struct {
	Key   ContentKey
	Piece int
}

// PieceBytesEvent: a requested piece's bytes were delivered, or the delivery
// failed. Bytes is the whole piece.
type PieceBytesEvent struct {
	Key   ContentKey
	Piece int
	Bytes []byte
	Err   error
}

// MetadataReceivedEvent: torrent metadata became available.
type MetadataReceivedEvent struct {
	Key ContentKey
}

// MetadataFailedEvent: the backend gave up fetching metadata.
type MetadataFailedEvent struct {
	Key ContentKey
}

// TorrentErrorEvent: the backend reported a torrent-level failure.
type TorrentErrorEvent struct {
	Key ContentKey
	Err error
}

// TorrentRemovedEvent: removal of the torrent was confirmed.
type TorrentRemovedEvent struct {
	Key ContentKey
}

// StatusEvent: periodic per-torrent transfer snapshots, posted on every bus
// pump wake.
type StatusEvent struct {
	Snapshots []StatusSnapshot
}

// DHTStatsEvent: periodic DHT routing table size.
type DHTStatsEvent struct {
	Nodes int
}

func (PieceCompleteEvent) isEvent()    {}
func (PieceBytesEvent) isEvent()       {}
func (MetadataReceivedEvent) isEvent() {}
func (MetadataFailedEvent) isEvent()   {}
func (TorrentErrorEvent) isEvent()     {}
func (TorrentRemovedEvent) isEvent()   {}
func (StatusEvent) isEvent()           {}
func (DHTStatsEvent) isEvent()         {}

// StatusSnapshot is a compact transfer-state slice for one torrent.
type StatusSnapshot struct {
	Key          ContentKey `json:"-"`
	KeyHex       string     `json:"key"`
	Name         string     `json:"name,omitempty"`
	Progress     float64    `json:"progress"`
	DownloadRate int64      `json:"downloadRate"`
	UploadRate   int64      `json:"uploadRate"`
	Peers        int        `json:"peers"`
	Seeds        int        `json:"seeds"`
}

// Package enginetest provides an in-memory ports.Backend with scripted
// events, shared by the bus, session and resolver tests.
package enginetest

import (
	"sync"
	"time"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
)

type Backend struct {
	mu      sync.Mutex
	queue   []domain.Event
	wake    chan struct{}
	abort   chan struct{}
	handles map[domain.ContentKey]*Handle

	Added   []ports.AddParams
	Removed []Removal
	AddErr  error

	// ConfirmRemoval auto-injects a TorrentRemovedEvent on RemoveTorrent.
	ConfirmRemoval bool
	// Status, when set, is enqueued as a StatusEvent by PostStatus.
	Status []domain.StatusSnapshot

	statusPosts int
}

type Removal struct {
	Key  domain.ContentKey
	Keep bool
}

func New() *Backend {
	return &Backend{
		wake:    make(chan struct{}, 1),
		abort:   make(chan struct{}),
		handles: make(map[domain.ContentKey]*Handle),
	}
}

// Inject queues events and wakes the pump.
func (b *Backend) Inject(events ...domain.Event) {
	b.mu.Lock()
	b.queue = append(b.queue, events...)
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Backend) WaitEvent(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-b.wake:
	case <-b.abort:
	case <-timer.C:
	}
}

func (b *Backend) PopEvents() []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.queue
	b.queue = nil
	return events
}

func (b *Backend) PostStatus() {
	b.mu.Lock()
	b.statusPosts++
	status := b.Status
	b.mu.Unlock()
	if len(status) > 0 {
		b.Inject(domain.StatusEvent{Snapshots: status})
	}
}

func (b *Backend) StatusPosts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusPosts
}

func (b *Backend) AddTorrent(p ports.AddParams) (ports.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.AddErr != nil {
		return nil, b.AddErr
	}
	b.Added = append(b.Added, p)
	h, ok := b.handles[p.Key]
	if !ok {
		h = &Handle{backend: b, key: p.Key}
		b.handles[p.Key] = h
	}
	return h, nil
}

func (b *Backend) RemoveTorrent(h ports.Handle, keepFiles bool) error {
	b.mu.Lock()
	b.Removed = append(b.Removed, Removal{Key: h.Key(), Keep: keepFiles})
	confirm := b.ConfirmRemoval
	b.mu.Unlock()
	if confirm {
		b.Inject(domain.TorrentRemovedEvent{Key: h.Key()})
	}
	return nil
}

func (b *Backend) Abort() {
	select {
	case <-b.abort:
	default:
		close(b.abort)
	}
}

func (b *Backend) Close() error { return nil }

// PrepareHandle registers (or returns) the handle for key so tests can shape
// it before AddTorrent runs.
func (b *Backend) PrepareHandle(key domain.ContentKey) *Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.handles[key]
	if !ok {
		h = &Handle{backend: b, key: key}
		b.handles[key] = h
	}
	return h
}

type Handle struct {
	backend *Backend
	key     domain.ContentKey

	mu        sync.Mutex
	info      domain.TorrentInfo
	hasInfo   bool
	metainfo  []byte
	have      map[int]bool
	prio      map[int]domain.PriorityTier
	pieceData map[int][]byte
	reads     []int

	// DeliverReads auto-injects a PieceBytesEvent for each ReadPiece using
	// the bytes from SetPieceData.
	DeliverReads bool
}

func (h *Handle) Key() domain.ContentKey { return h.key }

func (h *Handle) SetInfo(info domain.TorrentInfo, metainfo []byte) {
	h.mu.Lock()
	h.info = info
	h.hasInfo = true
	h.metainfo = metainfo
	h.mu.Unlock()
}

func (h *Handle) Info() (domain.TorrentInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.info, h.hasInfo
}

func (h *Handle) MarkHave(pieces ...int) {
	h.mu.Lock()
	if h.have == nil {
		h.have = make(map[int]bool)
	}
	for _, p := range pieces {
		h.have[p] = true
	}
	h.mu.Unlock()
}

func (h *Handle) HavePiece(piece int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.have[piece]
}

func (h *Handle) PiecePriority(piece int) domain.PriorityTier {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.prio[piece]
}

func (h *Handle) SetPiecePriority(piece int, tier domain.PriorityTier) {
	h.mu.Lock()
	if h.prio == nil {
		h.prio = make(map[int]domain.PriorityTier)
	}
	h.prio[piece] = tier
	h.mu.Unlock()
}

// Priorities returns a copy of every piece priority ever set.
func (h *Handle) Priorities() map[int]domain.PriorityTier {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[int]domain.PriorityTier, len(h.prio))
	for p, t := range h.prio {
		out[p] = t
	}
	return out
}

func (h *Handle) SetPieceData(piece int, data []byte) {
	h.mu.Lock()
	if h.pieceData == nil {
		h.pieceData = make(map[int][]byte)
	}
	h.pieceData[piece] = data
	h.mu.Unlock()
}

func (h *Handle) ReadPiece(piece int) {
	h.mu.Lock()
	h.reads = append(h.reads, piece)
	deliver := h.DeliverReads
	data := h.pieceData[piece]
	h.mu.Unlock()
	if deliver {
		h.backend.Inject(domain.PieceBytesEvent{Key: h.key, Piece: piece, Bytes: data})
	}
}

func (h *Handle) ReadRequests() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.reads...)
}

func (h *Handle) Metadata() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.hasInfo {
		return nil, domain.ErrNotFound
	}
	return h.metainfo, nil
}

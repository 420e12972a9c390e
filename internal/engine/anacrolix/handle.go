package anacrolix

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/anacrolix/torrent"

	"swarmstream/internal/domain"
)

// handle is one torrent within the backend. Priority tiers are tracked here
// because the client exposes piece priority only as a setter.
type handle struct {
	b   *Backend
	t   *torrent.Torrent
	key domain.ContentKey

	prioMu sync.Mutex
	prios  map[int]domain.PriorityTier
}

func (h *handle) Key() domain.ContentKey { return h.key }

func (h *handle) Info() (domain.TorrentInfo, bool) {
	if !infoReady(h.t) {
		return domain.TorrentInfo{}, false
	}
	info := h.t.Info()
	files := h.t.Files()
	entries := make([]domain.FileEntry, 0, len(files))
	for i, f := range files {
		entries = append(entries, domain.FileEntry{
			Index:  i,
			Path:   f.DisplayPath(),
			Length: f.Length(),
			Offset: f.Offset(),
		})
	}
	return domain.TorrentInfo{
		Name:        info.Name,
		PieceLength: info.PieceLength,
		NumPieces:   h.t.NumPieces(),
		Files:       entries,
	}, true
}

func (h *handle) HavePiece(piece int) bool {
	if !infoReady(h.t) || piece < 0 || piece >= h.t.NumPieces() {
		return false
	}
	return h.t.PieceState(piece).Complete
}

func (h *handle) PiecePriority(piece int) domain.PriorityTier {
	h.prioMu.Lock()
	defer h.prioMu.Unlock()
	return h.prios[piece]
}

func (h *handle) SetPiecePriority(piece int, tier domain.PriorityTier) {
	if !infoReady(h.t) || piece < 0 || piece >= h.t.NumPieces() {
		return
	}
	h.prioMu.Lock()
	h.prios[piece] = tier
	h.prioMu.Unlock()
	h.t.Piece(piece).SetPriority(mapTier(tier))
}

func mapTier(tier domain.PriorityTier) torrent.PiecePriority {
	switch tier {
	case domain.TierExact:
		return torrent.PiecePriorityNow
	case domain.TierNearEdge:
		return torrent.PiecePriorityNext
	case domain.TierPrefetch:
		return torrent.PiecePriorityReadahead
	default:
		return torrent.PiecePriorityNormal
	}
}

// ReadPiece fetches the piece's bytes off storage in the background; the
// result lands on the event queue as a PieceBytesEvent.
func (h *handle) ReadPiece(piece int) {
	go func() {
		data, err := h.readPiece(piece)
		h.b.enqueue(domain.PieceBytesEvent{Key: h.key, Piece: piece, Bytes: data, Err: err})
	}()
}

func (h *handle) readPiece(piece int) ([]byte, error) {
	if !infoReady(h.t) {
		return nil, fmt.Errorf("read piece %d: metadata not available", piece)
	}
	info := h.t.Info()
	total := h.t.Length()
	off := int64(piece) * info.PieceLength
	if piece < 0 || off >= total {
		return nil, fmt.Errorf("read piece %d: out of range", piece)
	}
	n := info.PieceLength
	if off+n > total {
		n = total - off
	}

	r := h.t.NewReader()
	defer r.Close()
	r.SetResponsive()
	if _, err := r.Seek(off, io.SeekStart); err != nil {
		return nil, fmt.Errorf("read piece %d: seek: %w", piece, err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read piece %d: %w", piece, err)
	}
	return buf, nil
}

func (h *handle) Metadata() ([]byte, error) {
	if !infoReady(h.t) {
		return nil, fmt.Errorf("metadata for %s not available", h.key)
	}
	mi := h.t.Metainfo()
	var buf bytes.Buffer
	if err := mi.Write(&buf); err != nil {
		return nil, fmt.Errorf("encode metainfo for %s: %w", h.key, err)
	}
	return buf.Bytes(), nil
}

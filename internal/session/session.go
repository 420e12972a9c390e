package session

import (
	"context"
	"fmt"
	"log/slog"

	"swarmstream/internal/bus"
	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
	"swarmstream/internal/metrics"
)

const (
	kib = int64(1024)
	mib = 1024 * kib

	// nearEdgeFloor sizes the head/tail scrub windows.
	nearEdgeFloor = 128 * kib
	// readAheadFloor sizes the forward prefetch window.
	readAheadFloor = 32 * mib
)

// Session is the per-torrent facade handed out by the Registry. All blocking
// operations take a context; cancellation resolves the wait with ErrCanceled
// instead of riding out the timeout ceiling.
type Session struct {
	registry *Registry
	bus      *bus.Bus
	handle   ports.Handle
	key      domain.ContentKey
	logger   *slog.Logger
}

func newSession(r *Registry, p ports.AddParams) (*Session, error) {
	h, err := r.bus.AddTorrent(p)
	if err != nil {
		return nil, fmt.Errorf("%w: add torrent %s: %v", domain.ErrConstruction, p.Key, err)
	}
	r.logger.Info("torrent session created", slog.String("key", p.Key.Hex()))
	metrics.SessionsCreated.Inc()
	return &Session{
		registry: r,
		bus:      r.bus,
		handle:   h,
		key:      p.Key,
		logger:   r.logger,
	}, nil
}

func (s *Session) Key() domain.ContentKey { return s.key }

// Release drops one reference. The last release removes the torrent from the
// backend and waits (bounded, not cancelable) for removal confirmation; a
// timeout there is tolerated so destruction always completes.
func (s *Session) Release() {
	s.registry.release(s)
}

func (s *Session) close() {
	req := bus.NewRequest(s.bus, matchRemoved(s.key))
	defer req.Close()

	if err := s.bus.RemoveTorrent(s.handle, s.registry.cfg.KeepFiles); err != nil {
		s.logger.Warn("torrent removal failed",
			slog.String("key", s.key.Hex()),
			slog.String("error", err.Error()),
		)
		return
	}
	if _, err := req.Wait(context.Background(), removeWait); err != nil {
		s.logger.Debug("removal confirmation timed out",
			slog.String("key", s.key.Hex()),
		)
	}
	s.logger.Info("torrent session destroyed", slog.String("key", s.key.Hex()))
}

// Read copies up to len(buf) bytes of the given file starting at off,
// blocking until the covering piece is on disk. Returns 0 at or past the end
// of the file. One call reads from at most one piece; callers loop for more.
func (s *Session) Read(ctx context.Context, file int, off int64, buf []byte) (int, error) {
	info, err := s.ensureMetadata(ctx, nil)
	if err != nil {
		return 0, err
	}
	f, ok := info.File(file)
	if !ok {
		return 0, fmt.Errorf("%w: file index %d", domain.ErrNotFound, file)
	}
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", domain.ErrInvalidArgument, off)
	}
	if off >= f.Length {
		return 0, nil
	}

	pr, ok := domain.MapRange(info, file, off, int64(len(buf)))
	if !ok {
		return 0, nil
	}

	// Priority bands, highest first. Raises are monotonic and idempotent so
	// concurrent reads racing over the same pieces are safe.
	s.raise(info, file, off, pr.Length, domain.TierExact)
	edge := max(f.Length/1000, nearEdgeFloor)
	s.raise(info, file, 0, edge, domain.TierNearEdge)
	s.raise(info, file, f.Length-edge, edge, domain.TierNearEdge)
	ahead := max(5*f.Length/100, readAheadFloor)
	s.raise(info, file, off, ahead, domain.TierPrefetch)

	if err := s.waitForPiece(ctx, pr.Piece); err != nil {
		return 0, err
	}
	data, err := s.readPiece(ctx, pr.Piece)
	if err != nil {
		return 0, err
	}

	n := min(int64(len(data))-pr.Start, int64(len(buf)), pr.Length)
	if n < 0 {
		return -1, fmt.Errorf("%w: piece %d shorter than mapped range", domain.ErrSwarm, pr.Piece)
	}
	copy(buf[:n], data[pr.Start:pr.Start+n])
	return int(n), nil
}

// SetPiecePriority raises the priority of every not-yet-owned piece covering
// [off, off+size) of the file to at least tier. Used standalone by seek-ahead
// hints; a no-op until metadata is known.
func (s *Session) SetPiecePriority(file int, off, size int64, tier domain.PriorityTier) {
	info, ok := s.handle.Info()
	if !ok {
		return
	}
	s.raise(info, file, off, size, tier)
}

// raise is the monotonic priority walk: owned pieces are skipped and a piece
// already at or above tier is left alone, so priorities only ever go up.
func (s *Session) raise(info domain.TorrentInfo, file int, off, size int64, tier domain.PriorityTier) {
	f, ok := info.File(file)
	if !ok {
		return
	}
	if off < 0 {
		off = 0
	}
	if off > f.Length {
		off = f.Length
	}
	first, last, ok := domain.PieceSpan(info, file, off, size)
	if !ok {
		return
	}
	for p := first; p < last; p++ {
		if s.handle.HavePiece(p) {
			continue
		}
		if s.handle.PiecePriority(p) < tier {
			s.handle.SetPiecePriority(p, tier)
		}
	}
}

// Files returns the torrent's file table, waiting for metadata if necessary.
func (s *Session) Files(ctx context.Context) ([]domain.FileEntry, error) {
	info, err := s.ensureMetadata(ctx, nil)
	if err != nil {
		return nil, err
	}
	return append([]domain.FileEntry(nil), info.Files...), nil
}

// FileByPath scans the file table for an exact path match.
func (s *Session) FileByPath(ctx context.Context, path string) (domain.FileEntry, error) {
	info, err := s.ensureMetadata(ctx, nil)
	if err != nil {
		return domain.FileEntry{}, err
	}
	for _, f := range info.Files {
		if f.Path == path {
			return f, nil
		}
	}
	return domain.FileEntry{}, fmt.Errorf("%w: file %q", domain.ErrNotFound, path)
}

// Name returns the torrent's display name from its metadata.
func (s *Session) Name(ctx context.Context) (string, error) {
	info, err := s.ensureMetadata(ctx, nil)
	if err != nil {
		return "", err
	}
	return info.Name, nil
}

// Metadata returns the bencoded torrent descriptor, fetching it from the
// swarm first when needed. progress, if non-nil, is invoked with 0 before a
// fetch and 100 after it completes.
func (s *Session) Metadata(ctx context.Context, progress func(pct int)) ([]byte, error) {
	if _, err := s.ensureMetadata(ctx, progress); err != nil {
		return nil, err
	}
	data, err := s.handle.Metadata()
	if err != nil {
		return nil, fmt.Errorf("%w: serialize metadata: %v", domain.ErrSwarm, err)
	}
	return data, nil
}

// ensureMetadata returns the torrent info, blocking on a metadata wait when
// it is not yet known.
func (s *Session) ensureMetadata(ctx context.Context, progress func(pct int)) (domain.TorrentInfo, error) {
	if info, ok := s.handle.Info(); ok {
		if progress != nil {
			progress(0)
			progress(100)
		}
		return info, nil
	}

	req := bus.NewRequest(s.bus, matchMetadata(s.key))
	defer req.Close()

	// The metadata may have landed between the check above and the
	// subscription; re-check now that no event can slip past.
	if info, ok := s.handle.Info(); ok {
		if progress != nil {
			progress(0)
			progress(100)
		}
		return info, nil
	}

	if progress != nil {
		progress(0)
	}
	if _, err := req.Wait(ctx, s.registry.cfg.MetadataWait); err != nil {
		return domain.TorrentInfo{}, err
	}
	info, ok := s.handle.Info()
	if !ok {
		return domain.TorrentInfo{}, fmt.Errorf("%w: metadata event without payload", domain.ErrSwarm)
	}
	if progress != nil {
		progress(100)
	}
	return info, nil
}

// waitForPiece blocks until the piece is verified on disk.
func (s *Session) waitForPiece(ctx context.Context, piece int) error {
	req := bus.NewRequest(s.bus, matchPieceComplete(s.key, piece))
	defer req.Close()

	// Subscribe-then-check: a completion landing between the two cannot be
	// missed.
	if s.handle.HavePiece(piece) {
		return nil
	}

	timer := metrics.NewPieceWaitTimer()
	_, err := req.Wait(ctx, s.registry.cfg.PieceWait)
	timer.Done(err)
	return err
}

// readPiece requests the piece's bytes from storage and waits for delivery.
func (s *Session) readPiece(ctx context.Context, piece int) ([]byte, error) {
	req := bus.NewRequest(s.bus, matchPieceBytes(s.key, piece))
	defer req.Close()

	s.handle.ReadPiece(piece)
	return req.Wait(ctx, s.registry.cfg.PieceWait)
}

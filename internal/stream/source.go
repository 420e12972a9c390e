// Package stream adapts one torrent file into a seekable byte source for the
// host player, bridging its pull reads onto the session's blocking piece
// reads.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"swarmstream/internal/domain"
	"swarmstream/internal/metrics"
	"swarmstream/internal/session"
)

// Source reads one file of a torrent sequentially with seek support. It holds
// one reference on the underlying session for its lifetime; Close releases it.
// Source implements io.ReadSeekCloser and io.ReaderAt.
type Source struct {
	sess *session.Session
	file domain.FileEntry
	caps domain.Capabilities

	mu     sync.Mutex
	pos    int64
	closed bool
}

// Options tunes a Source. The zero value is usable.
type Options struct {
	// NetworkCaching is the host's buffering hint; it floors the reported
	// PTS delay.
	NetworkCaching time.Duration
	// ControlPace reports whether the host lets the source pace delivery.
	ControlPace bool
}

// NewSource wraps file of sess. Ownership of one session reference transfers
// to the Source.
func NewSource(sess *session.Session, file domain.FileEntry, opts Options) *Source {
	return &Source{
		sess: sess,
		file: file,
		caps: domain.CapabilitiesFor(opts.NetworkCaching, opts.ControlPace),
	}
}

// Open resolves path within sess's file table and wraps it. On error the
// caller keeps its session reference.
func Open(ctx context.Context, sess *session.Session, path string, opts Options) (*Source, error) {
	f, err := sess.FileByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	return NewSource(sess, f, opts), nil
}

func (s *Source) Capabilities() domain.Capabilities { return s.caps }

func (s *Source) Size() int64 { return s.file.Length }

func (s *Source) File() domain.FileEntry { return s.file }

// Read fills p from the current position, blocking until the covering piece
// is available. Returns io.EOF at end of file.
func (s *Source) Read(p []byte) (int, error) {
	return s.ReadContext(context.Background(), p)
}

// ReadContext is Read with cancellation. The host's interrupt maps to the
// context; a canceled wait surfaces as ErrCanceled, not a stall.
func (s *Source) ReadContext(ctx context.Context, p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("%w: source closed", domain.ErrInvalidArgument)
	}
	n, err := s.readAt(ctx, p, s.pos)
	s.pos += int64(n)
	return n, err
}

// ReadAt reads len(p) bytes at off without moving the cursor, looping over
// piece boundaries until the buffer is full or the file ends.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("%w: source closed", domain.ErrInvalidArgument)
	}
	total := 0
	for total < len(p) {
		n, err := s.readAt(context.Background(), p[total:], off+int64(total))
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// readAt performs one piece-bounded read. Callers hold s.mu.
func (s *Source) readAt(ctx context.Context, p []byte, off int64) (int, error) {
	n, err := s.sess.Read(ctx, s.file.Index, off, p)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	metrics.BytesRead.Add(float64(n))
	return n, nil
}

// Seek repositions the cursor and hints the swarm toward the target so the
// pieces around it are already in flight when the next Read lands.
func (s *Source) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("%w: source closed", domain.ErrInvalidArgument)
	}

	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = s.pos + offset
	case io.SeekEnd:
		pos = s.file.Length + offset
	default:
		return 0, fmt.Errorf("%w: seek whence %d", domain.ErrInvalidArgument, whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("%w: seek before start", domain.ErrInvalidArgument)
	}
	s.pos = pos

	if pos < s.file.Length {
		s.sess.SetPiecePriority(s.file.Index, pos, seekHintBytes, domain.TierNearEdge)
	}
	return pos, nil
}

// seekHintBytes sizes the window raised around a seek target.
const seekHintBytes = 4 << 20

// Close releases the session reference. Safe to call more than once.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.sess.Release()
	return nil
}

// Reader returns an io.ReadSeeker view whose reads are bounded by ctx.
// Closing the Source invalidates it.
func (s *Source) Reader(ctx context.Context) io.ReadSeeker {
	return &ctxReader{src: s, ctx: ctx}
}

type ctxReader struct {
	src *Source
	ctx context.Context
}

func (r *ctxReader) Read(p []byte) (int, error) {
	return r.src.ReadContext(r.ctx, p)
}

func (r *ctxReader) Seek(offset int64, whence int) (int64, error) {
	return r.src.Seek(offset, whence)
}

// IsEOF reports whether err marks a clean end of stream.
func IsEOF(err error) bool {
	return errors.Is(err, io.EOF)
}

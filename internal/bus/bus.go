// Package bus owns the swarm backend and fans its event stream out to any
// number of independent listeners. One background goroutine pumps events;
// everything else subscribes.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
)

// pollInterval bounds how long the pump sleeps with no events queued, so
// status snapshots stay fresh even on a quiet swarm.
const pollInterval = time.Second

// Listener receives every backend event. Implementations must not block;
// long work belongs on the listener's own goroutine.
type Listener interface {
	HandleEvent(ev domain.Event)
}

// Bus is the single owner of a ports.Backend. Construct with New, tear down
// with Close; there is no ambient singleton.
type Bus struct {
	backend ports.Backend
	logger  *slog.Logger

	mu        sync.Mutex
	listeners []Listener

	quit atomic.Bool
	done chan struct{}
}

func New(backend ports.Backend, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		backend: backend,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go b.pump()
	return b
}

// Register subscribes l to every subsequent event dispatch.
func (b *Bus) Register(l Listener) {
	b.mu.Lock()
	b.listeners = append(b.listeners, l)
	b.mu.Unlock()
}

// Unregister removes l by identity. Removing a listener that was never
// registered is a no-op.
func (b *Bus) Unregister(l Listener) {
	b.mu.Lock()
	for i, cur := range b.listeners {
		if cur == l {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
}

// AddTorrent and RemoveTorrent are thin pass-throughs to the backend so that
// no other component needs to hold the backend directly.

func (b *Bus) AddTorrent(p ports.AddParams) (ports.Handle, error) {
	return b.backend.AddTorrent(p)
}

func (b *Bus) RemoveTorrent(h ports.Handle, keepFiles bool) error {
	return b.backend.RemoveTorrent(h, keepFiles)
}

// Close stops the pump, waits for it to exit and shuts the backend down.
// Safe to call once.
func (b *Bus) Close() error {
	b.quit.Store(true)
	b.backend.Abort()
	<-b.done
	return b.backend.Close()
}

func (b *Bus) pump() {
	defer close(b.done)
	for !b.quit.Load() {
		b.backend.WaitEvent(pollInterval)
		if b.quit.Load() {
			return
		}
		b.backend.PostStatus()
		events := b.backend.PopEvents()
		if len(events) == 0 {
			continue
		}

		// Snapshot under the lock, dispatch outside it: listener code may
		// re-enter Register/Unregister or block, and must not deadlock the
		// registry.
		b.mu.Lock()
		snapshot := make([]Listener, len(b.listeners))
		copy(snapshot, b.listeners)
		b.mu.Unlock()

		for _, ev := range events {
			for _, l := range snapshot {
				b.dispatch(l, ev)
			}
		}
	}
}

// dispatch isolates one listener invocation: a panicking listener is logged
// and skipped, never allowed to stop dispatch to the rest or kill the pump.
func (b *Bus) dispatch(l Listener, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("event listener panicked",
				slog.Any("panic", r),
				slog.String("event", eventName(ev)),
			)
		}
	}()
	l.HandleEvent(ev)
}

func eventName(ev domain.Event) string {
	switch ev.(type) {
	case domain.PieceCompleteEvent:
		return "piece-complete"
	case domain.PieceBytesEvent:
		return "piece-bytes"
	case domain.MetadataReceivedEvent:
		return "metadata-received"
	case domain.MetadataFailedEvent:
		return "metadata-failed"
	case domain.TorrentErrorEvent:
		return "torrent-error"
	case domain.TorrentRemovedEvent:
		return "torrent-removed"
	case domain.StatusEvent:
		return "status"
	case domain.DHTStatsEvent:
		return "dht-stats"
	default:
		return "unknown"
	}
}

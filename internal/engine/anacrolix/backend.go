// Package anacrolix adapts the anacrolix/torrent client to the backend port:
// torrents become handles, client callbacks become queued events drained by
// the bus pump.
package anacrolix

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
)

// defaultMaxConns bounds established peer connections per torrent.
const defaultMaxConns = 35

type Config struct {
	// DataDir is where piece data lands. Per-torrent SavePath overrides it.
	DataDir string
	// ListenPort for incoming peer connections; 0 picks a random port.
	ListenPort int
	// Seed keeps uploading after a download completes.
	Seed bool
	// DisableDHT turns off the DHT node (trackers only).
	DisableDHT bool
}

// Backend implements ports.Backend over one anacrolix client.
type Backend struct {
	client *torrent.Client
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	queue   []domain.Event
	handles map[domain.ContentKey]*handle
	speeds  map[domain.ContentKey]speedSample

	wake  chan struct{}
	abort chan struct{}
	stop  chan struct{}
}

func New(cfg Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	clientConfig := torrent.NewDefaultClientConfig()
	if cfg.DataDir != "" {
		clientConfig.DataDir = cfg.DataDir
	}
	if cfg.ListenPort != 0 {
		clientConfig.ListenPort = cfg.ListenPort
	}
	clientConfig.Seed = cfg.Seed
	clientConfig.NoDHT = cfg.DisableDHT
	clientConfig.EstablishedConnsPerTorrent = defaultMaxConns

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("torrent client: %w", err)
	}
	return NewWithClient(client, cfg, logger), nil
}

func NewWithClient(client *torrent.Client, cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		handles: make(map[domain.ContentKey]*handle),
		speeds:  make(map[domain.ContentKey]speedSample),
		wake:    make(chan struct{}, 1),
		abort:   make(chan struct{}),
		stop:    make(chan struct{}),
	}
}

func (b *Backend) AddTorrent(p ports.AddParams) (ports.Handle, error) {
	spec, err := b.buildSpec(p)
	if err != nil {
		return nil, err
	}

	t, _, err := b.client.AddTorrentSpec(spec)
	if err != nil {
		return nil, fmt.Errorf("add torrent %s: %w", p.Key, err)
	}

	h := &handle{
		b:     b,
		t:     t,
		key:   p.Key,
		prios: make(map[int]domain.PriorityTier),
	}

	b.mu.Lock()
	b.handles[p.Key] = h
	b.mu.Unlock()

	go b.watchTorrent(h)
	return h, nil
}

func (b *Backend) buildSpec(p ports.AddParams) (*torrent.TorrentSpec, error) {
	var spec *torrent.TorrentSpec
	switch {
	case len(p.MetaInfo) > 0:
		mi, err := metainfo.Load(bytes.NewReader(p.MetaInfo))
		if err != nil {
			return nil, fmt.Errorf("decode metainfo for %s: %w", p.Key, err)
		}
		spec = torrent.TorrentSpecFromMetaInfo(mi)
	case p.Magnet != "":
		var err error
		spec, err = torrent.TorrentSpecFromMagnetUri(p.Magnet)
		if err != nil {
			return nil, fmt.Errorf("parse magnet for %s: %w", p.Key, err)
		}
	default:
		return nil, fmt.Errorf("add params for %s carry neither metainfo nor magnet", p.Key)
	}

	if len(p.Trackers) > 0 {
		spec.Trackers = append(spec.Trackers, p.Trackers)
	}
	if p.DisplayName != "" && spec.DisplayName == "" {
		spec.DisplayName = p.DisplayName
	}
	if p.SavePath != "" && p.SavePath != b.cfg.DataDir {
		spec.Storage = storage.NewFile(p.SavePath)
	}
	return spec, nil
}

// watchTorrent turns the torrent's lifecycle into events: one metadata event
// once info arrives, then a piece-completion event per verified piece.
func (b *Backend) watchTorrent(h *handle) {
	select {
	case <-h.t.GotInfo():
		b.enqueue(domain.MetadataReceivedEvent{Key: h.key})
	case <-h.t.Closed():
		return
	case <-b.stop:
		return
	}

	sub := h.t.SubscribePieceStateChanges()
	defer sub.Close()
	for {
		select {
		case change, ok := <-sub.Values:
			if !ok {
				return
			}
			if change.Complete {
				b.enqueue(domain.PieceCompleteEvent{Key: h.key, Piece: change.Index})
			}
		case <-h.t.Closed():
			return
		case <-b.stop:
			return
		}
	}
}

func (b *Backend) RemoveTorrent(ph ports.Handle, keepFiles bool) error {
	h, ok := ph.(*handle)
	if !ok {
		return fmt.Errorf("%w: foreign handle", domain.ErrInvalidArgument)
	}

	var dataPaths []string
	if !keepFiles {
		dataPaths = h.dataPaths()
	}

	b.mu.Lock()
	delete(b.handles, h.key)
	delete(b.speeds, h.key)
	b.mu.Unlock()

	h.t.Drop()

	for _, p := range dataPaths {
		if err := os.RemoveAll(p); err != nil {
			b.logger.Warn("remove torrent data",
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
		}
	}

	b.enqueue(domain.TorrentRemovedEvent{Key: h.key})
	return nil
}

// WaitEvent blocks until an event is queued, the timeout elapses, or Abort is
// called.
func (b *Backend) WaitEvent(timeout time.Duration) {
	b.mu.Lock()
	pending := len(b.queue) > 0
	b.mu.Unlock()
	if pending {
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-b.wake:
	case <-timer.C:
	case <-b.abort:
	}
}

func (b *Backend) PopEvents() []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.queue
	b.queue = nil
	return events
}

func (b *Backend) Abort() {
	select {
	case <-b.abort:
	default:
		close(b.abort)
	}
}

func (b *Backend) Close() error {
	select {
	case <-b.stop:
	default:
		close(b.stop)
	}
	errs := b.client.Close()
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (b *Backend) enqueue(events ...domain.Event) {
	b.mu.Lock()
	b.queue = append(b.queue, events...)
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func infoReady(t *torrent.Torrent) bool {
	select {
	case <-t.GotInfo():
		return true
	default:
		return false
	}
}

// dataPaths lists the on-disk locations of a torrent's data, rooted at the
// backend's data directory. Single-file torrents are one file, multi-file
// torrents one directory, both named after the torrent.
func (h *handle) dataPaths() []string {
	if !infoReady(h.t) {
		return nil
	}
	return []string{filepath.Join(h.b.cfg.DataDir, h.t.Info().Name)}
}

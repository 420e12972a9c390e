// Package resolver turns a magnet or .torrent reference into a full torrent
// descriptor, caching fetched descriptors on disk keyed by content hash.
package resolver

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/anacrolix/torrent/metainfo"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
	"swarmstream/internal/metrics"
	"swarmstream/internal/session"
)

const cacheExt = ".torrent"

// Descriptor is a fully resolved torrent: identity, file table and the raw
// bencoded metainfo ready to hand to the backend or to a directory listing.
type Descriptor struct {
	Key   domain.ContentKey
	Name  string
	Files []domain.FileEntry
	Raw   []byte
}

type Resolver struct {
	registry *session.Registry
	cacheDir string
	saveDir  string
	logger   *slog.Logger
}

func New(registry *session.Registry, cacheDir, saveDir string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		registry: registry,
		cacheDir: cacheDir,
		saveDir:  saveDir,
		logger:   logger,
	}
}

// Resolve parses ref as either a magnet URI (possibly embedded in a file
// path) or a .torrent file path. Magnet resolution consults the disk cache
// first; only a miss touches the swarm. progress, if non-nil, fires 0 before
// any fetch and 100 on success, including on cache hits.
func (r *Resolver) Resolve(ctx context.Context, ref string, progress func(pct int)) (*Descriptor, error) {
	if uri, ok := magnetURI(ref); ok {
		return r.resolveMagnet(ctx, uri, progress)
	}
	mi, err := metainfo.LoadFromFile(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %q: %v", domain.ErrConstruction, ref, err)
	}
	d, err := describe(mi)
	if err != nil {
		return nil, err
	}
	reportProgress(progress)
	return d, nil
}

// AddParams builds backend add-parameters for a resolved descriptor.
func (r *Resolver) AddParams(d *Descriptor) ports.AddParams {
	return ports.AddParams{
		Key:         d.Key,
		MetaInfo:    d.Raw,
		DisplayName: d.Name,
		SavePath:    r.saveDir,
	}
}

func (r *Resolver) resolveMagnet(ctx context.Context, uri string, progress func(pct int)) (*Descriptor, error) {
	m, err := metainfo.ParseMagnetUri(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: parse magnet: %v", domain.ErrConstruction, err)
	}
	key := domain.ContentKey(m.InfoHash)
	trackers := m.Trackers
	if len(trackers) == 0 {
		trackers = publicTrackers
	}

	cachePath := filepath.Join(r.cacheDir, key.Hex()+cacheExt)
	if mi, err := metainfo.LoadFromFile(cachePath); err == nil {
		if d, err := describe(mi); err == nil {
			metrics.MetadataCacheHits.Inc()
			r.logger.Debug("metadata cache hit", slog.String("key", key.Hex()))
			reportProgress(progress)
			return d, nil
		}
	}
	metrics.MetadataCacheMisses.Inc()

	// Transient session: acquired only to pull metadata off the swarm,
	// released as soon as the descriptor is serialized.
	sess, err := r.registry.Acquire(ports.AddParams{
		Key:         key,
		Magnet:      uri,
		Trackers:    trackers,
		DisplayName: m.DisplayName,
		SavePath:    r.saveDir,
	})
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	raw, err := sess.Metadata(ctx, progress)
	if err != nil {
		return nil, err
	}
	r.writeCache(cachePath, raw)

	mi, err := metainfo.Load(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: decode fetched metadata: %v", domain.ErrConstruction, err)
	}
	return describe(mi)
}

// writeCache persists a fetched descriptor with truncate-and-overwrite
// semantics. Failures are logged, not raised: the caller already holds the
// descriptor.
func (r *Resolver) writeCache(path string, raw []byte) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		r.logger.Warn("metadata cache dir", slog.String("error", err.Error()))
		return
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		r.logger.Warn("metadata cache write", slog.String("path", path), slog.String("error", err.Error()))
	}
}

func describe(mi *metainfo.MetaInfo) (*Descriptor, error) {
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, fmt.Errorf("%w: unmarshal info: %v", domain.ErrConstruction, err)
	}

	var buf bytes.Buffer
	if err := mi.Write(&buf); err != nil {
		return nil, fmt.Errorf("%w: encode metainfo: %v", domain.ErrConstruction, err)
	}

	files := make([]domain.FileEntry, 0, len(info.UpvertedFiles()))
	var offset int64
	for i, f := range info.UpvertedFiles() {
		files = append(files, domain.FileEntry{
			Index:  i,
			Path:   f.DisplayPath(&info),
			Length: f.Length,
			Offset: offset,
		})
		offset += f.Length
	}

	return &Descriptor{
		Key:   domain.ContentKey(mi.HashInfoBytes()),
		Name:  info.Name,
		Files: files,
		Raw:   buf.Bytes(),
	}, nil
}

// magnetURI extracts a magnet URI from ref, which may be the URI itself or a
// file path with the URI appended (some hosts pass magnets that way).
func magnetURI(ref string) (string, bool) {
	if strings.HasPrefix(ref, "magnet:") {
		return ref, true
	}
	if i := strings.LastIndex(ref, "magnet:?"); i >= 0 {
		return ref[i:], true
	}
	return "", false
}

func reportProgress(progress func(pct int)) {
	if progress != nil {
		progress(0)
		progress(100)
	}
}

package resolver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"

	"swarmstream/internal/bus"
	"swarmstream/internal/domain"
	"swarmstream/internal/engine/enginetest"
	"swarmstream/internal/session"
)

// buildMetaInfo assembles a minimal single-file torrent descriptor whose info
// hash is real, so key round trips through magnets and caches hold up.
func buildMetaInfo(t *testing.T) (domain.ContentKey, []byte) {
	t.Helper()
	info := metainfo.Info{
		Name:        "movie",
		PieceLength: 16384,
		Length:      16384,
		Pieces:      make([]byte, 20),
	}
	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		t.Fatalf("marshal info: %v", err)
	}
	mi := &metainfo.MetaInfo{InfoBytes: infoBytes}

	path := filepath.Join(t.TempDir(), "movie.torrent")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create torrent file: %v", err)
	}
	if err := mi.Write(f); err != nil {
		t.Fatalf("write torrent file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close torrent file: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read torrent file back: %v", err)
	}

	return domain.ContentKey(mi.HashInfoBytes()), raw
}

type env struct {
	backend  *enginetest.Backend
	registry *session.Registry
	resolver *Resolver
	cacheDir string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	backend := enginetest.New()
	backend.ConfirmRemoval = true
	b := bus.New(backend, nil)
	t.Cleanup(func() { b.Close() })

	cacheDir := t.TempDir()
	registry := session.NewRegistry(b, session.Config{}, nil)
	return &env{
		backend:  backend,
		registry: registry,
		resolver: New(registry, cacheDir, t.TempDir(), nil),
		cacheDir: cacheDir,
	}
}

type progressRecorder struct {
	calls []int
}

func (p *progressRecorder) record(pct int) { p.calls = append(p.calls, pct) }

func TestResolveTorrentFile(t *testing.T) {
	key, raw := buildMetaInfo(t)
	e := newEnv(t)

	path := filepath.Join(t.TempDir(), "movie.torrent")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	var progress progressRecorder
	d, err := e.resolver.Resolve(context.Background(), path, progress.record)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if d.Key != key {
		t.Errorf("Key = %s, want %s", d.Key.Hex(), key.Hex())
	}
	if d.Name != "movie" {
		t.Errorf("Name = %q, want %q", d.Name, "movie")
	}
	if len(d.Files) != 1 || d.Files[0].Path != "movie" || d.Files[0].Length != 16384 {
		t.Errorf("Files = %+v", d.Files)
	}
	if !reflect.DeepEqual(progress.calls, []int{0, 100}) {
		t.Errorf("progress = %v, want [0 100]", progress.calls)
	}
	if got := len(e.backend.Added); got != 0 {
		t.Errorf("file resolution touched the swarm: %d adds", got)
	}
}

func TestResolveMagnetFetchesAndCaches(t *testing.T) {
	key, raw := buildMetaInfo(t)
	e := newEnv(t)

	// The handle already has metadata so the fetch resolves immediately.
	h := e.backend.PrepareHandle(key)
	h.SetInfo(domain.TorrentInfo{Name: "movie"}, raw)

	uri := "magnet:?xt=urn:btih:" + key.Hex()
	var progress progressRecorder
	d, err := e.resolver.Resolve(context.Background(), uri, progress.record)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if d.Key != key {
		t.Errorf("Key = %s, want %s", d.Key.Hex(), key.Hex())
	}
	if len(e.backend.Added) != 1 {
		t.Fatalf("backend adds = %d, want 1", len(e.backend.Added))
	}
	added := e.backend.Added[0]
	if added.Magnet != uri {
		t.Errorf("Added.Magnet = %q, want %q", added.Magnet, uri)
	}
	// A trackerless magnet gets the public fallback tier.
	if !reflect.DeepEqual(added.Trackers, publicTrackers) {
		t.Errorf("Added.Trackers = %v, want public fallback list", added.Trackers)
	}
	if !reflect.DeepEqual(progress.calls, []int{0, 100}) {
		t.Errorf("progress = %v, want [0 100]", progress.calls)
	}

	// The transient metadata session must be gone.
	if got := e.registry.Active(); got != 0 {
		t.Errorf("Active() = %d, want 0 after transient release", got)
	}

	cachePath := filepath.Join(e.cacheDir, key.Hex()+cacheExt)
	if _, err := os.Stat(cachePath); err != nil {
		t.Errorf("cache file missing: %v", err)
	}
}

func TestResolveMagnetCacheHit(t *testing.T) {
	key, raw := buildMetaInfo(t)
	e := newEnv(t)

	cachePath := filepath.Join(e.cacheDir, key.Hex()+cacheExt)
	if err := os.WriteFile(cachePath, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	var progress progressRecorder
	d, err := e.resolver.Resolve(context.Background(), "magnet:?xt=urn:btih:"+key.Hex(), progress.record)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if d.Key != key {
		t.Errorf("Key = %s, want %s", d.Key.Hex(), key.Hex())
	}
	if got := len(e.backend.Added); got != 0 {
		t.Errorf("cache hit touched the swarm: %d adds", got)
	}
	if !reflect.DeepEqual(progress.calls, []int{0, 100}) {
		t.Errorf("progress = %v, want [0 100]", progress.calls)
	}
}

func TestResolveMagnetKeepsEmbeddedTrackers(t *testing.T) {
	key, raw := buildMetaInfo(t)
	e := newEnv(t)

	h := e.backend.PrepareHandle(key)
	h.SetInfo(domain.TorrentInfo{Name: "movie"}, raw)

	uri := "magnet:?xt=urn:btih:" + key.Hex() + "&tr=udp%3A%2F%2Fprivate.example%3A1337%2Fannounce"
	if _, err := e.resolver.Resolve(context.Background(), uri, nil); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	want := []string{"udp://private.example:1337/announce"}
	if !reflect.DeepEqual(e.backend.Added[0].Trackers, want) {
		t.Errorf("Added.Trackers = %v, want %v", e.backend.Added[0].Trackers, want)
	}
}

func TestResolveBadReference(t *testing.T) {
	e := newEnv(t)

	_, err := e.resolver.Resolve(context.Background(), filepath.Join(t.TempDir(), "missing.torrent"), nil)
	if !errors.Is(err, domain.ErrConstruction) {
		t.Errorf("missing file error = %v, want ErrConstruction", err)
	}

	_, err = e.resolver.Resolve(context.Background(), "magnet:?xt=urn:btih:zz", nil)
	if !errors.Is(err, domain.ErrConstruction) {
		t.Errorf("bad magnet error = %v, want ErrConstruction", err)
	}
}

func TestMagnetURIExtraction(t *testing.T) {
	tests := []struct {
		ref    string
		want   string
		wantOK bool
	}{
		{"magnet:?xt=urn:btih:abc", "magnet:?xt=urn:btih:abc", true},
		{"/tmp/vlc/magnet:?xt=urn:btih:abc", "magnet:?xt=urn:btih:abc", true},
		{"/srv/media/movie.torrent", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := magnetURI(tt.ref)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("magnetURI(%q) = (%q, %t), want (%q, %t)", tt.ref, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestAddParams(t *testing.T) {
	key, raw := buildMetaInfo(t)
	e := newEnv(t)

	d := &Descriptor{Key: key, Name: "movie", Raw: raw}
	p := e.resolver.AddParams(d)

	if p.Key != key || p.DisplayName != "movie" || len(p.MetaInfo) == 0 {
		t.Errorf("AddParams = %+v", p)
	}
	if p.SavePath != e.resolver.saveDir {
		t.Errorf("SavePath = %q, want resolver save dir", p.SavePath)
	}
}

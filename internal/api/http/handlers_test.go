package apihttp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"

	"swarmstream/internal/bus"
	"swarmstream/internal/domain"
	"swarmstream/internal/engine/enginetest"
	"swarmstream/internal/resolver"
	"swarmstream/internal/session"
)

const testPieceLen = 16 * 1024

type env struct {
	backend  *enginetest.Backend
	handle   *enginetest.Handle
	registry *session.Registry
	server   *Server

	key         domain.ContentKey
	torrentPath string
	pieceData   []byte
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newEnv stands up the full server over a fake swarm backend, with one real
// single-file .torrent on disk ready to be added.
func newEnv(t *testing.T, opts ...ServerOption) *env {
	t.Helper()

	info := metainfo.Info{
		Name:        "movie",
		PieceLength: testPieceLen,
		Length:      testPieceLen,
		Pieces:      make([]byte, 20),
	}
	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		t.Fatalf("marshal info: %v", err)
	}
	mi := &metainfo.MetaInfo{InfoBytes: infoBytes}
	key := domain.ContentKey(mi.HashInfoBytes())

	torrentPath := filepath.Join(t.TempDir(), "movie.torrent")
	var buf bytes.Buffer
	if err := mi.Write(&buf); err != nil {
		t.Fatalf("encode metainfo: %v", err)
	}
	if err := os.WriteFile(torrentPath, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	backend := enginetest.New()
	backend.ConfirmRemoval = true
	b := bus.New(backend, nil)
	t.Cleanup(func() { b.Close() })

	pieceData := make([]byte, testPieceLen)
	for i := range pieceData {
		pieceData[i] = byte(i % 251)
	}
	h := backend.PrepareHandle(key)
	h.SetInfo(domain.TorrentInfo{
		Name:        "movie",
		PieceLength: testPieceLen,
		NumPieces:   1,
		Files: []domain.FileEntry{
			{Index: 0, Path: "movie", Length: testPieceLen, Offset: 0},
		},
	}, buf.Bytes())
	h.DeliverReads = true
	h.MarkHave(0)
	h.SetPieceData(0, pieceData)

	registry := session.NewRegistry(b, session.Config{}, nil)
	res := resolver.New(registry, t.TempDir(), t.TempDir(), discardLogger())

	opts = append([]ServerOption{WithLogger(discardLogger())}, opts...)
	srv := NewServer(res, registry, opts...)
	t.Cleanup(srv.Close)

	return &env{
		backend:     backend,
		handle:      h,
		registry:    registry,
		server:      srv,
		key:         key,
		torrentPath: torrentPath,
		pieceData:   pieceData,
	}
}

func (e *env) do(t *testing.T, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func (e *env) addTorrent(t *testing.T) torrentResponse {
	t.Helper()
	payload := fmt.Sprintf(`{"ref":%q}`, e.torrentPath)
	w := e.do(t, http.MethodPost, "/torrents", strings.NewReader(payload))
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /torrents = %d, body %s", w.Code, w.Body.String())
	}
	var resp torrentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode add response: %v", err)
	}
	return resp
}

func TestAddAndListTorrents(t *testing.T) {
	e := newEnv(t)

	resp := e.addTorrent(t)
	if resp.Key != e.key.Hex() {
		t.Errorf("key = %q, want %q", resp.Key, e.key.Hex())
	}
	if resp.Name != "movie" || len(resp.Files) != 1 {
		t.Errorf("response = %+v", resp)
	}

	w := e.do(t, http.MethodGet, "/torrents", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /torrents = %d", w.Code)
	}
	var list []domain.StatusSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].KeyHex != e.key.Hex() {
		t.Errorf("list = %+v", list)
	}

	// Adding the same torrent twice keeps a single pinned session.
	e.addTorrent(t)
	if got := e.registry.Active(); got != 1 {
		t.Errorf("Active() after duplicate add = %d, want 1", got)
	}
}

func TestAddTorrentValidation(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/torrents", strings.NewReader("{not json"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad JSON = %d, want 400", w.Code)
	}

	w = e.do(t, http.MethodPost, "/torrents", strings.NewReader(`{"ref":"  "}`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty ref = %d, want 400", w.Code)
	}

	w = e.do(t, http.MethodPost, "/torrents", strings.NewReader(`{"ref":"/nonexistent/file.torrent"}`))
	if w.Code != http.StatusBadGateway {
		t.Errorf("unresolvable ref = %d, want 502", w.Code)
	}

	w = e.do(t, http.MethodPut, "/torrents", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("PUT = %d, want 405", w.Code)
	}
}

func TestTorrentStatusAndRemove(t *testing.T) {
	e := newEnv(t)
	e.addTorrent(t)

	w := e.do(t, http.MethodGet, "/torrents/"+e.key.Hex(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET status = %d", w.Code)
	}
	var snap domain.StatusSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.KeyHex != e.key.Hex() || snap.Name != "movie" {
		t.Errorf("snapshot = %+v", snap)
	}

	w = e.do(t, http.MethodDelete, "/torrents/"+e.key.Hex(), nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("DELETE = %d, want 204", w.Code)
	}
	if got := len(e.backend.Removed); got != 1 {
		t.Errorf("backend removals = %d, want 1", got)
	}

	// Gone now.
	w = e.do(t, http.MethodDelete, "/torrents/"+e.key.Hex(), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second DELETE = %d, want 404", w.Code)
	}
	w = e.do(t, http.MethodGet, "/torrents/"+e.key.Hex(), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("GET after delete = %d, want 404", w.Code)
	}
}

func TestTorrentByKeyValidation(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/torrents/nothex", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid key = %d, want 400", w.Code)
	}

	unknown := strings.Repeat("ef", 20)
	w = e.do(t, http.MethodGet, "/torrents/"+unknown, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown key = %d, want 404", w.Code)
	}
}

func TestTorrentFiles(t *testing.T) {
	e := newEnv(t)
	e.addTorrent(t)

	w := e.do(t, http.MethodGet, "/torrents/"+e.key.Hex()+"/files", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET files = %d", w.Code)
	}
	var files []domain.FileEntry
	if err := json.Unmarshal(w.Body.Bytes(), &files); err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Path != "movie" || files[0].Length != testPieceLen {
		t.Errorf("files = %+v", files)
	}
}

func TestStreamWholeFile(t *testing.T) {
	e := newEnv(t)
	e.addTorrent(t)

	w := e.do(t, http.MethodGet, "/torrents/"+e.key.Hex()+"/stream/0", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET stream = %d, body %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "application/octet-stream" {
		t.Errorf("Content-Type = %q", got)
	}
	if !bytes.Equal(w.Body.Bytes(), e.pieceData) {
		t.Errorf("stream body = %d bytes, want the full piece", w.Body.Len())
	}

	// The per-request session reference is returned; only the pin remains.
	if got := e.registry.Active(); got != 1 {
		t.Errorf("Active() after stream = %d, want 1", got)
	}
}

func TestStreamRangeRequest(t *testing.T) {
	e := newEnv(t)
	e.addTorrent(t)

	req := httptest.NewRequest(http.MethodGet, "/torrents/"+e.key.Hex()+"/stream/0", nil)
	req.Header.Set("Range", "bytes=100-199")
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)

	if w.Code != http.StatusPartialContent {
		t.Fatalf("range request = %d, want 206", w.Code)
	}
	if got := w.Header().Get("Content-Range"); got != fmt.Sprintf("bytes 100-199/%d", testPieceLen) {
		t.Errorf("Content-Range = %q", got)
	}
	if !bytes.Equal(w.Body.Bytes(), e.pieceData[100:200]) {
		t.Error("range body mismatch")
	}
}

func TestStreamValidation(t *testing.T) {
	e := newEnv(t)
	e.addTorrent(t)

	w := e.do(t, http.MethodGet, "/torrents/"+e.key.Hex()+"/stream/abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("non-numeric index = %d, want 400", w.Code)
	}

	w = e.do(t, http.MethodGet, "/torrents/"+e.key.Hex()+"/stream/5", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("out-of-range index = %d, want 404", w.Code)
	}

	unknown := strings.Repeat("ab", 20)
	w = e.do(t, http.MethodGet, "/torrents/"+unknown+"/stream/0", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown key = %d, want 404", w.Code)
	}
}

func TestHealth(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /healthz = %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("health body = %v", body)
	}
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", domain.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: x", domain.ErrInvalidArgument), http.StatusBadRequest},
		{fmt.Errorf("%w: x", domain.ErrTimeout), http.StatusGatewayTimeout},
		{fmt.Errorf("%w: x", domain.ErrCanceled), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: x", domain.ErrConstruction), http.StatusBadGateway},
		{fmt.Errorf("%w: x", domain.ErrSwarm), http.StatusBadGateway},
		{errors.New("something else"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		writeDomainError(w, tt.err)
		if w.Code != tt.want {
			t.Errorf("writeDomainError(%v) = %d, want %d", tt.err, w.Code, tt.want)
		}
		var payload errorEnvelope
		if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
			t.Errorf("error body not JSON: %v", err)
		}
	}
}

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"movie.mkv", "video/x-matroska"},
		{"movie.MP4", "video/mp4"},
		{"track.flac", "audio/flac"},
		{"unknown.bin", "application/octet-stream"},
		{"noext", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := contentTypeFor(tt.name); got != tt.want {
			t.Errorf("contentTypeFor(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

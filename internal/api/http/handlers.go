package apihttp

import (
	"encoding/json"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"swarmstream/internal/domain"
	"swarmstream/internal/stream"
)

type addTorrentRequest struct {
	Ref string `json:"ref"`
}

type torrentResponse struct {
	Key   string             `json:"key"`
	Name  string             `json:"name"`
	Files []domain.FileEntry `json:"files"`
}

func (s *Server) handleTorrents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListTorrents(w, r)
	case http.MethodPost:
		s.handleAddTorrent(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (s *Server) handleListTorrents(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	snapshots := make([]domain.StatusSnapshot, 0, len(s.pinned))
	for key, p := range s.pinned {
		snap, ok := s.status[key]
		if !ok {
			snap = domain.StatusSnapshot{Key: key, KeyHex: key.Hex(), Name: p.desc.Name}
		}
		snapshots = append(snapshots, snap)
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, snapshots)
}

func (s *Server) handleAddTorrent(w http.ResponseWriter, r *http.Request) {
	var req addTorrentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Ref) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "ref is required")
		return
	}

	desc, err := s.resolver.Resolve(r.Context(), req.Ref, nil)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	params := s.resolver.AddParams(desc)
	sess, err := s.registry.Acquire(params)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.mu.Lock()
	if _, exists := s.pinned[desc.Key]; exists {
		// Already pinned; drop the extra reference.
		s.mu.Unlock()
		sess.Release()
	} else {
		s.pinned[desc.Key] = pinnedTorrent{sess: sess, params: params, desc: desc}
		s.mu.Unlock()
	}

	writeJSON(w, http.StatusCreated, torrentResponse{
		Key:   desc.Key.Hex(),
		Name:  desc.Name,
		Files: desc.Files,
	})
}

// handleTorrentByKey routes /torrents/{key}, /torrents/{key}/files and
// /torrents/{key}/stream/{index}.
func (s *Server) handleTorrentByKey(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/torrents/")
	parts := strings.Split(path.Clean(rest), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not_found", "torrent not found")
		return
	}

	key, err := domain.ParseContentKey(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid torrent key")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.handleTorrentStatus(w, r, key)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.handleRemoveTorrent(w, r, key)
	case len(parts) == 2 && parts[1] == "files" && r.Method == http.MethodGet:
		s.handleTorrentFiles(w, r, key)
	case len(parts) == 3 && parts[1] == "stream" && r.Method == http.MethodGet:
		s.handleStream(w, r, key, parts[2])
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
	}
}

func (s *Server) handleTorrentStatus(w http.ResponseWriter, r *http.Request, key domain.ContentKey) {
	s.mu.RLock()
	p, pinned := s.pinned[key]
	snap, hasSnap := s.status[key]
	s.mu.RUnlock()

	if !pinned {
		writeError(w, http.StatusNotFound, "not_found", "torrent not found")
		return
	}
	if !hasSnap {
		snap = domain.StatusSnapshot{Key: key, KeyHex: key.Hex(), Name: p.desc.Name}
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleTorrentFiles(w http.ResponseWriter, r *http.Request, key domain.ContentKey) {
	s.mu.RLock()
	p, pinned := s.pinned[key]
	s.mu.RUnlock()
	if !pinned {
		writeError(w, http.StatusNotFound, "not_found", "torrent not found")
		return
	}

	files, err := p.sess.Files(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleRemoveTorrent(w http.ResponseWriter, r *http.Request, key domain.ContentKey) {
	s.mu.Lock()
	p, pinned := s.pinned[key]
	if pinned {
		delete(s.pinned, key)
		delete(s.status, key)
	}
	s.mu.Unlock()

	if !pinned {
		writeError(w, http.StatusNotFound, "not_found", "torrent not found")
		return
	}

	// May block on removal confirmation; keep it out of the lock.
	p.sess.Release()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, key domain.ContentKey, indexRaw string) {
	index, err := strconv.Atoi(indexRaw)
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid file index")
		return
	}

	s.mu.RLock()
	p, pinned := s.pinned[key]
	s.mu.RUnlock()
	if !pinned {
		writeError(w, http.StatusNotFound, "not_found", "torrent not found")
		return
	}

	// Each stream holds its own session reference for its lifetime.
	sess, err := s.registry.Acquire(p.params)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	files, err := sess.Files(r.Context())
	if err != nil {
		sess.Release()
		writeDomainError(w, err)
		return
	}
	if index >= len(files) {
		sess.Release()
		writeError(w, http.StatusNotFound, "not_found", "file index out of range")
		return
	}
	f := files[index]

	src := stream.NewSource(sess, f, stream.Options{NetworkCaching: s.networkCaching})
	defer src.Close()

	w.Header().Set("Content-Type", contentTypeFor(f.Path))
	http.ServeContent(w, r, path.Base(f.Path), time.Time{}, src.Reader(r.Context()))
}

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".mp4":
		return "video/mp4"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".avi":
		return "video/x-msvideo"
	case ".mov":
		return "video/quicktime"
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

package domain

// FileEntry describes one file within a torrent's file table. Immutable once
// metadata is known.
type FileEntry struct {
	Index  int    `json:"index"`
	Path   string `json:"path"`
	Length int64  `json:"length"`
	// Offset is the file's first byte position within the torrent's
	// contiguous piece space.
	Offset int64 `json:"-"`
}

// TorrentInfo is the decoded metadata of one torrent: its name, piece
// geometry and file table.
type TorrentInfo struct {
	Name        string      `json:"name"`
	PieceLength int64       `json:"pieceLength"`
	NumPieces   int         `json:"numPieces"`
	Files       []FileEntry `json:"files"`
}

// File returns the entry at index, or false when the index is out of bounds.
func (i TorrentInfo) File(index int) (FileEntry, bool) {
	if index < 0 || index >= len(i.Files) {
		return FileEntry{}, false
	}
	return i.Files[index], true
}

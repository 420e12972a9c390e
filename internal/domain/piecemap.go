package domain

import "math"

// PieceRange locates a file byte range inside the torrent's piece space:
// the first covering piece, the offset of the range within that piece, and
// the covered length.
type PieceRange struct {
	Piece  int
	Start  int64
	Length int64
}

// MapRange maps [off, off+length) of the given file onto its covering
// PieceRange. The length is clamped so it never exceeds the file end or the
// largest representable request size. Returns false when the file index is
// out of bounds or nothing is covered.
func MapRange(info TorrentInfo, file int, off, length int64) (PieceRange, bool) {
	f, ok := info.File(file)
	if !ok || info.PieceLength <= 0 || off < 0 || off >= f.Length {
		return PieceRange{}, false
	}
	length = min(length, f.Length-off, math.MaxInt32)
	if length <= 0 {
		return PieceRange{}, false
	}
	global := f.Offset + off
	return PieceRange{
		Piece:  int(global / info.PieceLength),
		Start:  global % info.PieceLength,
		Length: length,
	}, true
}

// PieceSpan returns the half-open piece index interval [first, last) covering
// [off, off+size) of the given file, clamped to the file and to the torrent's
// piece count. Returns false when the range covers nothing.
func PieceSpan(info TorrentInfo, file int, off, size int64) (first, last int, ok bool) {
	f, fok := info.File(file)
	if !fok || info.PieceLength <= 0 || info.NumPieces <= 0 {
		return 0, 0, false
	}
	if off < 0 {
		off = 0
	}
	if off >= f.Length {
		return 0, 0, false
	}
	size = min(size, f.Length-off, math.MaxInt32)
	if size <= 0 {
		return 0, 0, false
	}
	start := f.Offset + off
	end := start + size
	first = int(start / info.PieceLength)
	last = int((end + info.PieceLength - 1) / info.PieceLength)
	if first < 0 {
		first = 0
	}
	if last > info.NumPieces {
		last = info.NumPieces
	}
	if last <= first {
		return 0, 0, false
	}
	return first, last, true
}

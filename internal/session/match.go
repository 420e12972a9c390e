package session

import (
	"fmt"

	"swarmstream/internal/bus"
	"swarmstream/internal/domain"
)

// Event matchers for the session's pending requests. Each matches on subject
// identity (ContentKey, plus piece index where applicable) and maps failure
// events for the same subject to ErrSwarm.

func matchPieceComplete(key domain.ContentKey, piece int) bus.MatchFunc[struct{}] {
	return func(ev domain.Event) (struct{}, bool, error) {
		switch e := ev.(type) {
		case domain.PieceCompleteEvent:
			if e.Key == key && e.Piece == piece {
				return struct{}{}, true, nil
			}
		case domain.TorrentErrorEvent:
			if e.Key == key {
				return struct{}{}, true, fmt.Errorf("%w: %v", domain.ErrSwarm, e.Err)
			}
		}
		return struct{}{}, false, nil
	}
}

func matchPieceBytes(key domain.ContentKey, piece int) bus.MatchFunc[[]byte] {
	return func(ev domain.Event) ([]byte, bool, error) {
		e, ok := ev.(domain.PieceBytesEvent)
		if !ok || e.Key != key || e.Piece != piece {
			return nil, false, nil
		}
		if e.Err != nil {
			return nil, true, fmt.Errorf("%w: read piece %d: %v", domain.ErrSwarm, piece, e.Err)
		}
		return e.Bytes, true, nil
	}
}

func matchMetadata(key domain.ContentKey) bus.MatchFunc[struct{}] {
	return func(ev domain.Event) (struct{}, bool, error) {
		switch e := ev.(type) {
		case domain.MetadataReceivedEvent:
			if e.Key == key {
				return struct{}{}, true, nil
			}
		case domain.MetadataFailedEvent:
			if e.Key == key {
				return struct{}{}, true, fmt.Errorf("%w: metadata fetch failed", domain.ErrSwarm)
			}
		case domain.TorrentErrorEvent:
			if e.Key == key {
				return struct{}{}, true, fmt.Errorf("%w: %v", domain.ErrSwarm, e.Err)
			}
		}
		return struct{}{}, false, nil
	}
}

func matchRemoved(key domain.ContentKey) bus.MatchFunc[struct{}] {
	return func(ev domain.Event) (struct{}, bool, error) {
		if e, ok := ev.(domain.TorrentRemovedEvent); ok && e.Key == key {
			return struct{}{}, true, nil
		}
		return struct{}{}, false, nil
	}
}

package domain

import (
	"encoding/hex"
	"fmt"
)

// ContentKey is the stable content identifier of a torrent (the v1 infohash).
// It keys the per-content session registry and the on-disk metadata cache.
type ContentKey [20]byte

func ParseContentKey(s string) (ContentKey, error) {
	var k ContentKey
	raw, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("%w: content key %q: %v", ErrInvalidArgument, s, err)
	}
	if len(raw) != len(k) {
		return k, fmt.Errorf("%w: content key %q: want %d hex bytes", ErrInvalidArgument, s, len(k))
	}
	copy(k[:], raw)
	return k, nil
}

func (k ContentKey) Hex() string {
	return hex.EncodeToString(k[:])
}

func (k ContentKey) String() string {
	return k.Hex()
}

func (k ContentKey) IsZero() bool {
	return k == ContentKey{}
}

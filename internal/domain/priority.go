package domain

// PriorityTier is the relative scheduling weight of a missing piece. Tiers
// are ordered; a piece's effective tier is the highest ever requested for it
// while not yet owned, so raises are monotonic.
type PriorityTier int

const (
	TierNormal   PriorityTier = iota // backend default
	TierPrefetch                     // forward read-ahead window
	TierNearEdge                     // head/tail windows for instant scrubbing
	TierExact                        // the range a blocked read is waiting on
)

func (t PriorityTier) String() string {
	switch t {
	case TierNormal:
		return "normal"
	case TierPrefetch:
		return "prefetch"
	case TierNearEdge:
		return "near-edge"
	case TierExact:
		return "exact"
	default:
		return "unknown"
	}
}

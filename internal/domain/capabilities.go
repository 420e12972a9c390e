package domain

import "time"

// MinPTSDelay floors the buffering delay reported to the host player so its
// buffering stage, not this module, absorbs blocking-read latency.
const MinPTSDelay = 10 * time.Second

// Capabilities answers the host player's capability query for a stream
// source.
type Capabilities struct {
	CanSeek        bool
	CanPause       bool
	CanControlPace bool
	PTSDelay       time.Duration
}

// CapabilitiesFor derives the capability set from the host's network-caching
// hint, flooring the delay at MinPTSDelay.
func CapabilitiesFor(networkCaching time.Duration, controlPace bool) Capabilities {
	delay := networkCaching
	if delay < MinPTSDelay {
		delay = MinPTSDelay
	}
	return Capabilities{
		CanSeek:        true,
		CanPause:       true,
		CanControlPace: controlPace,
		PTSDelay:       delay,
	}
}

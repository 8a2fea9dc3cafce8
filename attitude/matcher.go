package attitude

import "time"

// NoMatchDelta is the sentinel alignment delta reported when a snapshot holds
// no sample at or before the target timestamp. It is large enough that any
// reasonable alignment threshold check fails for the cycle.
const NoMatchDelta = 1000 * time.Second

// FindAligned selects the snapshot sample best aligned with target: among
// samples whose timestamp is at or before target, the one closest to it. The
// returned delta is sample time minus target, so a match is never positive.
// Samples from the future are deliberately ignored rather than interpolated.
//
// When no causally prior sample exists, the oldest sample is returned along
// with NoMatchDelta and ok=false. An empty snapshot returns a zero Sample.
func FindAligned(snapshot []Sample, target time.Time) (Sample, time.Duration, bool) {
	if len(snapshot) == 0 {
		return Sample{}, NoMatchDelta, false
	}

	best := snapshot[0]
	bestDelta := NoMatchDelta
	ok := false
	for _, s := range snapshot {
		delta := s.Timestamp.Sub(target)
		if delta <= 0 && absDuration(delta) < absDuration(bestDelta) {
			best = s
			bestDelta = delta
			ok = true
		}
	}
	return best, bestDelta, ok
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

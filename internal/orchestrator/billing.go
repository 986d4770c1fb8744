package orchestrator

import (
	"math"
	"time"
)

// BillableSeconds computes the both-connected overlap window.
//
// The window opens at the later of the two connect times and closes at the
// earliest known end: either disconnect time, falling back to the
// conference end when a leg has no disconnect recorded. If either leg never
// connected there is no overlap and the result is 0.
//
// Milliseconds are rounded, not truncated: connects at 10s and 12s with
// disconnects at 40s and 35s bill 23 seconds.
func BillableSeconds(clientConnected, providerConnected, clientDisconnected, providerDisconnected, conferenceEnded *time.Time) int {
	if clientConnected == nil || providerConnected == nil {
		return 0
	}

	start := *clientConnected
	if providerConnected.After(start) {
		start = *providerConnected
	}

	end, ok := earliestEnd(clientDisconnected, providerDisconnected, conferenceEnded)
	if !ok {
		return 0
	}

	secs := int(math.Round(end.Sub(start).Seconds()))
	if secs < 0 {
		return 0
	}
	return secs
}

func earliestEnd(ts ...*time.Time) (time.Time, bool) {
	var end time.Time
	found := false
	for _, t := range ts {
		if t == nil {
			continue
		}
		if !found || t.Before(end) {
			end = *t
			found = true
		}
	}
	return end, found
}

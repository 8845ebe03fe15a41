package session

import (
	"sort"

	"github.com/shek-hrd/dateherenow/internal/profile"
)

// RankedPeer is a peer with its distance from the local participant.
// HasDistance is false when either side has no coordinate.
type RankedPeer struct {
	PeerInfo
	DistanceKm  float64
	HasDistance bool
}

// Rank orders peers by distance from origin. Peers without a known distance
// sort last; ties break by identifier.
func Rank(origin *profile.Coordinate, peers []PeerInfo) []RankedPeer {
	out := make([]RankedPeer, 0, len(peers))
	for _, p := range peers {
		rp := RankedPeer{PeerInfo: p}
		if origin != nil && p.Profile != nil && p.Profile.Location != nil {
			rp.DistanceKm = profile.Distance(*origin, *p.Profile.Location)
			rp.HasDistance = true
		}
		out = append(out, rp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.HasDistance != b.HasDistance {
			return a.HasDistance
		}
		if a.HasDistance && a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		return a.ID < b.ID
	})
	return out
}

package pixeltrack

import "sort"

// Less orders tracks by z0, then by the parameter vector element-wise.
func Less(a, b *LocalTrack) bool {
	if a.z0 != b.z0 {
		return a.z0 < b.z0
	}
	for i := 0; i < Dimension; i++ {
		if a.params[i] != b.params[i] {
			return a.params[i] < b.params[i]
		}
	}
	return false
}

// SortTracks sorts tracks in place by Less, keeping the relative order of
// equal tracks.
func SortTracks(tracks []*LocalTrack) {
	sort.SliceStable(tracks, func(i, j int) bool { return Less(tracks[i], tracks[j]) })
}

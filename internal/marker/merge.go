package marker

// Scale returns a copy of markers with every corner coordinate multiplied by
// factor.
//
// This is the correction applied after detecting in a resampled image: a
// marker found in a copy down-sampled by 2 is scaled by 2, one found in a copy
// up-sampled by 2 is scaled by 0.5.
//
// Parameters:
//   - markers: Detection results in the resampled image's pixel space. May be
//     nil or empty.
//   - factor: Multiplier for both X and Y.
//
// Returns a new slice of the same length; the input is not modified. IDs and
// corner order are preserved. Scaling is linear, so
// Scale(Scale(m, a), b) equals Scale(m, a*b) up to floating-point rounding.
func Scale(markers []Marker, factor float64) []Marker {
	scaled := make([]Marker, len(markers))
	for i, m := range markers {
		scaled[i].ID = m.ID
		for c, p := range m.Corners {
			scaled[i].Corners[c] = p.Scale(factor)
		}
	}
	return scaled
}

// Merge combines two marker lists into one, keeping primary's marker whenever
// both lists contain the same ID.
//
// The result starts as a copy of primary, in its original order. Each marker
// of secondary is then appended, in order, only if no marker already in the
// result carries the same ID; otherwise it is discarded.
//
// Parameters:
//   - primary: Higher-priority detections. Copied in full, including any
//     duplicate IDs it already contains.
//   - secondary: Lower-priority detections. Only IDs new to the result are kept.
//
// Returns a newly allocated slice; neither input is modified.
//
// # Properties
//
//   - Precedence: for an ID in both lists the result holds primary's corners.
//   - Union: for disjoint ID sets the result is primary followed by secondary.
//   - Idempotence: Merge(a, a) equals a.
//
// The ID lookup uses a set, so merging is linear in the total marker count.
// Observable behavior is the same as scanning the result for each candidate.
func Merge(primary, secondary []Marker) []Marker {
	merged := make([]Marker, len(primary), len(primary)+len(secondary))
	copy(merged, primary)

	seen := make(map[int]struct{}, len(primary)+len(secondary))
	for _, m := range primary {
		seen[m.ID] = struct{}{}
	}

	for _, m := range secondary {
		if _, exists := seen[m.ID]; exists {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}

	return merged
}

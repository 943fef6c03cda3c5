package transcript

import "math"

// Assign resolves a speaker for every word by interval overlap with the
// diarization segments. The result has exactly one entry per word, in input
// order.
//
// The segment with the largest overlap wins. Equal overlaps go to the segment
// whose start is closest to the word start, and then to the earlier segment.
// Words that overlap nothing are attributed to the segment nearest to the
// word's midpoint. With no segments at all every word stays unresolved.
func Assign(words []Word, segments []Segment) []AlignedWord {
	aligned := make([]AlignedWord, len(words))
	for i, w := range words {
		aligned[i] = AlignedWord{Word: w}
		if idx := resolveSegment(w, segments); idx >= 0 {
			aligned[i].Speaker = segments[idx].Speaker
			aligned[i].Resolved = true
		}
	}
	return aligned
}

// resolveSegment returns the index of the segment a word belongs to, or -1
// when segments is empty.
func resolveSegment(w Word, segments []Segment) int {
	if len(segments) == 0 {
		return -1
	}
	if idx := maxOverlap(w, segments); idx >= 0 {
		return idx
	}
	return nearestToMidpoint(w, segments)
}

func maxOverlap(w Word, segments []Segment) int {
	ws, we := w.span()

	best := -1
	var bestOverlap, bestDist float64
	for i, s := range segments {
		ss, se := s.span()
		ov := math.Min(we, se) - math.Max(ws, ss)
		if !(ov > 0) {
			continue
		}
		dist := math.Abs(ss - ws)
		if best < 0 || ov > bestOverlap ||
			(ov == bestOverlap && prefer(dist, bestDist, ss, segments[best].Start)) {
			best, bestOverlap, bestDist = i, ov, dist
		}
	}
	return best
}

func nearestToMidpoint(w Word, segments []Segment) int {
	ws, we := w.span()
	mid := ws + (we-ws)/2

	best := -1
	var bestGap, bestDist float64
	for i, s := range segments {
		gap := distanceToSpan(mid, s)
		dist := math.Abs(s.Start - ws)
		if best < 0 || gap < bestGap ||
			(gap == bestGap && prefer(dist, bestDist, s.Start, segments[best].Start)) {
			best, bestGap, bestDist = i, gap, dist
		}
	}
	return best
}

// prefer reports whether a candidate should replace the current choice when
// their primary scores tie: closer start first, then the earlier start.
// Candidates with identical starts keep the earlier index.
func prefer(dist, bestDist, start, bestStart float64) bool {
	if dist != bestDist {
		return dist < bestDist
	}
	return start < bestStart
}

// distanceToSpan is zero when t lies inside the segment.
func distanceToSpan(t float64, s Segment) float64 {
	ss, se := s.span()
	switch {
	case t < ss:
		return ss - t
	case t > se:
		return t - se
	default:
		return 0
	}
}

// Package segment computes segmentation plans for synthesized audio tracks.
// Planning is a pure function of the track duration: no I/O, fully
// deterministic, so the same duration always yields the same plan.
package segment

import "github.com/example/go-avatarcast/internal/config"

// Segment is one contiguous slice of an audio track designated for
// independent rendering.
type Segment struct {
	Index  int
	Start  float64
	Length float64
}

// Plan covers a track with ordered, gap-free, non-overlapping segments.
type Plan struct {
	Segments []Segment
	Total    float64
}

// SinglePass reports whether the plan renders the track in one piece.
func (p Plan) SinglePass() bool { return len(p.Segments) == 1 }

// Policy holds the segmentation thresholds. Equal-sized segments are
// preferred over fixed-size-with-remainder splitting: a trailing segment
// shorter than the floor desynchronizes measurably more often when rendered
// and concatenated.
type Policy struct {
	SinglePassCeiling  float64
	TwoSegmentCeiling  float64
	ThreeSegmentCeil   float64
	FourSegmentCeiling float64
	DefaultSegmentSec  float64
	MinSegmentSec      float64
}

// PolicyFromConfig builds a Policy from the segmenter config section.
func PolicyFromConfig(c config.SegmenterConfig) Policy {
	return Policy{
		SinglePassCeiling:  c.SinglePassCeiling,
		TwoSegmentCeiling:  c.TwoSegmentCeiling,
		ThreeSegmentCeil:   c.ThreeSegmentCeil,
		FourSegmentCeiling: c.FourSegmentCeiling,
		DefaultSegmentSec:  c.DefaultSegmentSec,
		MinSegmentSec:      c.MinSegmentSec,
	}
}

// Plan computes the segmentation plan for a track of the given duration.
// Tracks at or below the single-pass ceiling are never split. Duration bands
// choose 2, 3, or 4 equal segments; longer tracks fall back to fixed-length
// segments with the remainder folded in when it would be too short to render.
// A plan that would contain any segment below the floor collapses to
// single-pass instead; that is a correctness rule, not a preference.
func (p Policy) Plan(duration float64) Plan {
	if duration <= 0 || duration <= p.SinglePassCeiling {
		return SinglePlan(duration)
	}

	var count int
	switch {
	case duration <= p.TwoSegmentCeiling:
		count = 2
	case duration <= p.ThreeSegmentCeil:
		count = 3
	case duration <= p.FourSegmentCeiling:
		count = 4
	default:
		count = p.fixedCount(duration)
	}

	if count < 2 {
		return SinglePlan(duration)
	}

	length := duration / float64(count)
	if length < p.MinSegmentSec {
		return SinglePlan(duration)
	}

	return equalPlan(duration, count)
}

// fixedCount picks a segment count for tracks beyond all equal-split bands.
// The track is divided into default-length segments; a remainder at or above
// the floor earns its own segment, a smaller one is absorbed by lengthening
// the others equally.
func (p Policy) fixedCount(duration float64) int {
	if p.DefaultSegmentSec <= 0 {
		return 1
	}
	count := int(duration / p.DefaultSegmentSec)
	if count < 1 {
		return 1
	}
	remainder := duration - float64(count)*p.DefaultSegmentSec
	if remainder >= p.MinSegmentSec {
		count++
	}
	return count
}

// SinglePlan returns a forced one-segment plan for the whole track. The
// pipeline uses this directly when escalating a failed chunked render.
func SinglePlan(duration float64) Plan {
	if duration < 0 {
		duration = 0
	}
	return Plan{
		Segments: []Segment{{Index: 0, Start: 0, Length: duration}},
		Total:    duration,
	}
}

func equalPlan(duration float64, count int) Plan {
	length := duration / float64(count)
	segs := make([]Segment, count)
	for i := 0; i < count; i++ {
		start := float64(i) * length
		segs[i] = Segment{Index: i, Start: start, Length: length}
	}
	// The last segment absorbs float rounding so lengths sum to the track
	// duration exactly.
	last := &segs[count-1]
	last.Length = duration - last.Start
	return Plan{Segments: segs, Total: duration}
}

package segment

import (
	"math"
	"testing"

	"github.com/example/go-avatarcast/internal/config"
)

func testPolicy() Policy {
	return PolicyFromConfig(config.DefaultConfig().Segmenter)
}

// assertCoverage verifies the structural plan invariants: ordered indices,
// gap-free, non-overlapping, lengths summing to the track duration.
func assertCoverage(t *testing.T, p Plan, duration float64) {
	t.Helper()

	if len(p.Segments) == 0 {
		t.Fatal("plan has no segments")
	}
	if p.Total != duration {
		t.Errorf("Total = %v; want %v", p.Total, duration)
	}

	var cursor float64
	var sum float64
	for i, seg := range p.Segments {
		if seg.Index != i {
			t.Errorf("segment %d has index %d", i, seg.Index)
		}
		if math.Abs(seg.Start-cursor) > 1e-9 {
			t.Errorf("segment %d starts at %v; want %v", i, seg.Start, cursor)
		}
		if seg.Length <= 0 {
			t.Errorf("segment %d has non-positive length %v", i, seg.Length)
		}
		cursor = seg.Start + seg.Length
		sum += seg.Length
	}
	if math.Abs(sum-duration) > 1e-9 {
		t.Errorf("segment lengths sum to %v; want %v", sum, duration)
	}
}

func TestPlan_DurationBands(t *testing.T) {
	tests := []struct {
		name     string
		duration float64
		want     int
	}{
		{"zero", 0, 1},
		{"very short", 3.2, 1},
		{"at single-pass ceiling", 12, 1},
		{"just over single-pass", 12.1, 2},
		{"two segments", 17, 2},
		{"at two-segment ceiling", 18, 2},
		{"three segments", 21.5, 3},
		{"at three-segment ceiling", 24, 3},
		{"four segments", 27, 4},
		{"at four-segment ceiling", 30, 4},
		{"fixed length split", 36, 6},
		{"fixed length with long remainder", 39, 7},
		{"fixed length remainder folded", 37, 6},
	}

	policy := testPolicy()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := policy.Plan(tt.duration)
			if got := len(plan.Segments); got != tt.want {
				t.Fatalf("Plan(%v) produced %d segments; want %d", tt.duration, got, tt.want)
			}
			if tt.duration > 0 {
				assertCoverage(t, plan, tt.duration)
			}
		})
	}
}

func TestPlan_IsDeterministic(t *testing.T) {
	policy := testPolicy()
	for _, d := range []float64{5, 13.7, 22.2, 29.9, 45.3, 120} {
		a := policy.Plan(d)
		b := policy.Plan(d)
		if len(a.Segments) != len(b.Segments) {
			t.Fatalf("Plan(%v) not deterministic: %d vs %d segments", d, len(a.Segments), len(b.Segments))
		}
		for i := range a.Segments {
			if a.Segments[i] != b.Segments[i] {
				t.Errorf("Plan(%v) segment %d differs: %+v vs %+v", d, i, a.Segments[i], b.Segments[i])
			}
		}
	}
}

func TestPlan_EqualBandsSplitEvenly(t *testing.T) {
	policy := testPolicy()
	plan := policy.Plan(20)

	if len(plan.Segments) != 3 {
		t.Fatalf("want 3 segments, got %d", len(plan.Segments))
	}
	for i, seg := range plan.Segments {
		want := 20.0 / 3.0
		if math.Abs(seg.Length-want) > 1e-6 {
			t.Errorf("segment %d length = %v; want %v", i, seg.Length, want)
		}
	}
}

func TestPlan_CollapsesWhenSegmentsWouldBeTooShort(t *testing.T) {
	policy := testPolicy()
	policy.SinglePassCeiling = 2
	policy.TwoSegmentCeiling = 5

	// 4s split in two gives 2s segments, below the 2.5s floor.
	plan := policy.Plan(4)
	if !plan.SinglePass() {
		t.Fatalf("want single-pass collapse, got %d segments", len(plan.Segments))
	}
	assertCoverage(t, plan, 4)
}

func TestPlan_FixedCountFoldsShortRemainder(t *testing.T) {
	policy := testPolicy()

	// 37s over 6s segments leaves a 1s remainder, below the floor, so the
	// plan stays at 6 segments lengthened equally instead of 7.
	plan := policy.Plan(37)
	if got := len(plan.Segments); got != 6 {
		t.Fatalf("want 6 segments, got %d", got)
	}
	assertCoverage(t, plan, 37)

	// 39s leaves a 3s remainder, above the floor, so it earns a segment.
	plan = policy.Plan(39)
	if got := len(plan.Segments); got != 7 {
		t.Fatalf("want 7 segments for 39s, got %d", got)
	}
	assertCoverage(t, plan, 39)
}

func TestSinglePlan(t *testing.T) {
	plan := SinglePlan(7.5)
	if !plan.SinglePass() {
		t.Fatalf("want single segment, got %d", len(plan.Segments))
	}
	seg := plan.Segments[0]
	if seg.Index != 0 || seg.Start != 0 || seg.Length != 7.5 {
		t.Errorf("unexpected segment %+v", seg)
	}

	if got := SinglePlan(-3).Segments[0].Length; got != 0 {
		t.Errorf("negative duration clamped to %v; want 0", got)
	}
}

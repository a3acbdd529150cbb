package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/go-avatarcast/internal/segment"
)

// fakeRenderer records concurrency and fails for configured segment audio.
type fakeRenderer struct {
	mu         sync.Mutex
	inFlight   int
	maxSeen    int
	calls      int
	failAudios map[string]bool
}

func (f *fakeRenderer) Render(_ context.Context, audioPath string, _ AvatarSource, _ string) (string, float64, error) {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	fail := f.failAudios[audioPath]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if fail {
		return "", 0, errors.New("inference crashed")
	}
	return audioPath + ".mp4", 2, nil
}

// fakeSlicer names slices deterministically and never touches the disk.
type fakeSlicer struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSlicer) ExtractSegment(_ context.Context, src string, start, _ float64, dst string) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return nil
}

// blockingRenderer stalls configured segments until their context expires.
type blockingRenderer struct {
	mu    sync.Mutex
	calls int
	block map[string]bool
}

func (b *blockingRenderer) Render(ctx context.Context, audioPath string, _ AvatarSource, _ string) (string, float64, error) {
	b.mu.Lock()
	b.calls++
	blocked := b.block[audioPath]
	b.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return "", 0, ctx.Err()
	}
	return audioPath + ".mp4", 2, nil
}

func multiPlan(n int) segment.Plan {
	segs := make([]segment.Segment, n)
	for i := range segs {
		segs[i] = segment.Segment{Index: i, Start: float64(i) * 6, Length: 6}
	}
	return segment.Plan{Segments: segs, Total: float64(n) * 6}
}

func TestScheduler_ResultsOrderedByIndex(t *testing.T) {
	r := &fakeRenderer{}
	s := NewScheduler(r, &fakeSlicer{}, 3, nil)

	results, err := s.Render(context.Background(), multiPlan(5), "track.wav", AvatarSource{ImagePath: "face.png"}, t.TempDir())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("want 5 results, got %d", len(results))
	}
	for i, res := range results {
		if res.Index != i {
			t.Errorf("result %d has index %d", i, res.Index)
		}
	}
}

func TestScheduler_SinglePassSkipsSlicing(t *testing.T) {
	slicer := &fakeSlicer{}
	s := NewScheduler(&fakeRenderer{}, slicer, 2, nil)

	plan := segment.SinglePlan(8)
	results, err := s.Render(context.Background(), plan, "track.wav", AvatarSource{ImagePath: "face.png"}, t.TempDir())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("want 1 result, got %d", len(results))
	}
	if slicer.calls != 0 {
		t.Errorf("slicer called %d times for a single-pass plan; want 0", slicer.calls)
	}
}

func TestScheduler_PartialFailureReportsInsufficient(t *testing.T) {
	workDir := t.TempDir()
	failing := fmt.Sprintf("%s/slice-002.wav", workDir)
	r := &fakeRenderer{failAudios: map[string]bool{failing: true}}
	s := NewScheduler(r, &fakeSlicer{}, 3, nil)

	results, err := s.Render(context.Background(), multiPlan(4), "track.wav", AvatarSource{ImagePath: "face.png"}, workDir)
	if !errors.Is(err, ErrInsufficientSegments) {
		t.Fatalf("want ErrInsufficientSegments, got %v", err)
	}

	var insufficient *InsufficientError
	if !errors.As(err, &insufficient) {
		t.Fatalf("want *InsufficientError, got %T", err)
	}
	if insufficient.Planned != 4 || insufficient.Succeeded != 3 {
		t.Errorf("planned/succeeded = %d/%d; want 4/3", insufficient.Planned, insufficient.Succeeded)
	}
	if len(insufficient.Failures) != 1 || insufficient.Failures[0].Index != 2 {
		t.Errorf("unexpected failures %v", insufficient.Failures)
	}

	// Surviving results are still returned, ordered.
	if len(results) != 3 {
		t.Fatalf("want 3 surviving results, got %d", len(results))
	}
	for _, res := range results {
		if res.Index == 2 {
			t.Error("failed segment appeared in results")
		}
	}
}

func TestScheduler_SiblingsSettleAfterOneFailure(t *testing.T) {
	workDir := t.TempDir()
	r := &fakeRenderer{failAudios: map[string]bool{
		fmt.Sprintf("%s/slice-000.wav", workDir): true,
	}}
	s := NewScheduler(r, &fakeSlicer{}, 2, nil)

	_, err := s.Render(context.Background(), multiPlan(6), "track.wav", AvatarSource{ImagePath: "face.png"}, workDir)
	if !errors.Is(err, ErrInsufficientSegments) {
		t.Fatalf("want ErrInsufficientSegments, got %v", err)
	}
	if r.calls != 6 {
		t.Errorf("renderer called %d times; want all 6 siblings dispatched", r.calls)
	}
}

func TestScheduler_JobTimeoutAbsorbedAsSegmentFailure(t *testing.T) {
	workDir := t.TempDir()
	r := &blockingRenderer{block: map[string]bool{
		fmt.Sprintf("%s/slice-001.wav", workDir): true,
	}}
	s := NewScheduler(r, &fakeSlicer{}, 3, nil).WithJobTimeout(20 * time.Millisecond)

	results, err := s.Render(context.Background(), multiPlan(3), "track.wav", AvatarSource{ImagePath: "face.png"}, workDir)
	if !errors.Is(err, ErrInsufficientSegments) {
		t.Fatalf("want ErrInsufficientSegments, got %v", err)
	}

	var insufficient *InsufficientError
	if !errors.As(err, &insufficient) {
		t.Fatalf("want *InsufficientError, got %T", err)
	}
	if len(insufficient.Failures) != 1 || insufficient.Failures[0].Index != 1 {
		t.Fatalf("unexpected failures %v", insufficient.Failures)
	}
	if !errors.Is(insufficient.Failures[0].Cause, context.DeadlineExceeded) {
		t.Errorf("timed-out job cause = %v; want deadline exceeded", insufficient.Failures[0].Cause)
	}

	// Siblings run to completion despite the stalled job.
	if len(results) != 2 {
		t.Errorf("want 2 surviving results, got %d", len(results))
	}
	if r.calls != 3 {
		t.Errorf("renderer called %d times; want all 3 dispatched", r.calls)
	}
}

func TestScheduler_RespectsWorkerBound(t *testing.T) {
	r := &fakeRenderer{}
	s := NewScheduler(r, &fakeSlicer{}, 2, nil)

	if _, err := s.Render(context.Background(), multiPlan(8), "track.wav", AvatarSource{ImagePath: "face.png"}, t.TempDir()); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if r.maxSeen > 2 {
		t.Errorf("observed %d concurrent renders; want at most 2", r.maxSeen)
	}
}

func TestScheduler_DuplicateSegmentIndicesCollapse(t *testing.T) {
	plan := segment.Plan{
		Segments: []segment.Segment{
			{Index: 0, Start: 0, Length: 6},
			{Index: 1, Start: 6, Length: 6},
			{Index: 1, Start: 6, Length: 6},
		},
		Total: 12,
	}

	r := &fakeRenderer{}
	s := NewScheduler(r, &fakeSlicer{}, 2, nil)
	results, err := s.Render(context.Background(), plan, "track.wav", AvatarSource{ImagePath: "face.png"}, t.TempDir())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("want 2 deduped results, got %d", len(results))
	}
	if r.calls != 2 {
		t.Errorf("renderer called %d times; duplicates must not dispatch", r.calls)
	}
}

func TestScheduler_NoNewDispatchAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &fakeRenderer{}
	s := NewScheduler(r, &fakeSlicer{}, 2, nil)
	results, err := s.Render(ctx, multiPlan(3), "track.wav", AvatarSource{ImagePath: "face.png"}, t.TempDir())
	if !errors.Is(err, ErrInsufficientSegments) {
		t.Fatalf("want ErrInsufficientSegments, got %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results from a cancelled run", len(results))
	}
	if r.calls != 0 {
		t.Errorf("renderer called %d times after cancellation", r.calls)
	}
}

func TestScheduler_EmptyPlanIsAnError(t *testing.T) {
	s := NewScheduler(&fakeRenderer{}, &fakeSlicer{}, 2, nil)
	if _, err := s.Render(context.Background(), segment.Plan{}, "track.wav", AvatarSource{ImagePath: "face.png"}, t.TempDir()); err == nil {
		t.Fatal("want error for empty plan")
	}
}

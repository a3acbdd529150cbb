package combine

import (
	"context"
	"errors"
	"testing"

	"github.com/example/go-avatarcast/internal/render"
)

// fakeMuxer records concat calls and reports a configurable duration.
type fakeMuxer struct {
	concatCalls int
	concatErr   error
	probed      float64
	probeErr    error
	lastInputs  []string
}

func (f *fakeMuxer) Concat(_ context.Context, inputs []string, _ int, dst string) error {
	f.concatCalls++
	f.lastInputs = append([]string(nil), inputs...)
	return f.concatErr
}

func (f *fakeMuxer) ProbeDuration(_ context.Context, _ string) (float64, error) {
	return f.probed, f.probeErr
}

func results(durations ...float64) []render.Result {
	out := make([]render.Result, len(durations))
	for i, d := range durations {
		out[i] = render.Result{Index: i, VideoPath: "clip.mp4", Duration: d}
	}
	return out
}

func TestCombine_SingleClipPassesThroughWithoutConcat(t *testing.T) {
	mux := &fakeMuxer{}
	c := NewCombiner(mux, 25, 0.5, nil)

	clip, err := c.Combine(context.Background(), results(8.2), "out.mp4")
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if mux.concatCalls != 0 {
		t.Errorf("concat called %d times for a single clip; want 0", mux.concatCalls)
	}
	if clip.Recombined {
		t.Error("single clip marked as recombined")
	}
	if clip.Duration != 8.2 {
		t.Errorf("Duration = %v; want 8.2", clip.Duration)
	}
}

func TestCombine_MultipleClipsConcatenateInOrder(t *testing.T) {
	mux := &fakeMuxer{probed: 18.1}
	c := NewCombiner(mux, 25, 0.5, nil)

	in := []render.Result{
		{Index: 0, VideoPath: "a.mp4", Duration: 6},
		{Index: 1, VideoPath: "b.mp4", Duration: 6},
		{Index: 2, VideoPath: "c.mp4", Duration: 6},
	}
	clip, err := c.Combine(context.Background(), in, "out.mp4")
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if mux.concatCalls != 1 {
		t.Fatalf("concat called %d times; want 1", mux.concatCalls)
	}
	if len(mux.lastInputs) != 3 || mux.lastInputs[0] != "a.mp4" || mux.lastInputs[2] != "c.mp4" {
		t.Errorf("concat inputs out of order: %v", mux.lastInputs)
	}
	if !clip.Recombined {
		t.Error("multi-clip result not marked recombined")
	}
	if clip.Path != "out.mp4" {
		t.Errorf("Path = %q; want out.mp4", clip.Path)
	}
}

func TestCombine_DurationDriftBeyondToleranceFails(t *testing.T) {
	mux := &fakeMuxer{probed: 10.0}
	c := NewCombiner(mux, 25, 0.5, nil)

	// Inputs sum to 12s but the muxer measures 10s.
	_, err := c.Combine(context.Background(), results(6, 6), "out.mp4")
	if !errors.Is(err, ErrDurationMismatch) {
		t.Fatalf("want ErrDurationMismatch, got %v", err)
	}
}

func TestCombine_DriftWithinToleranceSucceeds(t *testing.T) {
	mux := &fakeMuxer{probed: 12.4}
	c := NewCombiner(mux, 25, 0.5, nil)

	clip, err := c.Combine(context.Background(), results(6, 6), "out.mp4")
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if clip.Duration != 12.4 {
		t.Errorf("Duration = %v; want measured 12.4", clip.Duration)
	}
}

func TestCombine_EmptyInputIsAnError(t *testing.T) {
	c := NewCombiner(&fakeMuxer{}, 25, 0.5, nil)
	if _, err := c.Combine(context.Background(), nil, "out.mp4"); err == nil {
		t.Fatal("want error for empty input")
	}
}

func TestCombine_ConcatFailurePropagates(t *testing.T) {
	mux := &fakeMuxer{concatErr: errors.New("mux exploded")}
	c := NewCombiner(mux, 25, 0.5, nil)

	if _, err := c.Combine(context.Background(), results(6, 6), "out.mp4"); err == nil {
		t.Fatal("want concat error to propagate")
	}
}

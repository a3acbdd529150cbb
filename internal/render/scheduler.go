package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/go-avatarcast/internal/segment"
)

// ErrInsufficientSegments reports that fewer segments rendered successfully
// than the plan requested. The pipeline treats it as a fallback trigger, not
// a fatal error: chunking is an optimization, never a requirement.
var ErrInsufficientSegments = errors.New("insufficient rendered segments for recombination")

// Result is a successfully rendered segment clip, keyed by segment index so
// ordering is reconstructed independently of completion order.
type Result struct {
	Index     int
	VideoPath string
	Duration  float64
}

// JobError records one segment's render failure.
type JobError struct {
	Index int
	Cause error
}

func (e *JobError) Error() string { return fmt.Sprintf("segment %d: %v", e.Index, e.Cause) }

func (e *JobError) Unwrap() error { return e.Cause }

// InsufficientError aggregates per-segment failures behind
// ErrInsufficientSegments.
type InsufficientError struct {
	Planned   int
	Succeeded int
	Failures  []*JobError
}

func (e *InsufficientError) Error() string {
	msg := fmt.Sprintf("%s: %d/%d segments rendered", ErrInsufficientSegments.Error(), e.Succeeded, e.Planned)
	if len(e.Failures) == 0 {
		return msg
	}
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return msg + " (" + strings.Join(parts, "; ") + ")"
}

func (e *InsufficientError) Is(target error) bool { return target == ErrInsufficientSegments }

// Slicer extracts a time-bounded slice of an audio file.
type Slicer interface {
	ExtractSegment(ctx context.Context, src string, start, length float64, dst string) error
}

// Scheduler runs one render job per planned segment under a bounded worker
// pool. Job failures are absorbed and aggregated; sibling jobs always run to
// completion.
type Scheduler struct {
	renderer   Renderer
	slicer     Slicer
	workers    int
	jobTimeout time.Duration
	log        *slog.Logger
}

func NewScheduler(renderer Renderer, slicer Slicer, workers int, log *slog.Logger) *Scheduler {
	if workers <= 0 {
		workers = 6
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{renderer: renderer, slicer: slicer, workers: workers, log: log}
}

// WithJobTimeout bounds each render job. Zero disables the per-job deadline.
func (s *Scheduler) WithJobTimeout(d time.Duration) *Scheduler {
	s.jobTimeout = d
	return s
}

// Render executes the plan against the audio track and returns successful
// results in segment-index order. The returned slice may be shorter than the
// plan; in that case the error satisfies errors.Is(err, ErrInsufficientSegments)
// and carries the per-segment failures.
//
// Temporary audio slices are owned by the job that created them and removed
// on both success and failure paths. Rendered clips are left in workDir for
// the recombiner.
func (s *Scheduler) Render(ctx context.Context, plan segment.Plan, audioPath string, avatar AvatarSource, workDir string) ([]Result, error) {
	segments := dedupeSegments(plan.Segments)
	if len(segments) == 0 {
		return nil, fmt.Errorf("empty segment plan")
	}

	type outcome struct {
		result Result
		err    *JobError
	}

	sem := make(chan struct{}, s.workers)
	outcomes := make(chan outcome, len(segments))

	var wg sync.WaitGroup
	for _, seg := range segments {
		// No new jobs after cancellation; already-dispatched siblings
		// are left to settle.
		if err := ctx.Err(); err != nil {
			outcomes <- outcome{err: &JobError{Index: seg.Index, Cause: err}}
			continue
		}

		wg.Add(1)
		go func(seg segment.Segment) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outcomes <- outcome{err: &JobError{Index: seg.Index, Cause: ctx.Err()}}
				return
			}

			res, err := s.renderSegment(ctx, plan, seg, audioPath, avatar, workDir)
			if err != nil {
				s.log.Warn("render job failed",
					slog.Int("segment", seg.Index),
					slog.String("error", err.Error()),
				)
				outcomes <- outcome{err: &JobError{Index: seg.Index, Cause: err}}
				return
			}
			outcomes <- outcome{result: res}
		}(seg)
	}

	wg.Wait()
	close(outcomes)

	var (
		results  []Result
		failures []*JobError
	)
	for o := range outcomes {
		if o.err != nil {
			failures = append(failures, o.err)
			continue
		}
		results = append(results, o.result)
	}

	results = dedupeResults(results)

	if len(results) < len(segments) {
		sort.Slice(failures, func(i, j int) bool { return failures[i].Index < failures[j].Index })
		return results, &InsufficientError{
			Planned:   len(segments),
			Succeeded: len(results),
			Failures:  failures,
		}
	}
	return results, nil
}

func (s *Scheduler) renderSegment(ctx context.Context, plan segment.Plan, seg segment.Segment, audioPath string, avatar AvatarSource, workDir string) (Result, error) {
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}

	jobAudio := audioPath
	if !plan.SinglePass() {
		sliced := filepath.Join(workDir, fmt.Sprintf("slice-%03d%s", seg.Index, filepath.Ext(audioPath)))
		if err := s.slicer.ExtractSegment(ctx, audioPath, seg.Start, seg.Length, sliced); err != nil {
			return Result{}, err
		}
		defer func() { _ = os.Remove(sliced) }()
		jobAudio = sliced
	}

	videoPath, duration, err := s.renderer.Render(ctx, jobAudio, avatar, workDir)
	if err != nil {
		return Result{}, err
	}
	return Result{Index: seg.Index, VideoPath: videoPath, Duration: duration}, nil
}

// dedupeSegments drops duplicate segment indices before dispatch so no two
// jobs for the same index ever run concurrently.
func dedupeSegments(segs []segment.Segment) []segment.Segment {
	seen := make(map[int]bool, len(segs))
	out := make([]segment.Segment, 0, len(segs))
	for _, seg := range segs {
		if seen[seg.Index] {
			continue
		}
		seen[seg.Index] = true
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// dedupeResults sorts by segment index and collapses duplicate indices to the
// first valid result, so a retried segment can never appear twice in the
// final video.
func dedupeResults(results []Result) []Result {
	sort.SliceStable(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	out := results[:0]
	lastIndex := -1
	for _, r := range results {
		if r.Index == lastIndex {
			continue
		}
		lastIndex = r.Index
		out = append(out, r)
	}
	return out
}

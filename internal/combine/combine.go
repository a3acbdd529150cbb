// Package combine joins ordered rendered segment clips into one output clip,
// or passes a single clip through untouched.
package combine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/example/go-avatarcast/internal/render"
)

// ErrDurationMismatch reports that the combined clip's measured duration
// drifted beyond tolerance from the sum of its inputs. The stage fails
// loudly rather than returning a silently-wrong artifact.
var ErrDurationMismatch = errors.New("combined clip duration does not match inputs")

// Clip is the final video artifact of one pipeline run.
type Clip struct {
	Path       string
	Duration   float64
	Recombined bool
}

// Muxer exposes the concat and probe primitives the combiner needs.
type Muxer interface {
	Concat(ctx context.Context, inputs []string, fps int, dst string) error
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

type Combiner struct {
	muxer     Muxer
	fps       int
	tolerance float64
	timeout   time.Duration
	log       *slog.Logger
}

func NewCombiner(muxer Muxer, fps int, tolerance float64, log *slog.Logger) *Combiner {
	if fps <= 0 {
		fps = 25
	}
	if tolerance <= 0 {
		tolerance = 0.5
	}
	if log == nil {
		log = slog.Default()
	}
	return &Combiner{muxer: muxer, fps: fps, tolerance: tolerance, log: log}
}

// WithTimeout bounds the concat invocation. Zero disables the bound.
func (c *Combiner) WithTimeout(d time.Duration) *Combiner {
	c.timeout = d
	return c
}

// Combine concatenates results in segment-index order into outPath. A single
// input is passed through unchanged without invoking the concat primitive,
// avoiding a pointless re-encode for the common short-content case.
//
// Combining the same ordered result set twice yields equivalent output, so
// results are safe to cache by content fingerprint.
func (c *Combiner) Combine(ctx context.Context, results []render.Result, outPath string) (Clip, error) {
	if len(results) == 0 {
		return Clip{}, fmt.Errorf("combine: no rendered segments")
	}

	if len(results) == 1 {
		return Clip{
			Path:       results[0].VideoPath,
			Duration:   results[0].Duration,
			Recombined: false,
		}, nil
	}

	inputs := make([]string, len(results))
	var want float64
	for i, r := range results {
		inputs[i] = r.VideoPath
		want += r.Duration
	}

	concatCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		concatCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.muxer.Concat(concatCtx, inputs, c.fps, outPath); err != nil {
		return Clip{}, err
	}

	got, err := c.muxer.ProbeDuration(ctx, outPath)
	if err != nil {
		_ = os.Remove(outPath)
		return Clip{}, fmt.Errorf("probe combined clip: %w", err)
	}

	if drift := math.Abs(got - want); drift > c.tolerance {
		_ = os.Remove(outPath)
		return Clip{}, fmt.Errorf("%w: measured %.3fs, inputs sum %.3fs (drift %.3fs)",
			ErrDurationMismatch, got, want, drift)
	}

	c.log.Debug("segments recombined",
		slog.Int("segments", len(results)),
		slog.Float64("duration_sec", got),
	)

	return Clip{Path: outPath, Duration: got, Recombined: true}, nil
}

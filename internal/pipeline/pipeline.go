// Package pipeline drives a request through synthesis, segmentation,
// rendering and recombination, with content-addressed caching around the
// expensive stages and a single-pass fallback when parallel rendering
// cannot produce a usable result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/example/go-avatarcast/internal/cache"
	"github.com/example/go-avatarcast/internal/combine"
	"github.com/example/go-avatarcast/internal/render"
	"github.com/example/go-avatarcast/internal/segment"
	"github.com/example/go-avatarcast/internal/synthesis"
)

// Strategy records which rendering path produced the final video.
type Strategy string

const (
	StrategySingle    Strategy = "single"
	StrategyParallel  Strategy = "parallel"
	StrategyEscalated Strategy = "escalated-fallback"
)

// Synthesizer produces a speech track for a text and voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (synthesis.AudioTrack, error)
}

// Planner decides how a speech track is split for rendering.
type Planner interface {
	Plan(duration float64) segment.Plan
}

// Scheduler renders every segment of a plan and returns the clips in order.
type Scheduler interface {
	Render(ctx context.Context, plan segment.Plan, audioPath string, avatar render.AvatarSource, workDir string) ([]render.Result, error)
}

// Combiner joins rendered clips into one video.
type Combiner interface {
	Combine(ctx context.Context, results []render.Result, outPath string) (combine.Clip, error)
}

// Request carries everything a single job needs.
type Request struct {
	Text   string
	Voice  string
	Avatar render.AvatarSource
}

// Report summarizes how a job was processed.
type Report struct {
	SynthesisTime time.Duration
	RenderTime    time.Duration
	CombineTime   time.Duration
	AudioDuration float64
	SegmentCount  int
	Strategy      Strategy
	CacheHit      bool
}

// Artifact is the durable output of a completed job.
type Artifact struct {
	ID        string
	VideoPath string
	Duration  float64
	Report    Report
}

// Options tunes a Controller beyond its collaborators.
type Options struct {
	ArtifactsDir string
	WorkDir      string
	ToleranceSec float64
	Logger       *slog.Logger
}

// Controller owns the processing state machine. It is safe for concurrent
// use; every call gets its own scratch directory.
type Controller struct {
	synth     Synthesizer
	planner   Planner
	scheduler Scheduler
	combiner  Combiner
	prober    synthesis.DurationProber
	store     cache.Store

	artifactsDir string
	workRoot     string
	tolerance    float64
	log          *slog.Logger
}

// New builds a Controller. store and prober may be nil; a nil store disables
// caching and a nil prober disables cache hits, since an artifact whose
// duration cannot be verified is never served.
func New(synth Synthesizer, planner Planner, scheduler Scheduler, combiner Combiner, prober synthesis.DurationProber, store cache.Store, opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	workRoot := opts.WorkDir
	if workRoot == "" {
		workRoot = os.TempDir()
	}
	tolerance := opts.ToleranceSec
	if tolerance <= 0 {
		tolerance = 0.5
	}
	return &Controller{
		synth:        synth,
		planner:      planner,
		scheduler:    scheduler,
		combiner:     combiner,
		prober:       prober,
		store:        store,
		artifactsDir: opts.ArtifactsDir,
		workRoot:     workRoot,
		tolerance:    tolerance,
		log:          log,
	}
}

// Process runs one request through the full state machine and returns the
// published artifact. Terminal failures come back as a *StageError.
func (c *Controller) Process(ctx context.Context, req Request) (Artifact, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Artifact{}, &StageError{Stage: StageSynthesizing, Err: errors.New("empty text")}
	}

	videoFP := cache.Fingerprint(cache.StageVideo, text, req.Voice, req.Avatar.Key())
	if hit, ok := c.lookup(ctx, videoFP); ok {
		return hit, nil
	}

	workDir, err := os.MkdirTemp(c.workRoot, "avatarcast-*")
	if err != nil {
		return Artifact{}, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	var report Report

	track, err := c.synthesize(ctx, text, req.Voice, workDir, &report)
	if err != nil {
		return Artifact{}, &StageError{Stage: StageSynthesizing, Err: err}
	}
	report.AudioDuration = track.Duration

	plan := c.planner.Plan(track.Duration)
	report.SegmentCount = len(plan.Segments)
	if plan.SinglePass() {
		report.Strategy = StrategySingle
	} else {
		report.Strategy = StrategyParallel
	}
	c.log.Info("plan ready",
		"duration", track.Duration,
		"segments", len(plan.Segments),
		"strategy", string(report.Strategy))

	clip, stage, err := c.renderAndCombine(ctx, plan, track, req.Avatar, workDir, &report)
	if err != nil {
		if plan.SinglePass() || ctx.Err() != nil {
			return Artifact{}, &StageError{Stage: stage, Err: err}
		}
		c.log.Warn("parallel path failed, retrying single-pass",
			"stage", string(stage), "error", err)
		report.Strategy = StrategyEscalated
		single := segment.SinglePlan(track.Duration)
		report.SegmentCount = len(single.Segments)
		clip, stage, err = c.renderAndCombine(ctx, single, track, req.Avatar, workDir, &report)
		if err != nil {
			return Artifact{}, &StageError{Stage: stage, Escalated: true, Err: err}
		}
	}

	art, err := c.publish(ctx, videoFP, clip, report)
	if err != nil {
		return Artifact{}, &StageError{Stage: StageDone, Escalated: report.Strategy == StrategyEscalated, Err: err}
	}
	c.log.Info("job done",
		"id", art.ID,
		"strategy", string(report.Strategy),
		"duration", art.Duration)
	return art, nil
}

// lookup serves a request entirely from the cache when possible.
func (c *Controller) lookup(ctx context.Context, fingerprint string) (Artifact, bool) {
	if c.store == nil {
		return Artifact{}, false
	}
	entry, ok, err := c.store.Get(ctx, fingerprint)
	if err != nil {
		c.log.Warn("cache lookup failed", "error", err)
		return Artifact{}, false
	}
	if !ok {
		return Artifact{}, false
	}
	if c.prober == nil {
		return Artifact{}, false
	}
	duration, err := c.prober.ProbeDuration(ctx, entry.ArtifactPath)
	if err != nil || duration <= 0 {
		// Same treatment as a stale entry: an artifact whose duration
		// cannot be verified is not served.
		c.log.Warn("cached artifact unprobeable, re-rendering",
			"fingerprint", shortID(fingerprint), "error", err)
		return Artifact{}, false
	}
	c.log.Info("cache hit", "fingerprint", shortID(fingerprint))
	return Artifact{
		ID:        shortID(fingerprint),
		VideoPath: entry.ArtifactPath,
		Duration:  duration,
		Report:    Report{Strategy: StrategySingle, CacheHit: true},
	}, true
}

func (c *Controller) synthesize(ctx context.Context, text, voice, workDir string, report *Report) (synthesis.AudioTrack, error) {
	audioFP := cache.Fingerprint(cache.StageSynthesis, text, voice)
	if c.store != nil {
		if entry, ok, err := c.store.Get(ctx, audioFP); err == nil && ok {
			var duration float64
			if c.prober != nil {
				if d, perr := c.prober.ProbeDuration(ctx, entry.ArtifactPath); perr == nil {
					duration = d
				}
			}
			if duration > 0 {
				c.log.Debug("synthesis cache hit", "fingerprint", shortID(audioFP))
				return synthesis.AudioTrack{
					Path:     entry.ArtifactPath,
					Duration: duration,
					TextHash: synthesis.TextHash(text, voice),
					Provider: "cache",
				}, nil
			}
		}
	}

	start := time.Now()
	track, err := c.synth.Synthesize(ctx, text, voice)
	report.SynthesisTime = time.Since(start)
	if err != nil {
		return synthesis.AudioTrack{}, err
	}

	if c.store == nil {
		// Uncached audio is request-scoped scratch; pull it under workDir
		// so it is removed with the rest of the request's files.
		dest := filepath.Join(workDir, "speech"+filepath.Ext(track.Path))
		if err := moveFile(track.Path, dest); err != nil {
			c.log.Warn("audio scratch move failed", "error", err)
			return track, nil
		}
		track.Path = dest
		return track, nil
	}

	dest := filepath.Join(c.artifactsDir, "audio-"+shortID(audioFP)+filepath.Ext(track.Path))
	if err := os.MkdirAll(c.artifactsDir, 0o755); err != nil {
		c.log.Warn("audio artifact publish failed", "error", err)
		return track, nil
	}
	if err := moveFile(track.Path, dest); err != nil {
		c.log.Warn("audio artifact publish failed", "error", err)
	} else {
		track.Path = dest
		if err := c.store.Put(ctx, audioFP, dest); err != nil {
			c.log.Warn("audio cache put failed", "error", err)
		}
	}
	return track, nil
}

// renderAndCombine runs the rendering and recombination stages for one plan
// and reports which of the two failed. Stage timings accumulate across the
// escalated retry so the report reflects total work done.
func (c *Controller) renderAndCombine(ctx context.Context, plan segment.Plan, track synthesis.AudioTrack, avatar render.AvatarSource, workDir string, report *Report) (combine.Clip, Stage, error) {
	start := time.Now()
	results, err := c.scheduler.Render(ctx, plan, track.Path, avatar, workDir)
	report.RenderTime += time.Since(start)
	if err != nil {
		return combine.Clip{}, StageRendering, err
	}

	outPath := filepath.Join(workDir, "combined-"+shortID(cache.Fingerprint(cache.StageVideo, track.TextHash))+".mp4")
	start = time.Now()
	clip, err := c.combiner.Combine(ctx, results, outPath)
	report.CombineTime += time.Since(start)
	if err != nil {
		return combine.Clip{}, StageRecombining, err
	}

	if drift := math.Abs(clip.Duration - track.Duration); drift > c.tolerance {
		os.Remove(clip.Path)
		return combine.Clip{}, StageRecombining, fmt.Errorf("video %.2fs vs audio %.2fs (drift %.2fs): %w",
			clip.Duration, track.Duration, drift, combine.ErrDurationMismatch)
	}
	return clip, StageDone, nil
}

// publish moves the finished clip into the artifacts directory and records
// it in the cache. The id is derived from the video fingerprint so repeated
// requests map to the same artifact.
func (c *Controller) publish(ctx context.Context, fingerprint string, clip combine.Clip, report Report) (Artifact, error) {
	if err := os.MkdirAll(c.artifactsDir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("artifacts dir: %w", err)
	}
	id := shortID(fingerprint)
	dest := filepath.Join(c.artifactsDir, "video-"+id+".mp4")
	if err := moveFile(clip.Path, dest); err != nil {
		return Artifact{}, fmt.Errorf("publish video: %w", err)
	}
	if c.store != nil {
		if err := c.store.Put(ctx, fingerprint, dest); err != nil {
			c.log.Warn("video cache put failed", "error", err)
		}
	}
	return Artifact{ID: id, VideoPath: dest, Duration: clip.Duration, Report: report}, nil
}

func shortID(fingerprint string) string {
	if len(fingerprint) > 16 {
		return fingerprint[:16]
	}
	return fingerprint
}

// moveFile renames src to dest, falling back to a copy when the two live on
// different filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return err
	}
	os.Remove(src)
	return nil
}

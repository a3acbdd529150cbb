// Package doctor provides environment preflight checks for avatarcast.
package doctor

import (
	"fmt"
	"io"
	"os"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// FFmpegVersion returns the output of `ffmpeg -version`.
	FFmpegVersion VersionFunc
	// FFprobeVersion returns the output of `ffprobe -version`.
	FFprobeVersion VersionFunc
	// RendererVersion returns the lip-sync renderer version string.
	RendererVersion VersionFunc
	// SkipRenderer skips the renderer check (synthesis-only deployments).
	SkipRenderer bool
	// SynthesizerVersion returns the speech engine version string.
	// Nil skips the check (HTTP-only provider setups).
	SynthesizerVersion VersionFunc
	// CacheDir is checked for writability. Empty skips the check.
	CacheDir string
	// CheckpointPath is the renderer model checkpoint to verify on disk.
	// Empty skips the check.
	CheckpointPath string
	// AvatarFiles is the list of avatar source paths to verify on disk.
	AvatarFiles []string
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	checkVersion(&res, w, "ffmpeg binary", cfg.FFmpegVersion)
	checkVersion(&res, w, "ffprobe binary", cfg.FFprobeVersion)

	if cfg.SkipRenderer {
		fmt.Fprintf(w, "%s renderer binary: skipped\n", PassMark)
	} else {
		checkVersion(&res, w, "renderer binary", cfg.RendererVersion)
	}

	if cfg.SynthesizerVersion != nil {
		checkVersion(&res, w, "synthesis engine", cfg.SynthesizerVersion)
	}

	if cfg.CacheDir != "" {
		if err := probeWritable(cfg.CacheDir); err != nil {
			res.fail(fmt.Sprintf("cache dir %s: %v", cfg.CacheDir, err))
			fmt.Fprintf(w, "%s cache dir %s: not writable\n", FailMark, cfg.CacheDir)
		} else {
			fmt.Fprintf(w, "%s cache dir %s: writable\n", PassMark, cfg.CacheDir)
		}
	}

	if cfg.CheckpointPath != "" {
		if _, err := os.Stat(cfg.CheckpointPath); err != nil {
			res.fail(fmt.Sprintf("checkpoint: %v", err))
			fmt.Fprintf(w, "%s checkpoint %s: missing\n", FailMark, cfg.CheckpointPath)
		} else {
			fmt.Fprintf(w, "%s checkpoint %s: ok\n", PassMark, cfg.CheckpointPath)
		}
	}

	for _, p := range cfg.AvatarFiles {
		if _, err := os.Stat(p); err != nil {
			res.fail(fmt.Sprintf("avatar file %s: %v", p, err))
			fmt.Fprintf(w, "%s avatar file %s: missing\n", FailMark, p)
			continue
		}
		fmt.Fprintf(w, "%s avatar file %s: ok\n", PassMark, p)
	}

	return res
}

// probeWritable confirms dir exists and accepts new files.
func probeWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, "doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()

	return os.Remove(name)
}

func checkVersion(res *Result, w io.Writer, name string, fn VersionFunc) {
	if fn == nil {
		res.fail(name + ": no probe configured")
		fmt.Fprintf(w, "%s %s: no probe configured\n", FailMark, name)
		return
	}
	ver, err := fn()
	if err != nil {
		res.fail(fmt.Sprintf("%s: %v", name, err))
		fmt.Fprintf(w, "%s %s: not found (%v)\n", FailMark, name, err)
		return
	}
	fmt.Fprintf(w, "%s %s: %s\n", PassMark, name, ver)
}

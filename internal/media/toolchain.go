// Package media wraps the ffmpeg/ffprobe toolchain behind narrow primitives:
// duration probing, audio slicing, still-image base clips, demuxer-level
// concatenation, and timestamp normalization.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrToolTimeout marks an external tool invocation that hit its deadline.
// Callers treat it identically to a tool failure for escalation purposes.
var ErrToolTimeout = errors.New("external tool timed out")

type Toolchain struct {
	ffmpegPath  string
	ffprobePath string
}

func NewToolchain(ffmpegPath, ffprobePath string) *Toolchain {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Toolchain{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// ProbeDuration returns the duration of a media file in seconds. WAV files
// are read directly from their header; everything else goes through ffprobe.
func (t *Toolchain) ProbeDuration(ctx context.Context, path string) (float64, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		if d, err := wavDuration(path); err == nil {
			return d, nil
		}
		// Malformed header; fall through to ffprobe.
	}

	args := probeDurationArgs(path)
	out, err := t.run(ctx, t.ffprobePath, args)
	if err != nil {
		return 0, fmt.Errorf("probe duration of %s: %w", path, err)
	}

	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	if d < 0 {
		return 0, fmt.Errorf("ffprobe reported negative duration %f for %s", d, path)
	}
	return d, nil
}

// ExtractSegment copies the [start, start+length) slice of src into dst
// without re-encoding the audio stream.
func (t *Toolchain) ExtractSegment(ctx context.Context, src string, start, length float64, dst string) error {
	args := extractSegmentArgs(src, start, length, dst)
	if _, err := t.run(ctx, t.ffmpegPath, args); err != nil {
		return fmt.Errorf("extract segment [%.2fs+%.2fs] from %s: %w", start, length, src, err)
	}
	return nil
}

// StillToVideo renders a still image into a base video clip of the given
// duration, with zeroed timestamps so the renderer inherits clean timing.
func (t *Toolchain) StillToVideo(ctx context.Context, image string, duration float64, fps int, dst string) error {
	args := stillToVideoArgs(image, duration, fps, dst)
	if _, err := t.run(ctx, t.ffmpegPath, args); err != nil {
		return fmt.Errorf("build base clip from %s: %w", image, err)
	}
	return nil
}

// Concat joins clips in order via the concat demuxer, re-muxing with a
// declared frame rate and regenerated timestamps. Inherited negative or
// offset timestamps from source segments are the defect this guards against:
// players otherwise appear to loop one segment.
func (t *Toolchain) Concat(ctx context.Context, inputs []string, fps int, dst string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("concat: no inputs")
	}

	list, err := writeConcatList(inputs, filepath.Dir(dst))
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(list) }()

	args := concatArgs(list, fps, dst)
	if _, err := t.run(ctx, t.ffmpegPath, args); err != nil {
		return fmt.Errorf("concat %d clips: %w", len(inputs), err)
	}
	return nil
}

func (t *Toolchain) run(ctx context.Context, exe string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, exe, args...)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", exe, ErrToolTimeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		return nil, fmt.Errorf("%s: %w (stderr: %s)", exe, err, msg)
	}
	return out.Bytes(), nil
}

// ---------------------------------------------------------------------------
// Argument builders (kept separate so they stay testable without ffmpeg)
// ---------------------------------------------------------------------------

func probeDurationArgs(path string) []string {
	return []string{
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	}
}

func extractSegmentArgs(src string, start, length float64, dst string) []string {
	return []string{
		"-i", src,
		"-ss", formatSeconds(start),
		"-t", formatSeconds(length),
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		"-y", dst,
	}
}

func stillToVideoArgs(image string, duration float64, fps int, dst string) []string {
	return []string{
		"-loop", "1",
		"-i", image,
		"-c:v", "libx264",
		"-t", formatSeconds(duration),
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(fps),
		"-avoid_negative_ts", "make_zero",
		"-fflags", "+genpts",
		"-y", dst,
	}
}

func concatArgs(listPath string, fps int, dst string) []string {
	return []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-r", strconv.Itoa(fps),
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-movflags", "+faststart",
		"-avoid_negative_ts", "make_zero",
		"-fflags", "+genpts",
		"-y", dst,
	}
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

// writeConcatList writes the ffmpeg concat demuxer list file next to the
// output so relative paths stay unambiguous.
func writeConcatList(inputs []string, dir string) (string, error) {
	f, err := os.CreateTemp(dir, "concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("create concat list: %w", err)
	}

	var b strings.Builder
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			abs = in
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}

	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write concat list: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("close concat list: %w", err)
	}
	return f.Name(), nil
}

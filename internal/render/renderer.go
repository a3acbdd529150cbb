// Package render executes lip-sync rendering jobs against an external
// renderer binary, one job per planned audio segment, under a bounded
// worker pool.
package render

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

	"github.com/example/go-avatarcast/internal/media"
	"github.com/google/uuid"
)

// AvatarSource identifies the face input for a render: either a still image
// (a synthetic base clip of matching duration is built first) or a pre-built
// base clip used as-is.
type AvatarSource struct {
	ImagePath    string
	BaseClipPath string
}

func (a AvatarSource) validate() error {
	if a.ImagePath == "" && a.BaseClipPath == "" {
		return fmt.Errorf("avatar source requires an image or a base clip")
	}
	return nil
}

// Key returns a stable fingerprint component for the avatar input.
func (a AvatarSource) Key() string {
	if a.BaseClipPath != "" {
		return "clip:" + a.BaseClipPath
	}
	return "image:" + a.ImagePath
}

// Renderer turns one audio file plus an avatar into a lip-synced video clip.
type Renderer interface {
	Render(ctx context.Context, audioPath string, avatar AvatarSource, outDir string) (videoPath string, duration float64, err error)
}

// ExecRenderer shells out to a lip-sync inference binary.
type ExecRenderer struct {
	binaryPath     string
	checkpointPath string
	fps            int
	minOutputBytes int64
	tools          *media.Toolchain
}

func NewExecRenderer(binaryPath, checkpointPath string, fps int, minOutputBytes int64, tools *media.Toolchain) *ExecRenderer {
	if fps <= 0 {
		fps = 25
	}
	return &ExecRenderer{
		binaryPath:     binaryPath,
		checkpointPath: checkpointPath,
		fps:            fps,
		minOutputBytes: minOutputBytes,
		tools:          tools,
	}
}

// Render builds the base clip when given a still image, runs the renderer,
// and validates the output file exists and is not truncated.
func (r *ExecRenderer) Render(ctx context.Context, audioPath string, avatar AvatarSource, outDir string) (string, float64, error) {
	if err := avatar.validate(); err != nil {
		return "", 0, err
	}

	audioDuration, err := r.tools.ProbeDuration(ctx, audioPath)
	if err != nil {
		return "", 0, fmt.Errorf("probe render audio: %w", err)
	}

	faceClip := avatar.BaseClipPath
	if faceClip == "" {
		faceClip = filepath.Join(outDir, "base-"+uuid.NewString()+".mp4")
		if err := r.tools.StillToVideo(ctx, avatar.ImagePath, audioDuration, r.fps, faceClip); err != nil {
			return "", 0, err
		}
		defer func() { _ = os.Remove(faceClip) }()
	}

	outPath := filepath.Join(outDir, "clip-"+uuid.NewString()+".mp4")

	exe := r.binaryPath
	if exe == "" {
		exe = "avatarcast-render"
	}
	args := []string{
		"--face", faceClip,
		"--audio", audioPath,
		"--outfile", outPath,
		"--fps", strconv.Itoa(r.fps),
	}
	if r.checkpointPath != "" {
		args = append(args, "--checkpoint", r.checkpointPath)
	}

	cmd := exec.CommandContext(ctx, exe, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(outPath)
		if ctx.Err() != nil {
			return "", 0, fmt.Errorf("renderer: %w", media.ErrToolTimeout)
		}
		return "", 0, mapRenderError(err, exe, stderr.String())
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return "", 0, fmt.Errorf("renderer produced no output file: %w", err)
	}
	if r.minOutputBytes > 0 && info.Size() < r.minOutputBytes {
		_ = os.Remove(outPath)
		return "", 0, fmt.Errorf("renderer output too small (%d bytes)", info.Size())
	}

	duration, err := r.tools.ProbeDuration(ctx, outPath)
	if err != nil {
		_ = os.Remove(outPath)
		return "", 0, fmt.Errorf("probe rendered clip: %w", err)
	}

	return outPath, duration, nil
}

func mapRenderError(err error, exe, stderr string) error {
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("renderer executable %q not found in PATH: %w", exe, err)
	}
	msg := strings.TrimSpace(stderr)
	if len(msg) > 512 {
		msg = msg[len(msg)-512:]
	}
	return fmt.Errorf("renderer %s: %w (stderr: %s)", exe, err, msg)
}

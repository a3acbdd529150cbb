package synthesis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ExecProvider spawns an external TTS executable that reads text on stdin
// and writes a WAV stream to stdout.
type ExecProvider struct {
	executablePath string
	configPath     string
	workDir        string
	prober         DurationProber
}

func NewExecProvider(executablePath, configPath, workDir string, prober DurationProber) *ExecProvider {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &ExecProvider{
		executablePath: executablePath,
		configPath:     configPath,
		workDir:        workDir,
		prober:         prober,
	}
}

func (p *ExecProvider) Name() string { return "exec" }

func (p *ExecProvider) Synthesize(ctx context.Context, text, voice string) (AudioTrack, error) {
	if strings.TrimSpace(text) == "" {
		return AudioTrack{}, fmt.Errorf("empty input text")
	}

	exe := p.executablePath
	if exe == "" {
		exe = "avatarcast-tts"
	}

	args := []string{"generate", "--text", "-", "--output-path", "-"}
	if strings.TrimSpace(voice) != "" {
		args = append(args, "--voice", voice)
	}
	if p.configPath != "" {
		args = append(args, "--config", p.configPath)
	}

	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Stdin = strings.NewReader(text)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return AudioTrack{}, mapExecError(err, exe, stderr.String())
	}
	if out.Len() == 0 {
		return AudioTrack{}, fmt.Errorf("%s produced no audio", exe)
	}

	path := filepath.Join(p.workDir, "speech-"+uuid.NewString()+".wav")
	if err := os.WriteFile(path, out.Bytes(), 0o644); err != nil {
		return AudioTrack{}, fmt.Errorf("write synthesized audio: %w", err)
	}

	duration, err := p.prober.ProbeDuration(ctx, path)
	if err != nil {
		_ = os.Remove(path)
		return AudioTrack{}, fmt.Errorf("probe synthesized audio: %w", err)
	}

	return AudioTrack{
		Path:     path,
		Duration: duration,
		TextHash: TextHash(text, voice),
		Provider: p.Name(),
	}, nil
}

func mapExecError(err error, exe, stderr string) error {
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("tts executable %q not found in PATH: %w", exe, err)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := strings.TrimSpace(stderr)
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		return fmt.Errorf("tts executable returned non-zero exit: %w (stderr: %s)", err, msg)
	}
	return err
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/example/go-avatarcast/internal/doctor"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local toolchain and asset checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			ffmpeg := cfg.Media.FFmpegPath
			if ffmpeg == "" {
				ffmpeg = "ffmpeg"
			}
			ffprobe := cfg.Media.FFprobePath
			if ffprobe == "" {
				ffprobe = "ffprobe"
			}
			renderBin := cfg.Render.BinaryPath
			if renderBin == "" {
				renderBin = "avatarcast-render"
			}

			dcfg := doctor.Config{
				FFmpegVersion: func() (string, error) {
					return probeToolVersion(cmd.Context(), ffmpeg, "-version")
				},
				FFprobeVersion: func() (string, error) {
					return probeToolVersion(cmd.Context(), ffprobe, "-version")
				},
				RendererVersion: func() (string, error) {
					return probeToolVersion(cmd.Context(), renderBin, "--version")
				},
				CheckpointPath: cfg.Render.CheckpointPath,
				AvatarFiles:    collectAvatarFiles(cfg.Paths.AvatarDir),
			}

			if cfg.Synthesis.ExecPath != "" {
				synthBin := cfg.Synthesis.ExecPath
				dcfg.SynthesizerVersion = func() (string, error) {
					return probeToolVersion(cmd.Context(), synthBin, "--version")
				}
			}
			if cfg.Cache.Enabled && cfg.Cache.IndexDB != "" {
				dcfg.CacheDir = filepath.Dir(cfg.Cache.IndexDB)
			}

			result := doctor.Run(dcfg, os.Stdout)

			if result.Failed() {
				for _, f := range result.Failures() {
					fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(os.Stdout, "doctor checks passed")

			return nil
		},
	}

	return cmd
}

// probeToolVersion runs `exe versionArg` and returns the first line of output.
func probeToolVersion(ctx context.Context, exe, versionArg string) (string, error) {
	out, err := exec.CommandContext(ctx, exe, versionArg).Output()
	if err != nil {
		return "", fmt.Errorf("%s %s failed: %w", exe, versionArg, err)
	}

	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(line), nil
}

// collectAvatarFiles lists avatar sources in the configured avatar directory
// so doctor can confirm at least the committed defaults are present.
func collectAvatarFiles(dir string) []string {
	if dir == "" {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg", ".mp4", ".mov", ".mkv":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths
}

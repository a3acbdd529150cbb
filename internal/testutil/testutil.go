// Package testutil provides shared skip helpers for integration tests.
//
// Each helper calls t.Skip with a clear human-readable reason when the named
// prerequisite is absent, so integration tests remain runnable in partial
// environments without failing noisily.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    testutil.RequireFFmpeg(t)
//	    ...
//	}
package testutil

import (
	"os"
	"os/exec"
	"testing"
)

// RequireFFmpeg skips the test if the ffmpeg binary is not found in PATH or
// the path given by the AVATARCAST_MEDIA_FFMPEG_PATH environment variable.
func RequireFFmpeg(tb testing.TB) {
	tb.Helper()
	requireTool(tb, "AVATARCAST_MEDIA_FFMPEG_PATH", "ffmpeg")
}

// RequireFFprobe skips the test if the ffprobe binary is not found in PATH or
// the path given by the AVATARCAST_MEDIA_FFPROBE_PATH environment variable.
func RequireFFprobe(tb testing.TB) {
	tb.Helper()
	requireTool(tb, "AVATARCAST_MEDIA_FFPROBE_PATH", "ffprobe")
}

// RequireRenderer skips the test if the lip-sync renderer binary is not
// available. The AVATARCAST_RENDER_BINARY_PATH environment variable overrides
// the PATH lookup.
func RequireRenderer(tb testing.TB) {
	tb.Helper()
	requireTool(tb, "AVATARCAST_RENDER_BINARY_PATH", "wav2lip")
}

// RequireSynthCLI skips the test if the synthesis CLI binary is not
// available. The AVATARCAST_SYNTHESIS_EXEC_PATH environment variable
// overrides the PATH lookup.
func RequireSynthCLI(tb testing.TB) {
	tb.Helper()
	requireTool(tb, "AVATARCAST_SYNTHESIS_EXEC_PATH", "pocket-tts")
}

func requireTool(tb testing.TB, env, fallback string) {
	tb.Helper()

	exe := os.Getenv(env)
	if exe == "" {
		exe = fallback
	}

	if _, err := exec.LookPath(exe); err != nil {
		tb.Skipf("%s binary not available (%q not in PATH); set %s to override", fallback, exe, env)
	}
}

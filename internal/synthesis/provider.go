// Package synthesis turns text into audio tracks through an ordered list of
// interchangeable speech providers.
package synthesis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// AudioTrack references a synthesized speech artifact. Immutable once
// produced; the duration is probed from the file, never assumed.
type AudioTrack struct {
	Path     string
	Duration float64
	TextHash string
	Provider string
}

// Provider produces an audio file from text and a voice profile.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, text, voice string) (AudioTrack, error)
}

// DurationProber measures the duration of a media file in seconds.
type DurationProber interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

// TextHash returns the content fingerprint for a text+voice pair.
func TextHash(text, voice string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text) + "\x00" + strings.TrimSpace(voice)))
	return hex.EncodeToString(sum[:])
}

// Package cache provides a content-addressed store for pipeline artifacts.
// Entries are keyed by a deterministic fingerprint of the stage name and its
// normalized input, so identical requests reuse identical artifacts.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Stage names used as fingerprint prefixes.
const (
	StageSynthesis = "synthesis"
	StageVideo     = "video"
)

// Entry maps a content fingerprint to an artifact on disk. Entries are
// immutable; time-based eviction is the only deletion path.
type Entry struct {
	Fingerprint  string
	ArtifactPath string
	CreatedAt    time.Time
}

// Store is the content-addressed cache contract. Reads are safe to issue
// concurrently; writes carry at-most-once semantics per fingerprint (a write
// race yields two equivalent artifacts, both correct).
type Store interface {
	Get(ctx context.Context, fingerprint string) (Entry, bool, error)
	Put(ctx context.Context, fingerprint, artifactPath string) error
	Evict(ctx context.Context, olderThan time.Duration) (int, error)
	Close() error
}

// Fingerprint derives the cache key for a stage and its normalized input
// parts. The same stage and parts always produce the same key.
func Fingerprint(stage string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(stage))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

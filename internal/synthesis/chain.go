package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrExhausted reports that every configured provider failed. It is fatal:
// the pipeline has nothing to render without audio.
var ErrExhausted = errors.New("all synthesis providers failed")

// ProviderError wraps a single provider's failure with its name.
type ProviderError struct {
	Provider string
	Cause    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Cause)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// ExhaustedError aggregates the per-provider failures behind ErrExhausted.
type ExhaustedError struct {
	Causes []*ProviderError
}

func (e *ExhaustedError) Error() string {
	if len(e.Causes) == 0 {
		return ErrExhausted.Error()
	}
	parts := make([]string, len(e.Causes))
	for i, c := range e.Causes {
		parts[i] = c.Error()
	}
	return ErrExhausted.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Chain tries providers in priority order until one succeeds. Adding or
// removing a provider is a configuration change, not a control-flow change.
type Chain struct {
	providers []Provider
	timeout   time.Duration
	log       *slog.Logger
}

func NewChain(log *slog.Logger, providers ...Provider) *Chain {
	if log == nil {
		log = slog.Default()
	}
	return &Chain{providers: providers, log: log}
}

// WithTimeout bounds each provider attempt separately, so a slow primary
// cannot starve the fallback of its chance. Zero disables the bound.
func (c *Chain) WithTimeout(d time.Duration) *Chain {
	c.timeout = d
	return c
}

func (c *Chain) Name() string { return "chain" }

// Synthesize runs the provider list in order. A provider failure is logged
// and the next provider is tried; the caller sees an error only when the
// whole list is exhausted.
func (c *Chain) Synthesize(ctx context.Context, text, voice string) (AudioTrack, error) {
	if len(c.providers) == 0 {
		return AudioTrack{}, &ExhaustedError{}
	}

	var causes []*ProviderError
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return AudioTrack{}, err
		}

		track, err := c.attempt(ctx, p, text, voice)
		if err == nil {
			return track, nil
		}

		c.log.Warn("synthesis provider failed",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
		)
		causes = append(causes, &ProviderError{Provider: p.Name(), Cause: err})
	}

	return AudioTrack{}, &ExhaustedError{Causes: causes}
}

func (c *Chain) attempt(ctx context.Context, p Provider, text, voice string) (AudioTrack, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return p.Synthesize(ctx, text, voice)
}

package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// HTTPProvider posts text to a hosted speech service and stores the returned
// audio bytes. The service contract is a JSON request and a raw audio body.
type HTTPProvider struct {
	endpoint string
	apiKey   string
	workDir  string
	client   *http.Client
	prober   DurationProber
}

func NewHTTPProvider(endpoint, apiKey, workDir string, client *http.Client, prober DurationProber) *HTTPProvider {
	if client == nil {
		client = http.DefaultClient
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &HTTPProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		workDir:  workDir,
		client:   client,
		prober:   prober,
	}
}

func (p *HTTPProvider) Name() string { return "http" }

type httpSynthRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

func (p *HTTPProvider) Synthesize(ctx context.Context, text, voice string) (AudioTrack, error) {
	if strings.TrimSpace(text) == "" {
		return AudioTrack{}, fmt.Errorf("empty input text")
	}
	if p.endpoint == "" {
		return AudioTrack{}, fmt.Errorf("http synthesis endpoint not configured")
	}

	body, err := json.Marshal(httpSynthRequest{Text: text, Voice: voice})
	if err != nil {
		return AudioTrack{}, fmt.Errorf("encode synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return AudioTrack{}, fmt.Errorf("build synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return AudioTrack{}, fmt.Errorf("synthesis request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return AudioTrack{}, fmt.Errorf("synthesis service returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	ext := extensionForContentType(resp.Header.Get("Content-Type"))
	path := filepath.Join(p.workDir, "speech-"+uuid.NewString()+ext)

	f, err := os.Create(path)
	if err != nil {
		return AudioTrack{}, fmt.Errorf("create audio file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return AudioTrack{}, fmt.Errorf("store synthesized audio: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return AudioTrack{}, fmt.Errorf("close audio file: %w", err)
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

func extensionForContentType(ct string) string {
	switch {
	case strings.Contains(ct, "wav"):
		return ".wav"
	case strings.Contains(ct, "ogg"):
		return ".ogg"
	default:
		return ".mp3"
	}
}

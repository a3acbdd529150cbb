package synthesis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fixedProber struct {
	duration float64
}

func (f fixedProber) ProbeDuration(_ context.Context, _ string) (float64, error) {
	return f.duration, nil
}

func TestHTTPProvider_StoresReturnedAudio(t *testing.T) {
	var gotAuth string
	var gotBody httpSynthRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFF-audio-bytes"))
	}))
	defer srv.Close()

	workDir := t.TempDir()
	p := NewHTTPProvider(srv.URL, "key123", workDir, srv.Client(), fixedProber{duration: 4.2})

	track, err := p.Synthesize(context.Background(), "hello world", "narrator")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if gotAuth != "Bearer key123" {
		t.Errorf("Authorization = %q; want bearer token", gotAuth)
	}
	if gotBody.Text != "hello world" || gotBody.Voice != "narrator" {
		t.Errorf("request body = %+v", gotBody)
	}

	if filepath.Dir(track.Path) != workDir {
		t.Errorf("audio stored at %q; want work dir", track.Path)
	}
	if filepath.Ext(track.Path) != ".wav" {
		t.Errorf("extension = %q; want .wav from content type", filepath.Ext(track.Path))
	}
	data, err := os.ReadFile(track.Path)
	if err != nil {
		t.Fatalf("read stored audio: %v", err)
	}
	if string(data) != "RIFF-audio-bytes" {
		t.Error("stored bytes differ from response body")
	}
	if track.Duration != 4.2 {
		t.Errorf("Duration = %v; want probed 4.2", track.Duration)
	}
	if track.Provider != "http" {
		t.Errorf("Provider = %q; want http", track.Provider)
	}
}

func TestHTTPProvider_NonOKStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exhausted", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "", t.TempDir(), srv.Client(), fixedProber{})
	_, err := p.Synthesize(context.Background(), "hello", "")
	if err == nil {
		t.Fatal("want error for non-200 response")
	}
	if !strings.Contains(err.Error(), "quota exhausted") {
		t.Errorf("error %q does not carry the service message", err)
	}
}

func TestHTTPProvider_RequiresEndpointAndText(t *testing.T) {
	p := NewHTTPProvider("", "", t.TempDir(), nil, fixedProber{})
	if _, err := p.Synthesize(context.Background(), "hello", ""); err == nil {
		t.Error("want error for missing endpoint")
	}

	p = NewHTTPProvider("http://localhost:1", "", t.TempDir(), nil, fixedProber{})
	if _, err := p.Synthesize(context.Background(), "   ", ""); err == nil {
		t.Error("want error for blank text")
	}
}

func TestExtensionForContentType(t *testing.T) {
	tests := []struct {
		ct   string
		want string
	}{
		{"audio/wav", ".wav"},
		{"audio/x-wav; charset=binary", ".wav"},
		{"audio/ogg", ".ogg"},
		{"audio/mpeg", ".mp3"},
		{"", ".mp3"},
	}
	for _, tt := range tests {
		if got := extensionForContentType(tt.ct); got != tt.want {
			t.Errorf("extensionForContentType(%q) = %q; want %q", tt.ct, got, tt.want)
		}
	}
}

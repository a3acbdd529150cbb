package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadRenderText(t *testing.T) {
	textFile := filepath.Join(t.TempDir(), "script.txt")
	if err := os.WriteFile(textFile, []byte("  from file \n"), 0o644); err != nil {
		t.Fatalf("write text file: %v", err)
	}

	tests := []struct {
		name     string
		text     string
		textFile string
		stdin    string
		want     string
		wantErr  bool
	}{
		{"flag text", "hello", "", "", "hello", false},
		{"stdin via dash", "-", "", "from stdin", "from stdin", false},
		{"stdin when empty", "", "", "piped in", "piped in", false},
		{"file text trimmed", "", textFile, "", "from file", false},
		{"both sources rejected", "hello", textFile, "", "", true},
		{"blank input rejected", "   ", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readRenderText(tt.text, tt.textFile, strings.NewReader(tt.stdin))
			if tt.wantErr {
				if err == nil {
					t.Fatal("want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("readRenderText: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q; want %q", got, tt.want)
			}
		})
	}
}

func TestResolveAvatar(t *testing.T) {
	tests := []struct {
		name      string
		image     string
		clip      string
		wantImage string
		wantClip  string
		wantErr   bool
	}{
		{"bare image resolves against avatar dir", "face.png", "", "avatars/face.png", "", false},
		{"absolute image kept", "/faces/face.png", "", "/faces/face.png", "", false},
		{"relative path with separator kept", "assets/face.png", "", "assets/face.png", "", false},
		{"bare clip resolves against avatar dir", "", "base.mp4", "", "avatars/base.mp4", false},
		{"neither rejected", "", "", "", "", true},
		{"both rejected", "face.png", "base.mp4", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			avatar, err := resolveAvatar("avatars", tt.image, tt.clip)
			if tt.wantErr {
				if err == nil {
					t.Fatal("want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveAvatar: %v", err)
			}
			if avatar.ImagePath != tt.wantImage {
				t.Errorf("ImagePath = %q; want %q", avatar.ImagePath, tt.wantImage)
			}
			if avatar.BaseClipPath != tt.wantClip {
				t.Errorf("BaseClipPath = %q; want %q", avatar.BaseClipPath, tt.wantClip)
			}
		})
	}
}

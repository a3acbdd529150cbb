package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/go-avatarcast/internal/pipeline"
	"github.com/example/go-avatarcast/internal/render"
	"github.com/spf13/cobra"
)

func newRenderCmd() *cobra.Command {
	var text string
	var textFile string
	var voice string
	var avatarImage string
	var avatarClip string

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a talking-head video from text",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			inputText, err := readRenderText(text, textFile, os.Stdin)
			if err != nil {
				return err
			}

			selectedVoice := cfg.Synthesis.Voice
			if voice != "" {
				selectedVoice = voice
			}

			avatar, err := resolveAvatar(cfg.Paths.AvatarDir, avatarImage, avatarClip)
			if err != nil {
				return err
			}

			ctrl, closeStore, err := buildController(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			art, err := ctrl.Process(cmd.Context(), pipeline.Request{
				Text:   inputText,
				Voice:  selectedVoice,
				Avatar: avatar,
			})
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(os.Stdout, "id: %s\n", art.ID)
			_, _ = fmt.Fprintf(os.Stdout, "video: %s\n", art.VideoPath)
			_, _ = fmt.Fprintf(os.Stdout, "duration: %.2fs\n", art.Duration)
			_, _ = fmt.Fprintf(os.Stdout, "strategy: %s (%d segments)\n",
				art.Report.Strategy, art.Report.SegmentCount)
			if art.Report.CacheHit {
				_, _ = fmt.Fprintln(os.Stdout, "served from cache")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Text to speak ('-' reads stdin)")
	cmd.Flags().StringVar(&textFile, "text-file", "", "Read text from a file")
	cmd.Flags().StringVar(&voice, "voice", "", "Voice id (overrides configured default)")
	cmd.Flags().StringVar(&avatarImage, "avatar-image", "", "Still image for the avatar face")
	cmd.Flags().StringVar(&avatarClip, "avatar-clip", "", "Pre-built base video for the avatar face")

	return cmd
}

// readRenderText resolves the input text from --text, --text-file, or stdin.
// "--text -" and an empty flag set both fall back to stdin so the command
// works in a pipe.
func readRenderText(text, textFile string, stdin io.Reader) (string, error) {
	if text != "" && textFile != "" {
		return "", fmt.Errorf("--text and --text-file are mutually exclusive")
	}

	if textFile != "" {
		data, err := os.ReadFile(textFile)
		if err != nil {
			return "", fmt.Errorf("read text file: %w", err)
		}
		text = string(data)
	} else if text == "" || text == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		text = string(data)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("no input text provided")
	}
	return text, nil
}

// resolveAvatar builds the avatar source from flags. Bare file names are
// resolved against the configured avatar directory.
func resolveAvatar(avatarDir, image, clip string) (render.AvatarSource, error) {
	if image != "" && clip != "" {
		return render.AvatarSource{}, fmt.Errorf("--avatar-image and --avatar-clip are mutually exclusive")
	}
	if image == "" && clip == "" {
		return render.AvatarSource{}, fmt.Errorf("an avatar is required (--avatar-image or --avatar-clip)")
	}

	resolve := func(p string) string {
		if filepath.IsAbs(p) || strings.ContainsRune(p, filepath.Separator) {
			return p
		}
		return filepath.Join(avatarDir, p)
	}

	if image != "" {
		return render.AvatarSource{ImagePath: resolve(image)}, nil
	}
	return render.AvatarSource{BaseClipPath: resolve(clip)}, nil
}

package media

import (
	"fmt"
	"os"

	"github.com/go-audio/wav"
)

// wavDuration reads the duration of a WAV file from its header, avoiding an
// ffprobe subprocess for the common synthesized-speech case.
func wavDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open wav: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := wav.NewDecoder(f)
	d, err := dec.Duration()
	if err != nil {
		return 0, fmt.Errorf("decode wav header: %w", err)
	}
	return d.Seconds(), nil
}

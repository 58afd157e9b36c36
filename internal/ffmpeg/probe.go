package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

var errNoDuration = errors.New("ffmpeg: probe reported no duration")

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeDuration returns the length of path in seconds as reported by ffprobe.
func ProbeDuration(ctx context.Context, ffprobePath, path string) (float64, error) {
	if ffprobePath == "" {
		return 0, errors.New("ffmpeg: ffprobe path is empty")
	}
	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return 0, fmt.Errorf("ffmpeg: probe %s: %w (%s)", path, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return 0, fmt.Errorf("ffmpeg: probe %s: %w", path, err)
	}
	return parseProbeOutput(out)
}

func parseProbeOutput(out []byte) (float64, error) {
	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return 0, fmt.Errorf("ffmpeg: decode probe output: %w", err)
	}
	if parsed.Format.Duration == "" || parsed.Format.Duration == "N/A" {
		return 0, errNoDuration
	}
	d, err := strconv.ParseFloat(parsed.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("ffmpeg: parse duration %q: %w", parsed.Format.Duration, err)
	}
	if d <= 0 {
		return 0, errNoDuration
	}
	return d, nil
}

// Prober probes durations with a fixed ffprobe binary.
type Prober struct {
	Path string
}

func (p Prober) ProbeDuration(ctx context.Context, path string) (float64, error) {
	return ProbeDuration(ctx, p.Path, path)
}

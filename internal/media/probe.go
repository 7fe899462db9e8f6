package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrNoAudioStream is returned when a file expected to carry audio has none.
var ErrNoAudioStream = errors.New("no audio stream")

// ProbeResult is the subset of ffprobe output the pipeline uses.
type ProbeResult struct {
	Duration float64
	HasAudio bool
	HasVideo bool
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Duration  string `json:"duration"`
	} `json:"streams"`
}

// Probe inspects path with ffprobe.
func (t *Toolchain) Probe(ctx context.Context, path string) (ProbeResult, error) {
	args := []string{"-v", "error", "-print_format", "json", "-show_format", "-show_streams", path}
	out, err := t.run(ctx, "ffprobe", t.ffprobe, args)
	if err != nil {
		return ProbeResult{}, err
	}
	return parseProbe(out)
}

// Duration returns the container duration of path in seconds.
func (t *Toolchain) Duration(ctx context.Context, path string) (float64, error) {
	res, err := t.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	return res.Duration, nil
}

// RequireAudio fails with ErrNoAudioStream when path has no audio stream.
func (t *Toolchain) RequireAudio(ctx context.Context, path string) (ProbeResult, error) {
	res, err := t.Probe(ctx, path)
	if err != nil {
		return res, err
	}
	if !res.HasAudio {
		return res, fmt.Errorf("%s: %w", path, ErrNoAudioStream)
	}
	return res, nil
}

func parseProbe(out []byte) (ProbeResult, error) {
	var raw probeOutput
	if err := json.Unmarshal(out, &raw); err != nil {
		return ProbeResult{}, &ToolchainError{Tool: "ffprobe", ExitCode: 0, Err: fmt.Errorf("decode probe output: %w", err)}
	}
	var res ProbeResult
	for _, s := range raw.Streams {
		switch s.CodecType {
		case "audio":
			res.HasAudio = true
		case "video":
			res.HasVideo = true
		}
	}
	if raw.Format.Duration != "" {
		d, err := strconv.ParseFloat(raw.Format.Duration, 64)
		if err != nil {
			return res, &ToolchainError{Tool: "ffprobe", Err: fmt.Errorf("parse duration %q: %w", raw.Format.Duration, err)}
		}
		res.Duration = d
		return res, nil
	}
	for _, s := range raw.Streams {
		if d, err := strconv.ParseFloat(s.Duration, 64); err == nil && d > res.Duration {
			res.Duration = d
		}
	}
	return res, nil
}

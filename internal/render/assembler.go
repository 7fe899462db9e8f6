package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"reelforge/internal/media"
	"reelforge/internal/models"
)

// Logger is the per-job sink.
type Logger interface {
	Printf(format string, args ...any)
}

// Toolchain is the subset of media.Toolchain the renderers drive.
type Toolchain interface {
	FFmpeg(ctx context.Context, args []string) error
	Probe(ctx context.Context, path string) (media.ProbeResult, error)
	RequireAudio(ctx context.Context, path string) (media.ProbeResult, error)
}

// Assembler encodes one segment from its stills, dialogue audio and captions.
type Assembler struct {
	tc          Toolchain
	audioDir    string
	segmentsDir string
}

// NewAssembler writes merged tracks under audioDir and segments under segmentsDir.
func NewAssembler(tc Toolchain, audioDir, segmentsDir string) *Assembler {
	return &Assembler{tc: tc, audioDir: audioDir, segmentsDir: segmentsDir}
}

// BuildSegment merges the segment's audio (a single line is used as-is),
// checks the track has audio, splits its duration evenly across the stills
// and encodes <segments>/<id>/<id>.mp4. subs may be nil.
func (a *Assembler) BuildSegment(ctx context.Context, seg models.Segment, images []models.ImageAsset, audio []models.AudioAsset, subs *models.SubtitleFile, logger Logger) (string, error) {
	if len(images) == 0 {
		return "", fmt.Errorf("segment %s has no images: %w", seg.ID, ErrAssetMissing)
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("segment %s has no audio: %w", seg.ID, ErrAssetMissing)
	}
	logger.Printf("creating video segment %s", seg.ID)

	track := audio[0].FilePath
	if len(audio) > 1 {
		track = filepath.Join(a.audioDir, fmt.Sprintf("merged_audio_%s.mp3", seg.ID))
		inputs := make([]string, len(audio))
		for i, line := range audio {
			inputs[i] = line.FilePath
		}
		if err := a.tc.FFmpeg(ctx, media.MergeAudioArgs(inputs, track)); err != nil {
			return "", fmt.Errorf("merge audio for %s: %w", seg.ID, err)
		}
	}

	probe, err := a.tc.RequireAudio(ctx, track)
	if err != nil {
		return "", fmt.Errorf("check audio for %s: %w", seg.ID, err)
	}
	perImage := probe.Duration / float64(len(images))

	dir := filepath.Join(a.segmentsDir, seg.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create segment dir: %w", err)
	}
	out := filepath.Join(dir, seg.ID+".mp4")

	spec := media.SegmentSpec{ImageDuration: perImage, Audio: track, Output: out}
	for _, img := range images {
		spec.Images = append(spec.Images, img.FilePath)
	}
	if subs != nil && exists(subs.FilePath) {
		spec.Subtitles = subs.FilePath
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := a.tc.FFmpeg(ctx, media.SegmentArgs(spec)); err != nil {
		return "", fmt.Errorf("encode segment %s: %w", seg.ID, err)
	}
	logger.Printf("video segment saved %s (%.2fs, %d images)", filepath.Base(out), probe.Duration, len(images))
	return out, nil
}

package render

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"reelforge/internal/media"
)

// ErrNoMusic is returned when neither the requested nor the fallback category holds a clip.
var ErrNoMusic = errors.New("no background music available")

// Compositor joins segments and lays background music under the result.
type Compositor struct {
	tc       Toolchain
	musicDir string
	fallback string
	volume   float64
	exts     map[string]bool
	pick     func(n int) int
}

// NewCompositor reads clips from musicDir/<category>. Only files with one of
// exts count as clips; an empty list accepts every regular file.
func NewCompositor(tc Toolchain, musicDir, fallback string, volume float64, exts []string) *Compositor {
	c := &Compositor{tc: tc, musicDir: musicDir, fallback: fallback, volume: volume, pick: rand.Intn}
	if len(exts) > 0 {
		c.exts = make(map[string]bool, len(exts))
		for _, e := range exts {
			c.exts[strings.ToLower(e)] = true
		}
	}
	return c
}

// Concatenate joins segments in order into out.
func (c *Compositor) Concatenate(ctx context.Context, segments []string, out string, logger Logger) (string, error) {
	if len(segments) == 0 {
		return "", errors.New("concatenate: no segments")
	}
	logger.Printf("concatenating %d video segments", len(segments))
	if err := c.tc.FFmpeg(ctx, media.ConcatArgs(segments, out)); err != nil {
		return "", fmt.Errorf("concatenate segments: %w", err)
	}
	logger.Printf("final video saved %s", filepath.Base(out))
	return out, nil
}

// PickClip chooses a random clip for category, falling back to the default
// category when the requested one has no clips.
func (c *Compositor) PickClip(category string) (string, string, error) {
	for _, cat := range []string{category, c.fallback} {
		if cat == "" {
			continue
		}
		clips := c.clips(filepath.Join(c.musicDir, filepath.Base(cat)))
		if len(clips) > 0 {
			return clips[c.pick(len(clips))], cat, nil
		}
	}
	return "", "", fmt.Errorf("%w for %q", ErrNoMusic, category)
}

func (c *Compositor) clips(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if c.exts != nil && !c.exts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out
}

// MixBackgroundMusic fits a clip of category to the video's length in
// tempClip, then mixes it under the original audio into out.
func (c *Compositor) MixBackgroundMusic(ctx context.Context, video, category, tempClip, out string, logger Logger) (string, error) {
	clip, used, err := c.PickClip(category)
	if err != nil {
		return "", err
	}
	if used != category {
		logger.Printf("music type %q not found, falling back to %q", category, used)
	}
	logger.Printf("adding background music %s", filepath.Base(clip))

	probe, err := c.tc.Probe(ctx, video)
	if err != nil {
		return "", fmt.Errorf("probe final video: %w", err)
	}
	if err := c.tc.FFmpeg(ctx, media.FitAudioArgs(clip, tempClip, probe.Duration)); err != nil {
		return "", fmt.Errorf("fit music clip: %w", err)
	}
	if err := c.tc.FFmpeg(ctx, media.MixMusicArgs(video, tempClip, out, c.volume)); err != nil {
		return "", fmt.Errorf("mix background music: %w", err)
	}
	logger.Printf("final video with background music saved %s", filepath.Base(out))
	return out, nil
}

package render

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"reelforge/internal/models"
)

// ErrAssetMissing is returned when a segment references an image or dialogue
// line that has no generated file.
var ErrAssetMissing = errors.New("asset missing")

// Cue is one subtitle entry.
type Cue struct {
	Start float64
	End   float64
	Text  string
}

// Timeline lays out one cue per dialogue line back to back, each lasting as
// long as that line's audio.
func Timeline(lines []models.AudioAsset) []Cue {
	cues := make([]Cue, 0, len(lines))
	start := 0.0
	for _, a := range lines {
		end := start + a.DurationSeconds
		cues = append(cues, Cue{Start: start, End: end, Text: a.DialogueText})
		start = end
	}
	return cues
}

// FormatSRT renders cues in SubRip format.
func FormatSRT(cues []Cue) string {
	var b strings.Builder
	for i, c := range cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, srtTimestamp(c.Start), srtTimestamp(c.End), c.Text)
	}
	return b.String()
}

// srtTimestamp formats seconds as HH:MM:SS,mmm.
func srtTimestamp(sec float64) string {
	ms := int64(math.Round(sec * 1000))
	if ms < 0 {
		ms = 0
	}
	h := ms / 3_600_000
	m := (ms / 60_000) % 60
	s := (ms / 1000) % 60
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}

// BuildSubtitles writes <dir>/<segment id>.srt for seg. lines are the
// segment's resolved audio assets in dialogue order.
func BuildSubtitles(seg models.Segment, lines []models.AudioAsset, dir string) (models.SubtitleFile, error) {
	if len(lines) != len(seg.Dialogue) {
		return models.SubtitleFile{}, fmt.Errorf("subtitles for %s: %w", seg.ID, ErrAssetMissing)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return models.SubtitleFile{}, fmt.Errorf("create subtitle dir: %w", err)
	}
	path := filepath.Join(dir, seg.ID+".srt")
	if err := os.WriteFile(path, []byte(FormatSRT(Timeline(lines))), 0o644); err != nil {
		return models.SubtitleFile{}, fmt.Errorf("write subtitles: %w", err)
	}
	return models.SubtitleFile{SegmentID: seg.ID, FilePath: path}, nil
}

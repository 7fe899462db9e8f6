package render

import (
	"fmt"
	"os"

	"reelforge/internal/models"
)

// Assets indexes generated files by flattened plan position.
type Assets struct {
	images map[int]models.ImageAsset
	audio  map[int]models.AudioAsset
}

// NewAssets indexes the generated images and audio lines.
func NewAssets(images []models.ImageAsset, audio []models.AudioAsset) *Assets {
	a := &Assets{
		images: make(map[int]models.ImageAsset, len(images)),
		audio:  make(map[int]models.AudioAsset, len(audio)),
	}
	for _, img := range images {
		a.images[img.SourcePromptIndex] = img
	}
	for _, line := range audio {
		a.audio[line.LineIndex] = line
	}
	return a
}

// Images returns the stills for a segment whose first prompt sits at offset.
func (a *Assets) Images(seg models.Segment, offset int) ([]models.ImageAsset, error) {
	out := make([]models.ImageAsset, 0, len(seg.Images))
	for i, spec := range seg.Images {
		img, ok := a.images[offset+i]
		if !ok || !exists(img.FilePath) {
			return nil, fmt.Errorf("image %q of segment %s: %w", spec.ID, seg.ID, ErrAssetMissing)
		}
		out = append(out, img)
	}
	return out, nil
}

// Audio returns the dialogue audio for a segment whose first line sits at offset.
func (a *Assets) Audio(seg models.Segment, offset int) ([]models.AudioAsset, error) {
	out := make([]models.AudioAsset, 0, len(seg.Dialogue))
	for i, text := range seg.Dialogue {
		line, ok := a.audio[offset+i]
		if !ok || !exists(line.FilePath) {
			return nil, fmt.Errorf("audio for dialogue %q of segment %s: %w", text, seg.ID, ErrAssetMissing)
		}
		out = append(out, line)
	}
	return out, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

package models

// ImageAsset is a generated still on disk, keyed by its flattened prompt index.
type ImageAsset struct {
	SourcePromptIndex int
	FilePath          string
}

// AudioAsset is a synthesized dialogue line, keyed by its flattened line index.
type AudioAsset struct {
	LineIndex       int
	DialogueText    string
	FilePath        string
	DurationSeconds float64
}

// SubtitleFile is the caption track for one segment.
type SubtitleFile struct {
	SegmentID string
	FilePath  string
}

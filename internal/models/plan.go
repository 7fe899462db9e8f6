package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// segmentID bounds ids to names that stay inside the job's directories.
var segmentID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ScriptPlan is the structured content plan returned by the language model.
type ScriptPlan struct {
	Niche      string    `json:"niche"`
	Topic      string    `json:"topic"`
	RandomSeed Number    `json:"random_seed"`
	Video      VideoPlan `json:"video"`
}

// VideoPlan holds the presentation fields and the ordered segment layout.
type VideoPlan struct {
	Title     string    `json:"title"`
	Hook      string    `json:"hook"`
	Caption   string    `json:"caption"`
	MusicType string    `json:"music_type"`
	Hashtags  []string  `json:"hashtags"`
	Layout    []Segment `json:"layout"`
}

// Segment is one sub-section of the video with its own dialogue and stills.
type Segment struct {
	ID           string      `json:"id"`
	Timestamp    string      `json:"timestamp"`
	SegmentTitle string      `json:"segment_title,omitempty"`
	Dialogue     []string    `json:"dialogue"`
	Images       []ImageSpec `json:"images"`
	Transition   string      `json:"transition"`
}

// ImageSpec describes one still to generate for a segment.
type ImageSpec struct {
	ID        string `json:"id"`
	Prompt    string `json:"prompt"`
	Duration  Number `json:"duration"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Number accepts both JSON numbers and numeric strings; models emit either.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("parse number %q: %w", s, err)
		}
		*n = Number(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = Number(f)
	return nil
}

// Validate checks the minimum shape required to start a job.
func (p *ScriptPlan) Validate() error {
	if p.Video.Title == "" {
		return fmt.Errorf("plan has no video title")
	}
	seen := make(map[string]bool, len(p.Video.Layout))
	for i, seg := range p.Video.Layout {
		if seg.ID == "" {
			return fmt.Errorf("segment %d has no id", i)
		}
		if !segmentID.MatchString(seg.ID) {
			return fmt.Errorf("segment %d id %q must use only letters, digits, _ and -", i, seg.ID)
		}
		if seen[seg.ID] {
			return fmt.Errorf("duplicate segment id %q", seg.ID)
		}
		seen[seg.ID] = true
	}
	return nil
}

// ImagePrompts flattens every image prompt across segments in layout order.
func (p *ScriptPlan) ImagePrompts() []string {
	var out []string
	for _, seg := range p.Video.Layout {
		for _, img := range seg.Images {
			out = append(out, img.Prompt)
		}
	}
	return out
}

// DialogueLines flattens every dialogue line across segments in layout order.
func (p *ScriptPlan) DialogueLines() []string {
	var out []string
	for _, seg := range p.Video.Layout {
		out = append(out, seg.Dialogue...)
	}
	return out
}

// Offsets returns, for segment i, the flattened index of its first image and
// its first dialogue line.
func (p *ScriptPlan) Offsets(i int) (imageStart, lineStart int) {
	for j := 0; j < i && j < len(p.Video.Layout); j++ {
		imageStart += len(p.Video.Layout[j].Images)
		lineStart += len(p.Video.Layout[j].Dialogue)
	}
	return imageStart, lineStart
}

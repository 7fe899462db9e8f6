package media

import (
	"fmt"
	"strconv"
	"strings"
)

// SubtitleStyle is the force_style used for burned-in captions.
const SubtitleStyle = "Fontname=Arial,Fontsize=20,PrimaryColour=&HFFFFFF&,OutlineColour=&H000000&,BackColour=&H40000000&,Bold=1,BorderStyle=3,Outline=1,Shadow=2,Alignment=2,MarginL=40,MarginR=40,MarginV=10"

// MergeAudioArgs concatenates audio inputs into one track.
func MergeAudioArgs(inputs []string, out string) []string {
	args := []string{"-y", "-hide_banner"}
	var labels strings.Builder
	for i, in := range inputs {
		args = append(args, "-i", in)
		fmt.Fprintf(&labels, "[%d:a]", i)
	}
	filter := fmt.Sprintf("%sconcat=n=%d:v=0:a=1[a]", labels.String(), len(inputs))
	return append(args, "-filter_complex", filter, "-map", "[a]", out)
}

// SegmentSpec is everything needed to encode one segment.
type SegmentSpec struct {
	Images        []string
	ImageDuration float64
	Audio         string
	Subtitles     string
	Output        string
}

// SegmentArgs loops each still for ImageDuration, concatenates them, burns in
// subtitles when present and muxes the audio track as H.264/AAC.
func SegmentArgs(spec SegmentSpec) []string {
	args := []string{"-y", "-hide_banner"}
	dur := seconds(spec.ImageDuration)
	var labels strings.Builder
	for i, img := range spec.Images {
		args = append(args, "-loop", "1", "-t", dur, "-i", img)
		fmt.Fprintf(&labels, "[%d:v]", i)
	}
	audioIdx := len(spec.Images)
	args = append(args, "-i", spec.Audio)

	filter := fmt.Sprintf("%sconcat=n=%d:v=1:a=0[cv]", labels.String(), len(spec.Images))
	if spec.Subtitles != "" {
		filter += fmt.Sprintf(";[cv]subtitles=%s:force_style='%s'[v]", escapeFilterValue(spec.Subtitles), SubtitleStyle)
	} else {
		filter += ";[cv]null[v]"
	}
	return append(args,
		"-filter_complex", filter,
		"-map", "[v]",
		"-map", fmt.Sprintf("%d:a", audioIdx),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-shortest",
		spec.Output,
	)
}

// ConcatArgs joins segment files in order, re-encoding audio and video.
func ConcatArgs(inputs []string, out string) []string {
	args := []string{"-y", "-hide_banner"}
	var labels strings.Builder
	for i, in := range inputs {
		args = append(args, "-i", in)
		fmt.Fprintf(&labels, "[%d:v][%d:a]", i, i)
	}
	filter := fmt.Sprintf("%sconcat=n=%d:v=1:a=1[v][a]", labels.String(), len(inputs))
	return append(args,
		"-filter_complex", filter,
		"-map", "[v]",
		"-map", "[a]",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		out,
	)
}

// FitAudioArgs trims or loops a clip so it lasts exactly duration seconds.
func FitAudioArgs(in, out string, duration float64) []string {
	return []string{"-y", "-hide_banner", "-stream_loop", "-1", "-i", in, "-t", seconds(duration), "-vn", out}
}

// MixMusicArgs lays music under the video's own audio. The original track
// keeps its level, the music is scaled by volume and the first input decides
// the length. Video is copied untouched.
func MixMusicArgs(video, music, out string, volume float64) []string {
	filter := fmt.Sprintf("[1:a]volume=%s[bg];[0:a][bg]amix=inputs=2:duration=first:dropout_transition=0:normalize=0[a]",
		strconv.FormatFloat(volume, 'f', -1, 64))
	return []string{
		"-y", "-hide_banner",
		"-i", video,
		"-i", music,
		"-filter_complex", filter,
		"-map", "0:v",
		"-map", "[a]",
		"-c:v", "copy",
		"-c:a", "aac",
		"-shortest",
		out,
	}
}

func seconds(d float64) string {
	return strconv.FormatFloat(d, 'f', 3, 64)
}

// escapeFilterValue escapes characters that are special inside a filtergraph
// option value.
func escapeFilterValue(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `:`, `\:`, `'`, `\'`, `,`, `\,`, `[`, `\[`, `]`, `\]`, `;`, `\;`)
	return r.Replace(s)
}

// Package mediatest installs scripted stand-ins for ffmpeg and ffprobe so the
// toolchain can be exercised without a real encoder.
package mediatest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Options shapes the fake binaries.
type Options struct {
	// FailOn makes ffmpeg exit 1 when its joined arguments contain the substring.
	FailOn string
	// HangOn makes ffmpeg block when its joined arguments contain the substring.
	HangOn string
	// ProbeDefault is printed by ffprobe when no sidecar exists for the file.
	ProbeDefault string
}

// Fake holds the paths of an installed fake toolchain.
type Fake struct {
	FFmpeg  string
	FFprobe string
	log     string
}

// DefaultProbe reports two seconds with one audio and one video stream.
const DefaultProbe = `{"format":{"duration":"2.000"},"streams":[{"codec_type":"video"},{"codec_type":"audio"}]}`

// Install writes the fake binaries into a temp dir owned by t.
func Install(t testing.TB, opts Options) *Fake {
	t.Helper()
	if opts.ProbeDefault == "" {
		opts.ProbeDefault = DefaultProbe
	}
	dir := t.TempDir()
	f := &Fake{
		FFmpeg:  filepath.Join(dir, "ffmpeg"),
		FFprobe: filepath.Join(dir, "ffprobe"),
		log:     filepath.Join(dir, "calls.log"),
	}

	ffmpeg := `#!/bin/sh
printf '%s\t' "$@" >> '` + f.log + `'
printf '\n' >> '` + f.log + `'
all="$*"
`
	if opts.FailOn != "" {
		ffmpeg += `case "$all" in *'` + opts.FailOn + `'*) echo "Error while filtering: scripted failure" >&2; exit 1;; esac
`
	}
	if opts.HangOn != "" {
		ffmpeg += `case "$all" in *'` + opts.HangOn + `'*) sleep 30;; esac
`
	}
	ffmpeg += `for a in "$@"; do out="$a"; done
mkdir -p "$(dirname "$out")"
printf 'fake-media' > "$out"
exit 0
`
	ffprobe := `#!/bin/sh
for a in "$@"; do target="$a"; done
if [ ! -e "$target" ]; then echo "$target: No such file or directory" >&2; exit 1; fi
if [ -f "$target.probe.json" ]; then cat "$target.probe.json"; exit 0; fi
cat <<'JSON'
` + opts.ProbeDefault + `
JSON
`
	if err := os.WriteFile(f.FFmpeg, []byte(ffmpeg), 0o755); err != nil {
		t.Fatalf("write fake ffmpeg: %v", err)
	}
	if err := os.WriteFile(f.FFprobe, []byte(ffprobe), 0o755); err != nil {
		t.Fatalf("write fake ffprobe: %v", err)
	}
	return f
}

// SetProbe makes ffprobe report body for path.
func SetProbe(t testing.TB, path, body string) {
	t.Helper()
	if err := os.WriteFile(path+".probe.json", []byte(body), 0o644); err != nil {
		t.Fatalf("write probe sidecar: %v", err)
	}
}

// AudioProbe builds a probe body for an audio-only file of the given length.
func AudioProbe(duration string) string {
	return `{"format":{"duration":"` + duration + `"},"streams":[{"codec_type":"audio"}]}`
}

// Calls returns the argument lists ffmpeg was invoked with, oldest first.
func (f *Fake) Calls(t testing.TB) [][]string {
	t.Helper()
	data, err := os.ReadFile(f.log)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("read call log: %v", err)
	}
	var calls [][]string
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		calls = append(calls, strings.Split(strings.TrimSuffix(line, "\t"), "\t"))
	}
	return calls
}

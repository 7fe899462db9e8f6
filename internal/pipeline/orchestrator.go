package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"reelforge/internal/imagegen"
	"reelforge/internal/media"
	"reelforge/internal/models"
	"reelforge/internal/render"
	"reelforge/internal/speech"
	"reelforge/internal/telemetry"
)

// Logger is the per-job sink every stage writes to.
type Logger interface {
	Printf(format string, args ...any)
}

// PlanWriter turns a prompt into a validated ScriptPlan.
type PlanWriter interface {
	Plan(ctx context.Context, prompt string) (*models.ScriptPlan, error)
}

// ImageGenerator renders a batch of prompts into stills.
type ImageGenerator interface {
	SynthesizeAll(ctx context.Context, prompts []string, outDir string, logger imagegen.Logger) ([]models.ImageAsset, error)
}

// SpeechGenerator renders one dialogue line to an audio file.
type SpeechGenerator interface {
	Synthesize(ctx context.Context, text, voice, outPath string, logger speech.Logger) (string, error)
}

// Toolchain runs and probes encodes.
type Toolchain interface {
	render.Toolchain
	Duration(ctx context.Context, path string) (float64, error)
}

// Publisher copies the finished video somewhere shareable and returns its URL.
type Publisher interface {
	Publish(ctx context.Context, localPath, key string) (string, error)
}

// Options holds the filesystem layout and pacing of a run.
type Options struct {
	VideosDir     string
	MusicDir      string
	MusicFallback string
	MusicVolume   float64
	MusicExts     []string
	Voice         string
	LineDelay     time.Duration
}

// Orchestrator runs one job's stages in order.
type Orchestrator struct {
	writer    PlanWriter
	images    ImageGenerator
	speech    SpeechGenerator
	tc        Toolchain
	publisher Publisher
	opts      Options
	sleep     func(ctx context.Context, d time.Duration) error
}

// New wires the stage collaborators. Publishing is off until WithPublisher.
func New(writer PlanWriter, images ImageGenerator, sp SpeechGenerator, tc Toolchain, opts Options) *Orchestrator {
	return &Orchestrator{writer: writer, images: images, speech: sp, tc: tc, opts: opts, sleep: sleepCtx}
}

// WithPublisher enables uploading of the final artifact.
func (o *Orchestrator) WithPublisher(p Publisher) *Orchestrator {
	o.publisher = p
	return o
}

type workdir struct {
	root      string
	title     string
	images    string
	audio     string
	subtitles string
	segments  string
}

// Run executes plan, images, speech, per-segment assembly and composition.
// Cancellation is checked at every stage boundary; the returned error is
// ctx.Err() whenever the context is done, whatever stage noticed it.
func (o *Orchestrator) Run(ctx context.Context, jobID, prompt string, logger Logger) (*models.VideoData, error) {
	data, err := o.run(ctx, jobID, prompt, logger)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return data, err
}

func (o *Orchestrator) run(ctx context.Context, jobID, prompt string, logger Logger) (*models.VideoData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger.Printf("generating script")
	var plan *models.ScriptPlan
	err := stage("plan", func() error {
		var err error
		plan, err = o.writer.Plan(ctx, prompt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("generate script: %w", err)
	}
	logger.Printf("script generated: %q with %d segments", plan.Video.Title, len(plan.Video.Layout))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wd, err := o.prepare(jobID, plan)
	if err != nil {
		return nil, err
	}
	logger.Printf("output directory %s", wd.root)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var images []models.ImageAsset
	err = stage("images", func() error {
		var err error
		images, err = o.images.SynthesizeAll(ctx, plan.ImagePrompts(), wd.images, logger)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("generate images: %w", err)
	}
	logger.Printf("generated %d images", len(images))

	var audio []models.AudioAsset
	err = stage("speech", func() error {
		var err error
		audio, err = o.speakAll(ctx, plan.DialogueLines(), wd.audio, logger)
		return err
	})
	if err != nil {
		return nil, err
	}

	var segments []string
	err = stage("segments", func() error {
		var err error
		segments, err = o.buildSegments(ctx, plan, render.NewAssets(images, audio), wd, logger)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var final string
	err = stage("compose", func() error {
		var err error
		final, err = o.compose(ctx, plan, segments, wd, logger)
		return err
	})
	if err != nil {
		return nil, err
	}

	result := &models.VideoData{FinalVideoPath: final, OutputDir: wd.root, JSONData: plan}
	if o.publisher != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := filepath.Base(final)
		if rel, err := filepath.Rel(o.opts.VideosDir, final); err == nil {
			key = filepath.ToSlash(rel)
		}
		url, err := o.publisher.Publish(ctx, final, key)
		switch {
		case err == nil:
			result.RemoteURL = url
			logger.Printf("video published %s", url)
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			logger.Printf("publish failed, keeping local copy: %v", err)
		}
	}
	return result, nil
}

// prepare creates the job's private tree. Jobs sharing a title get sibling
// directories under <VideosDir>/<title>/<jobID>; an empty title uses
// <VideosDir>/<jobID>.
func (o *Orchestrator) prepare(jobID string, plan *models.ScriptPlan) (workdir, error) {
	if jobID == "" || jobID == "." || jobID == ".." || strings.ContainsAny(jobID, `/\`) {
		return workdir{}, fmt.Errorf("invalid job id %q", jobID)
	}
	title := SanitizeTitle(plan.Video.Title)
	root := filepath.Join(o.opts.VideosDir, title, jobID)
	if title == "" {
		title = jobID
	}
	wd := workdir{
		root:      root,
		title:     title,
		images:    filepath.Join(root, "images"),
		audio:     filepath.Join(root, "audio"),
		subtitles: filepath.Join(root, "subtitles"),
		segments:  filepath.Join(root, "segments"),
	}
	for _, dir := range []string{wd.images, wd.audio, wd.subtitles, wd.segments} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return wd, fmt.Errorf("create output dir: %w", err)
		}
	}
	body, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return wd, fmt.Errorf("encode plan: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, "video.json"), body, 0o644); err != nil {
		return wd, fmt.Errorf("write plan: %w", err)
	}
	return wd, nil
}

// speakAll synthesizes lines one at a time. A failed line is skipped unless
// the failure came from cancellation.
func (o *Orchestrator) speakAll(ctx context.Context, lines []string, dir string, logger Logger) ([]models.AudioAsset, error) {
	var out []models.AudioAsset
	for i, text := range lines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logger.Printf("generating audio %d/%d", i+1, len(lines))
		path := filepath.Join(dir, fmt.Sprintf("audio_%d.mp3", i+1))
		asset, err := o.speakLine(ctx, i, text, path, logger)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Printf("skipping dialogue line %d: %v", i+1, err)
		} else {
			out = append(out, asset)
		}
		if i < len(lines)-1 {
			if err := o.sleep(ctx, o.opts.LineDelay); err != nil {
				return nil, err
			}
		}
	}
	logger.Printf("generated %d of %d audio lines", len(out), len(lines))
	return out, nil
}

func (o *Orchestrator) speakLine(ctx context.Context, idx int, text, path string, logger Logger) (models.AudioAsset, error) {
	file, err := o.speech.Synthesize(ctx, text, o.opts.Voice, path, logger)
	if err != nil {
		return models.AudioAsset{}, err
	}
	dur, err := o.tc.Duration(ctx, file)
	if err != nil {
		return models.AudioAsset{}, fmt.Errorf("measure audio: %w", err)
	}
	return models.AudioAsset{LineIndex: idx, DialogueText: text, FilePath: file, DurationSeconds: dur}, nil
}

func (o *Orchestrator) buildSegments(ctx context.Context, plan *models.ScriptPlan, assets *render.Assets, wd workdir, logger Logger) ([]string, error) {
	asm := render.NewAssembler(o.tc, wd.audio, wd.segments)
	out := make([]string, 0, len(plan.Video.Layout))
	for i, seg := range plan.Video.Layout {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		imgStart, lineStart := plan.Offsets(i)
		audio, err := assets.Audio(seg, lineStart)
		if err != nil {
			return nil, err
		}
		images, err := assets.Images(seg, imgStart)
		if err != nil {
			return nil, err
		}
		subs, err := render.BuildSubtitles(seg, audio, wd.subtitles)
		if err != nil {
			return nil, fmt.Errorf("build subtitles: %w", err)
		}
		path, err := asm.BuildSegment(ctx, seg, images, audio, &subs, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, path)
	}
	return out, nil
}

func (o *Orchestrator) compose(ctx context.Context, plan *models.ScriptPlan, segments []string, wd workdir, logger Logger) (string, error) {
	comp := render.NewCompositor(o.tc, o.opts.MusicDir, o.opts.MusicFallback, o.opts.MusicVolume, o.opts.MusicExts)
	final, err := comp.Concatenate(ctx, segments, filepath.Join(wd.root, wd.title+".mp4"), logger)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	temp := filepath.Join(wd.audio, "temp_music_clip.mp3")
	mixed, err := comp.MixBackgroundMusic(ctx, final, plan.Video.MusicType, temp, filepath.Join(wd.root, wd.title+"_with_music.mp4"), logger)
	_ = os.Remove(temp)
	switch {
	case err == nil:
		return mixed, nil
	case errors.Is(err, render.ErrNoMusic):
		logger.Printf("%v, keeping video without music", err)
		return final, nil
	default:
		return "", err
	}
}

var (
	spaceRun    = regexp.MustCompile(`\s+`)
	unsafeChars = regexp.MustCompile(`[^a-z0-9_]`)
)

// SanitizeTitle lowercases the title, joins words with underscores and
// drops everything outside [a-z0-9_].
func SanitizeTitle(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = spaceRun.ReplaceAllString(s, "_")
	return unsafeChars.ReplaceAllString(s, "")
}

func stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	telemetry.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ Toolchain = (*media.Toolchain)(nil)

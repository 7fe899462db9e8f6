package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"reelforge/internal/broker"
	"reelforge/internal/config"
	"reelforge/internal/models"
	"reelforge/internal/pipeline"
	"reelforge/internal/worker"
)

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Generate one video in-process and stream its progress",
	Long: `Runs the full pipeline for a prompt using the same environment
configuration as the API server. Ctrl-C cancels the job.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, err := pipeline.FromConfig(ctx, cfg, pipeline.NewProxyPool(cfg))
	if err != nil {
		return err
	}
	b := broker.New(log.New(io.Discard, "", 0))
	processor := worker.NewProcessor(b, orch)

	id, err := processor.Submit(strings.Join(args, " "))
	if err != nil {
		return err
	}
	sub, err := b.Subscribe(id)
	if err != nil {
		return err
	}
	defer sub.Close()
	fmt.Fprintf(cmd.ErrOrStderr(), "job %s started\n", id)

	final, err := follow(ctx, b, sub, cmd.OutOrStdout(), cmd.ErrOrStderr())
	processor.Wait()
	if err != nil {
		return err
	}
	return report(cmd.OutOrStdout(), final)
}

// follow prints progress lines until the terminal event. Interrupts abort
// the job and keep following so the cancellation is reported.
func follow(ctx context.Context, b *broker.Broker, sub *broker.Subscription, stdout, stderr io.Writer) (models.Event, error) {
	done := ctx.Done()
	for {
		select {
		case <-done:
			fmt.Fprintln(stderr, "cancelling...")
			_ = b.Abort(sub.JobID())
			done = nil
		case ev, ok := <-sub.C:
			if !ok {
				return models.Event{}, fmt.Errorf("job %s: stream closed without a result", sub.JobID())
			}
			if !ev.Terminal() {
				fmt.Fprintln(stderr, ev.Message)
				continue
			}
			switch ev.Status {
			case models.StatusFailed:
				return ev, fmt.Errorf("generation failed: %s", ev.Error)
			case models.StatusCancelled:
				return ev, fmt.Errorf("generation cancelled")
			}
			return ev, nil
		}
	}
}

func report(w io.Writer, ev models.Event) error {
	if outputFormat == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(ev.VideoData)
	}
	data := ev.VideoData
	fmt.Fprintf(w, "title:  %s\n", data.JSONData.Video.Title)
	fmt.Fprintf(w, "video:  %s\n", data.FinalVideoPath)
	fmt.Fprintf(w, "output: %s\n", data.OutputDir)
	if data.RemoteURL != "" {
		fmt.Fprintf(w, "remote: %s\n", data.RemoteURL)
	}
	return nil
}

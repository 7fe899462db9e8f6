package main

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"reelforge/internal/config"
	"reelforge/internal/proxy"
)

var probeLimit int

var proxiesCmd = &cobra.Command{
	Use:   "proxies",
	Short: "Fetch the relay list and probe candidates",
	Long: `Downloads the configured relay list and probes up to --limit candidates
concurrently with the same liveness check the speech stage uses.`,
	RunE: runProxies,
}

func init() {
	proxiesCmd.Flags().IntVar(&probeLimit, "limit", 20, "number of candidates to probe")
	rootCmd.AddCommand(proxiesCmd)
}

type probeRow struct {
	Relay   string `json:"relay"`
	Alive   bool   `json:"alive"`
	Latency string `json:"latency"`
	Error   string `json:"error,omitempty"`
}

func runProxies(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	prober := proxy.EchoProber{URL: cfg.ProxyProbeURL, Scheme: cfg.ProxyScheme, Timeout: cfg.ProxyProbeTimeout}
	pool := proxy.NewPool(cfg.ProxyListURL, prober, nil)
	if err := pool.Refill(cmd.Context()); err != nil {
		return err
	}
	candidates := pool.Candidates()
	fmt.Fprintf(cmd.ErrOrStderr(), "%d candidates loaded from %s\n", len(candidates), cfg.ProxyListURL)
	if probeLimit > 0 && len(candidates) > probeLimit {
		candidates = candidates[:probeLimit]
	}

	rows := make([]probeRow, len(candidates))
	var wg sync.WaitGroup
	for i, c := range candidates {
		wg.Add(1)
		go func(i int, c proxy.Candidate) {
			defer wg.Done()
			start := time.Now()
			err := prober.Probe(cmd.Context(), c)
			rows[i] = probeRow{Relay: c.String(), Alive: err == nil, Latency: time.Since(start).Round(time.Millisecond).String()}
			if err != nil {
				rows[i].Error = err.Error()
			}
		}(i, c)
	}
	wg.Wait()

	if outputFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Relay", "Alive", "Latency", "Error")
	alive := 0
	for _, r := range rows {
		status := "no"
		if r.Alive {
			status = "yes"
			alive++
		}
		table.Append([]string{r.Relay, status, r.Latency, truncate(r.Error, 60)})
	}
	table.Render()
	fmt.Fprintf(cmd.ErrOrStderr(), "%d/%d alive\n", alive, len(rows))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

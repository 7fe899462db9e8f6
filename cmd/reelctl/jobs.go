package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"reelforge/internal/models"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List jobs held by a running API server",
	RunE:  runJobs,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Request cancellation of a running job",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(cancelCmd)
}

var httpClient = &http.Client{Timeout: 15 * time.Second}

func runJobs(cmd *cobra.Command, _ []string) error {
	resp, err := httpClient.Get(serverURL + "/jobs")
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("list jobs: status %d", resp.StatusCode)
	}
	var body struct {
		Jobs []models.JobSnapshot `json:"jobs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode jobs: %w", err)
	}

	if outputFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(body.Jobs)
	}
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("ID", "Status", "Created", "Observers", "Result")
	for _, j := range body.Jobs {
		result := j.Error
		if j.Result != nil {
			result = j.Result.FinalVideoPath
		}
		status := string(j.Status)
		if j.Cancelling {
			status += " (cancelling)"
		}
		table.Append([]string{j.ID, status, j.CreatedAt.Local().Format(time.DateTime), fmt.Sprint(j.Observers), result})
	}
	table.Render()
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	resp, err := httpClient.Post(serverURL+"/generate/cancel/"+args[0], "application/json", nil)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	defer resp.Body.Close()
	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cancel job: %s", body["error"])
	}
	fmt.Fprintln(cmd.OutOrStdout(), body["message"])
	return nil
}

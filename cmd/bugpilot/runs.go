package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bugpilot/bugpilot/internal/storage"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List past patch runs or show one run's full result",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.Open(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("open run store: %w", err)
		}
		defer store.Close()

		ctx := cmd.Context()

		if len(args) == 1 {
			run, err := store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(run)
			}
			fmt.Printf("Run:    %s\n", run.ID)
			fmt.Printf("Issue:  %s\n", run.IssueTitle)
			fmt.Printf("Status: %s\n", run.Status)
			if run.Error != "" {
				fmt.Printf("Error:  %s\n", run.Error)
			}
			if run.Branch != "" {
				fmt.Printf("Branch: %s\n", run.Branch)
			}
			if run.ResultJSON != "" {
				fmt.Printf("\n%s\n", run.ResultJSON)
			}
			return nil
		}

		runs, err := store.ListRuns(ctx, runsLimit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(runs)
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}
		for _, run := range runs {
			fmt.Printf("%s  %-7s  %-20s  %s\n",
				run.CreatedAt.Format("2006-01-02 15:04:05"),
				run.Status, run.ID[:8], run.IssueTitle)
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs to list")
	rootCmd.AddCommand(runsCmd)
}

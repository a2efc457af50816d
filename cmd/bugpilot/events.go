package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bugpilot/bugpilot/internal/storage"
)

var eventsLimit int

var eventsCmd = &cobra.Command{
	Use:   "events <run-id>",
	Short: "Show the event stream recorded for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.Open(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("open run store: %w", err)
		}
		defer store.Close()

		list, err := store.ListEvents(cmd.Context(), args[0], eventsLimit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(list)
		}
		for _, event := range list {
			fmt.Printf("%s  %-8s  %-14s  %s\n",
				event.Timestamp.Format("15:04:05.000"),
				event.Type, event.Step, event.Message)
		}
		return nil
	},
}

var cleanupOlderThan time.Duration

var eventsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete persisted events older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.Open(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("open run store: %w", err)
		}
		defer store.Close()

		age := cleanupOlderThan
		if age <= 0 {
			age = cfg.EventRetention
		}
		deleted, err := store.CleanupEventsByAge(cmd.Context(), age)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d events older than %s.\n", deleted, age)
		return nil
	},
}

func init() {
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 500, "maximum number of events to show")
	eventsCleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 0, "delete events older than this (default: configured retention)")
	eventsCmd.AddCommand(eventsCleanupCmd)
	rootCmd.AddCommand(eventsCmd)
}

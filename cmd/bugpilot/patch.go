package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bugpilot/bugpilot/internal/events"
	"github.com/bugpilot/bugpilot/internal/evidence"
	"github.com/bugpilot/bugpilot/internal/git"
	"github.com/bugpilot/bugpilot/internal/llm"
	"github.com/bugpilot/bugpilot/internal/patch"
	"github.com/bugpilot/bugpilot/internal/storage"
)

var (
	patchTitle        string
	patchBody         string
	patchBodyFile     string
	patchRepoPath     string
	patchRepoName     string
	patchEvidenceFile string
	patchModel        string
	patchWorkspace    string
)

var patchCmd = &cobra.Command{
	Use:   "patch",
	Short: "Generate and apply a fix patch for a bug report",
	Long: `Generate a fix patch from investigation evidence.

The evidence file is the JSON bundle produced by the investigation agents
(triage, codebase search, documentation, log analysis). Use "-" to read it
from stdin. The target repository must be a local git working tree.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		bundle, err := loadEvidence(patchEvidenceFile)
		if err != nil {
			return err
		}

		body := patchBody
		if patchBodyFile != "" {
			data, err := os.ReadFile(patchBodyFile)
			if err != nil {
				return fmt.Errorf("read issue body file: %w", err)
			}
			body = string(data)
		}

		store, err := storage.Open(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("open run store: %w", err)
		}
		defer store.Close()

		router := llm.NewRouter(llm.Config{
			Provider:          cfg.Provider,
			AnthropicAPIKey:   cfg.AnthropicAPIKey,
			NvidiaAPIKey:      cfg.NvidiaAPIKey,
			NvidiaBaseURL:     cfg.NvidiaBaseURL,
			RequestsPerMinute: cfg.RequestsPerMinute,
		})

		model := patchModel
		if model == "" {
			model = cfg.Model
		}
		if model == "" {
			model = router.DefaultModel()
		}

		runID := uuid.New().String()
		if err := store.CreateRun(ctx, runID, patchTitle, patchRepoName, model); err != nil {
			return err
		}

		var console events.Emitter = events.ConsoleEmitter{}
		if jsonOutput {
			console = events.NopEmitter{}
		}
		emitter := storage.NewPersistingEmitter(store, runID, console)

		generator := patch.NewGenerator(router, git.NewCLI(), emitter, patch.Options{
			MaxContextFiles:      cfg.MaxContextFiles,
			MaxFileChars:         cfg.MaxFileChars,
			MaxOutputTokens:      cfg.MaxOutputTokens,
			TruncationGuardRatio: cfg.TruncationGuardRatio,
			MaxPromptAttempts:    cfg.MaxPromptAttempts,
		})

		result := generator.Generate(ctx, patch.Request{
			IssueTitle:    patchTitle,
			IssueBody:     body,
			RepoPath:      patchRepoPath,
			WorkspaceHint: patchWorkspace,
			RepoName:      patchRepoName,
			Evidence:      bundle,
			Model:         model,
		})

		if err := store.FinishRun(ctx, runID, result); err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(result)
		}

		fmt.Printf("\nRun:    %s\n", runID)
		fmt.Printf("Status: %s\n", result.Status)
		if result.Error != "" {
			fmt.Printf("Error:  %s\n", result.Error)
		}
		if result.Reason != "" {
			fmt.Printf("Reason: %s\n", result.Reason)
		}
		if result.Branch != "" {
			fmt.Printf("Branch: %s\n", result.Branch)
		}
		if result.CommitSHA != "" {
			fmt.Printf("Commit: %s\n", result.CommitSHA)
		}
		if result.DraftPR.URL != "" {
			fmt.Printf("PR:     %s\n", result.DraftPR.URL)
		}
		for _, f := range result.ChangedFiles {
			fmt.Printf("  changed: %s\n", f)
		}

		if result.Status == patch.StatusFailed {
			return fmt.Errorf("patch generation failed: %s", result.Error)
		}
		return nil
	},
}

func loadEvidence(path string) (evidence.Bundle, error) {
	if path == "" {
		return evidence.Bundle{}, nil
	}
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return evidence.Bundle{}, fmt.Errorf("read evidence: %w", err)
	}
	bundle, err := evidence.Decode(data)
	if err != nil {
		return evidence.Bundle{}, err
	}
	return bundle, nil
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func init() {
	patchCmd.Flags().StringVar(&patchTitle, "title", "", "issue title (required)")
	patchCmd.Flags().StringVar(&patchBody, "body", "", "issue body text")
	patchCmd.Flags().StringVar(&patchBodyFile, "body-file", "", "read issue body from file")
	patchCmd.Flags().StringVar(&patchRepoPath, "repo", "", "path to the local git checkout (required)")
	patchCmd.Flags().StringVar(&patchRepoName, "repo-name", "", "owner/repo identifier for path normalization")
	patchCmd.Flags().StringVar(&patchEvidenceFile, "evidence", "", "path to the evidence bundle JSON (use - for stdin)")
	patchCmd.Flags().StringVar(&patchModel, "model", "", "model to use (defaults to provider default)")
	patchCmd.Flags().StringVar(&patchWorkspace, "workspace", "", "pre-existing workspace checkout to prefer")
	_ = patchCmd.MarkFlagRequired("title")
	_ = patchCmd.MarkFlagRequired("repo")
	rootCmd.AddCommand(patchCmd)
}

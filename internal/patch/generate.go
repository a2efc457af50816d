package patch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bugpilot/bugpilot/internal/events"
	"github.com/bugpilot/bugpilot/internal/git"
	"github.com/bugpilot/bugpilot/internal/llm"
)

const rawPreviewChars = 500

// Generator orchestrates patch generation for one bug report at a time.
// It is not safe for concurrent Generate calls against the same repository
// because the working tree is mutated in place.
type Generator struct {
	completer llm.Completer
	vcs       VCS
	emitter   events.Emitter
	opts      Options
	now       func() time.Time
}

// NewGenerator wires a Generator. A nil emitter means no events.
func NewGenerator(completer llm.Completer, vcs VCS, emitter events.Emitter, opts Options) *Generator {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	return &Generator{
		completer: completer,
		vcs:       vcs,
		emitter:   emitter,
		opts:      opts.withDefaults(),
		now:       time.Now,
	}
}

// Generate runs the full patch workflow for the request. Expected failure
// modes come back in the Result; the error return is reserved for context
// cancellation.
func (g *Generator) Generate(ctx context.Context, req Request) *Result {
	banner := strings.Repeat("═", 58)
	g.emitter.Emit(events.AgentPatch, events.TypeStatus, "starting", banner, nil)
	g.emitter.Emit(events.AgentPatch, events.TypeStatus, "starting", "  PATCH AGENT — Generating fix patch", nil)
	g.emitter.Emit(events.AgentPatch, events.TypeStatus, "starting", banner, nil)

	repoPath, err := g.resolveRepo(req)
	if err != nil {
		g.emitter.Emit(events.AgentPatch, events.TypeError, "prepare_repo",
			fmt.Sprintf("Failed to prepare repo: %v", err), nil)
		return &Result{
			Status:  StatusFailed,
			Error:   fmt.Sprintf("%s: %v", ErrRepoPrepareFailed, err),
			DraftPR: git.PRResult{Status: git.PRNotAttempted},
		}
	}

	g.emitter.Emit(events.AgentPatch, events.TypeProgress, "context",
		"Building patch context from prior agents...", nil)
	contextFiles := gatherContextFiles(repoPath, req.Evidence, req.RepoName,
		g.opts.MaxContextFiles, g.opts.MaxFileChars)

	if mismatch, reason := detectRepoIssueMismatch(req.Evidence.Search, repoPath, req.RepoName); mismatch {
		g.emitter.Emit(events.AgentPatch, events.TypeError, "context",
			fmt.Sprintf("Repo/issue mismatch: %s", reason), nil)
		return &Result{
			Status:   StatusFailed,
			Error:    ErrRepoIssueMismatch,
			Reason:   reason,
			RepoPath: repoPath,
			DraftPR:  git.PRResult{Status: git.PRNotAttempted},
		}
	}

	contextFiles = g.supplementByDiscovery(repoPath, req, contextFiles)
	prompt := buildPrompt(req, contextFiles)

	models := g.candidateModels(req.Model)
	g.emitter.Emit(events.AgentPatch, events.TypeProgress, "llm",
		fmt.Sprintf("Patch attempts will use models: %s", strings.Join(models, ", ")), nil)

	var (
		attempted []string
		attempts  []Attempt
		accepted  *Envelope
		usedModel string
		changed   []string
		diff      string
	)

	for _, model := range models {
		attempted = append(attempted, model)

		envelope, llmErr := g.generateEnvelope(ctx, prompt, model)
		if llmErr != nil {
			g.emitter.Emit(events.AgentPatch, events.TypeError, "llm",
				fmt.Sprintf("LLM error (%s): %v", model, llmErr), nil)
			attempts = append(attempts, Attempt{Model: model, Error: llmErr.Error()})
			continue
		}

		g.logCandidateItems(repoPath, req.RepoName, envelope)

		changed = g.applyItems(repoPath, envelope.Changes, req.RepoName)
		changed = append(changed, g.applyItems(repoPath, envelope.Tests, req.RepoName)...)
		changed = dedupSorted(changed)

		diff = g.vcs.Diff(ctx, repoPath)
		statusLines := g.vcs.StatusLines(ctx, repoPath)
		if len(statusLines) > 10 {
			statusLines = statusLines[:10]
		}
		g.emitter.Emit(events.AgentPatch, events.TypeLog, "llm",
			fmt.Sprintf("%s write result: changed_files=%v, diff_len=%d, status_lines=%d",
				model, changed, len(diff), len(statusLines)), nil)

		attempts = append(attempts, Attempt{
			Model:         model,
			ParsedChanges: len(envelope.Changes),
			ParsedTests:   len(envelope.Tests),
			WrittenFiles:  changed,
			DiffLen:       len(diff),
			StatusLines:   statusLines,
		})

		if len(changed) > 0 && strings.TrimSpace(diff) != "" {
			accepted = &envelope
			usedModel = model
			g.emitter.Emit(events.AgentPatch, events.TypeProgress, "llm",
				fmt.Sprintf("Model %s produced a non-empty patch", model), nil)
			break
		}
		g.emitter.Emit(events.AgentPatch, events.TypeLog, "llm",
			fmt.Sprintf("Model %s produced no meaningful diff; trying next model", model), nil)
	}

	if accepted == nil || len(changed) == 0 || strings.TrimSpace(diff) == "" {
		g.emitter.Emit(events.AgentPatch, events.TypeError, "apply_changes",
			"No patch changes were generated", nil)
		return &Result{
			Status:          StatusFailed,
			Error:           ErrNoChangesGenerated,
			RepoPath:        repoPath,
			ChangedFiles:    changed,
			AttemptedModels: attempted,
			AttemptDebug:    attempts,
			DraftPR:         git.PRResult{Status: git.PRNotAttempted},
		}
	}

	branch, branchErr := g.createBranch(ctx, repoPath, req.IssueTitle, accepted.BranchNameHint)
	if branchErr != nil {
		g.emitter.Emit(events.AgentPatch, events.TypeError, "branch", branchErr.Error(), nil)
		return &Result{
			Status:          StatusFailed,
			Error:           fmt.Sprintf("%s: %v", ErrBranchFailed, branchErr),
			RepoPath:        repoPath,
			ChangedFiles:    changed,
			AttemptedModels: attempted,
			AttemptDebug:    attempts,
			DraftPR:         git.PRResult{Status: git.PRNotAttempted},
		}
	}

	commitSHA, commitErr := g.vcs.Commit(ctx, repoPath, accepted.CommitTitle)
	if commitErr != nil {
		g.emitter.Emit(events.AgentPatch, events.TypeError, "commit", commitErr.Error(), nil)
	}

	prTitle := strings.TrimSpace(accepted.PRTitle)
	if prTitle == "" {
		prTitle = accepted.CommitTitle
	}
	prBody := accepted.PRBodyMarkdown

	pushResult := g.vcs.Push(ctx, repoPath, branch)
	var prResult git.PRResult
	if pushResult.Status == git.PushPushed {
		g.emitter.Emit(events.AgentPatch, events.TypeProgress, "push_branch",
			fmt.Sprintf("Pushed branch: %s", branch), nil)
		base := g.vcs.DefaultBranch(ctx, repoPath)
		prResult = g.vcs.CreateDraftPR(ctx, repoPath, prTitle, prBody, base, branch)
		if prResult.Status == git.PRCreated {
			g.emitter.Emit(events.AgentPatch, events.TypeProgress, "draft_pr",
				fmt.Sprintf("Draft PR created: %s", prResult.URL), nil)
		} else {
			g.emitter.Emit(events.AgentPatch, events.TypeError, "draft_pr",
				fmt.Sprintf("Draft PR not created: %s %s", prResult.Reason, prResult.Error), nil)
		}
	} else {
		g.emitter.Emit(events.AgentPatch, events.TypeError, "push_branch",
			fmt.Sprintf("Failed to push branch: %s", pushResult.Error), nil)
		prResult = git.PRResult{Status: git.PRFailed, Error: "branch_not_pushed"}
	}

	status := StatusPartial
	if prResult.Status == git.PRCreated {
		status = StatusOK
	}

	result := &Result{
		Status:          status,
		RepoPath:        repoPath,
		Branch:          branch,
		ModelUsed:       usedModel,
		AttemptedModels: attempted,
		AttemptDebug:    attempts,
		CommitSHA:       commitSHA,
		ChangedFiles:    changed,
		Diff:            diff,
		PRTitle:         prTitle,
		PRBodyMarkdown:  prBody,
		DraftPR:         prResult,
		PushBranch:      pushResult,
	}

	findings := changed
	if len(findings) > 8 {
		findings = findings[:8]
	}
	g.emitter.Emit(events.AgentPatch, events.TypeResult, "complete",
		"Patch generation complete", map[string]any{
			"changed_files":   len(changed),
			"branch":          branch,
			"commit_sha":      orNone(commitSHA),
			"draft_pr_status": prResult.Status,
		})
	g.emitter.Emit(events.AgentPatch, events.TypeSummary, "summary",
		"Patch Generation Summary", map[string]any{
			"branch":          branch,
			"changed_files":   len(changed),
			"draft_pr_status": prResult.Status,
			"findings":        findings,
		})
	g.emitter.Emit(events.AgentPatch, events.TypeStatus, "complete", banner, nil)
	g.emitter.Emit(events.AgentPatch, events.TypeStatus, "complete", "  PATCH AGENT — Complete", nil)
	g.emitter.Emit(events.AgentPatch, events.TypeStatus, "complete", banner, nil)

	return result
}

// generateEnvelope prompts one candidate model and repair-parses the
// response. When both arrays come back empty it issues bounded repair
// re-prompts asking for non-empty arrays with full file content.
func (g *Generator) generateEnvelope(ctx context.Context, prompt, model string) (Envelope, error) {
	var envelope Envelope
	userMessage := prompt

	for attempt := 0; attempt < g.opts.MaxPromptAttempts; attempt++ {
		if attempt == 0 {
			g.emitter.Emit(events.AgentPatch, events.TypeProgress, "llm",
				fmt.Sprintf("Asking LLM (%s) for code/test patch...", model), nil)
		} else {
			g.emitter.Emit(events.AgentPatch, events.TypeProgress, "llm",
				fmt.Sprintf("Re-prompting %s after empty patch (attempt %d)", model, attempt+1), nil)
			userMessage = repairPrompt(prompt)
		}

		raw, err := g.completer.Complete(ctx, systemPrompt, userMessage, model, g.opts.MaxOutputTokens)
		if err != nil {
			return envelope, err
		}

		preview := raw
		if len(preview) > rawPreviewChars {
			preview = preview[:rawPreviewChars]
		}
		g.emitter.Emit(events.AgentPatch, events.TypeLog, "llm",
			fmt.Sprintf("%s raw preview: %s", model, strings.ReplaceAll(preview, "\n", "\\n")), nil)

		envelope = parseEnvelope(raw)
		g.emitter.Emit(events.AgentPatch, events.TypeLog, "llm",
			fmt.Sprintf("%s parsed patch: changes=%d, tests=%d",
				model, len(envelope.Changes), len(envelope.Tests)), nil)

		if len(envelope.Changes) > 0 || len(envelope.Tests) > 0 {
			break
		}
	}
	return envelope, nil
}

// resolveRepo picks the working tree to patch: the workspace hint when it
// points at an existing directory, otherwise the request's repo path.
func (g *Generator) resolveRepo(req Request) (string, error) {
	for _, candidate := range []string{req.WorkspaceHint, req.RepoPath} {
		if candidate == "" {
			continue
		}
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no usable repository directory (repo_path=%q, workspace_hint=%q)",
		req.RepoPath, req.WorkspaceHint)
}

// supplementByDiscovery tops up the context files with keyword-scored
// candidates from the repository when the evidence-derived list leaves
// room.
func (g *Generator) supplementByDiscovery(repoPath string, req Request, contextFiles []ContextFile) []ContextFile {
	if len(contextFiles) >= g.opts.MaxContextFiles {
		return contextFiles
	}

	keywords := issueKeywords(req.IssueTitle, req.IssueBody, req.Evidence.Triage, req.Evidence.Logs)
	discovered := discoverCandidateFiles(repoPath, keywords, g.opts.MaxContextFiles)
	if len(discovered) == 0 {
		return contextFiles
	}

	existing := make(map[string]bool, len(contextFiles))
	for _, c := range contextFiles {
		existing[c.FilePath] = true
	}
	for _, rel := range discovered {
		if existing[rel] {
			continue
		}
		full := filepath.Join(repoPath, rel)
		if info, err := os.Stat(full); err != nil || info.IsDir() {
			continue
		}
		contextFiles = append(contextFiles, ContextFile{
			FilePath: rel,
			Content:  readFileCapped(full, g.opts.MaxFileChars),
		})
		if len(contextFiles) >= g.opts.MaxContextFiles {
			break
		}
	}
	return contextFiles
}

func (g *Generator) createBranch(ctx context.Context, repoPath, issueTitle, hint string) (string, error) {
	if !g.vcs.IsWorkTree(ctx, repoPath) {
		return "", fmt.Errorf("target path is not a git repository")
	}
	branch := git.BranchName(hint, issueTitle, g.now())
	if err := g.vcs.CreateBranch(ctx, repoPath, branch); err != nil {
		return "", err
	}
	g.emitter.Emit(events.AgentPatch, events.TypeProgress, "branch",
		fmt.Sprintf("Created branch: %s", branch), nil)
	return branch, nil
}

// candidateModels is the model iteration policy. Current policy: exactly
// one model, the caller's choice, unless options override it.
func (g *Generator) candidateModels(model string) []string {
	if len(g.opts.CandidateModels) > 0 {
		return g.opts.CandidateModels
	}
	return []string{model}
}

// logCandidateItems emits one diagnostic line per proposed file before any
// write happens.
func (g *Generator) logCandidateItems(repoPath, repoName string, envelope Envelope) {
	items := append(append([]ChangeItem{}, envelope.Changes...), envelope.Tests...)
	if len(items) > 20 {
		items = items[:20]
	}
	for _, item := range items {
		norm := NormalizeRepoRelative(item.FilePath, repoName)
		exists := false
		if norm != "" {
			_, err := os.Stat(filepath.Join(repoPath, norm))
			exists = err == nil
		}
		contentLen := -1
		if s, ok := item.Content.(string); ok {
			contentLen = len(s)
		}
		g.emitter.Emit(events.AgentPatch, events.TypeLog, "llm",
			fmt.Sprintf("candidate file: raw=%q norm=%q action=%s exists=%t content_len=%d",
				item.FilePath, norm, strings.ToLower(item.Action), exists, contentLen), nil)
	}
}

func dedupSorted(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	var out []string
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// Package patch generates and applies a fix patch for a bug report.
//
// It consumes the evidence bundle produced by the upstream investigation
// agents, asks a generative model for whole-file replacements, screens every
// proposed write through a safety gate, and drives the git workflow that
// turns surviving writes into a branch, commit, push, and draft PR.
package patch

import (
	"context"

	"github.com/bugpilot/bugpilot/internal/evidence"
	"github.com/bugpilot/bugpilot/internal/git"
)

// Result statuses.
const (
	// StatusOK means a draft PR was created.
	StatusOK = "ok"
	// StatusPartial means a diff/commit/branch exists but PR creation did
	// not succeed.
	StatusPartial = "partial"
	// StatusFailed means no usable diff was ever produced.
	StatusFailed = "failed"
)

// Error codes for failed results.
const (
	ErrRepoPrepareFailed  = "repo_prepare_failed"
	ErrRepoIssueMismatch  = "repo_issue_mismatch"
	ErrNoChangesGenerated = "no_changes_generated"
	ErrBranchFailed       = "branch_failed"
)

// ChangeItem is one proposed file write from the model. Content is kept as
// a raw decoded value because models return strings, line lists, and nested
// objects; CoerceContent normalizes it before any write.
type ChangeItem struct {
	FilePath string `json:"file_path"`
	Action   string `json:"action"`
	Content  any    `json:"content"`
	Summary  string `json:"summary"`
}

// Envelope is the expected shape of the model's patch response.
type Envelope struct {
	BranchNameHint string       `json:"branch_name_hint"`
	CommitTitle    string       `json:"commit_title"`
	PRTitle        string       `json:"pr_title"`
	PRBodyMarkdown string       `json:"pr_body_markdown"`
	Changes        []ChangeItem `json:"changes"`
	Tests          []ChangeItem `json:"tests"`
}

// Attempt records one candidate-model try for diagnostics. Never mutated
// after creation.
type Attempt struct {
	Model         string   `json:"model"`
	ParsedChanges int      `json:"parsed_changes"`
	ParsedTests   int      `json:"parsed_tests"`
	WrittenFiles  []string `json:"written_files"`
	DiffLen       int      `json:"diff_len"`
	StatusLines   []string `json:"status_lines,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// Result is the terminal artifact of one Generate invocation. The caller
// always receives one; expected failure modes surface as Status/Error,
// never as a panic or returned error.
type Result struct {
	Status          string         `json:"status"`
	Error           string         `json:"error,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	RepoPath        string         `json:"repo_path,omitempty"`
	Branch          string         `json:"branch,omitempty"`
	ModelUsed       string         `json:"model_used,omitempty"`
	AttemptedModels []string       `json:"attempted_models,omitempty"`
	AttemptDebug    []Attempt      `json:"attempt_debug,omitempty"`
	CommitSHA       string         `json:"commit_sha,omitempty"`
	ChangedFiles    []string       `json:"changed_files,omitempty"`
	Diff            string         `json:"diff,omitempty"`
	PRTitle         string         `json:"pr_title,omitempty"`
	PRBodyMarkdown  string         `json:"pr_body_markdown,omitempty"`
	DraftPR         git.PRResult   `json:"draft_pr"`
	PushBranch      git.PushResult `json:"push_branch,omitzero"`
}

// Request carries the inputs for one patch generation run.
type Request struct {
	IssueTitle string
	IssueBody  string

	// RepoPath is the checked-out working tree the patch is applied to.
	RepoPath string

	// WorkspaceHint optionally points at a pre-existing local checkout to
	// use when RepoPath is empty or does not exist.
	WorkspaceHint string

	// RepoName is the "owner/repo" identifier, used to strip accidental
	// fully-qualified prefixes from model-supplied paths.
	RepoName string

	Evidence evidence.Bundle

	// Model is the candidate model to use. Empty means the completer's
	// default.
	Model string
}

// Options tunes the generator. Zero values select the defaults.
type Options struct {
	// MaxContextFiles caps files embedded in the prompt (default 12).
	MaxContextFiles int
	// MaxFileChars caps characters read per context file (default 12000).
	MaxFileChars int
	// MaxOutputTokens for each completion call (default 8192).
	MaxOutputTokens int
	// TruncationGuardRatio blocks updates where both the byte ratio and
	// the line ratio of new/old content fall below it (default 0.35).
	TruncationGuardRatio float64
	// MaxPromptAttempts is the number of prompts issued per candidate
	// model: the initial prompt plus repair re-prompts (default 2).
	MaxPromptAttempts int
	// CandidateModels overrides the model list to iterate. Defaults to
	// the single model from the request.
	CandidateModels []string
}

func (o Options) withDefaults() Options {
	if o.MaxContextFiles <= 0 {
		o.MaxContextFiles = 12
	}
	if o.MaxFileChars <= 0 {
		o.MaxFileChars = 12000
	}
	if o.MaxOutputTokens <= 0 {
		o.MaxOutputTokens = 8192
	}
	if o.TruncationGuardRatio <= 0 {
		o.TruncationGuardRatio = 0.35
	}
	if o.MaxPromptAttempts <= 0 {
		o.MaxPromptAttempts = 2
	}
	return o
}

// VCS is the version-control surface Generate depends on. The git.CLI
// implementation shells out to the git and gh executables; tests substitute
// a fake.
type VCS interface {
	IsWorkTree(ctx context.Context, repoPath string) bool
	CreateBranch(ctx context.Context, repoPath, branch string) error
	Diff(ctx context.Context, repoPath string) string
	StatusLines(ctx context.Context, repoPath string) []string
	// Commit stages everything and commits; returns the empty string when
	// the tree reports nothing to commit after staging.
	Commit(ctx context.Context, repoPath, title string) (string, error)
	Push(ctx context.Context, repoPath, branch string) git.PushResult
	DefaultBranch(ctx context.Context, repoPath string) string
	CreateDraftPR(ctx context.Context, repoPath, title, body, base, head string) git.PRResult
}

// Package git drives the version-control workflow for generated patches
// through the git and gh command-line tools. Commands run as child
// processes with captured output; a missing executable is normalized into
// a non-zero exit instead of an error so callers handle one failure shape.
package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// Push statuses.
const (
	PushPushed = "pushed"
	PushFailed = "failed"
)

// Draft PR statuses.
const (
	PRCreated      = "created"
	PRSkipped      = "skipped"
	PRFailed       = "failed"
	PRNotAttempted = "not_attempted"
)

// PushResult reports the outcome of pushing a branch to origin.
type PushResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// PRResult reports the outcome of draft PR creation.
type PRResult struct {
	Status string `json:"status"`
	URL    string `json:"url,omitempty"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

// cmdResult captures one child process invocation.
type cmdResult struct {
	Code   int
	Stdout string
	Stderr string
}

func (r cmdResult) errText() string {
	if s := strings.TrimSpace(r.Stderr); s != "" {
		return s
	}
	return strings.TrimSpace(r.Stdout)
}

// CLI runs git and gh as subprocesses rooted at a repository path.
type CLI struct{}

// NewCLI returns a CLI runner. Executable availability is checked per call
// so a missing gh does not prevent git-only operations.
func NewCLI() *CLI {
	return &CLI{}
}

func (c *CLI) run(ctx context.Context, dir string, name string, args ...string) cmdResult {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := cmdResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.Code = exitErr.ExitCode()
		} else {
			// Missing executable or spawn failure.
			result.Code = 127
			result.Stderr = err.Error()
		}
	}
	return result
}

func (c *CLI) git(ctx context.Context, repoPath string, args ...string) cmdResult {
	return c.run(ctx, repoPath, "git", args...)
}

// IsWorkTree reports whether the path is inside a git working tree.
func (c *CLI) IsWorkTree(ctx context.Context, repoPath string) bool {
	return c.git(ctx, repoPath, "rev-parse", "--is-inside-work-tree").Code == 0
}

// CreateBranch creates and checks out a new branch.
func (c *CLI) CreateBranch(ctx context.Context, repoPath, branch string) error {
	res := c.git(ctx, repoPath, "checkout", "-b", branch)
	if res.Code != 0 {
		return fmt.Errorf("failed to create branch %s: %s", branch, res.errText())
	}
	return nil
}

// Diff returns the unstaged working-tree diff, or "" on failure.
func (c *CLI) Diff(ctx context.Context, repoPath string) string {
	res := c.git(ctx, repoPath, "diff", "--", ".")
	if res.Code != 0 {
		return ""
	}
	return res.Stdout
}

// StatusLines returns the non-empty lines of git status --porcelain.
func (c *CLI) StatusLines(ctx context.Context, repoPath string) []string {
	res := c.git(ctx, repoPath, "status", "--porcelain")
	if res.Code != 0 {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Commit stages all changes and commits them, returning the new HEAD SHA.
// Returns "" with no error when staging leaves nothing to commit.
func (c *CLI) Commit(ctx context.Context, repoPath, title string) (string, error) {
	if strings.TrimSpace(title) == "" {
		title = "fix: automated patch"
	}

	if res := c.git(ctx, repoPath, "add", "-A"); res.Code != 0 {
		return "", fmt.Errorf("git add failed: %s", res.errText())
	}

	status := c.git(ctx, repoPath, "status", "--porcelain")
	if status.Code != 0 || strings.TrimSpace(status.Stdout) == "" {
		return "", nil
	}

	if res := c.git(ctx, repoPath, "commit", "-m", title); res.Code != 0 {
		return "", fmt.Errorf("git commit failed: %s", res.errText())
	}

	sha := c.git(ctx, repoPath, "rev-parse", "HEAD")
	if sha.Code != 0 {
		return "", nil
	}
	return strings.TrimSpace(sha.Stdout), nil
}

// Push pushes the branch to origin with upstream tracking.
func (c *CLI) Push(ctx context.Context, repoPath, branch string) PushResult {
	res := c.git(ctx, repoPath, "push", "-u", "origin", branch)
	if res.Code == 0 {
		return PushResult{Status: PushPushed}
	}
	err := res.errText()
	if len(err) > 1000 {
		err = err[:1000]
	}
	return PushResult{Status: PushFailed, Error: err}
}

// DefaultBranch detects the default branch from origin/HEAD, falling back
// to main.
func (c *CLI) DefaultBranch(ctx context.Context, repoPath string) string {
	res := c.git(ctx, repoPath, "symbolic-ref", "refs/remotes/origin/HEAD")
	if res.Code == 0 {
		value := strings.TrimSpace(res.Stdout)
		if rest, ok := strings.CutPrefix(value, "refs/remotes/origin/"); ok {
			return rest
		}
	}
	return "main"
}

// CreateDraftPR opens a draft pull request with the gh CLI. A missing gh
// degrades to a skipped result rather than an error.
func (c *CLI) CreateDraftPR(ctx context.Context, repoPath, title, body, base, head string) PRResult {
	if c.run(ctx, repoPath, "gh", "--version").Code != 0 {
		return PRResult{Status: PRSkipped, Reason: "gh CLI not installed"}
	}

	res := c.run(ctx, repoPath, "gh", "pr", "create",
		"--draft",
		"--title", title,
		"--body", body,
		"--base", base,
		"--head", head,
	)
	if res.Code == 0 {
		// gh prints the PR URL as the last output line.
		var url string
		if out := strings.TrimSpace(res.Stdout); out != "" {
			lines := strings.Split(out, "\n")
			url = strings.TrimSpace(lines[len(lines)-1])
		}
		return PRResult{Status: PRCreated, URL: url}
	}

	err := res.errText()
	if len(err) > 1000 {
		err = err[:1000]
	}
	slog.Debug("draft PR creation failed", "error", err)
	return PRResult{Status: PRFailed, Error: err}
}

var branchSlugRegexp = regexp.MustCompile(`[^a-z0-9]+`)

// BranchName builds a patch branch name of the form
// bugpilot/<slug>-<utc timestamp>. The slug comes from hint when provided,
// otherwise from fallback, and never exceeds 40 characters.
func BranchName(hint, fallback string, now time.Time) string {
	src := hint
	if strings.TrimSpace(src) == "" {
		src = fallback
	}
	slug := strings.Trim(branchSlugRegexp.ReplaceAllString(strings.ToLower(src), "-"), "-")
	if len(slug) > 40 {
		slug = slug[:40]
		slug = strings.Trim(slug, "-")
	}
	if slug == "" {
		slug = "bugfix"
	}
	return fmt.Sprintf("bugpilot/%s-%s", slug, now.UTC().Format("20060102-150405"))
}

package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setupTestRepo creates a git repo with one initial commit.
func setupTestRepo(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	tmpDir := t.TempDir()

	if err := exec.CommandContext(ctx, "git", "init", tmpDir).Run(); err != nil {
		t.Skipf("git not available: %v", err)
	}
	_ = exec.CommandContext(ctx, "git", "-C", tmpDir, "config", "user.name", "Test User").Run()
	_ = exec.CommandContext(ctx, "git", "-C", tmpDir, "config", "user.email", "test@example.com").Run()

	readme := filepath.Join(tmpDir, "README.md")
	if err := os.WriteFile(readme, []byte("# Test\n"), 0o644); err != nil {
		t.Fatalf("failed to write README: %v", err)
	}
	if err := exec.CommandContext(ctx, "git", "-C", tmpDir, "add", "README.md").Run(); err != nil {
		t.Fatalf("failed to add README: %v", err)
	}
	if err := exec.CommandContext(ctx, "git", "-C", tmpDir, "commit", "-m", "Initial commit").Run(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
	return tmpDir
}

func TestIsWorkTree(t *testing.T) {
	ctx := context.Background()
	cli := NewCLI()
	repo := setupTestRepo(t)

	if !cli.IsWorkTree(ctx, repo) {
		t.Error("expected repo to be a work tree")
	}
	if cli.IsWorkTree(ctx, t.TempDir()) {
		t.Error("expected plain directory to not be a work tree")
	}
}

func TestCreateBranch(t *testing.T) {
	ctx := context.Background()
	cli := NewCLI()
	repo := setupTestRepo(t)

	if err := cli.CreateBranch(ctx, repo, "bugpilot/test-branch-20260823-120000"); err != nil {
		t.Fatalf("CreateBranch failed: %v", err)
	}

	out, err := exec.CommandContext(ctx, "git", "-C", repo, "branch", "--show-current").Output()
	if err != nil {
		t.Fatalf("failed to read current branch: %v", err)
	}
	if got := strings.TrimSpace(string(out)); got != "bugpilot/test-branch-20260823-120000" {
		t.Errorf("current branch = %q, want the new branch", got)
	}

	// Creating the same branch again fails.
	if err := cli.CreateBranch(ctx, repo, "bugpilot/test-branch-20260823-120000"); err == nil {
		t.Error("expected error when branch already exists")
	}
}

func TestDiffAndStatusLines(t *testing.T) {
	ctx := context.Background()
	cli := NewCLI()
	repo := setupTestRepo(t)

	if diff := cli.Diff(ctx, repo); diff != "" {
		t.Errorf("expected empty diff on clean tree, got %d bytes", len(diff))
	}
	if lines := cli.StatusLines(ctx, repo); len(lines) != 0 {
		t.Errorf("expected no status lines on clean tree, got %v", lines)
	}

	if err := os.WriteFile(filepath.Join(repo, "README.md"), []byte("# Changed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repo, "new.txt"), []byte("new\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	diff := cli.Diff(ctx, repo)
	if !strings.Contains(diff, "README.md") {
		t.Errorf("diff missing modified file:\n%s", diff)
	}
	lines := cli.StatusLines(ctx, repo)
	if len(lines) != 2 {
		t.Errorf("expected 2 status lines, got %v", lines)
	}
}

func TestCommit(t *testing.T) {
	ctx := context.Background()
	cli := NewCLI()
	repo := setupTestRepo(t)

	// Nothing staged: no error, no SHA.
	sha, err := cli.Commit(ctx, repo, "fix: nothing")
	if err != nil {
		t.Fatalf("Commit on clean tree failed: %v", err)
	}
	if sha != "" {
		t.Errorf("expected empty SHA on clean tree, got %q", sha)
	}

	if err := os.WriteFile(filepath.Join(repo, "fix.txt"), []byte("fixed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	sha, err = cli.Commit(ctx, repo, "fix: add fix.txt")
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if len(sha) != 40 {
		t.Errorf("expected 40-char SHA, got %q", sha)
	}

	out, _ := exec.CommandContext(ctx, "git", "-C", repo, "log", "-1", "--format=%s").Output()
	if got := strings.TrimSpace(string(out)); got != "fix: add fix.txt" {
		t.Errorf("commit subject = %q", got)
	}
}

func TestPush_NoRemoteFails(t *testing.T) {
	ctx := context.Background()
	cli := NewCLI()
	repo := setupTestRepo(t)

	result := cli.Push(ctx, repo, "main")
	if result.Status != PushFailed {
		t.Errorf("expected push to fail without a remote, got %q", result.Status)
	}
	if result.Error == "" {
		t.Error("expected a push error message")
	}
}

func TestDefaultBranch_FallsBackToMain(t *testing.T) {
	ctx := context.Background()
	cli := NewCLI()
	repo := setupTestRepo(t)

	if got := cli.DefaultBranch(ctx, repo); got != "main" {
		t.Errorf("DefaultBranch = %q, want main", got)
	}
}

func TestRun_MissingExecutableNormalized(t *testing.T) {
	cli := NewCLI()
	res := cli.run(context.Background(), t.TempDir(), "definitely-not-a-real-command-xyz")
	if res.Code == 0 {
		t.Error("expected non-zero exit code for missing executable")
	}
	if res.Stderr == "" {
		t.Error("expected error text for missing executable")
	}
}

func TestBranchName(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 30, 45, 0, time.UTC)

	tests := []struct {
		name     string
		hint     string
		fallback string
		want     string
	}{
		{"hint wins", "Fix Refund Price!", "ignored title", "bugpilot/fix-refund-price-20260823-123045"},
		{"fallback title", "", "Refund uses current price", "bugpilot/refund-uses-current-price-20260823-123045"},
		{"empty both", "", "", "bugpilot/bugfix-20260823-123045"},
		{"symbols collapse", "a!!b##c", "", "bugpilot/a-b-c-20260823-123045"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BranchName(tt.hint, tt.fallback, now); got != tt.want {
				t.Errorf("BranchName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBranchName_SlugCapped(t *testing.T) {
	now := time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)
	long := strings.Repeat("verylongword ", 10)
	branch := BranchName(long, "", now)

	slug := strings.TrimPrefix(branch, "bugpilot/")
	slug = strings.TrimSuffix(slug, "-20260823-000000")
	if len(slug) > 40 {
		t.Errorf("slug %q exceeds 40 chars", slug)
	}
}

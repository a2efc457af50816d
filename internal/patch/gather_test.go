package patch

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bugpilot/bugpilot/internal/evidence"
)

func writeRepoFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestGatherContextFiles(t *testing.T) {
	repo := t.TempDir()
	writeRepoFile(t, repo, "services.py", "def refund(): pass")
	writeRepoFile(t, repo, "docs/refunds.md", "# Refund policy")

	bundle := evidence.Bundle{
		Search: evidence.Search{
			SuspectFiles: []evidence.SuspectFile{
				{FilePath: "acme/shop/services.py"},
				{FilePath: "missing.py"},
				{FilePath: "../escape.py"},
				{FilePath: "acme/shop/services.py"}, // duplicate after normalize
			},
		},
		Docs: evidence.Docs{
			RelevantDocs: []evidence.DocRef{
				{FilePath: "docs/refunds.md"},
				{FilePath: "docs/ignored.txt"},
			},
		},
	}

	files := gatherContextFiles(repo, bundle, "acme/shop", 12, 12000)
	require.Len(t, files, 2)
	assert.Equal(t, "services.py", files[0].FilePath)
	assert.Equal(t, "def refund(): pass", files[0].Content)
	assert.Equal(t, "docs/refunds.md", files[1].FilePath)
}

func TestGatherContextFiles_TruncatesContent(t *testing.T) {
	repo := t.TempDir()
	big := make([]byte, 500)
	for i := range big {
		big[i] = 'x'
	}
	writeRepoFile(t, repo, "big.py", string(big))

	bundle := evidence.Bundle{
		Search: evidence.Search{SuspectFiles: []evidence.SuspectFile{{FilePath: "big.py"}}},
	}
	files := gatherContextFiles(repo, bundle, "", 12, 100)
	require.Len(t, files, 1)
	assert.Len(t, files[0].Content, 100)
}

func TestDetectRepoIssueMismatch(t *testing.T) {
	repo := t.TempDir()
	writeRepoFile(t, repo, "present.py", "x = 1")

	t.Run("reasoning marker", func(t *testing.T) {
		mismatch, reason := detectRepoIssueMismatch(evidence.Search{
			Reasoning: "These files appear to be from a different repository.",
		}, repo, "")
		assert.True(t, mismatch)
		assert.NotEmpty(t, reason)
	})

	t.Run("all suspects missing on disk", func(t *testing.T) {
		mismatch, _ := detectRepoIssueMismatch(evidence.Search{
			SuspectFiles: []evidence.SuspectFile{{FilePath: "gone.py"}, {FilePath: "also_gone.py"}},
		}, repo, "")
		assert.True(t, mismatch)
	})

	t.Run("placeholder-only suspects", func(t *testing.T) {
		mismatch, _ := detectRepoIssueMismatch(evidence.Search{
			SuspectFiles: []evidence.SuspectFile{{FilePath: "**MISSING** services.py"}},
		}, repo, "")
		assert.True(t, mismatch)
	})

	t.Run("at least one suspect present", func(t *testing.T) {
		mismatch, _ := detectRepoIssueMismatch(evidence.Search{
			SuspectFiles: []evidence.SuspectFile{{FilePath: "present.py"}, {FilePath: "gone.py"}},
		}, repo, "")
		assert.False(t, mismatch)
	})

	t.Run("no evidence at all", func(t *testing.T) {
		mismatch, _ := detectRepoIssueMismatch(evidence.Search{}, repo, "")
		assert.False(t, mismatch)
	})
}

func TestIssueKeywords(t *testing.T) {
	keywords := issueKeywords(
		"Refund uses current price",
		"The refund() endpoint charges wrong amounts.",
		evidence.Triage{LikelyModule: "billing", Summary: "price mismatch"},
		evidence.Logs{SuspiciousLogs: []evidence.LogLine{{Message: "ValueError in refund handler"}}},
	)

	assert.Contains(t, keywords, "refund")
	assert.Contains(t, keywords, "billing")
	assert.Contains(t, keywords, "price")
	// Short and punctuation-wrapped words are dropped.
	assert.NotContains(t, keywords, "the")
	assert.NotContains(t, keywords, "refund()")
	assert.True(t, sort.StringsAreSorted(keywords))
}

func TestDiscoverCandidateFiles(t *testing.T) {
	repo := t.TempDir()
	writeRepoFile(t, repo, "billing/refund.py", "def refund(order): return order.price")
	writeRepoFile(t, repo, "billing/test_refund.py", "def test_refund(): pass")
	writeRepoFile(t, repo, "unrelated/readme.md", "refund refund refund")
	writeRepoFile(t, repo, "node_modules/pkg/index.js", "refund")

	found := discoverCandidateFiles(repo, []string{"refund", "billing"}, 12)
	require.NotEmpty(t, found)
	// Path hits outweigh content hits; the test file takes a penalty.
	assert.Equal(t, "billing/refund.py", found[0])
	assert.NotContains(t, found, "unrelated/readme.md")
	assert.NotContains(t, found, "node_modules/pkg/index.js")
}

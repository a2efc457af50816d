package patch

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bugpilot/bugpilot/internal/evidence"
)

const (
	maxSuspectFiles = 10
	maxDocFiles     = 6

	// keyword extraction bounds
	minKeywordLen = 4
	maxKeywords   = 80

	// discovery scoring reads at most this much of each file
	discoverySnippetChars = 6000
)

// ContextFile is one repository file embedded in the generation prompt.
type ContextFile struct {
	FilePath string
	Content  string
}

// mismatchMarkers in search reasoning mean the investigation looked at a
// different codebase than the one checked out here.
var mismatchMarkers = []string{
	"not found in the provided codebase",
	"cannot find",
	"doesn't have access",
	"missing",
	"lacks the",
	"devoid of",
	"different codebase",
	"different repository",
}

func readFileCapped(path string, maxChars int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	content := string(data)
	if len(content) > maxChars {
		content = content[:maxChars]
	}
	return content
}

// gatherContextFiles assembles the prompt context: normalized suspect files
// from the code search (capped), then markdown docs (capped), deduplicated,
// screened for safety, and truncated per file.
func gatherContextFiles(repoPath string, bundle evidence.Bundle, repoName string, maxFiles, maxChars int) []ContextFile {
	var files []string

	suspects := bundle.Search.SuspectFiles
	if len(suspects) > maxSuspectFiles {
		suspects = suspects[:maxSuspectFiles]
	}
	for _, sf := range suspects {
		if sf.FilePath != "" {
			files = append(files, NormalizeRepoRelative(sf.FilePath, repoName))
		}
	}

	docs := bundle.Docs.RelevantDocs
	if len(docs) > maxDocFiles {
		docs = docs[:maxDocFiles]
	}
	for _, d := range docs {
		// Doc paths are used as given, without NormalizeRepoRelative: the
		// doc agent reads the checkout directly, so its paths are already
		// repo-relative, and the owner/repo heuristic would mangle nested
		// markdown paths like docs/guides/billing.md.
		if strings.HasSuffix(d.FilePath, ".md") {
			files = append(files, d.FilePath)
		}
	}

	seen := make(map[string]bool)
	var dedup []string
	for _, f := range files {
		if !seen[f] && IsSafeRelative(f) {
			seen[f] = true
			dedup = append(dedup, f)
		}
	}
	if len(dedup) > maxFiles {
		dedup = dedup[:maxFiles]
	}

	var contexts []ContextFile
	for _, rel := range dedup {
		full := filepath.Join(repoPath, rel)
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			continue
		}
		contexts = append(contexts, ContextFile{
			FilePath: rel,
			Content:  readFileCapped(full, maxChars),
		})
	}
	return contexts
}

// detectRepoIssueMismatch reports whether the investigation evidence says
// the bug belongs to a different codebase than the checked-out repository,
// with a human-readable reason.
func detectRepoIssueMismatch(search evidence.Search, repoPath, repoName string) (bool, string) {
	reasoning := strings.ToLower(search.Reasoning)
	for _, marker := range mismatchMarkers {
		if strings.Contains(reasoning, marker) {
			return true, "Investigation indicates relevant bug files are missing in the target repository."
		}
	}

	if len(search.SuspectFiles) > 0 {
		var realPaths []string
		for _, sf := range search.SuspectFiles {
			p := NormalizeRepoRelative(strings.TrimSpace(sf.FilePath), repoName)
			if p != "" && !strings.HasPrefix(p, "**MISSING**") && IsSafeRelative(p) {
				realPaths = append(realPaths, p)
			}
		}
		if len(realPaths) == 0 {
			return true, "No concrete suspect file paths were found for this repository."
		}
		missing := 0
		for _, p := range realPaths {
			if _, err := os.Stat(filepath.Join(repoPath, p)); err != nil {
				missing++
			}
		}
		if missing == len(realPaths) {
			return true, "Suspect files from investigation do not exist in the checked-out repository."
		}
	}

	return false, ""
}

// issueKeywords extracts lowercase keywords from the issue text, triage
// summary, and suspicious log messages for heuristic file discovery.
func issueKeywords(issueTitle, issueBody string, triage evidence.Triage, logs evidence.Logs) []string {
	text := issueTitle + " " + issueBody +
		" " + triage.LikelyModule +
		" " + triage.Summary
	suspicious := logs.SuspiciousLogs
	if len(suspicious) > 5 {
		suspicious = suspicious[:5]
	}
	for _, s := range suspicious {
		text += " " + s.Message
	}

	set := make(map[string]bool)
	for _, word := range strings.Fields(text) {
		w := strings.ToLower(strings.Trim(word, ".,:;()[]{}\"'`"))
		if len(w) >= minKeywordLen {
			set[w] = true
		}
	}

	keywords := make([]string, 0, len(set))
	for w := range set {
		keywords = append(keywords, w)
	}
	sort.Strings(keywords)
	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}
	return keywords
}

var discoveryIgnoreDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	".next":        true,
	"dist":         true,
	"build":        true,
}

var discoveryCodeExts = map[string]bool{
	".py":   true,
	".js":   true,
	".ts":   true,
	".tsx":  true,
	".go":   true,
	".java": true,
	".rb":   true,
	".php":  true,
	".cs":   true,
}

// discoverCandidateFiles walks the repository scoring code files against
// the keywords: path hits weigh 3, content hits 1, and test files take a
// 1-point penalty. Only positive scores qualify; the top max paths return
// in descending score order.
func discoverCandidateFiles(repoPath string, keywords []string, max int) []string {
	type scoredFile struct {
		score int
		path  string
	}
	var scored []scoredFile

	_ = filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if discoveryIgnoreDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !discoveryCodeExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		rel, relErr := filepath.Rel(repoPath, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		relLower := strings.ToLower(rel)
		snippet := strings.ToLower(readFileCapped(path, discoverySnippetChars))

		score := 0
		for _, kw := range keywords {
			if strings.Contains(relLower, kw) {
				score += 3
			}
			if strings.Contains(snippet, kw) {
				score++
			}
		}
		if strings.Contains(relLower, "test") {
			score--
		}
		if score > 0 {
			scored = append(scored, scoredFile{score: score, path: rel})
		}
		return nil
	})

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	if len(scored) > max {
		scored = scored[:max]
	}
	paths := make([]string, len(scored))
	for i, s := range scored {
		paths[i] = s.path
	}
	return paths
}

package patch

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a senior software engineer generating a fix patch for a bug report.

Return ONLY valid JSON with this schema:
{
  "branch_name_hint": "short-kebab-name",
  "commit_title": "fix: short summary",
  "pr_title": "fix: short summary",
  "pr_body_markdown": "## Summary ...",
  "changes": [
    {
      "file_path": "relative/path/to/file",
      "action": "update" | "create",
      "content": "full file content after change",
      "summary": "what changed"
    }
  ],
  "tests": [
    {
      "file_path": "relative/path/to/test_file",
      "action": "update" | "create",
      "content": "full test file content",
      "summary": "test purpose"
    }
  ]
}

Rules:
- Generate practical, minimal-risk fixes.
- Include at least one unit test if a test framework is available.
- The patch must change at least one existing source file (not docs-only).
- Prefer editing one of the provided suspect/context source files.
- Do not return empty changes/tests arrays.
- Do not touch .env, secret, credentials, key material, or token files.
- Use only relative repository paths.
- Keep PR body concise and actionable.
`

// editableSourceExts decides which context files the model is told it must
// modify.
var editableSourceExts = []string{".py", ".ts", ".js", ".go", ".java", ".rb", ".php", ".cs"}

const maxMustModifyFiles = 8

// buildPrompt composes the user message: the issue text, each evidence
// section verbatim as indented JSON, and the assembled context files.
func buildPrompt(req Request, contextFiles []ContextFile) string {
	var contextBlob strings.Builder
	for _, f := range contextFiles {
		contextBlob.WriteString(fmt.Sprintf(
			"\n%s\nFile: %s\n%s\n%s\n",
			strings.Repeat("=", 60),
			f.FilePath,
			strings.Repeat("-", 30),
			f.Content,
		))
	}

	body := req.IssueBody
	if body == "" {
		body = "(none)"
	}

	prompt := fmt.Sprintf(
		"Issue Title: %s\nIssue Body: %s\n\n"+
			"Triage:\n%s\n\n"+
			"Investigation:\n%s\n\n"+
			"Documentation:\n%s\n\n"+
			"Log Analysis:\n%s\n\n"+
			"Relevant repository files:\n%s\n",
		req.IssueTitle,
		body,
		req.Evidence.SectionJSON("triage"),
		req.Evidence.SectionJSON("search"),
		req.Evidence.SectionJSON("docs"),
		req.Evidence.SectionJSON("logs"),
		contextBlob.String(),
	)

	if editable := editableSources(contextFiles); len(editable) > 0 {
		if len(editable) > maxMustModifyFiles {
			editable = editable[:maxMustModifyFiles]
		}
		prompt += "\nYou MUST modify at least one of these existing source files:\n- " +
			strings.Join(editable, "\n- ") + "\n"
	}

	return prompt
}

func editableSources(contextFiles []ContextFile) []string {
	var paths []string
	for _, f := range contextFiles {
		for _, ext := range editableSourceExts {
			if strings.HasSuffix(f.FilePath, ext) {
				paths = append(paths, f.FilePath)
				break
			}
		}
	}
	return paths
}

// repairPrompt extends the original user message after an attempt came back
// with empty changes and tests.
func repairPrompt(base string) string {
	return base + "\nYour previous response contained empty \"changes\" and \"tests\" arrays. " +
		"Regenerate the patch JSON with at least one entry in \"changes\", " +
		"providing the FULL file content after the change for every entry. " +
		"Do not use placeholders, ellipses, or partial files.\n"
}

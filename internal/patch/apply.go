package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bugpilot/bugpilot/internal/events"
)

// applyItems writes the proposed file changes under repoPath after the
// safety gate: path normalization, traversal and secret screening, content
// coercion, the truncation guard, and no-op skipping. Returns the relative
// paths actually written; every rejection is emitted, never fatal.
func (g *Generator) applyItems(repoPath string, items []ChangeItem, repoName string) []string {
	var changed []string

	for _, item := range items {
		filePath := NormalizeRepoRelative(item.FilePath, repoName)
		action := strings.ToLower(strings.TrimSpace(item.Action))
		if action == "" {
			action = "update"
		}

		if !IsSafeRelative(filePath) {
			g.emitter.Emit(events.AgentPatch, events.TypeLog, "apply_changes",
				fmt.Sprintf("Skipping unsafe path: %s", filePath), nil)
			continue
		}
		if IsSecretLike(filePath) {
			g.emitter.Emit(events.AgentPatch, events.TypeLog, "apply_changes",
				fmt.Sprintf("Skipping secret-like path: %s", filePath), nil)
			continue
		}
		if action != "update" && action != "create" {
			continue
		}

		content, ok := CoerceContent(item.Content)
		if !ok {
			g.emitter.Emit(events.AgentPatch, events.TypeLog, "apply_changes",
				fmt.Sprintf("Skipping %s: unsupported content type %T", filePath, item.Content), nil)
			continue
		}

		outPath := filepath.Join(repoPath, filePath)
		var existing *string
		if data, err := os.ReadFile(outPath); err == nil {
			s := string(data)
			existing = &s
		}

		if existing != nil && action == "update" &&
			g.isTruncatingUpdate(filePath, *existing, content) {
			continue
		}
		if existing != nil && *existing == content {
			g.emitter.Emit(events.AgentPatch, events.TypeLog, "apply_changes",
				fmt.Sprintf("No-op content for %s; skipping", filePath), nil)
			continue
		}

		if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
			g.emitter.Emit(events.AgentPatch, events.TypeError, "apply_changes",
				fmt.Sprintf("Failed to create directory for %s: %v", filePath, err), nil)
			continue
		}
		if err := os.WriteFile(outPath, []byte(content), 0o644); err != nil {
			g.emitter.Emit(events.AgentPatch, events.TypeError, "apply_changes",
				fmt.Sprintf("Failed to write %s: %v", filePath, err), nil)
			continue
		}
		changed = append(changed, filePath)
	}

	return changed
}

// isTruncatingUpdate rejects updates that look like partial-file model
// output: the write is blocked only when both the byte ratio and the line
// ratio of new content to old fall below the configured threshold.
func (g *Generator) isTruncatingUpdate(filePath, existing, content string) bool {
	oldLen := len(existing)
	newLen := len(content)
	if oldLen == 0 || newLen == 0 {
		return false
	}

	shrinkRatio := float64(newLen) / float64(oldLen)
	oldLines := strings.Count(existing, "\n") + 1
	newLines := strings.Count(content, "\n") + 1
	lineRatio := float64(newLines) / float64(oldLines)

	if shrinkRatio < g.opts.TruncationGuardRatio && lineRatio < g.opts.TruncationGuardRatio {
		g.emitter.Emit(events.AgentPatch, events.TypeError, "apply_changes",
			fmt.Sprintf("Blocked suspicious truncating update for %s: old_len=%d, new_len=%d, old_lines=%d, new_lines=%d",
				filePath, oldLen, newLen, oldLines, newLines), nil)
		return true
	}
	return false
}

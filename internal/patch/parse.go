package patch

import (
	"strings"

	"github.com/bugpilot/bugpilot/internal/jsonrepair"
)

// Fallback metadata used when the model omits fields.
const (
	defaultCommitTitle = "fix: patch generated by bugpilot"
	defaultPRTitle     = "fix: bug patch"
	defaultPRBody      = "Automated patch draft generated by BugPilot."
)

// changesAliases are top-level keys models use instead of "changes".
var changesAliases = []string{"changes", "code_changes", "file_changes", "edits"}

// testsAliases are top-level keys models use instead of "tests".
var testsAliases = []string{"tests", "test_changes", "test_files"}

// pathAliases are per-item keys models use instead of "file_path".
var pathAliases = []string{"file_path", "path", "filename", "file"}

// parseEnvelope repair-parses a raw model response into the patch envelope,
// normalizing common key aliases case-insensitively and recovering nested
// path/content pairs by structural scan when the top-level arrays are
// missing.
func parseEnvelope(raw string) Envelope {
	env := Envelope{
		CommitTitle:    defaultCommitTitle,
		PRTitle:        defaultPRTitle,
		PRBodyMarkdown: defaultPRBody,
	}

	obj := jsonrepair.ParseOrDefault[map[string]any](raw, nil,
		jsonrepair.Options{Context: "patch envelope"})
	if obj == nil {
		return env
	}

	if s, ok := lookupString(obj, "branch_name_hint"); ok {
		env.BranchNameHint = s
	}
	if s, ok := lookupString(obj, "commit_title"); ok && strings.TrimSpace(s) != "" {
		env.CommitTitle = strings.TrimSpace(s)
	}
	if s, ok := lookupString(obj, "pr_title"); ok && strings.TrimSpace(s) != "" {
		env.PRTitle = strings.TrimSpace(s)
	}
	if s, ok := lookupString(obj, "pr_body_markdown"); ok && strings.TrimSpace(s) != "" {
		env.PRBodyMarkdown = s
	}

	env.Changes = lookupItems(obj, changesAliases)
	env.Tests = lookupItems(obj, testsAliases)

	if len(env.Changes) == 0 && len(env.Tests) == 0 {
		env.Changes = scanForItems(obj, 0)
	}
	return env
}

// lookup finds a key case-insensitively. Exact matches win.
func lookup(obj map[string]any, key string) (any, bool) {
	if v, ok := obj[key]; ok {
		return v, true
	}
	for k, v := range obj {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func lookupString(obj map[string]any, key string) (string, bool) {
	v, ok := lookup(obj, key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func lookupItems(obj map[string]any, aliases []string) []ChangeItem {
	for _, alias := range aliases {
		v, ok := lookup(obj, alias)
		if !ok {
			continue
		}
		list, ok := v.([]any)
		if !ok {
			continue
		}
		if items := decodeItems(list); len(items) > 0 {
			return items
		}
	}
	return nil
}

func decodeItems(list []any) []ChangeItem {
	var items []ChangeItem
	for _, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if item, ok := decodeItem(m); ok {
			items = append(items, item)
		}
	}
	return items
}

func decodeItem(m map[string]any) (ChangeItem, bool) {
	var item ChangeItem
	for _, alias := range pathAliases {
		if s, ok := lookupString(m, alias); ok && strings.TrimSpace(s) != "" {
			item.FilePath = strings.TrimSpace(s)
			break
		}
	}
	if item.FilePath == "" {
		return item, false
	}

	content, ok := lookup(m, "content")
	if !ok {
		return item, false
	}
	item.Content = content

	if s, ok := lookupString(m, "action"); ok {
		item.Action = s
	} else {
		item.Action = "update"
	}
	if s, ok := lookupString(m, "summary"); ok {
		item.Summary = s
	}
	return item, true
}

const maxScanDepth = 6

// scanForItems walks a decoded object graph looking for mappings that carry
// both a path-like key and content, regardless of where the model nested
// them.
func scanForItems(node any, depth int) []ChangeItem {
	if depth > maxScanDepth {
		return nil
	}

	var items []ChangeItem
	switch v := node.(type) {
	case map[string]any:
		if item, ok := decodeItem(v); ok {
			return []ChangeItem{item}
		}
		for _, child := range v {
			items = append(items, scanForItems(child, depth+1)...)
		}
	case []any:
		for _, child := range v {
			items = append(items, scanForItems(child, depth+1)...)
		}
	}
	return items
}

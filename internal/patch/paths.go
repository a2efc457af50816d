package patch

import (
	"strings"
)

// secretFragments blocks writes to credential material. Substring matching
// is deliberately broad; a false positive like "token_bucket.go" is an
// accepted cost.
var secretFragments = []string{
	".env",
	"secret",
	"secrets",
	"credential",
	"credentials",
	"token",
	"private_key",
	"id_rsa",
}

// IsSecretLike reports whether the path looks like it holds secrets or key
// material.
func IsSecretLike(path string) bool {
	p := strings.ToLower(path)
	for _, fragment := range secretFragments {
		if strings.Contains(p, fragment) {
			return true
		}
	}
	return false
}

// IsSafeRelative reports whether the path is non-empty, relative, and free
// of parent-directory traversal.
func IsSafeRelative(path string) bool {
	if path == "" || strings.HasPrefix(path, "/") {
		return false
	}
	for _, part := range strings.Split(path, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

// NormalizeRepoRelative converts a model- or indexer-supplied file path to
// repository-relative form. Indexers often return fully-qualified paths of
// the form "owner/repo/path/to/file".
func NormalizeRepoRelative(raw, repoName string) string {
	p := strings.TrimSpace(raw)
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	rn := strings.Trim(strings.TrimSpace(repoName), "/")
	if p == "" {
		return p
	}

	if rn != "" && strings.HasPrefix(p, rn+"/") {
		return p[len(rn)+1:]
	}

	// Fallback: strip the first two segments when they look like owner/repo
	// and the last segment looks like a file.
	parts := strings.Split(p, "/")
	if len(parts) >= 3 && strings.Contains(parts[len(parts)-1], ".") {
		ownerLike := parts[0] != "" && !strings.HasPrefix(parts[0], ".")
		repoLike := parts[1] != "" && !strings.HasPrefix(parts[1], ".")
		if ownerLike && repoLike {
			return strings.Join(parts[2:], "/")
		}
	}

	return p
}

// CoerceContent normalizes the shapes models use for file content into
// plain text: a string, a list of line strings, or a wrapper object keyed
// by text/code/content/body. Returns false for anything else.
func CoerceContent(content any) (string, bool) {
	switch v := content.(type) {
	case string:
		return v, true
	case []string:
		return strings.Join(v, "\n"), true
	case []any:
		return joinStringList(v)
	case map[string]any:
		for _, key := range []string{"text", "code", "content", "body"} {
			inner, ok := v[key]
			if !ok {
				continue
			}
			if s, ok := inner.(string); ok {
				return s, true
			}
			if list, ok := inner.([]any); ok {
				if joined, ok := joinStringList(list); ok {
					return joined, true
				}
			}
		}
	}
	return "", false
}

func joinStringList(list []any) (string, bool) {
	lines := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return "", false
		}
		lines = append(lines, s)
	}
	return strings.Join(lines, "\n"), true
}

// Package jsonrepair turns free-form model output into parsed JSON.
//
// Generative models rarely return clean JSON: responses arrive wrapped in
// Markdown fences, padded with prose, or containing invalid escapes and raw
// newlines inside string literals. Every agent used to carry its own copy of
// this recovery logic; this package is the single shared implementation.
package jsonrepair

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Pre-compiled regular expressions. Compiling per parse is measurably slower
// and these are hit on every model response.
var (
	// Matches ```lang\n ... ``` anywhere in the text; the first fenced block wins.
	fencedBlockRegex = regexp.MustCompile("(?s)```(?:[a-zA-Z0-9_-]+)?[ \t]*\n(.*?)```")

	// A backslash not followed by a valid JSON escape character. Models emit
	// verbatim regex patterns like \s and \d inside string values.
	invalidEscapeRegex = regexp.MustCompile(`\\([^"\\/bfnrtu])`)
)

// ParseResult represents the outcome of a repair-parse operation.
// It uses a result-style pattern so callers never see a panic.
type ParseResult[T any] struct {
	Success      bool
	Data         T
	Error        string
	OriginalText string
}

// Options configures parsing behavior.
type Options struct {
	Context      string // Context label for error messages and debug logs
	MaxInputSize int    // Maximum input size in bytes (0 = default 10MB)
}

const defaultMaxInputSize = 10 * 1024 * 1024

// Parse attempts to parse JSON from raw model output, applying repair
// stages in order until one produces a well-formed document:
//
//  1. Strip Markdown code fences, parse directly.
//  2. Slice from the first '{' to the last '}' and parse that.
//  3. Strip // and /* */ comments and trailing commas (quote-aware).
//  4. Double any backslash that does not start a valid JSON escape.
//  5. Escape literal newline/CR/tab characters inside string literals.
//
// Each stage transforms the previous stage's output, so fixes accumulate.
// Parse never panics; a failed result carries the original text for logging.
func Parse[T any](text string, opts ...Options) ParseResult[T] {
	options := Options{MaxInputSize: defaultMaxInputSize}
	if len(opts) > 0 {
		if opts[0].Context != "" {
			options.Context = opts[0].Context
		}
		if opts[0].MaxInputSize != 0 {
			options.MaxInputSize = opts[0].MaxInputSize
		}
	}

	if options.MaxInputSize > 0 && len(text) > options.MaxInputSize {
		return failure[T](fmt.Sprintf("input exceeds size limit (%d > %d bytes)", len(text), options.MaxInputSize), text, options.Context)
	}

	trimmed := strings.TrimSpace(StripFences(text))
	if trimmed == "" {
		return failure[T]("empty input", text, options.Context)
	}

	// Stage 1: direct parse.
	if result, err := tryParse[T](trimmed); err == nil {
		return success(result, text)
	}

	// Stage 2: slice out the outermost object.
	sliced, ok := sliceObject(trimmed)
	if !ok {
		slog.Debug("no JSON object found in model output",
			"context", options.Context,
			"inputLen", len(text))
		return failure[T]("no JSON object found", text, options.Context)
	}
	if result, err := tryParse[T](sliced); err == nil {
		return success(result, text)
	}

	// Stage 3: remove comments and trailing commas.
	cleaned := stripCommentsAndTrailingCommas(sliced)
	if result, err := tryParse[T](cleaned); err == nil {
		return success(result, text)
	}

	// Stage 4: re-escape invalid backslash sequences.
	reescaped := invalidEscapeRegex.ReplaceAllString(cleaned, `\\$1`)
	if result, err := tryParse[T](reescaped); err == nil {
		return success(result, text)
	}

	// Stage 5: escape raw control characters inside string literals.
	escaped := escapeControlCharsInStrings(reescaped)
	result, err := tryParse[T](escaped)
	if err == nil {
		return success(result, text)
	}

	slog.Debug("all JSON repair stages failed",
		"context", options.Context,
		"inputLen", len(text),
		"lastError", err.Error())
	return failure[T]("all JSON repair stages failed: "+err.Error(), text, options.Context)
}

// ParseOrDefault parses raw model output and returns the caller-supplied
// fallback when every repair stage fails. This is the boundary most callers
// want: an empty/fallback result means "no usable data", never an error.
func ParseOrDefault[T any](text string, fallback T, opts ...Options) T {
	result := Parse[T](text, opts...)
	if result.Success {
		return result.Data
	}
	return fallback
}

// StripFences removes Markdown code fences from model output. If the text
// contains a fenced block, the contents of the first block are returned;
// an unclosed leading fence is stripped; otherwise the text is unchanged.
func StripFences(text string) string {
	if m := fencedBlockRegex.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		if _, rest, ok := strings.Cut(trimmed, "\n"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return text
}

// ExtractStringArray is the last-resort recovery path: it pulls the string
// elements of a named top-level array field (e.g. "questions") directly out
// of raw text, ignoring the rest of the document. Returns nil when the field
// cannot be found.
func ExtractStringArray(text, field string) []string {
	fieldRegex := regexp.MustCompile(`(?s)"` + regexp.QuoteMeta(field) + `"\s*:\s*\[(.*?)\]`)
	m := fieldRegex.FindStringSubmatch(text)
	if m == nil {
		return nil
	}

	elementRegex := regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)
	var items []string
	for _, em := range elementRegex.FindAllStringSubmatch(m[1], -1) {
		var s string
		// Route each element through the JSON decoder so escapes resolve.
		if err := json.Unmarshal([]byte(`"`+em[1]+`"`), &s); err == nil {
			items = append(items, s)
		}
	}
	return items
}

func tryParse[T any](text string) (T, error) {
	var result T
	err := json.Unmarshal([]byte(text), &result)
	return result, err
}

// sliceObject extracts the substring from the first '{' to the last '}'.
// Balance-insensitive on purpose: prose after the object is common and the
// later stages handle interior damage.
func sliceObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// stripCommentsAndTrailingCommas removes // comments, /* */ comments, and
// trailing commas while respecting quoted-string boundaries. A comment or
// comma sequence inside a string literal is left untouched.
func stripCommentsAndTrailingCommas(text string) string {
	var out strings.Builder
	out.Grow(len(text))

	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]

		if inString {
			out.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}

		switch {
		case c == '"':
			inString = true
			out.WriteByte(c)
		case c == '/' && i+1 < len(text) && text[i+1] == '/':
			for i < len(text) && text[i] != '\n' {
				i++
			}
			if i < len(text) {
				out.WriteByte('\n')
			}
		case c == '/' && i+1 < len(text) && text[i+1] == '*':
			i += 2
			for i+1 < len(text) && !(text[i] == '*' && text[i+1] == '/') {
				i++
			}
			i++ // skip the trailing '/'
		case c == ',':
			// Look ahead past whitespace; drop the comma if a closer follows.
			j := i + 1
			for j < len(text) && (text[j] == ' ' || text[j] == '\t' || text[j] == '\n' || text[j] == '\r') {
				j++
			}
			if j < len(text) && (text[j] == '}' || text[j] == ']') {
				continue
			}
			out.WriteByte(c)
		default:
			out.WriteByte(c)
		}
	}
	return out.String()
}

// escapeControlCharsInStrings escapes literal newline, carriage-return, and
// tab characters that occur inside string literals, tracked via a
// quote/escape state machine. Models emit raw multi-line file content inside
// what should be a JSON string; this makes those blocks valid.
func escapeControlCharsInStrings(text string) string {
	var out strings.Builder
	out.Grow(len(text) + 16)

	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]

		if !inString {
			if c == '"' {
				inString = true
			}
			out.WriteByte(c)
			continue
		}

		if escaped {
			out.WriteByte(c)
			escaped = false
			continue
		}

		switch c {
		case '\\':
			out.WriteByte(c)
			escaped = true
		case '"':
			out.WriteByte(c)
			inString = false
		case '\n':
			out.WriteString(`\n`)
		case '\r':
			out.WriteString(`\r`)
		case '\t':
			out.WriteString(`\t`)
		default:
			out.WriteByte(c)
		}
	}
	return out.String()
}

func success[T any](data T, original string) ParseResult[T] {
	return ParseResult[T]{Success: true, Data: data, OriginalText: original}
}

func failure[T any](message, text, context string) ParseResult[T] {
	var zero T
	if context != "" {
		message = context + ": " + message
	}
	return ParseResult[T]{Success: false, Data: zero, Error: message, OriginalText: text}
}

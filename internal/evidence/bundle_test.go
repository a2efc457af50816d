package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_FullBundle(t *testing.T) {
	raw := `{
		"triage": {"severity": "high", "likely_module": "billing", "summary": "refund uses live price"},
		"search": {"suspect_files": [{"file_path": "services.py"}], "reasoning": "refund_order reads current price"},
		"docs": {"relevant_docs": [{"file_path": "docs/refunds.md"}]},
		"logs": {"suspicious_logs": [{"message": "refund mismatch order=42"}]}
	}`

	bundle, err := Decode([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "high", bundle.Triage.Severity)
	require.Len(t, bundle.Search.SuspectFiles, 1)
	assert.Equal(t, "services.py", bundle.Search.SuspectFiles[0].FilePath)
	assert.Equal(t, "docs/refunds.md", bundle.Docs.RelevantDocs[0].FilePath)
	assert.Equal(t, "refund mismatch order=42", bundle.Logs.SuspiciousLogs[0].Message)
}

func TestDecode_MissingSectionsDefaultEmpty(t *testing.T) {
	bundle, err := Decode([]byte(`{"triage": {"severity": "low"}}`))
	require.NoError(t, err)

	assert.Empty(t, bundle.Search.SuspectFiles)
	assert.Empty(t, bundle.Docs.RelevantDocs)
	assert.Empty(t, bundle.Logs.SuspiciousLogs)
}

func TestDecode_RepairsFencedOutput(t *testing.T) {
	raw := "```json\n{\"search\": {\"reasoning\": \"looks fine\",}}\n```"

	bundle, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "looks fine", bundle.Search.Reasoning)
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode([]byte("not json at all"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evidence bundle decode failed")
}

func TestSectionJSON_PreservesUnknownFields(t *testing.T) {
	raw := `{"search": {"reasoning": "r", "confidence": 0.9}}`
	bundle, err := Decode([]byte(raw))
	require.NoError(t, err)

	section := bundle.SectionJSON("search")
	assert.Contains(t, section, `"confidence"`)

	assert.Equal(t, "{}", Bundle{}.SectionJSON("nonexistent"))
}

func TestNormalize(t *testing.T) {
	type inner struct {
		FilePath string `json:"file_path"`
		Score    int    `json:"score,omitempty"`
		hidden   bool
	}

	got := Normalize(map[string]any{
		"files": []inner{{FilePath: "a.go", Score: 3, hidden: true}},
		"count": 2,
	})

	mapping, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, KindMapping, KindOf(got))

	files, ok := mapping["files"].([]any)
	require.True(t, ok)
	assert.Equal(t, KindSequence, KindOf(mapping["files"]))

	first, ok := files[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a.go", first["file_path"])
	assert.Equal(t, 3, first["score"])
	assert.NotContains(t, first, "hidden")
}

func TestNormalize_Opaque(t *testing.T) {
	ch := make(chan int)
	got := Normalize(map[string]any{"ch": ch})

	mapping := got.(map[string]any)
	_, isString := mapping["ch"].(string)
	assert.True(t, isString, "opaque values must be stringified")
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindScalar, KindOf("x"))
	assert.Equal(t, KindScalar, KindOf(nil))
	assert.Equal(t, KindScalar, KindOf(1.5))
	assert.Equal(t, KindSequence, KindOf([]any{1}))
	assert.Equal(t, KindMapping, KindOf(map[string]any{}))
	assert.Equal(t, KindOpaque, KindOf(struct{}{}))
}

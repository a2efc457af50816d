// Package evidence defines the read-only investigation bundle the patch
// core consumes. Upstream agents (triage, codebase search, documentation,
// log analysis) produce these sections; every field is optional and missing
// structures default to empty values.
package evidence

import (
	"encoding/json"

	"github.com/bugpilot/bugpilot/internal/jsonrepair"
)

// Triage is the output of the issue triage agent.
type Triage struct {
	Severity     string `json:"severity"`
	LikelyModule string `json:"likely_module"`
	Summary      string `json:"summary"`
}

// SuspectFile is one file the codebase search agent flagged.
type SuspectFile struct {
	FilePath string `json:"file_path"`
}

// Search is the output of the codebase search agent.
type Search struct {
	SuspectFiles []SuspectFile `json:"suspect_files"`
	Reasoning    string        `json:"reasoning"`
}

// DocRef is one document the documentation agent found relevant.
type DocRef struct {
	FilePath string `json:"file_path"`
}

// Docs is the output of the documentation agent.
type Docs struct {
	RelevantDocs []DocRef `json:"relevant_docs"`
}

// LogLine is one suspicious log message from the log analysis agent.
type LogLine struct {
	Message string `json:"message"`
}

// Logs is the output of the log analysis agent.
type Logs struct {
	SuspiciousLogs []LogLine `json:"suspicious_logs"`
}

// Bundle aggregates all upstream agent outputs for one investigation.
type Bundle struct {
	Triage Triage `json:"triage"`
	Search Search `json:"search"`
	Docs   Docs   `json:"docs"`
	Logs   Logs   `json:"logs"`

	// raw keeps each section exactly as decoded so the patch prompt can
	// embed the evidence verbatim, including fields the typed view drops.
	raw map[string]any
}

// Decode parses an evidence bundle from JSON, tolerating the usual model
// output damage. Missing sections decode to zero values.
func Decode(data []byte) (Bundle, error) {
	result := jsonrepair.Parse[Bundle](string(data), jsonrepair.Options{Context: "evidence bundle"})
	if !result.Success {
		return Bundle{}, &DecodeError{Reason: result.Error}
	}
	bundle := result.Data
	if rawResult := jsonrepair.Parse[map[string]any](string(data)); rawResult.Success {
		bundle.raw = rawResult.Data
	}
	return bundle, nil
}

// FromMap builds a Bundle from an already-decoded mapping, normalizing
// duck-typed section shapes first.
func FromMap(m map[string]any) Bundle {
	var bundle Bundle
	normalized, _ := Normalize(m).(map[string]any)
	if normalized == nil {
		return bundle
	}
	if encoded, err := json.Marshal(normalized); err == nil {
		_ = json.Unmarshal(encoded, &bundle)
	}
	bundle.raw = normalized
	return bundle
}

// SectionJSON returns the named section ("triage", "search", "docs",
// "logs") as indented JSON for prompt embedding. The verbatim decoded form
// is preferred; absent sections render as "{}".
func (b Bundle) SectionJSON(name string) string {
	var section any
	if b.raw != nil {
		section = b.raw[name]
	}
	if section == nil {
		switch name {
		case "triage":
			section = b.Triage
		case "search":
			section = b.Search
		case "docs":
			section = b.Docs
		case "logs":
			section = b.Logs
		}
	}
	if section == nil {
		return "{}"
	}
	encoded, err := json.MarshalIndent(section, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

// DecodeError reports an evidence bundle that could not be parsed even
// after repair.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "evidence bundle decode failed: " + e.Reason
}

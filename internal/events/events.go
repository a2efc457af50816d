// Package events carries structured progress events from agents to any
// consumer (CLI, server stream, storage). Events are advisory: emitting one
// must never influence control flow in the agent that produced it.
package events

import (
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
)

// Agent identifiers.
const (
	AgentTriage         = "triage"
	AgentCodebaseSearch = "codebase_search"
	AgentDoc            = "doc_analysis"
	AgentLog            = "log_analysis"
	AgentPatch          = "patch_generation"
	AgentPipeline       = "pipeline"
)

// Type categorizes an event.
type Type string

const (
	// TypeStatus indicates the agent changed state (starting, step change).
	TypeStatus Type = "status"
	// TypeProgress indicates incremental progress within a step.
	TypeProgress Type = "progress"
	// TypeResult indicates the agent produced a result.
	TypeResult Type = "result"
	// TypeError indicates something went wrong.
	TypeError Type = "error"
	// TypeLog indicates a verbose debug log line.
	TypeLog Type = "log"
	// TypeSummary indicates an agent-level summary for display.
	TypeSummary Type = "summary"
)

// Event is one structured progress record emitted by an agent.
type Event struct {
	ID        string         `json:"id"`
	Agent     string         `json:"agent"`
	Type      Type           `json:"type"`
	Step      string         `json:"step"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// New creates an Event with a fresh ID and timestamp.
func New(agent string, eventType Type, step, message string, data map[string]any) *Event {
	if data == nil {
		data = make(map[string]any)
	}
	return &Event{
		ID:        uuid.New().String(),
		Agent:     agent,
		Type:      eventType,
		Step:      step,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Emitter receives events as an agent works. Implementations must be cheap
// and must not return errors; a sink that can fail should swallow and log.
type Emitter interface {
	Emit(agent string, eventType Type, step, message string, data map[string]any)
}

// NopEmitter discards all events.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(string, Type, string, string, map[string]any) {}

// CallbackEmitter forwards each full event to a callback function,
// for server-sent streams or test capture.
type CallbackEmitter struct {
	fn func(*Event)
}

// NewCallbackEmitter creates an emitter that invokes fn for every event.
func NewCallbackEmitter(fn func(*Event)) *CallbackEmitter {
	return &CallbackEmitter{fn: fn}
}

// Emit implements Emitter.
func (c *CallbackEmitter) Emit(agent string, eventType Type, step, message string, data map[string]any) {
	c.fn(New(agent, eventType, step, message, data))
}

// ConsoleEmitter prints events with per-agent colors and per-type icons.
type ConsoleEmitter struct{}

var agentColors = map[string]color.Attribute{
	AgentTriage:         color.FgCyan,
	AgentCodebaseSearch: color.FgYellow,
	AgentDoc:            color.FgBlue,
	AgentLog:            color.FgGreen,
	AgentPatch:          color.FgHiCyan,
	AgentPipeline:       color.FgMagenta,
}

var typeIcons = map[Type]string{
	TypeStatus:   "●",
	TypeProgress: "→",
	TypeResult:   "✓",
	TypeError:    "✗",
	TypeLog:      "·",
	TypeSummary:  "■",
}

// Emit implements Emitter.
func (ConsoleEmitter) Emit(agent string, eventType Type, step, message string, data map[string]any) {
	attr, ok := agentColors[agent]
	if !ok {
		attr = color.Reset
	}
	c := color.New(attr)
	bold := color.New(attr, color.Bold)
	icon := typeIcons[eventType]
	label := agentLabel(agent)

	switch eventType {
	case TypeStatus, TypeResult:
		bold.Printf("  [%s] %s %s\n", label, icon, message)
	case TypeSummary:
		bold.Printf("  [%s] %s %s\n", label, icon, message)
		for key, value := range data {
			if items, ok := value.([]string); ok {
				for _, item := range items {
					c.Printf("  [%s]   • %s\n", label, item)
				}
				continue
			}
			c.Printf("  [%s]   %s: %v\n", label, key, value)
		}
	case TypeError:
		color.New(color.FgRed).Printf("  [%s] %s %s\n", label, icon, message)
	case TypeLog:
		color.New(color.Faint).Printf("  [%s] %s\n", label, message)
	default:
		c.Printf("  [%s] %s %s\n", label, icon, message)
	}
}

func agentLabel(agent string) string {
	label := make([]rune, 0, len(agent))
	for _, r := range agent {
		if r == '_' {
			label = append(label, ' ')
			continue
		}
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		label = append(label, r)
	}
	return string(label)
}

// Multi fans events out to several emitters in order.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(agent string, eventType Type, step, message string, data map[string]any) {
	for _, e := range m {
		e.Emit(agent, eventType, step, message, data)
	}
}

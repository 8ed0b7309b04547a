// Package ir defines the canonical, provider-neutral representation of an
// AI coding-assistant session, plus the small set of tolerant helpers every
// codec uses to get raw provider data into that shape.
package ir

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// millisThreshold separates second-granularity from millisecond-granularity
// integer timestamps: values below it are assumed to be Unix seconds.
const millisThreshold int64 = 100_000_000_000

// MessageRole identifies the speaker of a CanonicalMessage. Kind is one of
// the well-known roles below, or RoleOther with Raw holding the lowercased
// original string the provider used.
type MessageRole struct {
	Kind RoleKind
	Raw  string // only meaningful when Kind == RoleOther
}

// RoleKind enumerates the well-known message roles.
type RoleKind int

const (
	RoleUser RoleKind = iota
	RoleAssistant
	RoleTool
	RoleSystem
	RoleOther
)

// User, Assistant, Tool, and System are the well-known role values.
var (
	User      = MessageRole{Kind: RoleUser}
	Assistant = MessageRole{Kind: RoleAssistant}
	Tool      = MessageRole{Kind: RoleTool}
	System    = MessageRole{Kind: RoleSystem}
)

// Other constructs a MessageRole carrying a provider-specific raw tag.
func Other(raw string) MessageRole {
	return MessageRole{Kind: RoleOther, Raw: strings.ToLower(raw)}
}

// Equal reports whether two roles denote the same role, including matching
// raw tags for RoleOther.
func (r MessageRole) Equal(other MessageRole) bool {
	if r.Kind != other.Kind {
		return false
	}
	if r.Kind == RoleOther {
		return r.Raw == other.Raw
	}
	return true
}

// String renders the role the way it is normally spelled in provider output.
func (r MessageRole) String() string {
	switch r.Kind {
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	case RoleTool:
		return "tool"
	case RoleSystem:
		return "system"
	default:
		return r.Raw
	}
}

// ToolCall records a tool invocation surfaced by the assistant.
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult records the outcome of a tool invocation.
type ToolResult struct {
	CallID  string `json:"call_id,omitempty"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// CanonicalMessage is one turn of a session in the canonical shape.
type CanonicalMessage struct {
	Idx         int             `json:"idx"`
	Role        MessageRole     `json:"role"`
	Content     string          `json:"content"`
	Timestamp   *int64          `json:"timestamp,omitempty"` // Unix millis
	Author      *string         `json:"author,omitempty"`
	ToolCalls   []ToolCall      `json:"tool_calls,omitempty"`
	ToolResults []ToolResult    `json:"tool_results,omitempty"`
	Extra       json.RawMessage `json:"extra,omitempty"`
}

// CanonicalSession is the full canonical representation of a converted
// transcript.
type CanonicalSession struct {
	SessionID    string             `json:"session_id"`
	ProviderSlug string             `json:"provider_slug"`
	Workspace    *string            `json:"workspace,omitempty"`
	Title        *string            `json:"title,omitempty"`
	StartedAt    *int64             `json:"started_at,omitempty"`
	EndedAt      *int64             `json:"ended_at,omitempty"`
	Messages     []CanonicalMessage `json:"messages"`
	Metadata     json.RawMessage    `json:"metadata,omitempty"`
	SourcePath   string             `json:"source_path"`
	ModelName    *string            `json:"model_name,omitempty"`
}

// ReindexMessages rewrites every message's Idx to its position in the
// slice. Must be called after any structural mutation (insert/filter/sort).
func ReindexMessages(messages []CanonicalMessage) {
	for i := range messages {
		messages[i].Idx = i
	}
}

// NormalizeRole maps a raw provider role string onto a MessageRole.
// Comparison is case-insensitive.
func NormalizeRole(raw string) MessageRole {
	switch strings.ToLower(raw) {
	case "user":
		return User
	case "assistant", "model", "agent", "gemini":
		return Assistant
	case "tool":
		return Tool
	case "system":
		return System
	default:
		return Other(raw)
	}
}

// TruncateTitle takes the first line of text, trims it, and truncates it to
// at most maxLen runes, appending a literal "..." when truncated.
func TruncateTitle(text string, maxLen int) string {
	firstLine := text
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		firstLine = text[:idx]
	}
	firstLine = strings.TrimSpace(firstLine)
	if firstLine == "" {
		return ""
	}
	runes := []rune(firstLine)
	if len(runes) <= maxLen {
		return firstLine
	}
	return string(runes[:maxLen]) + "..."
}

// FlattenContent reduces a provider's raw JSON content value (a bare
// string, a block array, or a loosely-typed object) to a single display
// string.
func FlattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}

	var asArray []json.RawMessage
	if err := json.Unmarshal(raw, &asArray); err == nil {
		var parts []string
		for _, item := range asArray {
			if text := flattenBlock(item); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")
	}

	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asObject); err == nil {
		if text, ok := asObject["text"]; ok {
			var s string
			if err := json.Unmarshal(text, &s); err == nil {
				return s
			}
		}
		return ""
	}

	// numbers, bools, null all flatten to empty.
	return ""
}

// flattenBlock handles one element of a content array: a bare string, a
// {type:"text"|"input_text", text} block, a {type:"tool_use", name, input}
// block, or a bare-text object.
func flattenBlock(item json.RawMessage) string {
	var asString string
	if err := json.Unmarshal(item, &asString); err == nil {
		return asString
	}

	var block struct {
		Type string          `json:"type"`
		Text string          `json:"text"`
		Name string          `json:"name"`
		Input json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal(item, &block); err != nil {
		return ""
	}

	switch block.Type {
	case "text", "input_text":
		return block.Text
	case "tool_use":
		detail := toolUseDetail(block.Input)
		if detail == "" {
			return "[Tool: " + block.Name + "]"
		}
		return "[Tool: " + block.Name + " - " + detail + "]"
	default:
		if block.Text != "" {
			return block.Text
		}
		return ""
	}
}

func toolUseDetail(input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	var fields struct {
		Description string `json:"description"`
		FilePath    string `json:"file_path"`
	}
	if err := json.Unmarshal(input, &fields); err != nil {
		return ""
	}
	if fields.Description != "" {
		return fields.Description
	}
	return fields.FilePath
}

// ParseTimestamp coerces a raw JSON timestamp value (integer epoch seconds
// or millis, float epoch seconds, numeric string, or an RFC3339-ish
// string) into Unix millis. Returns nil when the value cannot be parsed.
func ParseTimestamp(raw json.RawMessage) *int64 {
	if len(raw) == 0 {
		return nil
	}

	var asInt int64
	if err := json.Unmarshal(raw, &asInt); err == nil {
		return millisFromInt(asInt)
	}

	var asFloat float64
	if err := json.Unmarshal(raw, &asFloat); err == nil {
		millis := int64(asFloat * 1000)
		return &millis
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err != nil {
		return nil
	}
	return parseTimestampString(asString)
}

func millisFromInt(v int64) *int64 {
	if v < millisThreshold {
		v *= 1000
	}
	return &v
}

func parseTimestampString(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if isAllDigits(s) {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return millisFromInt(v)
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && looksNumeric(s) {
		millis := int64(f * 1000)
		return &millis
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		millis := t.UnixMilli()
		return &millis
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		millis := t.UnixMilli()
		return &millis
	}

	for _, layout := range []string{
		"2006-01-02T15:04:05.999999999Z",
		"2006-01-02T15:04:05Z",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			millis := t.UnixMilli()
			return &millis
		}
	}

	return nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func looksNumeric(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != '-' && r != '+' && r != 'e' && r != 'E' {
			return false
		}
	}
	return true
}

// NewSessionID synthesizes a session id for a codec writer when the
// canonical session carries none, so every written format keeps a stable,
// sortable, collision-resistant identifier.
func NewSessionID() string {
	return ulid.Make().String()
}

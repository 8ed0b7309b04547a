// Package claudecode implements the Claude Code transcript codec: JSONL
// session files under `<home>/projects/<project-key>/<session-id>.jsonl`.
package claudecode

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/casr-dev/casr/internal/atomicio"
	"github.com/casr-dev/casr/internal/config"
	"github.com/casr-dev/casr/internal/provider"
	"github.com/casr-dev/casr/pkg/ir"
)

// Codec implements provider.Codec for Claude Code.
type Codec struct{}

// New returns a Claude Code codec.
func New() *Codec { return &Codec{} }

func (c *Codec) Name() string     { return "Claude Code" }
func (c *Codec) Slug() string     { return "claude-code" }
func (c *Codec) CLIAlias() string { return "claude" }

func homeDir() string {
	return config.HomeDir("CLAUDE_HOME")
}

func projectsDir() string {
	return filepath.Join(homeDir(), "projects")
}

// projectDirKey maps a workspace path to the directory name Claude Code
// stores its sessions under: every ASCII alphanumeric character is kept,
// everything else becomes '-'.
func projectDirKey(workspace string) string {
	var b strings.Builder
	for _, r := range workspace {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

func (c *Codec) Detect() provider.DetectionResult {
	root := projectsDir()
	info, err := os.Stat(root)
	installed := err == nil && info.IsDir()
	var evidence []string
	if installed {
		evidence = append(evidence, fmt.Sprintf("projects directory found: %s", root))
	}
	return provider.DetectionResult{Installed: installed, Evidence: evidence}
}

func (c *Codec) SessionRoots() []string {
	root := projectsDir()
	if info, err := os.Stat(root); err == nil && info.IsDir() {
		return []string{root}
	}
	return nil
}

func (c *Codec) OwnsSession(sessionID string) (string, bool) {
	root := projectsDir()
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		candidate := filepath.Join(root, entry.Name(), sessionID+".jsonl")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

type rawEntry struct {
	Type      string          `json:"type"`
	Role      string          `json:"role"`
	Message   json.RawMessage `json:"message"`
	Content   json.RawMessage `json:"content"`
	Timestamp json.RawMessage `json:"timestamp"`
	CWD       string          `json:"cwd"`
}

type nestedMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

func (c *Codec) ReadSession(path string) (ir.CanonicalSession, error) {
	f, err := os.Open(path)
	if err != nil {
		return ir.CanonicalSession{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var messages []ir.CanonicalMessage
	var workspace *string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry rawEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}

		// Only conversational entries are kept; file-history-snapshot,
		// summary, and similar housekeeping entries are skipped.
		if entry.Type != "user" && entry.Type != "assistant" {
			continue
		}

		if workspace == nil && entry.CWD != "" {
			ws := entry.CWD
			workspace = &ws
		}

		role := ir.NormalizeRole(entry.Type)
		var content string
		if len(entry.Message) > 0 {
			var nested nestedMessage
			if err := json.Unmarshal(entry.Message, &nested); err == nil {
				if nested.Role != "" {
					role = ir.NormalizeRole(nested.Role)
				}
				content = ir.FlattenContent(nested.Content)
			}
		} else if len(entry.Content) > 0 {
			content = ir.FlattenContent(entry.Content)
		}

		if strings.TrimSpace(content) == "" {
			continue
		}

		ts := ir.ParseTimestamp(entry.Timestamp)
		messages = append(messages, ir.CanonicalMessage{
			Role:        role,
			Content:     content,
			Timestamp:   ts,
			ToolCalls:   extractToolCalls(entry.Message),
			ToolResults: extractToolResults(entry.Message),
			Extra:       json.RawMessage(line),
		})
	}
	ir.ReindexMessages(messages)

	sessionID := strings.TrimSuffix(filepath.Base(path), ".jsonl")

	var title *string
	for _, m := range messages {
		if m.Role.Equal(ir.User) {
			t := ir.TruncateTitle(m.Content, 100)
			title = &t
			break
		}
	}

	var started, ended *int64
	for _, m := range messages {
		if m.Timestamp == nil {
			continue
		}
		if started == nil {
			started = m.Timestamp
		}
		ended = m.Timestamp
	}

	return ir.CanonicalSession{
		SessionID:    sessionID,
		ProviderSlug: c.Slug(),
		Workspace:    workspace,
		Title:        title,
		StartedAt:    started,
		EndedAt:      ended,
		Messages:     messages,
		SourcePath:   path,
	}, nil
}

func extractToolCalls(message json.RawMessage) []ir.ToolCall {
	if len(message) == 0 {
		return nil
	}
	var wrapper struct {
		Content []struct {
			Type  string          `json:"type"`
			ID    string          `json:"id"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		} `json:"content"`
	}
	if err := json.Unmarshal(message, &wrapper); err != nil {
		return nil
	}
	var calls []ir.ToolCall
	for _, block := range wrapper.Content {
		if block.Type == "tool_use" {
			calls = append(calls, ir.ToolCall{ID: block.ID, Name: block.Name, Arguments: block.Input})
		}
	}
	return calls
}

func extractToolResults(message json.RawMessage) []ir.ToolResult {
	if len(message) == 0 {
		return nil
	}
	var wrapper struct {
		Content []struct {
			Type      string          `json:"type"`
			ToolUseID string          `json:"tool_use_id"`
			Content   json.RawMessage `json:"content"`
			IsError   bool            `json:"is_error"`
		} `json:"content"`
	}
	if err := json.Unmarshal(message, &wrapper); err != nil {
		return nil
	}
	var results []ir.ToolResult
	for _, block := range wrapper.Content {
		if block.Type == "tool_result" {
			results = append(results, ir.ToolResult{
				CallID:  block.ToolUseID,
				Content: ir.FlattenContent(block.Content),
				IsError: block.IsError,
			})
		}
	}
	return results
}

func (c *Codec) WriteSession(session ir.CanonicalSession, opts provider.WriteOptions) (provider.WrittenSession, error) {
	workspace := ""
	if session.Workspace != nil {
		workspace = *session.Workspace
	}
	sessionID := session.SessionID
	if sessionID == "" {
		sessionID = ir.NewSessionID()
	}
	projectKey := projectDirKey(workspace)
	targetDir := filepath.Join(projectsDir(), projectKey)
	targetPath := filepath.Join(targetDir, sessionID+".jsonl")

	var lines []string
	for _, m := range session.Messages {
		entryType := "assistant"
		if m.Role.Equal(ir.User) {
			entryType = "user"
		}
		entry := map[string]any{
			"type": entryType,
			"cwd":  workspace,
			"message": map[string]any{
				"role":    m.Role.String(),
				"content": m.Content,
			},
		}
		if m.Timestamp != nil {
			entry["timestamp"] = *m.Timestamp
		}
		encoded, err := json.Marshal(entry)
		if err != nil {
			return provider.WrittenSession{}, fmt.Errorf("failed to encode message %d: %w", m.Idx, err)
		}
		lines = append(lines, string(encoded))
	}

	content := strings.Join(lines, "\n")
	if content != "" {
		content += "\n"
	}

	outcome, err := atomicio.AtomicWrite(targetPath, []byte(content), opts.Force, c.Slug())
	if err != nil {
		return provider.WrittenSession{}, err
	}

	return provider.WrittenSession{
		Paths:         []string{outcome.TargetPath},
		SessionID:     sessionID,
		ResumeCommand: c.ResumeCommand(sessionID),
		BackupPath:    outcome.BackupPath,
	}, nil
}

func (c *Codec) ResumeCommand(sessionID string) string {
	return fmt.Sprintf("claude --resume %s", sessionID)
}

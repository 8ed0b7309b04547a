// Package vibe implements the Vibe transcript codec: flexible JSONL chat
// logs under `<home>/<session-id>/messages.jsonl`, where role, content, and
// timestamp may each appear under several different field names.
package vibe

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/casr-dev/casr/internal/atomicio"
	"github.com/casr-dev/casr/internal/config"
	"github.com/casr-dev/casr/internal/provider"
	"github.com/casr-dev/casr/pkg/ir"
)

// Codec implements provider.Codec for Vibe.
type Codec struct{}

// New returns a Vibe codec.
func New() *Codec { return &Codec{} }

func (c *Codec) Name() string     { return "Vibe" }
func (c *Codec) Slug() string     { return "vibe" }
func (c *Codec) CLIAlias() string { return "vib" }

func homeDir() string {
	return config.HomeDir("VIBE_HOME", ".vibe", "logs", "session")
}

var timestampKeys = []string{"timestamp", "created_at", "createdAt", "time", "ts"}

func extractRole(val map[string]json.RawMessage) string {
	if r, ok := stringField(val, "role"); ok {
		return r
	}
	if r, ok := stringField(val, "speaker"); ok {
		return r
	}
	if nested, ok := val["message"]; ok {
		var nestedVal map[string]json.RawMessage
		if json.Unmarshal(nested, &nestedVal) == nil {
			if r, ok := stringField(nestedVal, "role"); ok {
				return r
			}
		}
	}
	return "assistant"
}

func extractContent(val map[string]json.RawMessage) string {
	if raw, ok := val["content"]; ok {
		return ir.FlattenContent(raw)
	}
	if raw, ok := val["text"]; ok {
		return ir.FlattenContent(raw)
	}
	if nested, ok := val["message"]; ok {
		var nestedVal map[string]json.RawMessage
		if json.Unmarshal(nested, &nestedVal) == nil {
			if raw, ok := nestedVal["content"]; ok {
				return ir.FlattenContent(raw)
			}
		}
	}
	return ""
}

func extractTimestamp(val map[string]json.RawMessage) *int64 {
	for _, key := range timestampKeys {
		if raw, ok := val[key]; ok {
			if ts := ir.ParseTimestamp(raw); ts != nil {
				return ts
			}
		}
	}
	if nested, ok := val["message"]; ok {
		var nestedVal map[string]json.RawMessage
		if json.Unmarshal(nested, &nestedVal) == nil {
			for _, key := range timestampKeys {
				if raw, ok := nestedVal[key]; ok {
					if ts := ir.ParseTimestamp(raw); ts != nil {
						return ts
					}
				}
			}
		}
	}
	return nil
}

func stringField(val map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := val[key]
	if !ok {
		return "", false
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return "", false
	}
	return s, true
}

func (c *Codec) Detect() provider.DetectionResult {
	root := homeDir()
	info, err := os.Stat(root)
	installed := err == nil && info.IsDir()
	var evidence []string
	if installed {
		evidence = append(evidence, fmt.Sprintf("sessions directory found: %s", root))
	}
	return provider.DetectionResult{Installed: installed, Evidence: evidence}
}

func (c *Codec) SessionRoots() []string {
	root := homeDir()
	if info, err := os.Stat(root); err == nil && info.IsDir() {
		return []string{root}
	}
	return nil
}

func (c *Codec) OwnsSession(sessionID string) (string, bool) {
	root := homeDir()
	candidate := filepath.Join(root, sessionID, "messages.jsonl")
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		return candidate, true
	}

	var found string
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		if info.Name() != "messages.jsonl" {
			return nil
		}
		if filepath.Base(filepath.Dir(path)) == sessionID {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if found != "" {
		return found, true
	}
	return "", false
}

func (c *Codec) ReadSession(path string) (ir.CanonicalSession, error) {
	f, err := os.Open(path)
	if err != nil {
		return ir.CanonicalSession{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var messages []ir.CanonicalMessage
	var startedAt, endedAt *int64

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var val map[string]json.RawMessage
		if json.Unmarshal([]byte(line), &val) != nil {
			continue
		}

		roleStr := extractRole(val)
		content := extractContent(val)
		if strings.TrimSpace(content) == "" {
			continue
		}

		ts := extractTimestamp(val)
		if startedAt == nil {
			startedAt = ts
		}
		if ts != nil {
			endedAt = ts
		}

		messages = append(messages, ir.CanonicalMessage{
			Role: ir.NormalizeRole(roleStr), Content: content, Timestamp: ts,
			Extra: json.RawMessage(line),
		})
	}
	ir.ReindexMessages(messages)

	sessionID := filepath.Base(filepath.Dir(path))
	if sessionID == "" || sessionID == "." || sessionID == string(filepath.Separator) {
		sessionID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	var title *string
	for _, m := range messages {
		if m.Role.Equal(ir.User) {
			t := ir.TruncateTitle(m.Content, 100)
			title = &t
			break
		}
	}

	metadataJSON, _ := json.Marshal(map[string]any{"source": "vibe"})

	return ir.CanonicalSession{
		SessionID: sessionID, ProviderSlug: c.Slug(), Title: title,
		StartedAt: startedAt, EndedAt: endedAt, Messages: messages,
		Metadata: metadataJSON, SourcePath: path,
	}, nil
}

func (c *Codec) WriteSession(session ir.CanonicalSession, opts provider.WriteOptions) (provider.WrittenSession, error) {
	sessionID := session.SessionID
	if sessionID == "" {
		sessionID = ir.NewSessionID()
	}

	targetPath := filepath.Join(homeDir(), sessionID, "messages.jsonl")

	var lines []string
	for _, m := range session.Messages {
		obj := map[string]any{"role": m.Role.String(), "content": m.Content}
		if m.Timestamp != nil {
			obj["timestamp"] = time.UnixMilli(*m.Timestamp).UTC().Format(time.RFC3339Nano)
		}
		encoded, err := json.Marshal(obj)
		if err != nil {
			return provider.WrittenSession{}, fmt.Errorf("failed to encode message %d: %w", m.Idx, err)
		}
		lines = append(lines, string(encoded))
	}

	content := strings.Join(lines, "\n") + "\n"
	outcome, err := atomicio.AtomicWrite(targetPath, []byte(content), opts.Force, c.Slug())
	if err != nil {
		return provider.WrittenSession{}, err
	}

	return provider.WrittenSession{
		Paths: []string{outcome.TargetPath}, SessionID: sessionID,
		ResumeCommand: c.ResumeCommand(sessionID), BackupPath: outcome.BackupPath,
	}, nil
}

func (c *Codec) ResumeCommand(sessionID string) string {
	return fmt.Sprintf("vibe --resume %s", sessionID)
}

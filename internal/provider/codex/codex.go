// Package codex implements the Codex transcript codec: modern JSONL
// rollout files under `<home>/sessions/YYYY/MM/DD/rollout-<ts>-<id>.jsonl`,
// plus the legacy single-JSON-object format.
package codex

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

// Codec implements provider.Codec for Codex.
type Codec struct{}

// New returns a Codex codec.
func New() *Codec { return &Codec{} }

func (c *Codec) Name() string     { return "Codex" }
func (c *Codec) Slug() string     { return "codex" }
func (c *Codec) CLIAlias() string { return "codex" }

func homeDir() string {
	return config.HomeDir("CODEX_HOME")
}

func sessionsDir() string {
	return filepath.Join(homeDir(), "sessions")
}

// rolloutPath builds the modern Codex rollout file path for a session
// started at the given time with the given id.
func rolloutPath(startedAt time.Time, sessionID string) string {
	utc := startedAt.UTC()
	dayDir := filepath.Join(
		sessionsDir(),
		fmt.Sprintf("%04d", utc.Year()),
		fmt.Sprintf("%02d", utc.Month()),
		fmt.Sprintf("%02d", utc.Day()),
	)
	name := fmt.Sprintf("rollout-%s-%s.jsonl", utc.Format("2006-01-02T15-04-05"), sessionID)
	return filepath.Join(dayDir, name)
}

func (c *Codec) Detect() provider.DetectionResult {
	root := sessionsDir()
	info, err := os.Stat(root)
	installed := err == nil && info.IsDir()
	var evidence []string
	if installed {
		evidence = append(evidence, fmt.Sprintf("sessions directory found: %s", root))
	}
	return provider.DetectionResult{Installed: installed, Evidence: evidence}
}

func (c *Codec) SessionRoots() []string {
	root := sessionsDir()
	if info, err := os.Stat(root); err == nil && info.IsDir() {
		return []string{root}
	}
	return nil
}

func (c *Codec) OwnsSession(sessionID string) (string, bool) {
	root := sessionsDir()
	var found string
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		name := info.Name()
		if strings.Contains(name, sessionID) && (strings.HasSuffix(name, ".jsonl") || strings.HasSuffix(name, ".json")) {
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

func isLegacyFormat(firstLine []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(firstLine, &probe); err != nil {
		return false
	}
	_, hasSession := probe["session"]
	_, hasItems := probe["items"]
	return hasSession || hasItems
}

func (c *Codec) ReadSession(path string) (ir.CanonicalSession, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ir.CanonicalSession{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	firstLineEnd := strings.IndexByte(string(data), '\n')
	firstLine := data
	if firstLineEnd >= 0 {
		firstLine = data[:firstLineEnd]
	}

	if isLegacyFormat(firstLine) {
		return c.readLegacyJSON(path, data)
	}
	return c.readJSONL(path, data)
}

type legacyDoc struct {
	Session struct {
		ID  string `json:"id"`
		CWD string `json:"cwd"`
	} `json:"session"`
	Items []struct {
		Role      string          `json:"role"`
		Content   json.RawMessage `json:"content"`
		Timestamp json.RawMessage `json:"timestamp"`
	} `json:"items"`
}

func (c *Codec) readLegacyJSON(path string, data []byte) (ir.CanonicalSession, error) {
	var doc legacyDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return ir.CanonicalSession{}, fmt.Errorf("failed to parse legacy codex session %s: %w", path, err)
	}

	var messages []ir.CanonicalMessage
	for _, item := range doc.Items {
		content := ir.FlattenContent(item.Content)
		if strings.TrimSpace(content) == "" {
			continue
		}
		role := item.Role
		if role == "" {
			role = "assistant"
		}
		messages = append(messages, ir.CanonicalMessage{
			Role:      ir.NormalizeRole(role),
			Content:   content,
			Timestamp: ir.ParseTimestamp(item.Timestamp),
		})
	}
	ir.ReindexMessages(messages)

	sessionID := doc.Session.ID
	if sessionID == "" {
		sessionID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	var workspace *string
	if doc.Session.CWD != "" {
		ws := doc.Session.CWD
		workspace = &ws
	}

	return buildSession(c.Slug(), sessionID, workspace, messages, path), nil
}

type envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	SubType   string          `json:"sub_type"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Text      string          `json:"text"`
	Timestamp json.RawMessage `json:"timestamp"`
}

type sessionMetaPayload struct {
	ID        string `json:"id"`
	Workspace string `json:"cwd"`
}

func (c *Codec) readJSONL(path string, data []byte) (ir.CanonicalSession, error) {
	var messages []ir.CanonicalMessage
	var sessionID string
	var workspace *string

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			continue
		}

		switch env.Type {
		case "session_meta":
			var meta sessionMetaPayload
			if json.Unmarshal(env.Payload, &meta) == nil {
				if meta.ID != "" {
					sessionID = meta.ID
				}
				if meta.Workspace != "" {
					ws := meta.Workspace
					workspace = &ws
				}
			}
		case "response_item":
			role := env.Role
			if role == "" {
				role = "assistant"
			}
			content := ir.FlattenContent(env.Content)
			if strings.TrimSpace(content) == "" {
				continue
			}
			messages = append(messages, ir.CanonicalMessage{
				Role:      ir.NormalizeRole(role),
				Content:   content,
				Timestamp: ir.ParseTimestamp(env.Timestamp),
			})
		case "event_msg":
			switch env.SubType {
			case "user_message":
				if strings.TrimSpace(env.Text) == "" {
					continue
				}
				messages = append(messages, ir.CanonicalMessage{
					Role: ir.User, Content: env.Text, Timestamp: ir.ParseTimestamp(env.Timestamp),
				})
			case "agent_reasoning":
				if strings.TrimSpace(env.Text) == "" {
					continue
				}
				author := "reasoning"
				messages = append(messages, ir.CanonicalMessage{
					Role: ir.Assistant, Content: env.Text, Timestamp: ir.ParseTimestamp(env.Timestamp), Author: &author,
				})
			}
			// token_count, turn_aborted, and other sub-types are skipped.
		}
	}
	ir.ReindexMessages(messages)

	if sessionID == "" {
		sessionID = sessionIDFromFilename(path)
	}

	return buildSession(c.Slug(), sessionID, workspace, messages, path), nil
}

func sessionIDFromFilename(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	const prefix = "rollout-"
	if !strings.HasPrefix(name, prefix) {
		return name
	}
	rest := name[len(prefix):]
	// rest is "<ts>-<uuid>"; the timestamp itself contains hyphens
	// ("2026-02-09T06-07-08"), so split on the last 5 hyphen-delimited
	// groups that make up a UUID.
	parts := strings.Split(rest, "-")
	if len(parts) < 5 {
		return rest
	}
	return strings.Join(parts[len(parts)-5:], "-")
}

func buildSession(slug, sessionID string, workspace *string, messages []ir.CanonicalMessage, path string) ir.CanonicalSession {
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
		SessionID: sessionID, ProviderSlug: slug, Workspace: workspace,
		Title: title, StartedAt: started, EndedAt: ended, Messages: messages, SourcePath: path,
	}
}

func (c *Codec) WriteSession(session ir.CanonicalSession, opts provider.WriteOptions) (provider.WrittenSession, error) {
	startedAt := time.Now().UTC()
	if session.StartedAt != nil {
		startedAt = time.UnixMilli(*session.StartedAt).UTC()
	}
	sessionID := session.SessionID
	if sessionID == "" {
		sessionID = ir.NewSessionID()
	}
	targetPath := rolloutPath(startedAt, sessionID)

	workspace := ""
	if session.Workspace != nil {
		workspace = *session.Workspace
	}

	var lines []string
	meta, _ := json.Marshal(map[string]any{
		"type": "session_meta",
		"payload": map[string]any{
			"id":  sessionID,
			"cwd": workspace,
		},
	})
	lines = append(lines, string(meta))

	for _, m := range session.Messages {
		entry := map[string]any{
			"type":    "response_item",
			"role":    m.Role.String(),
			"content": m.Content,
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
	return fmt.Sprintf("codex --resume %s", sessionID)
}

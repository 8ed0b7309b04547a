// Package gemini implements the Gemini CLI transcript codec: JSON session
// files under `<home>/tmp/<sha256-hex>/chats/session-*.json`.
package gemini

import (
	"crypto/sha256"
	"encoding/hex"
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

// Codec implements provider.Codec for Gemini CLI.
type Codec struct{}

// New returns a Gemini codec.
func New() *Codec { return &Codec{} }

func (c *Codec) Name() string     { return "Gemini CLI" }
func (c *Codec) Slug() string     { return "gemini" }
func (c *Codec) CLIAlias() string { return "gmi" }

func homeDir() string {
	return config.HomeDir("GEMINI_HOME", ".gemini")
}

func tmpDir() string {
	return filepath.Join(homeDir(), "tmp")
}

// projectHash is the SHA256 hex digest of the workspace path, matching the
// directory name Gemini stores session chats under.
func projectHash(workspace string) string {
	sum := sha256.Sum256([]byte(workspace))
	return hex.EncodeToString(sum[:])
}

// sessionFilename builds the modern Gemini session filename: the timestamp
// to minute precision, followed by the first 8 characters of the session id.
func sessionFilename(sessionID string, now time.Time) string {
	ts := now.UTC().Format("2006-01-02T15-04")
	prefix := sessionID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("session-%s-%s.json", ts, prefix)
}

func (c *Codec) Detect() provider.DetectionResult {
	root := homeDir()
	info, err := os.Stat(root)
	installed := err == nil && info.IsDir()
	var evidence []string
	if installed {
		evidence = append(evidence, fmt.Sprintf("%s exists", root))
	}
	return provider.DetectionResult{Installed: installed, Evidence: evidence}
}

func (c *Codec) SessionRoots() []string {
	tmp := tmpDir()
	info, err := os.Stat(tmp)
	if err != nil || !info.IsDir() {
		return nil
	}
	entries, err := os.ReadDir(tmp)
	if err != nil {
		return nil
	}
	var roots []string
	for _, entry := range entries {
		chats := filepath.Join(tmp, entry.Name(), "chats")
		if info, err := os.Stat(chats); err == nil && info.IsDir() {
			roots = append(roots, chats)
		}
	}
	return roots
}

func (c *Codec) OwnsSession(sessionID string) (string, bool) {
	tmp := tmpDir()
	if info, err := os.Stat(tmp); err != nil || !info.IsDir() {
		return "", false
	}

	exactName := fmt.Sprintf("session-%s.json", sessionID)
	idPrefix := strings.ToLower(sessionID)
	if len(idPrefix) > 8 {
		idPrefix = idPrefix[:8]
	}

	var found string
	filepath.Walk(tmp, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		if filepath.Base(filepath.Dir(path)) != "chats" {
			return nil
		}
		name := info.Name()
		if name == exactName {
			found = path
			return filepath.SkipAll
		}
		if idPrefix != "" && strings.HasSuffix(strings.ToLower(name), "-"+idPrefix+".json") {
			if sessionIDFromFile(path) == sessionID {
				found = path
				return filepath.SkipAll
			}
		}
		return nil
	})
	if found != "" {
		return found, true
	}
	return "", false
}

func sessionIDFromFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var probe struct {
		SessionID string `json:"sessionId"`
	}
	if json.Unmarshal(data, &probe) != nil {
		return ""
	}
	return probe.SessionID
}

type geminiDoc struct {
	SessionID   string          `json:"sessionId"`
	ProjectHash string          `json:"projectHash"`
	StartTime   json.RawMessage `json:"startTime"`
	LastUpdated json.RawMessage `json:"lastUpdated"`
	Messages    []geminiMessage `json:"messages"`
}

type geminiMessage struct {
	Type      string          `json:"type"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Timestamp json.RawMessage `json:"timestamp"`
}

func (c *Codec) ReadSession(path string) (ir.CanonicalSession, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ir.CanonicalSession{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc geminiDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return ir.CanonicalSession{}, fmt.Errorf("failed to parse JSON %s: %w", path, err)
	}

	sessionID := doc.SessionID
	if sessionID == "" {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		sessionID = strings.TrimPrefix(name, "session-")
		if sessionID == "" {
			sessionID = "unknown"
		}
	}

	startedAt := ir.ParseTimestamp(doc.StartTime)
	endedAt := ir.ParseTimestamp(doc.LastUpdated)

	var messages []ir.CanonicalMessage
	for _, m := range doc.Messages {
		roleStr := m.Type
		if roleStr == "" {
			roleStr = m.Role
		}
		if roleStr == "" {
			roleStr = "user"
		}
		content := ir.FlattenContent(m.Content)
		if strings.TrimSpace(content) == "" {
			continue
		}

		ts := ir.ParseTimestamp(m.Timestamp)
		if ts != nil {
			if endedAt == nil || *ts > *endedAt {
				endedAt = ts
			}
		}

		messages = append(messages, ir.CanonicalMessage{
			Role:      ir.NormalizeRole(roleStr),
			Content:   content,
			Timestamp: ts,
		})
	}
	ir.ReindexMessages(messages)

	var title *string
	for _, m := range messages {
		if m.Role.Equal(ir.User) {
			t := ir.TruncateTitle(m.Content, 100)
			title = &t
			break
		}
	}

	workspace := extractWorkspaceFromMessages(messages)

	metadata := map[string]any{"source": "gemini"}
	if doc.ProjectHash != "" {
		metadata["project_hash"] = doc.ProjectHash
	}
	metadataJSON, _ := json.Marshal(metadata)

	return ir.CanonicalSession{
		SessionID: sessionID, ProviderSlug: c.Slug(), Workspace: workspace,
		Title: title, StartedAt: startedAt, EndedAt: endedAt, Messages: messages,
		Metadata: metadataJSON, SourcePath: path,
	}, nil
}

// extractWorkspaceFromMessages scans the first 50 messages for a likely
// workspace path, since Gemini sessions carry no explicit workspace field.
func extractWorkspaceFromMessages(messages []ir.CanonicalMessage) *string {
	limit := len(messages)
	if limit > 50 {
		limit = 50
	}
	for _, m := range messages[:limit] {
		if idx := strings.Index(m.Content, "/data/projects/"); idx >= 0 {
			rest := m.Content[idx:]
			projectPath := takeUntilBoundary(rest)
			parts := strings.Split(projectPath, "/")
			if len(parts) >= 4 {
				normalized := fmt.Sprintf("/%s/%s/%s", parts[1], parts[2], parts[3])
				return &normalized
			}
		}
		for _, prefix := range []string{"/home/", "/Users/", "/root/"} {
			if idx := strings.Index(m.Content, prefix); idx >= 0 {
				rest := m.Content[idx:]
				path := takeUntilBoundary(rest)
				if len(path) > len(prefix)+3 {
					return &path
				}
			}
		}
	}
	return nil
}

func takeUntilBoundary(s string) string {
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '"' || r == '\'' || r == ')' {
			return s[:i]
		}
	}
	return s
}

func (c *Codec) WriteSession(session ir.CanonicalSession, opts provider.WriteOptions) (provider.WrittenSession, error) {
	workspace := ""
	if session.Workspace != nil {
		workspace = *session.Workspace
	}
	hash := projectHash(workspace)

	sessionID := session.SessionID
	if sessionID == "" {
		sessionID = ir.NewSessionID()
	}

	now := time.Now()
	if session.StartedAt != nil {
		now = time.UnixMilli(*session.StartedAt)
	}
	filename := sessionFilename(sessionID, now)
	targetPath := filepath.Join(tmpDir(), hash, "chats", filename)

	var msgs []map[string]any
	for _, m := range session.Messages {
		msgType := "user"
		if m.Role.Equal(ir.Assistant) {
			msgType = "gemini"
		}
		entry := map[string]any{"type": msgType, "content": m.Content}
		if m.Timestamp != nil {
			entry["timestamp"] = *m.Timestamp
		}
		msgs = append(msgs, entry)
	}

	doc := map[string]any{
		"sessionId":   sessionID,
		"projectHash": hash,
		"messages":    msgs,
	}
	if session.StartedAt != nil {
		doc["startTime"] = *session.StartedAt
	}
	if session.EndedAt != nil {
		doc["lastUpdated"] = *session.EndedAt
	}

	content, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return provider.WrittenSession{}, fmt.Errorf("failed to encode gemini session: %w", err)
	}

	outcome, err := atomicio.AtomicWrite(targetPath, content, opts.Force, c.Slug())
	if err != nil {
		return provider.WrittenSession{}, err
	}

	return provider.WrittenSession{
		Paths: []string{outcome.TargetPath}, SessionID: sessionID,
		ResumeCommand: c.ResumeCommand(sessionID), BackupPath: outcome.BackupPath,
	}, nil
}

func (c *Codec) ResumeCommand(sessionID string) string {
	return "gemini"
}

// Package factory implements the Factory transcript codec: JSONL session
// files with typed entries under `<home>/<workspace-slug>/<session-id>.jsonl`,
// plus an optional `.settings.json` sidecar carrying the model name.
package factory

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

// Codec implements provider.Codec for Factory.
type Codec struct{}

// New returns a Factory codec.
func New() *Codec { return &Codec{} }

func (c *Codec) Name() string     { return "Factory" }
func (c *Codec) Slug() string     { return "factory" }
func (c *Codec) CLIAlias() string { return "fac" }

func homeDir() string {
	return config.HomeDir("FACTORY_HOME", ".factory", "sessions")
}

// decodeWorkspaceSlug reverses encodeWorkspaceSlug: only the first '-'
// becomes a path separator; every other '-' becomes one too, which is
// lossy for workspace names that themselves contain hyphens. This mirrors
// the ambiguity inherent in the original slug convention rather than
// resolving it.
func decodeWorkspaceSlug(slug string) (string, bool) {
	if !strings.HasPrefix(slug, "-") {
		return "", false
	}
	return strings.ReplaceAll(slug, "-", "/"), true
}

// encodeWorkspaceSlug turns a workspace path into a Factory directory slug.
func encodeWorkspaceSlug(path string) string {
	return strings.ReplaceAll(path, "/", "-")
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
	targetName := sessionID + ".jsonl"
	var found string
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		if info.Name() == targetName {
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

type factoryMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Model   string          `json:"model"`
}

func (c *Codec) ReadSession(path string) (ir.CanonicalSession, error) {
	f, err := os.Open(path)
	if err != nil {
		return ir.CanonicalSession{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var messages []ir.CanonicalMessage
	var sessionIDFromHeader, titleFromHeader, owner string
	var workspace *string
	var startedAt, endedAt *int64

	parentDirName := filepath.Base(filepath.Dir(path))

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var entry struct {
			Type      string          `json:"type"`
			ID        string          `json:"id"`
			Title     string          `json:"title"`
			Owner     string          `json:"owner"`
			CWD       string          `json:"cwd"`
			Timestamp json.RawMessage `json:"timestamp"`
			Message   json.RawMessage `json:"message"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}

		switch entry.Type {
		case "session_start":
			sessionIDFromHeader = entry.ID
			titleFromHeader = entry.Title
			owner = entry.Owner
			if entry.CWD != "" {
				ws := entry.CWD
				workspace = &ws
			} else if decoded, ok := decodeWorkspaceSlug(parentDirName); ok {
				workspace = &decoded
			}
		case "message":
			ts := ir.ParseTimestamp(entry.Timestamp)
			if startedAt == nil {
				startedAt = ts
			}
			if ts != nil {
				endedAt = ts
			}

			var msg factoryMessage
			roleStr := "unknown"
			var content string
			if len(entry.Message) > 0 {
				if json.Unmarshal(entry.Message, &msg) == nil {
					if msg.Role != "" {
						roleStr = msg.Role
					}
					content = ir.FlattenContent(msg.Content)
				}
			}
			if strings.TrimSpace(content) == "" {
				continue
			}

			var author *string
			if msg.Model != "" {
				m := msg.Model
				author = &m
			}

			messages = append(messages, ir.CanonicalMessage{
				Role: ir.NormalizeRole(roleStr), Content: content, Timestamp: ts,
				Author: author, Extra: json.RawMessage(line),
			})
		}
	}
	ir.ReindexMessages(messages)

	sessionID := sessionIDFromHeader
	if sessionID == "" {
		sessionID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	if workspace == nil {
		if decoded, ok := decodeWorkspaceSlug(parentDirName); ok {
			workspace = &decoded
		}
	}

	var title *string
	if titleFromHeader != "" {
		title = &titleFromHeader
	} else {
		for _, m := range messages {
			if m.Role.Equal(ir.User) {
				t := ir.TruncateTitle(m.Content, 100)
				title = &t
				break
			}
		}
	}

	var modelFromSettings string
	settingsPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".settings.json"
	if data, err := os.ReadFile(settingsPath); err == nil {
		var settings struct {
			Model string `json:"model"`
		}
		if json.Unmarshal(data, &settings) == nil {
			modelFromSettings = settings.Model
		}
	}

	metadata := map[string]any{"source": "factory", "sessionId": sessionID}
	if owner != "" {
		metadata["owner"] = owner
	}
	if modelFromSettings != "" {
		metadata["model"] = modelFromSettings
	}
	metadataJSON, _ := json.Marshal(metadata)

	var modelName *string
	if modelFromSettings != "" {
		modelName = &modelFromSettings
	}

	return ir.CanonicalSession{
		SessionID: sessionID, ProviderSlug: c.Slug(), Workspace: workspace, Title: title,
		StartedAt: startedAt, EndedAt: endedAt, Messages: messages,
		Metadata: metadataJSON, SourcePath: path, ModelName: modelName,
	}, nil
}

func (c *Codec) WriteSession(session ir.CanonicalSession, opts provider.WriteOptions) (provider.WrittenSession, error) {
	sessionID := session.SessionID
	if sessionID == "" {
		sessionID = ir.NewSessionID()
	}

	workspaceSlug := "-tmp"
	if session.Workspace != nil {
		workspaceSlug = encodeWorkspaceSlug(*session.Workspace)
	}

	targetDir := filepath.Join(homeDir(), workspaceSlug)
	targetPath := filepath.Join(targetDir, sessionID+".jsonl")

	var lines []string
	header := map[string]any{"type": "session_start", "id": sessionID}
	if session.Title != nil {
		header["title"] = *session.Title
	}
	if session.Workspace != nil {
		header["cwd"] = *session.Workspace
	}
	encodedHeader, err := json.Marshal(header)
	if err != nil {
		return provider.WrittenSession{}, fmt.Errorf("failed to encode session header: %w", err)
	}
	lines = append(lines, string(encodedHeader))

	for _, m := range session.Messages {
		messageObj := map[string]any{"role": m.Role.String(), "content": m.Content}
		if m.Author != nil {
			messageObj["model"] = *m.Author
		}
		entry := map[string]any{"type": "message", "message": messageObj}
		if m.Timestamp != nil {
			entry["timestamp"] = time.UnixMilli(*m.Timestamp).UTC().Format(time.RFC3339Nano)
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
	return fmt.Sprintf("factory --resume %s", sessionID)
}

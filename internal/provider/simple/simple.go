// Package simple implements a config-driven codec for the thin,
// tolerant-reader providers that have no dedicated wire format of their
// own: Cursor, Cline, Aider, Amp, OpenCode, ChatGPT, and ClawdBot. Each is
// a single JSONL file of loosely-shaped records, read with gjson's
// tolerant path lookups rather than a rigid struct, and written back out
// with sjson.
package simple

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/casr-dev/casr/internal/atomicio"
	"github.com/casr-dev/casr/internal/config"
	"github.com/casr-dev/casr/internal/provider"
	"github.com/casr-dev/casr/pkg/ir"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Config describes one thin provider's naming and directory convention.
type Config struct {
	Name       string
	Slug       string
	CLIAlias   string
	EnvVar     string
	DefaultDir []string // segments under $HOME, used when EnvVar is unset
	FileName   string   // session file name within a session's own directory
}

// Codec implements provider.Codec for a Config-described thin provider.
type Codec struct {
	cfg Config
}

// New returns a thin tolerant-reader codec for the given configuration.
func New(cfg Config) *Codec { return &Codec{cfg: cfg} }

func (c *Codec) Name() string     { return c.cfg.Name }
func (c *Codec) Slug() string     { return c.cfg.Slug }
func (c *Codec) CLIAlias() string { return c.cfg.CLIAlias }

func (c *Codec) homeDir() string {
	return config.HomeDir(c.cfg.EnvVar, c.cfg.DefaultDir...)
}

func (c *Codec) Detect() provider.DetectionResult {
	root := c.homeDir()
	info, err := os.Stat(root)
	installed := err == nil && info.IsDir()
	var evidence []string
	if installed {
		evidence = append(evidence, fmt.Sprintf("%s exists", root))
	}
	return provider.DetectionResult{Installed: installed, Evidence: evidence}
}

func (c *Codec) SessionRoots() []string {
	root := c.homeDir()
	if info, err := os.Stat(root); err == nil && info.IsDir() {
		return []string{root}
	}
	return nil
}

func (c *Codec) OwnsSession(sessionID string) (string, bool) {
	root := c.homeDir()
	candidate := filepath.Join(root, sessionID, c.cfg.FileName)
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		return candidate, true
	}

	var found string
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		if info.Name() != c.cfg.FileName {
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

func extractRole(line string) string {
	for _, path := range []string{"role", "speaker", "message.role", "author.role"} {
		if r := gjson.Get(line, path); r.Exists() && r.String() != "" {
			return r.String()
		}
	}
	return "assistant"
}

func extractContent(line string) string {
	for _, path := range []string{"content", "text", "message.content", "body"} {
		if r := gjson.Get(line, path); r.Exists() {
			return ir.FlattenContent([]byte(r.Raw))
		}
	}
	return ""
}

var timestampPaths = []string{"timestamp", "created_at", "createdAt", "time", "ts", "message.timestamp"}

func extractTimestamp(line string) *int64 {
	for _, path := range timestampPaths {
		if r := gjson.Get(line, path); r.Exists() {
			if ts := ir.ParseTimestamp([]byte(r.Raw)); ts != nil {
				return ts
			}
		}
	}
	return nil
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
		if line == "" || !gjson.Valid(line) {
			continue
		}

		content := extractContent(line)
		if strings.TrimSpace(content) == "" {
			continue
		}

		ts := extractTimestamp(line)
		if startedAt == nil {
			startedAt = ts
		}
		if ts != nil {
			endedAt = ts
		}

		messages = append(messages, ir.CanonicalMessage{
			Role: ir.NormalizeRole(extractRole(line)), Content: content, Timestamp: ts,
			Extra: []byte(line),
		})
	}
	ir.ReindexMessages(messages)

	sessionID := filepath.Base(filepath.Dir(path))
	if sessionID == "" || sessionID == "." {
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

	metadataJSON, _ := sjson.SetBytes(nil, "source", c.cfg.Slug)

	return ir.CanonicalSession{
		SessionID: sessionID, ProviderSlug: c.cfg.Slug, Title: title,
		StartedAt: startedAt, EndedAt: endedAt, Messages: messages,
		Metadata: metadataJSON, SourcePath: path,
	}, nil
}

func (c *Codec) WriteSession(session ir.CanonicalSession, opts provider.WriteOptions) (provider.WrittenSession, error) {
	sessionID := session.SessionID
	if sessionID == "" {
		sessionID = ir.NewSessionID()
	}

	targetPath := filepath.Join(c.homeDir(), sessionID, c.cfg.FileName)

	var lines []string
	for _, m := range session.Messages {
		line, err := sjson.Set("{}", "role", m.Role.String())
		if err != nil {
			return provider.WrittenSession{}, fmt.Errorf("failed to encode message %d: %w", m.Idx, err)
		}
		line, err = sjson.Set(line, "content", m.Content)
		if err != nil {
			return provider.WrittenSession{}, fmt.Errorf("failed to encode message %d: %w", m.Idx, err)
		}
		if m.Timestamp != nil {
			line, err = sjson.Set(line, "timestamp", time.UnixMilli(*m.Timestamp).UTC().Format(time.RFC3339Nano))
			if err != nil {
				return provider.WrittenSession{}, fmt.Errorf("failed to encode message %d: %w", m.Idx, err)
			}
		}
		lines = append(lines, line)
	}

	content := strings.Join(lines, "\n") + "\n"
	outcome, err := atomicio.AtomicWrite(targetPath, []byte(content), opts.Force, c.cfg.Slug)
	if err != nil {
		return provider.WrittenSession{}, err
	}

	return provider.WrittenSession{
		Paths: []string{outcome.TargetPath}, SessionID: sessionID,
		ResumeCommand: c.ResumeCommand(sessionID), BackupPath: outcome.BackupPath,
	}, nil
}

func (c *Codec) ResumeCommand(sessionID string) string {
	return fmt.Sprintf("%s --resume %s", c.cfg.CLIAlias, sessionID)
}

// Providers returns a codec for each of the thin tolerant-reader
// providers that have no dedicated wire format of their own.
func Providers() []*Codec {
	configs := []Config{
		{Name: "Cursor", Slug: "cursor", CLIAlias: "cur", EnvVar: "CURSOR_HOME", DefaultDir: []string{".cursor", "sessions"}, FileName: "messages.jsonl"},
		{Name: "Cline", Slug: "cline", CLIAlias: "cln", EnvVar: "CLINE_HOME", DefaultDir: []string{".cline", "sessions"}, FileName: "messages.jsonl"},
		{Name: "Aider", Slug: "aider", CLIAlias: "aid", EnvVar: "AIDER_HOME", DefaultDir: []string{".aider", "sessions"}, FileName: "messages.jsonl"},
		{Name: "Amp", Slug: "amp", CLIAlias: "amp", EnvVar: "AMP_HOME", DefaultDir: []string{".amp", "sessions"}, FileName: "messages.jsonl"},
		{Name: "OpenCode", Slug: "opencode", CLIAlias: "oc", EnvVar: "OPENCODE_HOME", DefaultDir: []string{".opencode", "sessions"}, FileName: "messages.jsonl"},
		{Name: "ChatGPT", Slug: "chatgpt", CLIAlias: "gpt", EnvVar: "CHATGPT_HOME", DefaultDir: []string{".chatgpt", "sessions"}, FileName: "messages.jsonl"},
		{Name: "ClawdBot", Slug: "clawdbot", CLIAlias: "cb", EnvVar: "CLAWDBOT_HOME", DefaultDir: []string{".clawdbot", "sessions"}, FileName: "messages.jsonl"},
	}
	codecs := make([]*Codec, len(configs))
	for i, cfg := range configs {
		codecs[i] = New(cfg)
	}
	return codecs
}

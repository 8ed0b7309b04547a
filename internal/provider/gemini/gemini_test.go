package gemini

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/casr-dev/casr/internal/provider"
	"github.com/casr-dev/casr/pkg/ir"
)

func TestProjectHash_KnownVector(t *testing.T) {
	got := projectHash("/data/projects/flywheel_gateway")
	want := "b7da685261f0fff76430fd68dd709a693a8abac1c72c19c49f2fd1c7424c6d4e"
	if got != want {
		t.Errorf("projectHash = %q, want %q", got, want)
	}
}

func TestSessionFilename_KnownVector(t *testing.T) {
	now := time.Date(2026, 1, 10, 2, 6, 44, 0, time.UTC)
	got := sessionFilename("8c1890a5-eb39-4c5c-acff-93790d35dd3f", now)
	want := "session-2026-01-10T02-06-8c1890a5.json"
	if got != want {
		t.Errorf("sessionFilename = %q, want %q", got, want)
	}
}

func withGeminiHome(t *testing.T, dir string) {
	t.Helper()
	old, had := os.LookupEnv("GEMINI_HOME")
	os.Setenv("GEMINI_HOME", dir)
	t.Cleanup(func() {
		if had {
			os.Setenv("GEMINI_HOME", old)
		} else {
			os.Unsetenv("GEMINI_HOME")
		}
	})
}

func TestReadSession_BasicMessages(t *testing.T) {
	dir := t.TempDir()
	withGeminiHome(t, dir)
	hash := projectHash("")
	chatsDir := filepath.Join(dir, "tmp", hash, "chats")
	if err := os.MkdirAll(chatsDir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(chatsDir, "session-2026-01-10T02-06-8c1890a5.json")
	doc := `{
		"sessionId": "8c1890a5-eb39-4c5c-acff-93790d35dd3f",
		"startTime": "2026-01-10T02:06:44Z",
		"lastUpdated": "2026-01-10T02:10:00Z",
		"messages": [
			{"type": "user", "content": "hello", "timestamp": "2026-01-10T02:06:44Z"},
			{"type": "model", "content": "hi there", "timestamp": "2026-01-10T02:07:00Z"}
		]
	}`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	c := New()
	session, err := c.ReadSession(path)
	if err != nil {
		t.Fatalf("ReadSession failed: %v", err)
	}
	if session.SessionID != "8c1890a5-eb39-4c5c-acff-93790d35dd3f" {
		t.Errorf("got session id %q", session.SessionID)
	}
	if len(session.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(session.Messages))
	}
	if !session.Messages[0].Role.Equal(ir.User) || !session.Messages[1].Role.Equal(ir.Assistant) {
		t.Errorf("unexpected roles: %v, %v", session.Messages[0].Role, session.Messages[1].Role)
	}
}

func TestReadSession_SkipsEmptyMessages(t *testing.T) {
	dir := t.TempDir()
	withGeminiHome(t, dir)
	path := filepath.Join(dir, "session.json")
	doc := `{"sessionId":"s1","messages":[{"type":"user","content":""},{"type":"user","content":"real"}]}`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	c := New()
	session, err := c.ReadSession(path)
	if err != nil {
		t.Fatalf("ReadSession failed: %v", err)
	}
	if len(session.Messages) != 1 {
		t.Fatalf("expected 1 message after skipping empty, got %d", len(session.Messages))
	}
}

func TestWriteSession_UsesProjectHashDirectory(t *testing.T) {
	dir := t.TempDir()
	withGeminiHome(t, dir)

	ws := "/data/projects/flywheel_gateway"
	ts := int64(1768011044000)
	session := ir.CanonicalSession{
		SessionID: "8c1890a5-eb39-4c5c-acff-93790d35dd3f",
		Workspace: &ws,
		StartedAt: &ts,
		Messages: []ir.CanonicalMessage{
			{Role: ir.User, Content: "hello"},
			{Role: ir.Assistant, Content: "hi"},
		},
	}
	ir.ReindexMessages(session.Messages)

	c := New()
	written, err := c.WriteSession(session, provider.WriteOptions{})
	if err != nil {
		t.Fatalf("WriteSession failed: %v", err)
	}
	expectedDir := filepath.Join(dir, "tmp", "b7da685261f0fff76430fd68dd709a693a8abac1c72c19c49f2fd1c7424c6d4e", "chats")
	if filepath.Dir(written.Paths[0]) != expectedDir {
		t.Errorf("got dir %q, want %q", filepath.Dir(written.Paths[0]), expectedDir)
	}
}

func TestResumeCommand(t *testing.T) {
	c := New()
	if got := c.ResumeCommand("anything"); got != "gemini" {
		t.Errorf("got %q", got)
	}
}

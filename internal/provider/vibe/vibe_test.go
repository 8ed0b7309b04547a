package vibe

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/casr-dev/casr/internal/provider"
	"github.com/casr-dev/casr/pkg/ir"
)

func withVibeHome(t *testing.T, dir string) {
	t.Helper()
	old, had := os.LookupEnv("VIBE_HOME")
	os.Setenv("VIBE_HOME", dir)
	t.Cleanup(func() {
		if had {
			os.Setenv("VIBE_HOME", old)
		} else {
			os.Unsetenv("VIBE_HOME")
		}
	})
}

func readVibe(t *testing.T, sessionID string, lines []string) ir.CanonicalSession {
	t.Helper()
	dir := t.TempDir()
	withVibeHome(t, dir)
	sessionDir := filepath.Join(dir, sessionID)
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(sessionDir, "messages.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		t.Fatal(err)
	}
	c := New()
	session, err := c.ReadSession(path)
	if err != nil {
		t.Fatalf("ReadSession failed: %v", err)
	}
	return session
}

func TestReader_BasicExchange(t *testing.T) {
	session := readVibe(t, "sess-1", []string{
		`{"role":"user","content":"Hello","timestamp":"2025-01-27T03:30:00.000Z"}`,
		`{"role":"assistant","content":"Hi!","timestamp":"2025-01-27T03:30:05.000Z"}`,
	})
	if session.ProviderSlug != "vibe" || session.SessionID != "sess-1" {
		t.Errorf("got slug=%q id=%q", session.ProviderSlug, session.SessionID)
	}
	if len(session.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(session.Messages))
	}
	if !session.Messages[0].Role.Equal(ir.User) || !session.Messages[1].Role.Equal(ir.Assistant) {
		t.Errorf("unexpected roles")
	}
}

func TestReader_FlexibleRoleField(t *testing.T) {
	session := readVibe(t, "sess-2", []string{
		`{"speaker":"user","content":"Hello"}`,
		`{"speaker":"assistant","content":"Hi!"}`,
	})
	if !session.Messages[0].Role.Equal(ir.User) || !session.Messages[1].Role.Equal(ir.Assistant) {
		t.Errorf("unexpected roles")
	}
}

func TestReader_NestedMessageRole(t *testing.T) {
	session := readVibe(t, "sess-3", []string{
		`{"message":{"role":"user","content":"Hello"}}`,
		`{"message":{"role":"assistant","content":"Hi!"}}`,
	})
	if !session.Messages[0].Role.Equal(ir.User) || session.Messages[0].Content != "Hello" {
		t.Errorf("got %+v", session.Messages[0])
	}
}

func TestReader_TextFieldAsContent(t *testing.T) {
	session := readVibe(t, "sess-4", []string{`{"role":"user","text":"Hello via text field"}`})
	if session.Messages[0].Content != "Hello via text field" {
		t.Errorf("got %q", session.Messages[0].Content)
	}
}

func TestReader_FlexibleTimestampFields(t *testing.T) {
	session := readVibe(t, "sess-5", []string{
		`{"role":"user","content":"A","created_at":"2025-01-27T03:30:00.000Z"}`,
		`{"role":"user","content":"B","createdAt":"2025-01-27T03:31:00.000Z"}`,
		`{"role":"user","content":"C","time":"2025-01-27T03:32:00.000Z"}`,
		`{"role":"user","content":"D","ts":"2025-01-27T03:33:00.000Z"}`,
	})
	if len(session.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(session.Messages))
	}
	for i, m := range session.Messages {
		if m.Timestamp == nil {
			t.Errorf("message %d missing timestamp", i)
		}
	}
}

func TestReader_SkipsEmptyContent(t *testing.T) {
	session := readVibe(t, "sess-6", []string{
		`{"role":"user","content":"Valid"}`,
		`{"role":"assistant","content":""}`,
		`{"role":"assistant","content":"  "}`,
	})
	if len(session.Messages) != 1 {
		t.Errorf("expected 1 message, got %d", len(session.Messages))
	}
}

func TestReader_SkipsInvalidJSON(t *testing.T) {
	session := readVibe(t, "sess-7", []string{"", "not-json", `{"role":"user","content":"Valid"}`})
	if len(session.Messages) != 1 {
		t.Errorf("expected 1 message, got %d", len(session.Messages))
	}
}

func TestReader_SessionIDFromParentDir(t *testing.T) {
	session := readVibe(t, "my-session-abc", []string{`{"role":"user","content":"test"}`})
	if session.SessionID != "my-session-abc" {
		t.Errorf("got %q", session.SessionID)
	}
}

func TestReader_TitleFromFirstUserMessage(t *testing.T) {
	session := readVibe(t, "sess-8", []string{
		`{"role":"assistant","content":"Welcome"}`,
		`{"role":"user","content":"Refactor the auth module"}`,
	})
	if session.Title == nil || *session.Title != "Refactor the auth module" {
		t.Errorf("got title %v", session.Title)
	}
}

func TestReader_EmptyFile(t *testing.T) {
	session := readVibe(t, "empty", nil)
	if len(session.Messages) != 0 || session.Title != nil {
		t.Errorf("expected empty session, got %+v", session)
	}
}

func TestReader_MetadataHasSource(t *testing.T) {
	session := readVibe(t, "sess-9", []string{`{"role":"user","content":"test"}`})
	if !strings.Contains(string(session.Metadata), `"source":"vibe"`) {
		t.Errorf("got metadata %s", session.Metadata)
	}
}

func TestReader_ReindexesMessages(t *testing.T) {
	session := readVibe(t, "sess-10", []string{
		`{"role":"user","content":"A"}`,
		`{"role":"assistant","content":"B"}`,
		`{"role":"user","content":"C"}`,
	})
	for i, m := range session.Messages {
		if m.Idx != i {
			t.Errorf("message %d has idx %d", i, m.Idx)
		}
	}
}

func TestWriter_Roundtrip(t *testing.T) {
	dir := t.TempDir()
	withVibeHome(t, dir)

	ts1, ts2 := int64(1700000000000), int64(1700000500000)
	session := ir.CanonicalSession{
		SessionID: "rt-test",
		Messages: []ir.CanonicalMessage{
			{Role: ir.User, Content: "Fix the bug", Timestamp: &ts1},
			{Role: ir.Assistant, Content: "Done.", Timestamp: &ts2},
		},
	}
	ir.ReindexMessages(session.Messages)

	c := New()
	written, err := c.WriteSession(session, provider.WriteOptions{})
	if err != nil {
		t.Fatalf("WriteSession failed: %v", err)
	}

	readback, err := c.ReadSession(written.Paths[0])
	if err != nil {
		t.Fatalf("readback failed: %v", err)
	}
	if len(readback.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(readback.Messages))
	}
	if readback.Messages[0].Content != "Fix the bug" || readback.Messages[1].Content != "Done." {
		t.Errorf("unexpected content: %+v", readback.Messages)
	}
}

func TestWriter_ResumeCommand(t *testing.T) {
	c := New()
	if got := c.ResumeCommand("my-session"); got != "vibe --resume my-session" {
		t.Errorf("got %q", got)
	}
}

func TestProviderMetadata(t *testing.T) {
	c := New()
	if c.Name() != "Vibe" || c.Slug() != "vibe" || c.CLIAlias() != "vib" {
		t.Errorf("got name=%q slug=%q alias=%q", c.Name(), c.Slug(), c.CLIAlias())
	}
}

package provider

import (
	"testing"

	"github.com/casr-dev/casr/internal/casrerr"
	"github.com/casr-dev/casr/pkg/ir"
)

// mockCodec implements Codec for testing the registry's resolution logic
// without touching the filesystem.
type mockCodec struct {
	name, slug, alias string
	installed         bool
	roots             []string
	owned             map[string]string // sessionID -> path
}

func (m *mockCodec) Name() string     { return m.name }
func (m *mockCodec) Slug() string     { return m.slug }
func (m *mockCodec) CLIAlias() string { return m.alias }
func (m *mockCodec) Detect() DetectionResult {
	return DetectionResult{Installed: m.installed}
}
func (m *mockCodec) SessionRoots() []string { return m.roots }
func (m *mockCodec) OwnsSession(sessionID string) (string, bool) {
	p, ok := m.owned[sessionID]
	return p, ok
}
func (m *mockCodec) ReadSession(path string) (ir.CanonicalSession, error) {
	return ir.CanonicalSession{}, nil
}
func (m *mockCodec) WriteSession(session ir.CanonicalSession, opts WriteOptions) (WrittenSession, error) {
	return WrittenSession{}, nil
}
func (m *mockCodec) ResumeCommand(sessionID string) string { return "mock --resume " + sessionID }

func TestRegistry_RegisterAndFindBySlug(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockCodec{name: "Mock", slug: "mock", alias: "mck"})

	c, ok := r.FindBySlug("mock")
	if !ok {
		t.Fatalf("FindBySlug failed to find registered codec")
	}
	if c.Name() != "Mock" {
		t.Errorf("got name %q, want Mock", c.Name())
	}
}

func TestRegistry_FindBySlug_NotFound(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.FindBySlug("nonexistent"); ok {
		t.Error("expected FindBySlug to fail for unregistered slug")
	}
}

func TestRegistry_All_PreservesOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockCodec{slug: "a"})
	r.Register(&mockCodec{slug: "b"})
	r.Register(&mockCodec{slug: "c"})

	all := r.All()
	if len(all) != 3 || all[0].Slug() != "a" || all[2].Slug() != "c" {
		t.Errorf("expected registration order preserved, got %v", all)
	}
}

func TestResolveSession_WithAlias(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockCodec{slug: "claude-code", alias: "cc", installed: true, owned: map[string]string{"s1": "/path/s1.jsonl"}})

	resolved, err := r.ResolveSession("s1", SourceHint{Kind: HintAlias, Value: "cc"})
	if err != nil {
		t.Fatalf("ResolveSession failed: %v", err)
	}
	if resolved.Path != "/path/s1.jsonl" {
		t.Errorf("got path %q", resolved.Path)
	}
}

func TestResolveSession_UnknownAlias(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockCodec{slug: "codex", alias: "cx", installed: true})

	_, err := r.ResolveSession("s1", SourceHint{Kind: HintAlias, Value: "nope"})
	var target *casrerr.UnknownProviderAlias
	if !assertAs(t, err, &target) {
		return
	}
	if target.Alias != "nope" {
		t.Errorf("got alias %q", target.Alias)
	}
}

func TestResolveSession_AliasSessionNotOwned(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockCodec{slug: "codex", alias: "cx", installed: true, owned: map[string]string{}})

	_, err := r.ResolveSession("missing", SourceHint{Kind: HintAlias, Value: "cx"})
	var target *casrerr.SessionNotFound
	assertAs(t, err, &target)
}

func TestResolveSession_AutoSingleMatch(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockCodec{slug: "claude-code", installed: true, owned: map[string]string{"s1": "/a/s1.jsonl"}})
	r.Register(&mockCodec{slug: "codex", installed: true, owned: map[string]string{}})

	resolved, err := r.ResolveSession("s1", SourceHint{Kind: HintAuto})
	if err != nil {
		t.Fatalf("ResolveSession failed: %v", err)
	}
	if resolved.Provider.Slug() != "claude-code" {
		t.Errorf("got provider %q", resolved.Provider.Slug())
	}
}

func TestResolveSession_AutoAmbiguous(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockCodec{slug: "claude-code", installed: true, owned: map[string]string{"dup": "/a/dup.jsonl"}})
	r.Register(&mockCodec{slug: "codex", installed: true, owned: map[string]string{"dup": "/b/dup.jsonl"}})

	_, err := r.ResolveSession("dup", SourceHint{Kind: HintAuto})
	var target *casrerr.AmbiguousSessionId
	if !assertAs(t, err, &target) {
		return
	}
	if len(target.Candidates) != 2 {
		t.Errorf("expected 2 candidates, got %d", len(target.Candidates))
	}
}

func TestResolveSession_AutoNoMatches(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockCodec{slug: "claude-code", installed: true, owned: map[string]string{}})

	_, err := r.ResolveSession("ghost", SourceHint{Kind: HintAuto})
	var target *casrerr.SessionNotFound
	if !assertAs(t, err, &target) {
		return
	}
	if target.SessionsScanned != 1 {
		t.Errorf("expected 1 session scanned, got %d", target.SessionsScanned)
	}
}

func TestResolveSession_AutoSkipsUninstalled(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockCodec{slug: "claude-code", installed: false, owned: map[string]string{"s1": "/a/s1.jsonl"}})

	_, err := r.ResolveSession("s1", SourceHint{Kind: HintAuto})
	if err == nil {
		t.Fatal("expected not-found since the only owner is not installed")
	}
}

func TestParseSourceHint(t *testing.T) {
	cases := []struct {
		in   string
		kind SourceHintKind
	}{
		{"", HintAuto},
		{"claude-code", HintAlias},
		{"./session.jsonl", HintPath},
		{"/abs/session.jsonl", HintPath},
	}
	for _, c := range cases {
		got := ParseSourceHint(c.in)
		if got.Kind != c.kind {
			t.Errorf("ParseSourceHint(%q).Kind = %v, want %v", c.in, got.Kind, c.kind)
		}
	}
}

func TestKnownAliases_Sorted(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockCodec{slug: "z", alias: "zz"})
	r.Register(&mockCodec{slug: "a", alias: "aa"})

	aliases := r.KnownAliases()
	if len(aliases) != 2 || aliases[0] != "aa" || aliases[1] != "zz" {
		t.Errorf("expected sorted aliases, got %v", aliases)
	}
}

// assertAs is a small helper mirroring errors.As without importing the
// standard errors package into every test that just wants a type check.
func assertAs[T error](t *testing.T, err error, target *T) bool {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error, got nil")
		return false
	}
	asserted, ok := err.(T)
	if !ok {
		t.Fatalf("error %v is not of expected type", err)
		return false
	}
	*target = asserted
	return true
}

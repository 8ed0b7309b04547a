package pipeline

import (
	"testing"

	"github.com/casr-dev/casr/internal/casrerr"
	"github.com/casr-dev/casr/internal/provider"
	"github.com/casr-dev/casr/pkg/ir"
)

// fakeCodec is an in-memory Codec used to exercise the pipeline without
// touching the filesystem or any real provider format.
type fakeCodec struct {
	name, slug, alias string
	installed         bool
	sessions          map[string]ir.CanonicalSession
	writeErr          error
	written           []ir.CanonicalSession
}

func (f *fakeCodec) Name() string     { return f.name }
func (f *fakeCodec) Slug() string     { return f.slug }
func (f *fakeCodec) CLIAlias() string { return f.alias }
func (f *fakeCodec) Detect() provider.DetectionResult {
	return provider.DetectionResult{Installed: f.installed}
}
func (f *fakeCodec) SessionRoots() []string { return nil }
func (f *fakeCodec) OwnsSession(sessionID string) (string, bool) {
	if _, ok := f.sessions[sessionID]; ok {
		return "/" + f.slug + "/" + sessionID, true
	}
	return "", false
}
func (f *fakeCodec) ReadSession(path string) (ir.CanonicalSession, error) {
	for i := len(f.written) - 1; i >= 0; i-- {
		if "/"+f.slug+"/"+f.written[i].SessionID == path {
			return f.written[i], nil
		}
	}
	for _, s := range f.sessions {
		if "/"+f.slug+"/"+s.SessionID == path {
			return s, nil
		}
	}
	return ir.CanonicalSession{}, assertErr("no such session")
}
func (f *fakeCodec) WriteSession(session ir.CanonicalSession, opts provider.WriteOptions) (provider.WrittenSession, error) {
	if f.writeErr != nil {
		return provider.WrittenSession{}, f.writeErr
	}
	f.written = append(f.written, session)
	return provider.WrittenSession{Paths: []string{"/" + f.slug + "/" + session.SessionID}, SessionID: session.SessionID}, nil
}
func (f *fakeCodec) ResumeCommand(sessionID string) string { return f.slug + " --resume " + sessionID }

type assertErr string

func (e assertErr) Error() string { return string(e) }

func twoTurnSession(id string) ir.CanonicalSession {
	messages := []ir.CanonicalMessage{
		{Role: ir.User, Content: "hello", Timestamp: tsPtr(1000)},
		{Role: ir.Assistant, Content: "hi", Timestamp: tsPtr(2000)},
	}
	ir.ReindexMessages(messages)
	return ir.CanonicalSession{SessionID: id, Messages: messages}
}

func newTestRegistry() (*provider.Registry, *fakeCodec, *fakeCodec) {
	source := &fakeCodec{name: "Source", slug: "source", alias: "src", installed: true,
		sessions: map[string]ir.CanonicalSession{"s1": twoTurnSession("s1")}}
	target := &fakeCodec{name: "Target", slug: "target", alias: "tgt", installed: true,
		sessions: map[string]ir.CanonicalSession{}}

	reg := provider.NewRegistry()
	reg.Register(source)
	reg.Register(target)
	return reg, source, target
}

func TestConvert_HappyPath(t *testing.T) {
	reg, _, target := newTestRegistry()
	p := New(reg)

	result, err := p.Convert(Options{
		TargetAlias: "tgt", SessionID: "s1",
		Source: provider.SourceHint{Kind: provider.HintAlias, Value: "src"},
	})
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if len(target.written) != 1 {
		t.Fatalf("expected target to have written one session, got %d", len(target.written))
	}
	if result.Written.SessionID != "s1" {
		t.Errorf("got written session id %q", result.Written.SessionID)
	}
}

func TestConvert_UnknownTargetAlias(t *testing.T) {
	reg, _, _ := newTestRegistry()
	p := New(reg)

	_, err := p.Convert(Options{TargetAlias: "nope", SessionID: "s1"})
	if _, ok := err.(*casrerr.UnknownProviderAlias); !ok {
		t.Fatalf("expected UnknownProviderAlias, got %T: %v", err, err)
	}
}

func TestConvert_TargetNotInstalledIsWarningNotFatal(t *testing.T) {
	reg, _, target := newTestRegistry()
	target.installed = false
	p := New(reg)

	result, err := p.Convert(Options{
		TargetAlias: "tgt", SessionID: "s1",
		Source: provider.SourceHint{Kind: provider.HintAlias, Value: "src"},
	})
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if !containsString(result.Warnings, `target provider "target" does not appear to be installed`) {
		t.Errorf("expected not-installed warning, got %v", result.Warnings)
	}
}

func TestConvert_DryRunWritesNothing(t *testing.T) {
	reg, _, target := newTestRegistry()
	p := New(reg)

	result, err := p.Convert(Options{
		TargetAlias: "tgt", SessionID: "s1", DryRun: true,
		Source: provider.SourceHint{Kind: provider.HintAlias, Value: "src"},
	})
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if !result.DryRun {
		t.Error("expected DryRun result")
	}
	if len(target.written) != 0 {
		t.Error("dry run must not write anything")
	}
}

func TestConvert_SameProviderNoopUnlessEnriching(t *testing.T) {
	reg, source, _ := newTestRegistry()
	p := New(reg)

	result, err := p.Convert(Options{
		TargetAlias: "src", SessionID: "s1",
		Source: provider.SourceHint{Kind: provider.HintAlias, Value: "src"},
	})
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if !result.NoopSameProvider {
		t.Error("expected same-provider no-op result")
	}
	if len(source.written) != 0 {
		t.Error("no-op conversion must not write")
	}
}

func TestConvert_SameProviderWithEnrichStillWrites(t *testing.T) {
	reg, source, _ := newTestRegistry()
	p := New(reg)

	result, err := p.Convert(Options{
		TargetAlias: "src", SessionID: "s1", Enrich: true,
		Source: provider.SourceHint{Kind: provider.HintAlias, Value: "src"},
	})
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if result.NoopSameProvider {
		t.Error("enriching same-provider conversion must not take the no-op path")
	}
	if len(source.written) != 1 {
		t.Errorf("expected one write, got %d", len(source.written))
	}
}

func TestConvert_ValidationErrorIsFatal(t *testing.T) {
	reg, source, _ := newTestRegistry()
	source.sessions["empty"] = ir.CanonicalSession{SessionID: "empty"}
	p := New(reg)

	_, err := p.Convert(Options{
		TargetAlias: "tgt", SessionID: "empty",
		Source: provider.SourceHint{Kind: provider.HintAlias, Value: "src"},
	})
	if _, ok := err.(*casrerr.ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
}

func TestReadbackMismatchDetail_MatchesToleratingBuckets(t *testing.T) {
	a := twoTurnSession("s1")
	b := a
	b.Messages = append([]ir.CanonicalMessage(nil), a.Messages...)
	b.Messages[0].Role = ir.System // same bucket as User: "user"
	if detail := readbackMismatchDetail(a, b); detail != "" {
		t.Errorf("expected tolerant match, got mismatch: %q", detail)
	}
}

func TestReadbackMismatchDetail_ContentMismatch(t *testing.T) {
	a := twoTurnSession("s1")
	b := a
	b.Messages = append([]ir.CanonicalMessage(nil), a.Messages...)
	b.Messages[0].Content = "different"
	if detail := readbackMismatchDetail(a, b); detail == "" {
		t.Error("expected a content mismatch to be detected")
	}
}

func TestReadbackMismatchDetail_CountMismatch(t *testing.T) {
	a := twoTurnSession("s1")
	b := a
	b.Messages = a.Messages[:1]
	if detail := readbackMismatchDetail(a, b); detail == "" {
		t.Error("expected a message-count mismatch to be detected")
	}
}

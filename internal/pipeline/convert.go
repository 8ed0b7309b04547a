// Package pipeline implements the conversion state machine that turns a
// session belonging to one provider into a session file for another:
// resolve the source, read it into the canonical representation, validate
// it, optionally enrich it with synthetic context, write it through the
// target codec, and verify the write by reading it back.
package pipeline

import (
	"fmt"
	"os"

	"github.com/casr-dev/casr/internal/atomicio"
	"github.com/casr-dev/casr/internal/casrerr"
	"github.com/casr-dev/casr/internal/provider"
	"github.com/casr-dev/casr/pkg/ir"
)

// Options controls one conversion run.
type Options struct {
	// TargetAlias selects the provider to convert into.
	TargetAlias string
	// SessionID is the session to convert, interpreted according to Source.
	SessionID string
	// Source names how SessionID should be resolved (path, alias, or auto).
	Source provider.SourceHint
	// Force allows overwriting an existing target file.
	Force bool
	// Enrich requests the two synthetic context messages be prepended.
	Enrich bool
	// DryRun stops after reading, validating and (if requested) enriching;
	// nothing is written.
	DryRun bool
}

// Result is the outcome of a successful conversion.
type Result struct {
	Session       ir.CanonicalSession
	Written       provider.WrittenSession
	Warnings      []string
	Info          []string
	DryRun        bool
	NoopSameProvider bool
}

// Pipeline runs conversions against a fixed provider registry.
type Pipeline struct {
	Registry *provider.Registry
}

// New returns a Pipeline backed by the given registry.
func New(registry *provider.Registry) *Pipeline {
	return &Pipeline{Registry: registry}
}

// Convert runs the nine-step conversion state machine described by the
// canonical spec: resolve target, detect target, resolve source, read
// source, validate, enrich (if requested), short-circuit for dry-run or a
// same-provider no-op, write, and verify by reading the write back.
func (p *Pipeline) Convert(opts Options) (Result, error) {
	var allWarnings, allInfo []string

	// 1. Resolve the target provider by alias.
	target, ok := p.Registry.FindByAlias(opts.TargetAlias)
	if !ok {
		return Result{}, &casrerr.UnknownProviderAlias{
			Alias: opts.TargetAlias, KnownAliases: p.Registry.KnownAliases(),
		}
	}

	// 2. Detect the target; not being installed is a warning, not fatal.
	detection := target.Detect()
	if !detection.Installed {
		allWarnings = append(allWarnings, fmt.Sprintf("target provider %q does not appear to be installed", target.Slug()))
	}

	// 3. Resolve the source session.
	resolved, err := p.Registry.ResolveSession(opts.SessionID, opts.Source)
	if err != nil {
		return Result{}, err
	}

	// 4. Read the source into the canonical representation.
	session, err := resolved.Provider.ReadSession(resolved.Path)
	if err != nil {
		return Result{}, &casrerr.SessionReadError{Path: resolved.Path, Provider: resolved.Provider.Slug(), Detail: err.Error(), Err: err}
	}

	// 5. Validate.
	validation := Validate(session)
	if validation.HasErrors() {
		return Result{}, &casrerr.ValidationError{Errors: validation.Errors, Warnings: validation.Warnings, Info: validation.Info}
	}
	allWarnings = append(allWarnings, validation.Warnings...)
	allInfo = append(allInfo, validation.Info...)

	// 6. Enrich, only if requested.
	if opts.Enrich {
		Enrich(&session, resolved.Provider.Slug(), target.Slug())
	}

	// 7a. Dry run: stop here, nothing written.
	if opts.DryRun {
		return Result{Session: session, Warnings: allWarnings, Info: allInfo, DryRun: true}, nil
	}

	// 7b. Same-provider, non-enriching conversions are a no-op.
	if resolved.Provider.Slug() == target.Slug() && !opts.Enrich {
		allWarnings = append(allWarnings, "source and target are the same provider; nothing was written")
		return Result{
			Session: session,
			Written: provider.WrittenSession{
				SessionID:     session.SessionID,
				ResumeCommand: target.ResumeCommand(session.SessionID),
			},
			Warnings:         allWarnings,
			Info:             allInfo,
			NoopSameProvider: true,
		}, nil
	}

	// 8. Write via the target codec.
	written, err := target.WriteSession(session, provider.WriteOptions{Force: opts.Force})
	if err != nil {
		return Result{}, err
	}

	// 9. Read back the first written path and verify it round-trips within
	// role-bucket tolerance.
	if len(written.Paths) > 0 {
		readback, err := target.ReadSession(written.Paths[0])
		if err != nil {
			rollbackDetail := p.rollback(written)
			return Result{}, &casrerr.VerifyFailed{
				Provider: target.Slug(), WrittenPaths: written.Paths,
				Detail: fmt.Sprintf("failed to read back written session: %v (%s)", err, rollbackDetail),
			}
		}
		if mismatch := readbackMismatchDetail(session, readback); mismatch != "" {
			rollbackDetail := p.rollback(written)
			return Result{}, &casrerr.VerifyFailed{
				Provider: target.Slug(), WrittenPaths: written.Paths,
				Detail: fmt.Sprintf("%s (%s)", mismatch, rollbackDetail),
			}
		}
	}

	return Result{Session: session, Written: written, Warnings: allWarnings, Info: allInfo}, nil
}

func (p *Pipeline) rollback(written provider.WrittenSession) string {
	outcome := atomicio.Outcome{
		TargetPath: firstOrEmpty(written.Paths),
		BackupPath: written.BackupPath,
	}
	if err := atomicio.RestoreBackup(outcome); err != nil {
		return fmt.Sprintf("rollback failed: %v", err)
	}
	for _, extra := range written.Paths[1:] {
		if err := removeIfExists(extra); err != nil {
			return fmt.Sprintf("rollback partially failed removing %s: %v", extra, err)
		}
	}
	return "rollback succeeded"
}

func firstOrEmpty(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

// readbackRoleBucket groups roles into the two buckets tolerant
// verification compares: "assistant" stays its own bucket, every other
// role (user, system, tool, or provider-specific) buckets with "user".
func readbackRoleBucket(role ir.MessageRole) string {
	if role.Equal(ir.Assistant) {
		return "assistant"
	}
	return "user"
}

// readbackMismatchDetail compares the written-then-reread session against
// the session that was written, tolerating role differences within a
// bucket, and returns a description of the first mismatch found, or ""
// when they match.
func readbackMismatchDetail(written, reread ir.CanonicalSession) string {
	if len(written.Messages) != len(reread.Messages) {
		return fmt.Sprintf("message count mismatch: wrote %d, read back %d", len(written.Messages), len(reread.Messages))
	}
	for i := range written.Messages {
		w, r := written.Messages[i], reread.Messages[i]
		if readbackRoleBucket(w.Role) != readbackRoleBucket(r.Role) {
			return fmt.Sprintf("role bucket mismatch at message %d: wrote %s, read back %s", i, w.Role.String(), r.Role.String())
		}
		if w.Content != r.Content {
			return fmt.Sprintf("content mismatch at message %d", i)
		}
	}
	return ""
}

func removeIfExists(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Package casrerr defines the typed errors returned by casr's conversion
// pipeline, each rendering the same diagnostic text a caller would build by
// hand from the failure context.
package casrerr

import (
	"fmt"
	"strings"
)

// Candidate names one provider's claim on an ambiguous session id.
type Candidate struct {
	Provider string
	Path     string
}

// SessionNotFound is returned when no provider owns the requested session.
type SessionNotFound struct {
	SessionID        string
	ProvidersChecked []string
	SessionsScanned  int
}

func (e *SessionNotFound) Error() string {
	return fmt.Sprintf(
		"session %q not found (checked %d provider(s): %s; scanned %d session file(s))",
		e.SessionID, len(e.ProvidersChecked), strings.Join(e.ProvidersChecked, ", "), e.SessionsScanned,
	)
}

// AmbiguousSessionId is returned when more than one provider owns a
// session id resolved without an explicit alias or path.
type AmbiguousSessionId struct {
	SessionID  string
	Candidates []Candidate
}

func (e *AmbiguousSessionId) Error() string {
	parts := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		parts[i] = fmt.Sprintf("%s (%s)", c.Provider, c.Path)
	}
	return fmt.Sprintf("session id %q is ambiguous across providers: %s", e.SessionID, strings.Join(parts, ", "))
}

// UnknownProviderAlias is returned when a requested alias matches no
// registered provider.
type UnknownProviderAlias struct {
	Alias        string
	KnownAliases []string
	Suggestion   string // nearest known alias by edit distance, if any
}

func (e *UnknownProviderAlias) Error() string {
	msg := fmt.Sprintf("unknown provider alias %q (known aliases: %s)", e.Alias, strings.Join(e.KnownAliases, ", "))
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" — did you mean %q?", e.Suggestion)
	}
	return msg
}

// ProviderUnavailable is returned when a provider is known but not
// detected as installed.
type ProviderUnavailable struct {
	Provider string
	Reason   string
	Evidence []string
}

func (e *ProviderUnavailable) Error() string {
	return fmt.Sprintf("provider %q unavailable: %s (evidence: %s)", e.Provider, e.Reason, strings.Join(e.Evidence, "; "))
}

// SessionReadError wraps a failure reading a session file.
type SessionReadError struct {
	Path     string
	Provider string
	Detail   string
	Err      error
}

func (e *SessionReadError) Error() string {
	return fmt.Sprintf("failed to read %s session at %s: %s", e.Provider, e.Path, e.Detail)
}

func (e *SessionReadError) Unwrap() error { return e.Err }

// SessionWriteError wraps a failure writing a session file.
type SessionWriteError struct {
	Path     string
	Provider string
	Detail   string
	Err      error
}

func (e *SessionWriteError) Error() string {
	return fmt.Sprintf("failed to write %s session at %s: %s", e.Provider, e.Path, e.Detail)
}

func (e *SessionWriteError) Unwrap() error { return e.Err }

// SessionConflict is returned when a write target already exists and the
// caller did not pass Force.
type SessionConflict struct {
	SessionID    string
	ExistingPath string
}

func (e *SessionConflict) Error() string {
	return fmt.Sprintf("session %q already exists at %s (use --force to overwrite)", e.SessionID, e.ExistingPath)
}

// ValidationError is returned when validate finds fatal issues.
type ValidationError struct {
	Errors   []string
	Warnings []string
	Info     []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("session failed validation: %s", strings.Join(e.Errors, "; "))
}

// VerifyFailed is returned when the post-write read-back check fails.
type VerifyFailed struct {
	Provider     string
	WrittenPaths []string
	Detail       string
}

func (e *VerifyFailed) Error() string {
	return fmt.Sprintf(
		"post-write verification failed for %s session (paths: %s): %s",
		e.Provider, strings.Join(e.WrittenPaths, ", "), e.Detail,
	)
}

// Package provider defines the codec contract every AI assistant transcript
// format implements, and the registry that discovers and resolves sessions
// across all registered codecs.
package provider

import (
	"github.com/casr-dev/casr/pkg/ir"
)

// DetectionResult reports whether a provider's tooling appears to be
// installed on the current machine, and why.
type DetectionResult struct {
	Installed bool
	Version   string
	Evidence  []string
}

// WriteOptions controls how a codec writes a session to disk.
type WriteOptions struct {
	// Force allows overwriting an existing target, after moving it aside
	// as a backup.
	Force bool
}

// WrittenSession describes the artifact(s) produced by a codec's write.
type WrittenSession struct {
	Paths         []string
	SessionID     string
	ResumeCommand string
	BackupPath    string // empty when no existing file was backed up
}

// Codec is the contract every provider transcript format implements: a
// name and alias for display and CLI lookup, installation detection,
// enumeration of where sessions live on disk, session ownership checks,
// and the read/write pair that moves a session into and out of the
// canonical representation.
//
// Implementations must be safe to hold concurrently as an interface value:
// no shared mutable state beyond what the codec's own methods guard.
type Codec interface {
	Name() string
	Slug() string
	CLIAlias() string
	Detect() DetectionResult
	SessionRoots() []string
	OwnsSession(sessionID string) (path string, ok bool)
	ReadSession(path string) (ir.CanonicalSession, error)
	WriteSession(session ir.CanonicalSession, opts WriteOptions) (WrittenSession, error)
	ResumeCommand(sessionID string) string
}

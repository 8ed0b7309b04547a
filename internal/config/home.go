// Package config resolves where each provider's session files live: an
// environment variable override, or a provider-specific default under the
// user's home directory. Unlike the XDG-merged JSONC config this module
// was grown alongside, casr has no persistent configuration of its own —
// conversion is stateless, so the only "config" it needs is where to look.
package config

import (
	"os"
	"path/filepath"
)

// HomeDir resolves a provider's root session directory: the given
// environment variable if set, otherwise the home directory joined with
// the given default path segments.
func HomeDir(envVar string, defaultSegments ...string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	parts := append([]string{home}, defaultSegments...)
	return filepath.Join(parts...)
}

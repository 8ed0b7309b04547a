// Package providerset wires every implemented codec into a single
// registry. It exists as its own package (rather than living in
// internal/provider) because each codec subpackage imports
// internal/provider for the Codec contract; a registry constructor that
// imports both lives one level up to avoid a cycle.
package providerset

import (
	"github.com/casr-dev/casr/internal/provider"
	"github.com/casr-dev/casr/internal/provider/claudecode"
	"github.com/casr-dev/casr/internal/provider/codex"
	"github.com/casr-dev/casr/internal/provider/factory"
	"github.com/casr-dev/casr/internal/provider/gemini"
	"github.com/casr-dev/casr/internal/provider/simple"
	"github.com/casr-dev/casr/internal/provider/vibe"
)

// Default builds a registry with every implemented codec registered.
// Registration order determines alias-lookup tie-breaking and the
// iteration order used by auto-resolution.
func Default() *provider.Registry {
	reg := provider.NewRegistry()
	reg.Register(claudecode.New())
	reg.Register(codex.New())
	reg.Register(gemini.New())
	reg.Register(factory.New())
	reg.Register(vibe.New())
	for _, c := range simple.Providers() {
		reg.Register(c)
	}
	return reg
}

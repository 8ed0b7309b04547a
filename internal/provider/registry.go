package provider

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/casr-dev/casr/internal/casrerr"
)

// SourceHintKind distinguishes the three ways a conversion source can be
// named on the command line.
type SourceHintKind int

const (
	// HintAuto means no hint was given: every installed provider is
	// asked whether it owns the session id.
	HintAuto SourceHintKind = iota
	// HintPath means the value names a file on disk directly.
	HintPath
	// HintAlias means the value names a provider alias, and the session
	// id must be looked up only within that provider.
	HintAlias
)

// SourceHint captures how the caller identified the session to convert.
type SourceHint struct {
	Kind  SourceHintKind
	Value string // path or alias; empty when Kind == HintAuto
}

// ParseSourceHint classifies a raw --source value the way the original
// CLI parser does: anything containing a path separator, or starting
// with '.', '~', or '/', is a path; everything else is an alias.
func ParseSourceHint(value string) SourceHint {
	if value == "" {
		return SourceHint{Kind: HintAuto}
	}
	if strings.ContainsRune(value, filepath.Separator) ||
		strings.HasPrefix(value, ".") || strings.HasPrefix(value, "~") || strings.HasPrefix(value, "/") {
		expanded := value
		if strings.HasPrefix(value, "~/") {
			if home, err := os.UserHomeDir(); err == nil {
				expanded = filepath.Join(home, value[2:])
			}
		}
		return SourceHint{Kind: HintPath, Value: expanded}
	}
	return SourceHint{Kind: HintAlias, Value: value}
}

// ResolvedSession is the outcome of resolving a session id (or path) to a
// concrete provider and file.
type ResolvedSession struct {
	Provider Codec
	Path     string
}

// Registry holds the ordered set of codecs casr knows about. Order is
// significant: it is the order candidates are returned in ambiguous
// resolution and the order providers are listed in.
type Registry struct {
	mu     sync.RWMutex
	codecs []Codec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a codec to the registry.
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs = append(r.codecs, c)
}

// All returns every registered codec, in registration order.
func (r *Registry) All() []Codec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Codec, len(r.codecs))
	copy(out, r.codecs)
	return out
}

// FindBySlug looks up a codec by its canonical slug.
func (r *Registry) FindBySlug(slug string) (Codec, bool) {
	for _, c := range r.All() {
		if c.Slug() == slug {
			return c, true
		}
	}
	return nil, false
}

// FindByAlias looks up a codec by CLI alias or slug (aliases are typically
// shorter nicknames, but the slug always works too).
func (r *Registry) FindByAlias(alias string) (Codec, bool) {
	for _, c := range r.All() {
		if c.CLIAlias() == alias || c.Slug() == alias {
			return c, true
		}
	}
	return nil, false
}

// KnownAliases returns every registered codec's CLI alias, for error
// messages.
func (r *Registry) KnownAliases() []string {
	var out []string
	for _, c := range r.All() {
		out = append(out, c.CLIAlias())
	}
	sort.Strings(out)
	return out
}

// ProviderStatus is the detection result for one registered codec.
type ProviderStatus struct {
	Name      string
	Slug      string
	Installed bool
	Evidence  []string
}

// DetectAll runs Detect on every registered codec.
func (r *Registry) DetectAll() []ProviderStatus {
	var out []ProviderStatus
	for _, c := range r.All() {
		d := c.Detect()
		out = append(out, ProviderStatus{Name: c.Name(), Slug: c.Slug(), Installed: d.Installed, Evidence: d.Evidence})
	}
	return out
}

// InstalledProviders returns every codec whose Detect reports installed.
func (r *Registry) InstalledProviders() []Codec {
	var out []Codec
	for _, c := range r.All() {
		if c.Detect().Installed {
			out = append(out, c)
		}
	}
	return out
}

// SessionSummary is cheap, best-effort metadata about a discovered
// session file, without a full parse.
type SessionSummary struct {
	SessionID string
	Path      string
}

// ListSessions walks one provider's session roots and returns every
// session file found there, identified by its owning-check only (no full
// parse) — callers wanting titles/timestamps must ReadSession themselves.
func (r *Registry) ListSessions(slug string) ([]SessionSummary, error) {
	c, ok := r.FindBySlug(slug)
	if !ok {
		return nil, &casrerr.UnknownProviderAlias{Alias: slug, KnownAliases: r.KnownAliases()}
	}
	var out []SessionSummary
	seen := make(map[string]bool)
	for _, root := range c.SessionRoots() {
		fsys := os.DirFS(root)
		var matches []string
		for _, pattern := range []string{"**/*.json", "**/*.jsonl"} {
			found, err := doublestar.Glob(fsys, pattern)
			if err != nil {
				continue
			}
			matches = append(matches, found...)
		}
		for _, match := range matches {
			name := filepath.Base(match)
			candidateID := strings.TrimSuffix(name, filepath.Ext(name))
			if seen[candidateID] {
				continue
			}
			if path, ok := c.OwnsSession(candidateID); ok {
				seen[candidateID] = true
				out = append(out, SessionSummary{SessionID: candidateID, Path: path})
			}
		}
	}
	return out, nil
}

// ResolveSession resolves a conversion source to a concrete provider and
// path, following the three-mode algorithm: an explicit path is matched
// against each codec's session roots; an explicit alias is looked up
// directly and then asked to own the id; no hint means every installed
// codec is asked, and more than one match is ambiguous.
func (r *Registry) ResolveSession(sessionID string, hint SourceHint) (ResolvedSession, error) {
	switch hint.Kind {
	case HintPath:
		return r.resolveFromPath(sessionID, hint.Value)
	case HintAlias:
		return r.resolveWithAlias(sessionID, hint.Value)
	default:
		return r.resolveAuto(sessionID)
	}
}

func (r *Registry) resolveFromPath(sessionID, path string) (ResolvedSession, error) {
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		for _, c := range r.All() {
			for _, root := range c.SessionRoots() {
				rootAbs, err := filepath.Abs(root)
				if err != nil {
					continue
				}
				if strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) || abs == rootAbs {
					return ResolvedSession{Provider: c, Path: path}, nil
				}
			}
		}
		// No provider's roots contain this path; fall back to the first
		// installed provider so an explicit file path still works.
		installed := r.InstalledProviders()
		if len(installed) > 0 {
			return ResolvedSession{Provider: installed[0], Path: path}, nil
		}
	}
	return ResolvedSession{}, &casrerr.SessionNotFound{SessionID: sessionID, ProvidersChecked: r.slugs()}
}

func (r *Registry) resolveWithAlias(sessionID, alias string) (ResolvedSession, error) {
	c, ok := r.FindByAlias(alias)
	if !ok {
		return ResolvedSession{}, &casrerr.UnknownProviderAlias{
			Alias: alias, KnownAliases: r.KnownAliases(), Suggestion: r.nearestAlias(alias),
		}
	}
	path, ok := c.OwnsSession(sessionID)
	if !ok {
		return ResolvedSession{}, &casrerr.SessionNotFound{SessionID: sessionID, ProvidersChecked: []string{c.Slug()}}
	}
	return ResolvedSession{Provider: c, Path: path}, nil
}

func (r *Registry) resolveAuto(sessionID string) (ResolvedSession, error) {
	installed := r.InstalledProviders()
	var matches []ResolvedSession
	scanned := 0
	for _, c := range installed {
		scanned++
		if path, ok := c.OwnsSession(sessionID); ok {
			matches = append(matches, ResolvedSession{Provider: c, Path: path})
		}
	}

	switch len(matches) {
	case 0:
		checked := make([]string, len(installed))
		for i, c := range installed {
			checked[i] = c.Slug()
		}
		return ResolvedSession{}, &casrerr.SessionNotFound{
			SessionID: sessionID, ProvidersChecked: checked, SessionsScanned: scanned,
		}
	case 1:
		return matches[0], nil
	default:
		candidates := make([]casrerr.Candidate, len(matches))
		for i, m := range matches {
			candidates[i] = casrerr.Candidate{Provider: m.Provider.Slug(), Path: m.Path}
		}
		return ResolvedSession{}, &casrerr.AmbiguousSessionId{SessionID: sessionID, Candidates: candidates}
	}
}

func (r *Registry) slugs() []string {
	var out []string
	for _, c := range r.All() {
		out = append(out, c.Slug())
	}
	return out
}

// nearestAlias returns the known alias closest to the given one by edit
// distance, as a "did you mean" suggestion. Returns "" when nothing is
// within a reasonable distance.
func (r *Registry) nearestAlias(alias string) string {
	best := ""
	bestDist := 3 // anything farther than this is not a useful suggestion
	for _, known := range r.KnownAliases() {
		d := levenshtein.ComputeDistance(alias, known)
		if d < bestDist {
			bestDist = d
			best = known
		}
	}
	return best
}

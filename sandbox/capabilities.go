package sandbox

import (
	"path/filepath"

	"github.com/deckrun/deckrun/perm"
)

// TrustedDirs names the host-trusted directories bootstrap reads may be
// widened into: the built-in schema/snippet directories and the worker
// entry modules shipped with the host. Apart from the deck's own
// directory, nothing outside these (or outside the invocation's own
// effective read scope) is ever added.
type TrustedDirs struct {
	SchemaDir    string
	SnippetDir   string
	EntryModules []string
}

func (t TrustedDirs) roots() []string {
	var roots []string
	if t.SchemaDir != "" {
		roots = append(roots, t.SchemaDir)
	}
	if t.SnippetDir != "" {
		roots = append(roots, t.SnippetDir)
	}
	roots = append(roots, t.EntryModules...)
	return roots
}

// DeriveCapabilities computes the permission set handed to a worker: the
// invocation's effective permissions, widened on the read side only to
// cover the deck's own directory, its bootstrap import graph, and the
// host-trusted directories — and only where those imports resolve inside a
// host-trusted directory or already inside the effective read scope.
// Run/net/env grants never widen; an untrusted import resolving outside
// both the trusted directories and the effective read scope is refused
// (simply omitted) rather than granted.
func DeriveCapabilities(effective perm.EffectivePermissions, deckDir string, imports []string, trusted TrustedDirs) perm.EffectivePermissions {
	out := effective

	if out.Read.All {
		return out
	}
	if out.Read.Paths == nil {
		out.Read.Paths = map[string]struct{}{}
	} else {
		widened := make(map[string]struct{}, len(out.Read.Paths))
		for p := range out.Read.Paths {
			widened[p] = struct{}{}
		}
		out.Read.Paths = widened
	}

	out.Read.Paths[filepath.Clean(deckDir)] = struct{}{}

	trustedRoots := trusted.roots()
	checker := perm.Checker{Perm: effective}
	for _, spec := range imports {
		candidate := spec
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(deckDir, candidate)
		}
		candidate = filepath.Clean(candidate)

		if allowed, _ := checker.CanReadPath(candidate); allowed {
			continue // already inside effective read scope
		}
		if withinAny(candidate, trustedRoots) {
			out.Read.Paths[candidate] = struct{}{}
		}
		// otherwise refused: not added to the worker's read scope
	}
	for _, root := range trustedRoots {
		out.Read.Paths[filepath.Clean(root)] = struct{}{}
	}

	return out
}

func withinAny(target string, roots []string) bool {
	for _, root := range roots {
		root = filepath.Clean(root)
		if target == root {
			return true
		}
		rel, err := filepath.Rel(root, target)
		if err != nil {
			continue
		}
		if rel != ".." && !hasDotDotPrefix(rel) {
			return true
		}
	}
	return false
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.'
}

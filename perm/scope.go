// Package perm implements the capability lattice described in spec.md §4.3:
// five scopes (read, write, net, env, run) anchored to a base_dir, composed
// by left-fold intersection across parent/workspace/declaration/reference/
// session layers so that the result is always a lower-or-equal bound of
// every input layer. Grounded in the allow/block-list filtering idiom of
// _examples/goadesign-goa-ai/features/policy/basic/engine.go, generalized
// from a tool-name allowlist to a five-scope path/command lattice.
package perm

// PathScope is either "all" or a set of absolute, normalized paths.
type PathScope struct {
	All   bool
	Paths map[string]struct{}
}

// AllPathScope returns the universal path scope.
func AllPathScope() PathScope { return PathScope{All: true} }

// NewPathScope builds a path scope from a set of paths (already resolved to
// absolute form by the caller — see Declaration.Normalize).
func NewPathScope(paths ...string) PathScope {
	s := PathScope{Paths: make(map[string]struct{}, len(paths))}
	for _, p := range paths {
		s.Paths[p] = struct{}{}
	}
	return s
}

// Intersect implements "scope ∩ scope" from spec.md §4.3: if either side is
// all, the result equals the other side; otherwise the result is the set
// intersection.
func (s PathScope) Intersect(other PathScope) PathScope {
	if s.All {
		return other
	}
	if other.All {
		return s
	}
	out := PathScope{Paths: make(map[string]struct{})}
	for p := range s.Paths {
		if _, ok := other.Paths[p]; ok {
			out.Paths[p] = struct{}{}
		}
	}
	return out
}

// IsEmpty reports whether the scope grants nothing.
func (s PathScope) IsEmpty() bool { return !s.All && len(s.Paths) == 0 }

// RunScope splits run grants into executable-path grants and bare
// command-name grants, both narrowed independently (spec.md §4.3:
// "run ∩ run: componentwise on paths and commands").
type RunScope struct {
	All      bool
	Paths    map[string]struct{}
	Commands map[string]struct{}
}

// AllRunScope returns the universal run scope.
func AllRunScope() RunScope { return RunScope{All: true} }

// NewRunScope builds a run scope from explicit path and command grants.
func NewRunScope(paths, commands []string) RunScope {
	s := RunScope{Paths: make(map[string]struct{}, len(paths)), Commands: make(map[string]struct{}, len(commands))}
	for _, p := range paths {
		s.Paths[p] = struct{}{}
	}
	for _, c := range commands {
		s.Commands[c] = struct{}{}
	}
	return s
}

// Intersect implements componentwise run-scope narrowing.
func (s RunScope) Intersect(other RunScope) RunScope {
	if s.All {
		return other
	}
	if other.All {
		return s
	}
	out := RunScope{Paths: make(map[string]struct{}), Commands: make(map[string]struct{})}
	for p := range s.Paths {
		if _, ok := other.Paths[p]; ok {
			out.Paths[p] = struct{}{}
		}
	}
	for c := range s.Commands {
		if _, ok := other.Commands[c]; ok {
			out.Commands[c] = struct{}{}
		}
	}
	return out
}

// IsEmpty reports whether the run scope grants nothing.
func (s RunScope) IsEmpty() bool {
	return !s.All && len(s.Paths) == 0 && len(s.Commands) == 0
}

package perm

// Declaration is the unresolved, possibly-relative permission grant as
// written in a deck's `permissions` block or an action reference's
// narrowing override. Normalize anchors it to an absolute base_dir,
// producing an EffectivePermissions-shaped Layer.
type Declaration struct {
	Read  []string // paths, or nil for none; use ReadAll for "all"
	Write []string
	Net   []string
	Env   []string

	ReadAll, WriteAll, NetAll, EnvAll bool

	RunAll     bool
	RunPaths   []string
	RunCommands []string
}

// Layer is a Declaration resolved against a base_dir: every relative path
// grant has been made absolute exactly once, per spec.md §4.3
// ("Path scopes store absolute paths (relative grants resolved once at
// normalization)").
type Layer struct {
	BaseDir string
	Read    PathScope
	Write   PathScope
	Net     PathScope
	Env     PathScope
	Run     RunScope
}

// Normalize resolves d against baseDir, returning a Layer with absolute
// path scopes. resolveAbs is injected so callers can use the host
// filesystem's Abs/Clean (Resolver passes resolveAgainstBase from
// checks.go for the declaration layer) without this package
// depending on a concrete filesystem implementation.
func (d Declaration) Normalize(baseDir string, resolveAbs func(base, p string) string) Layer {
	toScope := func(all bool, paths []string) PathScope {
		if all {
			return AllPathScope()
		}
		abs := make([]string, len(paths))
		for i, p := range paths {
			abs[i] = resolveAbs(baseDir, p)
		}
		return NewPathScope(abs...)
	}
	run := AllRunScope()
	if !d.RunAll {
		absPaths := make([]string, len(d.RunPaths))
		for i, p := range d.RunPaths {
			absPaths[i] = resolveAbs(baseDir, p)
		}
		run = NewRunScope(absPaths, d.RunCommands)
	}
	return Layer{
		BaseDir: baseDir,
		Read:    toScope(d.ReadAll, d.Read),
		Write:   toScope(d.WriteAll, d.Write),
		Net:     toScope(d.NetAll, d.Net),
		Env:     toScope(d.EnvAll, d.Env),
		Run:     run,
	}
}

// AllowAll returns the host allow-all Layer used as the root layer for
// top-level invocations (spec.md §4.3 layer 1, "host allow-all for root
// invocations").
func AllowAll(baseDir string) Layer {
	return Layer{
		BaseDir: baseDir,
		Read:    AllPathScope(),
		Write:   AllPathScope(),
		Net:     AllPathScope(),
		Env:     AllPathScope(),
		Run:     AllRunScope(),
	}
}

// Intersect composes two layers anchored to the same invocation, keeping
// the child's base_dir (the later layer in the fold always carries the
// base_dir that matters for the invocation being resolved).
func (l Layer) Intersect(other Layer) Layer {
	return Layer{
		BaseDir: other.BaseDir,
		Read:    l.Read.Intersect(other.Read),
		Write:   l.Write.Intersect(other.Write),
		Net:     l.Net.Intersect(other.Net),
		Env:     l.Env.Intersect(other.Env),
		Run:     l.Run.Intersect(other.Run),
	}
}

package perm

// EffectivePermissions is the resolved capability tuple for a single
// invocation: the left-fold intersection of every applicable layer,
// anchored to BaseDir. Construction never widens relative to any input
// layer (the Monotonic-permissions invariant of spec.md §8).
type EffectivePermissions struct {
	BaseDir string
	Read    PathScope
	Write   PathScope
	Net     PathScope
	Env     PathScope
	Run     RunScope
}

// LayerTrace records one application of the fold, for attachment to the
// run.start trace event (spec.md §4.3: "Each application emits a
// PermissionLayerTrace carrying the requested set and the resulting
// effective set").
type LayerTrace struct {
	Layer     string // "parent" | "workspace" | "declaration" | "reference" | "session"
	Requested Layer
	Effective EffectivePermissions
}

// Resolver computes EffectivePermissions for one invocation by folding the
// layers in the fixed order mandated by spec.md §4.3: parent (or host
// allow-all for root), workspace (root only), declaration, reference
// (narrowing only), session (root only). Layers that are absent for a
// given invocation (e.g. workspace/session on a non-root invocation) are
// simply omitted from the fold — omission can never widen the result
// because the fold only ever intersects.
type Resolver struct{}

// Input groups the layers available for one invocation. Nil pointers mean
// "this layer is absent for this invocation" (e.g. Workspace/Session are
// nil below root).
type Input struct {
	Parent      *Layer // nil at the root: replaced by host allow-all
	Workspace   *Layer
	Declaration Declaration
	Reference   *Layer
	Session     *Layer
	BaseDir     string
}

// Resolve folds Input's layers in order and returns both the
// EffectivePermissions and the ordered trace of each application.
func (Resolver) Resolve(in Input) (EffectivePermissions, []LayerTrace) {
	var traces []LayerTrace
	cur := in.Parent
	if cur == nil {
		hostAllowAll := AllowAll(in.BaseDir)
		cur = &hostAllowAll
	} else {
		c := *cur
		c.BaseDir = in.BaseDir
		cur = &c
	}
	traces = append(traces, LayerTrace{Layer: "parent", Requested: *cur, Effective: toEffective(*cur)})

	apply := func(name string, l *Layer) {
		if l == nil {
			return
		}
		next := cur.Intersect(*l)
		cur = &next
		traces = append(traces, LayerTrace{Layer: name, Requested: *l, Effective: toEffective(*cur)})
	}

	apply("workspace", in.Workspace)
	decl := in.Declaration.Normalize(in.BaseDir, resolveAgainstBase)
	apply("declaration", &decl)
	apply("reference", in.Reference)
	apply("session", in.Session)

	return toEffective(*cur), traces
}

func toEffective(l Layer) EffectivePermissions {
	return EffectivePermissions{
		BaseDir: l.BaseDir,
		Read:    l.Read,
		Write:   l.Write,
		Net:     l.Net,
		Env:     l.Env,
		Run:     l.Run,
	}
}

// AsLayer views an EffectivePermissions as a Layer, so it can be fed back in
// as the "parent" layer of a descendant invocation.
func (e EffectivePermissions) AsLayer() Layer {
	return Layer{BaseDir: e.BaseDir, Read: e.Read, Write: e.Write, Net: e.Net, Env: e.Env, Run: e.Run}
}

// SubsetOf reports whether e is componentwise a subset of (or equal to)
// other — the Monotonic-permissions invariant of spec.md §8, exposed
// directly so property tests can assert it across arbitrary layer stacks.
func (e EffectivePermissions) SubsetOf(other EffectivePermissions) bool {
	return pathSubset(e.Read, other.Read) &&
		pathSubset(e.Write, other.Write) &&
		pathSubset(e.Net, other.Net) &&
		pathSubset(e.Env, other.Env) &&
		runSubset(e.Run, other.Run)
}

func pathSubset(a, b PathScope) bool {
	if b.All {
		return true
	}
	if a.All {
		return false
	}
	for p := range a.Paths {
		if _, ok := b.Paths[p]; !ok {
			return false
		}
	}
	return true
}

func runSubset(a, b RunScope) bool {
	if b.All {
		return true
	}
	if a.All {
		return false
	}
	for p := range a.Paths {
		if _, ok := b.Paths[p]; !ok {
			return false
		}
	}
	for c := range a.Commands {
		if _, ok := b.Commands[c]; !ok {
			return false
		}
	}
	return true
}

package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/deckrun/deckrun/deckerr"
)

// reservedSchemaNamespace is the built-in schema import namespace spec.md
// §4.1 step 3 refers to: a workspace config may never remap it to a local
// path without tripping the trusted-schema namespace policy.
const reservedSchemaNamespace = "gambit/schema"

// workspaceConfigFileName is the file checkNamespacePolicy looks for while
// walking BaseDir's ancestry.
const workspaceConfigFileName = "gambit.workspace.yaml"

// workspaceConfig is the parsed shape of a gambit.workspace.yaml file: a
// project-wide import map from namespace prefix to local directory,
// analogous to a Go workspace's replace directives but for deck imports.
type workspaceConfig struct {
	ImportMap map[string]string `yaml:"import_map"`
}

// findWorkspaceConfig walks dir and its parents looking for
// workspaceConfigFileName, returning the first one found and the directory
// it was found in. A missing file at every level yields (nil, "", nil) —
// the absence of a workspace config is not an error.
func findWorkspaceConfig(dir string) (*workspaceConfig, string, error) {
	for {
		path := filepath.Join(dir, workspaceConfigFileName)
		data, err := os.ReadFile(path)
		if err == nil {
			var cfg workspaceConfig
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, "", fmt.Errorf("parsing %s: %w", path, err)
			}
			return &cfg, dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, "", nil
		}
		dir = parent
	}
}

// checkNamespacePolicy implements spec.md §4.1 step 3, the trusted-schema
// namespace policy: walk BaseDir's parent directories searching for a
// workspace config; if one maps the reserved schema namespace to a local
// path, the workspace is attempting to shadow trusted, built-in schema
// imports with untrusted local code, which is a trust-boundary violation
// and must fail the run before any deck code executes.
func checkNamespacePolicy(baseDir string) error {
	if baseDir == "" {
		return nil
	}
	cfg, foundDir, err := findWorkspaceConfig(baseDir)
	if err != nil || cfg == nil {
		// A missing or unreadable workspace config is not a policy
		// violation; a malformed one is treated the same as absent since
		// it cannot be trusted to express a remap either way.
		return nil
	}
	localPath, shadowed := cfg.ImportMap[reservedSchemaNamespace]
	if !shadowed {
		return nil
	}
	return deckerr.New(deckerr.Policy, 403, "namespace_shadow_rejected",
		fmt.Sprintf("workspace config at %s remaps reserved namespace %q to local path %q",
			filepath.Join(foundDir, workspaceConfigFileName), reservedSchemaNamespace, localPath))
}

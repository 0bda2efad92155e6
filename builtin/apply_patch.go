package builtin

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/deckrun/deckrun/perm"
)

// PatchEdit is one edit applied by apply_patch.
type PatchEdit struct {
	OldText    string `json:"old_text"`
	NewText    string `json:"new_text"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

// ApplyPatchArgs is the input to apply_patch.
type ApplyPatchArgs struct {
	Path            string      `json:"path"`
	Edits           []PatchEdit `json:"edits"`
	CreateIfMissing bool        `json:"create_if_missing,omitempty"`
}

// ApplyPatchPayload is the successful payload of apply_patch.
type ApplyPatchPayload struct {
	Path    string `json:"path"`
	Applied int    `json:"applied"`
	Created bool   `json:"created"`
}

// ApplyPatch implements apply_patch(path, edits, create_if_missing?):
// requires write (and read to load existing content). Edits are applied
// sequentially; each either replaces the first occurrence or all
// occurrences.
func ApplyPatch(checker perm.Checker, args ApplyPatchArgs) Envelope {
	if writeOK, err := checker.CanWritePath(args.Path); err != nil {
		return Envelope{Status: 500, Code: "io_error", Message: err.Error()}
	} else if !writeOK {
		return denied("write denied: " + args.Path)
	}

	if _, statErr := os.Stat(args.Path); statErr == nil {
		if readOK, rErr := checker.CanReadPath(args.Path); rErr != nil {
			return Envelope{Status: 500, Code: "io_error", Message: rErr.Error()}
		} else if !readOK {
			return denied("read denied: " + args.Path)
		}
	}

	created := false
	raw, err := os.ReadFile(args.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Envelope{Status: 500, Code: "io_error", Message: err.Error()}
		}
		if !args.CreateIfMissing {
			return Envelope{Status: 404, Code: "not_found", Message: args.Path}
		}
		if readOK, rErr := checker.CanReadPath(filepath.Dir(args.Path)); rErr == nil && !readOK {
			return denied("read denied for parent of: " + args.Path)
		}
		created = true
		raw = nil
	}

	content := string(raw)
	applied := 0
	for _, edit := range args.Edits {
		if edit.OldText == "" {
			if created || content == "" {
				content += edit.NewText
				applied++
			}
			continue
		}
		if !strings.Contains(content, edit.OldText) {
			continue
		}
		if edit.ReplaceAll {
			content = strings.ReplaceAll(content, edit.OldText, edit.NewText)
		} else {
			content = strings.Replace(content, edit.OldText, edit.NewText, 1)
		}
		applied++
	}

	if applied == 0 && !created {
		return Envelope{Status: 409, Code: "no_changes"}
	}

	if created {
		if err := os.MkdirAll(filepath.Dir(args.Path), 0o755); err != nil {
			return Envelope{Status: 500, Code: "io_error", Message: err.Error()}
		}
	}
	if err := os.WriteFile(args.Path, []byte(content), 0o644); err != nil {
		return Envelope{Status: 500, Code: "io_error", Message: err.Error()}
	}

	return Envelope{Payload: ApplyPatchPayload{Path: args.Path, Applied: applied, Created: created}}
}

package builtin

import (
	"os"
	"path/filepath"

	"github.com/deckrun/deckrun/perm"
)

const (
	defaultMaxEntries = 200
	maxMaxEntries      = 2000
)

// ListDirArgs is the input to list_dir.
type ListDirArgs struct {
	Path       string `json:"path"`
	Recursive  bool   `json:"recursive,omitempty"`
	MaxEntries *int   `json:"max_entries,omitempty"`
}

// DirEntry describes one entry returned by list_dir.
type DirEntry struct {
	Path string `json:"path"`
	Type string `json:"type"` // "file" | "dir" | "symlink"
}

// ListDirPayload is the successful payload of list_dir.
type ListDirPayload struct {
	Entries   []DirEntry `json:"entries"`
	Truncated bool       `json:"truncated"`
}

// ListDir implements list_dir(path, recursive?, max_entries?): requires
// read for each visited entry, entries without read access are skipped
// silently.
func ListDir(checker perm.Checker, args ListDirArgs) Envelope {
	ok, err := checker.CanReadPath(args.Path)
	if err != nil {
		return Envelope{Status: 500, Code: "io_error", Message: err.Error()}
	}
	if !ok {
		return denied("read denied: " + args.Path)
	}

	max := defaultMaxEntries
	if args.MaxEntries != nil {
		max = *args.MaxEntries
	}
	if max > maxMaxEntries {
		max = maxMaxEntries
	}

	var entries []DirEntry
	truncated := false

	var walk func(dir string) error
	walk = func(dir string) error {
		dirEntries, err := os.ReadDir(dir)
		if err != nil {
			return nil // unreadable directory: skip silently
		}
		for _, de := range dirEntries {
			if len(entries) >= max {
				truncated = true
				return nil
			}
			full := filepath.Join(dir, de.Name())
			if readable, _ := checker.CanReadPath(full); !readable {
				continue
			}
			kind := "file"
			info, err := os.Lstat(full)
			if err == nil && info.Mode()&os.ModeSymlink != 0 {
				kind = "symlink"
			} else if de.IsDir() {
				kind = "dir"
			}
			entries = append(entries, DirEntry{Path: full, Type: kind})
			if kind == "dir" && args.Recursive {
				if err := walk(full); err != nil {
					return err
				}
			}
		}
		return nil
	}
	_ = walk(args.Path)

	return Envelope{Payload: ListDirPayload{Entries: entries, Truncated: truncated}}
}

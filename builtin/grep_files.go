package builtin

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"

	"github.com/deckrun/deckrun/perm"
)

const defaultMaxMatches = 200

// GrepFilesArgs is the input to grep_files.
type GrepFilesArgs struct {
	Path       string `json:"path"`
	Query      string `json:"query"`
	MaxMatches *int   `json:"max_matches,omitempty"`
}

// GrepMatch is one match returned by grep_files.
type GrepMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// GrepFilesPayload is the successful payload of grep_files.
type GrepFilesPayload struct {
	Matches   []GrepMatch `json:"matches"`
	Truncated bool        `json:"truncated"`
}

// GrepFiles implements grep_files(path, query, max_matches?): requires
// read; compiles query as a regular expression, walks files under path
// skipping unreadable ones.
func GrepFiles(checker perm.Checker, args GrepFilesArgs) Envelope {
	ok, err := checker.CanReadPath(args.Path)
	if err != nil {
		return Envelope{Status: 500, Code: "io_error", Message: err.Error()}
	}
	if !ok {
		return denied("read denied: " + args.Path)
	}

	re, err := regexp.Compile(args.Query)
	if err != nil {
		return Envelope{Status: 400, Code: "invalid_regex", Message: err.Error()}
	}

	max := defaultMaxMatches
	if args.MaxMatches != nil {
		max = *args.MaxMatches
	}

	var matches []GrepMatch
	truncated := false

	err = filepath.WalkDir(args.Path, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable path: skip
		}
		if len(matches) >= max {
			truncated = true
			return filepath.SkipAll
		}
		if d.IsDir() {
			if readable, _ := checker.CanReadPath(path); !readable {
				return filepath.SkipDir
			}
			return nil
		}
		if readable, _ := checker.CanReadPath(path); !readable {
			return nil
		}
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			if len(matches) >= max {
				truncated = true
				break
			}
			line := scanner.Text()
			if re.MatchString(line) {
				matches = append(matches, GrepMatch{Path: path, Line: lineNo, Text: line})
			}
		}
		return nil
	})
	if err != nil {
		return Envelope{Status: 500, Code: "io_error", Message: err.Error()}
	}

	return Envelope{Payload: GrepFilesPayload{Matches: matches, Truncated: truncated}}
}

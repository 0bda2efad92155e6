package builtin

import (
	"bufio"
	"os"

	"github.com/deckrun/deckrun/perm"
)

const defaultReadLines = 400

// ReadFileArgs is the input to read_file.
type ReadFileArgs struct {
	Path      string `json:"path"`
	StartLine *int   `json:"start_line,omitempty"`
	EndLine   *int   `json:"end_line,omitempty"`
}

// ReadFilePayload is the successful payload of read_file.
type ReadFilePayload struct {
	Path       string `json:"path"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
	TotalLines int    `json:"total_lines"`
	Content    string `json:"content"`
}

// ReadFile implements read_file(path, start_line?, end_line?): requires
// read, slices default to the first 400 lines.
func ReadFile(checker perm.Checker, args ReadFileArgs) Envelope {
	ok, err := checker.CanReadPath(args.Path)
	if err != nil {
		return Envelope{Status: 500, Code: "io_error", Message: err.Error()}
	}
	if !ok {
		return denied("read denied: " + args.Path)
	}

	f, err := os.Open(args.Path)
	if err != nil {
		return Envelope{Status: 404, Code: "not_found", Message: err.Error()}
	}
	defer f.Close()

	start := 1
	if args.StartLine != nil {
		start = *args.StartLine
	}
	end := start + defaultReadLines - 1
	if args.EndLine != nil {
		end = *args.EndLine
	} else if args.StartLine == nil {
		end = defaultReadLines
	}

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo >= start && lineNo <= end {
			lines = append(lines, scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		return Envelope{Status: 500, Code: "io_error", Message: err.Error()}
	}

	content := ""
	for i, l := range lines {
		if i > 0 {
			content += "\n"
		}
		content += l
	}

	return Envelope{Payload: ReadFilePayload{
		Path:       args.Path,
		StartLine:  start,
		EndLine:    end,
		TotalLines: lineNo,
		Content:    content,
	}}
}

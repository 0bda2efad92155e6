package builtin

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/deckrun/deckrun/perm"
)

const maxOutputBytes = 64 * 1024

// ExecArgs is the input to exec.
type ExecArgs struct {
	Command   string   `json:"command"`
	Args      []string `json:"args,omitempty"`
	Cwd       string   `json:"cwd,omitempty"`
	TimeoutMS *int     `json:"timeout_ms,omitempty"`
}

// ExecPayload is the payload of exec, populated whether or not the
// process succeeded (success is reported in Success/Code, not via the
// envelope's status).
type ExecPayload struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Cwd     string   `json:"cwd"`
	Code    int      `json:"code"`
	Success bool     `json:"success"`
	Stdout  string   `json:"stdout"`
	Stderr  string   `json:"stderr"`
}

// Exec implements exec(command, args?, cwd?, timeout_ms?): requires
// can_run_command(command) or can_run_path(command). Enforces timeout =
// min(timeout_ms, remaining_deadline); aborts via ctx on timeout or outer
// cancellation; truncates stdout/stderr to 64 KiB.
func Exec(ctx context.Context, checker perm.Checker, args ExecArgs, remaining time.Duration) Envelope {
	canRun := checker.CanRunCommand(args.Command)
	if !canRun {
		ok, err := checker.CanRunPath(args.Command)
		if err != nil {
			return Envelope{Status: 500, Code: "io_error", Message: err.Error()}
		}
		canRun = ok
	}
	if !canRun {
		return denied("run denied: " + args.Command)
	}

	timeout := remaining
	if args.TimeoutMS != nil {
		requested := time.Duration(*args.TimeoutMS) * time.Millisecond
		if requested < timeout || timeout <= 0 {
			timeout = requested
		}
	}
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, args.Command, args.Args...)
	if args.Cwd != "" {
		cmd.Dir = args.Cwd
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	code := 0
	success := runErr == nil
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if runErr != nil {
		code = -1
	}

	return Envelope{Payload: ExecPayload{
		Command: args.Command,
		Args:    args.Args,
		Cwd:     args.Cwd,
		Code:    code,
		Success: success,
		Stdout:  truncate(stdout.String(), maxOutputBytes),
		Stderr:  truncate(stderr.String(), maxOutputBytes),
	}}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// UnsupportedHost returns the envelope returned when the host cannot
// launch subprocesses at all.
func UnsupportedHost() Envelope {
	return Envelope{Status: 501, Code: "exec_unsupported_host"}
}

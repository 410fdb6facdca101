package model

import "time"

// Command is a fully resolved shell invocation for one `run:` step: all
// `${{ }}` expressions are already interpolated and the environment is the
// merged OS < workflow < job < step < matrix layering.
type Command struct {
	Script  string
	Shell   string // "sh" (default) or "bash"
	Dir     string
	Env     []string // "KEY=VALUE" entries, complete environment
	Timeout time.Duration
}

// CommandResult is the observed outcome of a Command. A non-zero exit code
// is a step failure, not an infrastructure error; executor errors are
// reserved for failures to start the process at all.
type CommandResult struct {
	ExitCode int
	TimedOut bool
	Output   string // interleaved stdout+stderr, bounded tail
	Duration time.Duration
}

package exec

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"time"

	"github.com/m-mizutani/drover/pkg/domain/interfaces"
	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/drover/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
)

// Executor runs step commands through a local shell.
type Executor struct {
	tailLimit int
}

var _ interfaces.StepExecutor = (*Executor)(nil)

// Option is a functional option for Executor configuration
type Option func(*Executor)

// WithTailLimit overrides the retained output size in bytes.
func WithTailLimit(n int) Option {
	return func(e *Executor) {
		e.tailLimit = n
	}
}

// New creates a shell Executor.
func New(opts ...Option) *Executor {
	e := &Executor{
		tailLimit: types.OutputTailLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// shellArgs maps a shell name to its invocation. bash runs with errexit
// and pipefail, matching hosted runner behavior for bash steps.
func shellArgs(shell, script string) (string, []string, error) {
	switch shell {
	case "", types.DefaultShell:
		return "sh", []string{"-c", script}, nil
	case "bash":
		return "bash", []string{"-eo", "pipefail", "-c", script}, nil
	default:
		return "", nil, goerr.New("unsupported shell", goerr.V("shell", shell))
	}
}

// Execute runs the command and captures its interleaved output. The
// command's timeout, when set, bounds the run; a timed-out command is
// reported via CommandResult.TimedOut rather than an error.
func (e *Executor) Execute(ctx context.Context, cmd *model.Command) (*model.CommandResult, error) {
	if cmd.Script == "" {
		return nil, goerr.New("command script is empty")
	}

	name, args, err := shellArgs(cmd.Shell, cmd.Script)
	if err != nil {
		return nil, err
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if cmd.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	proc := exec.CommandContext(runCtx, name, args...)
	proc.Dir = cmd.Dir
	proc.Env = cmd.Env

	tail := newTailBuffer(e.tailLimit)
	proc.Stdout = tail
	proc.Stderr = tail

	start := time.Now()
	runErr := proc.Run()
	result := &model.CommandResult{
		Output:   tail.String(),
		Duration: time.Since(start),
	}

	if runErr == nil {
		return result, nil
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}

	// The process never started (shell missing, bad workdir, ...).
	return nil, goerr.Wrap(runErr, "failed to run step command",
		goerr.V("shell", name), goerr.V("dir", cmd.Dir))
}

// tailBuffer is an io.Writer that keeps only the last limit bytes.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(p) >= b.limit {
		b.buf = append(b.buf[:0], p[len(p)-b.limit:]...)
		return len(p), nil
	}

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

package privilege

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/tycana/releases/internal/logger"
)

// ErrElevationUnavailable indicates elevated access could not be obtained,
// for example when running non-interactively with no cached credentials.
var ErrElevationUnavailable = errors.New("elevated access is unavailable")

// Handle proves elevation was granted and executes privileged commands.
// It is obtained at most once per process and threaded through subsequent
// operations, so the elevation decision cannot flip mid-sequence.
type Handle struct {
	runner commandRunner
}

// Run executes a command with elevated privileges.
func (h *Handle) Run(ctx context.Context, name string, args ...string) error {
	return h.runner(ctx, name, args...)
}

// commandRunner abstracts elevated command execution for tests.
type commandRunner func(ctx context.Context, name string, args ...string) error

// Broker decides whether filesystem targets need elevated privileges and
// obtains them idempotently. The grant/denial outcome is cached for the
// process lifetime: re-prompting for credentials mid-operation is
// disruptive, and later steps assume a stable elevation state.
type Broker struct {
	nonInteractive bool

	asked  bool
	handle *Handle
	err    error

	// validate and run are swappable in tests.
	validate func(ctx context.Context, nonInteractive bool) error
	run      commandRunner
}

// Option customizes a broker. Options exist for callers that cannot
// exercise sudo, such as tests.
type Option func(*Broker)

// WithValidator replaces the credential validation step.
func WithValidator(validate func(ctx context.Context, nonInteractive bool) error) Option {
	return func(b *Broker) {
		b.validate = validate
	}
}

// WithRunner replaces elevated command execution.
func WithRunner(run func(ctx context.Context, name string, args ...string) error) Option {
	return func(b *Broker) {
		b.run = run
	}
}

// NewBroker returns a broker. In non-interactive mode elevation never
// blocks on a credential prompt; it fails fast instead.
func NewBroker(nonInteractive bool, options ...Option) *Broker {
	b := &Broker{
		nonInteractive: nonInteractive,
		validate:       sudoValidate,
		run:            sudoRun,
	}

	for _, option := range options {
		option(b)
	}

	return b
}

// CanWrite reports whether the path exists and can be written without
// elevation.
func (b *Broker) CanWrite(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}

	return writable(path)
}

// Ensure obtains elevated access, reusing the cached outcome on repeated
// calls. Callers must only invoke it once writing without elevation has
// been ruled out; elevation is never requested speculatively.
func (b *Broker) Ensure(ctx context.Context) (*Handle, error) {
	if b.asked {
		return b.handle, b.err
	}

	b.asked = true

	logger.Info(ctx, "Requesting elevated access")

	if err := b.validate(ctx, b.nonInteractive); err != nil {
		b.err = fmt.Errorf("%w: %w", ErrElevationUnavailable, err)
		return nil, b.err
	}

	b.handle = &Handle{runner: b.run}

	return b.handle, nil
}

// sudoValidate checks (and, interactively, prompts for) sudo credentials.
// The credential cache maintained by sudo itself keeps follow-up commands
// from prompting again.
func sudoValidate(ctx context.Context, nonInteractive bool) error {
	args := []string{"-v"}
	if nonInteractive {
		args = []string{"-n", "-v"}
	}

	cmd := exec.CommandContext(ctx, "sudo", args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}

// sudoRun executes one command under sudo.
func sudoRun(ctx context.Context, name string, args ...string) error {
	sudoArgs := append([]string{name}, args...)

	cmd := exec.CommandContext(ctx, "sudo", sudoArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("sudo %s: %w", name, err)
	}

	return nil
}

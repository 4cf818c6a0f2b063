// Package command runs external programs (currently only the PHP interpreter, for platform
// detection) and decodes their output.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

type envKeyType struct{}

// EnvKey is a [context.Context.WithValue] key that can be used to override the environment of
// commands that are executed by this package.  The value must have type []string where each entry
// has the form "name=value".
var EnvKey = envKeyType{}

// maxStderr bounds how much of a command's standard error is kept for error messages.
const maxStderr = 4096

// Error reports a failed command.  Err is usually an [*exec.ExitError] or the error from starting
// the command.
type Error struct {
	Args []string
	// Stderr holds the tail of the command's standard error output.
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("command %q failed: %v", strings.Join(e.Args, " "), e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// A TailBuffer keeps the last few kilobytes written to it.
type TailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *TailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - maxStderr; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *TailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// New constructs a new [exec.Cmd] with the given arguments.  Its stdout is discarded unless the
// caller sets it, and its stderr is captured into the returned buffer.
func New(ctx context.Context, wd string, args ...string) (*exec.Cmd, *TailBuffer) {
	slog.DebugContext(ctx, "running command", "wd", wd, "args", args)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = wd
	if v := ctx.Value(EnvKey); v != nil {
		cmd.Env = v.([]string)
		slog.DebugContext(ctx, "command environment", "env", cmd.Env)
	}
	stderr := &TailBuffer{}
	cmd.Stderr = stderr
	return cmd, stderr
}

// Output runs the command and returns its standard output.
func Output(ctx context.Context, wd string, args ...string) ([]byte, error) {
	cmd, stderr := New(ctx, wd, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return out.Bytes(), &Error{Args: args, Stderr: stderr.String(), Err: err}
	}
	return out.Bytes(), nil
}

// DecodeJSONStream starts the command and processes its output as a stream of JSON values.  The
// returned done callback must be called when done processing the JSON stream; it reports decode
// errors and command failures.  Beware that if the done callback is called before the command is
// done outputting JSON values then the command will receive a SIGPIPE signal.
func DecodeJSONStream[T any](ctx context.Context, wd string, args ...string) (iter.Seq[T], func() error) {
	var retErr error
	var cmd *exec.Cmd
	var stderr *TailBuffer
	var out io.ReadCloser
	return func(yield func(T) bool) {
			cmd, stderr = New(ctx, wd, args...)
			var err error
			if out, err = cmd.StdoutPipe(); err != nil {
				retErr = &Error{Args: args, Err: err}
				cmd = nil
				return
			}
			if err := cmd.Start(); err != nil {
				retErr = &Error{Args: args, Err: err}
				cmd, out = nil, nil
				return
			}
			dec := json.NewDecoder(out)
			for dec.More() {
				var obj T
				if err := dec.Decode(&obj); err != nil {
					retErr = fmt.Errorf("failed to decode JSON from command %q: %w",
						strings.Join(args, " "), err)
					return
				}
				if !yield(obj) {
					return
				}
			}
		}, func() error {
			if out != nil {
				if err := out.Close(); retErr == nil {
					retErr = err
				}
			}
			if cmd != nil {
				if err := cmd.Wait(); err != nil && retErr == nil {
					retErr = &Error{Args: args, Stderr: stderr.String(), Err: err}
				}
			}
			return retErr
		}
}

package invoke

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// readChunkSize is how many bytes of agent stdout become one stream chunk.
// Small enough to feel incremental, large enough to keep event volume sane.
const readChunkSize = 100

// CLIInvoker runs an agent as a local CLI subprocess (a node-based agent CLI
// in the typical deployment) and streams its stdout.
type CLIInvoker struct {
	// NodePath is the interpreter binary, prepended to PATH for the child.
	NodePath string
	// ScriptPath is the agent CLI entry script.
	ScriptPath string
	// Args are fixed arguments placed before the prompt flag.
	Args []string
	// Timeout bounds a single invocation. Zero means no bound beyond ctx.
	Timeout time.Duration
}

// Invoke spawns the CLI with the assembled prompt and returns a stream over
// its stdout. A non-zero exit surfaces as a stream error after the output
// already read.
func (c *CLIInvoker) Invoke(ctx context.Context, req Request) (Stream, error) {
	cancel := func() {}
	if c.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
	}

	args := append([]string{c.ScriptPath}, c.Args...)
	args = append(args, "-p", req.Prompt)

	cmd := exec.CommandContext(ctx, c.NodePath, args...)
	cmd.Env = c.childEnv()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("cli invoker: stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("cli invoker: start %s: %w", c.ScriptPath, err)
	}

	return &cliStream{cmd: cmd, stdout: stdout, stderr: &stderr, cancel: cancel}, nil
}

// childEnv ensures the interpreter's directory is on PATH so the agent CLI
// can re-exec helper binaries next to it.
func (c *CLIInvoker) childEnv() []string {
	env := os.Environ()
	dir := filepath.Dir(c.NodePath)
	for i, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			if !strings.Contains(kv, dir) {
				env[i] = "PATH=" + dir + string(os.PathListSeparator) + strings.TrimPrefix(kv, "PATH=")
			}
			return env
		}
	}
	return append(env, "PATH="+dir)
}

type cliStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *strings.Builder
	cancel context.CancelFunc

	closeOnce sync.Once
	waitOnce  sync.Once
	waitErr   error
}

// Recv reads the next chunk of stdout. On EOF it reaps the process and
// reports a failure exit (with captured stderr) as the stream error.
func (s *cliStream) Recv() (string, error) {
	buf := make([]byte, readChunkSize)
	n, err := s.stdout.Read(buf)
	if n > 0 {
		return string(buf[:n]), nil
	}
	if err == io.EOF {
		if werr := s.wait(); werr != nil {
			msg := strings.TrimSpace(s.stderr.String())
			if msg == "" {
				msg = werr.Error()
			}
			return "", fmt.Errorf("cli invoker: %s", msg)
		}
		return "", io.EOF
	}
	return "", err
}

func (s *cliStream) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}

// Close kills the subprocess if it is still running and releases the pipe.
func (s *cliStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.stdout.Close()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.wait()
		s.cancel()
	})
	return nil
}

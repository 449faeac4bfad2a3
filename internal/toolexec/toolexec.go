// Package toolexec runs the external neuroimaging programs (MATLAB, SPM,
// FreeSurfer) on behalf of runner handlers. Each invocation records its
// command line and combined output in the working directory.
package toolexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vk/levelflow/internal/ctxlog"
)

const (
	// CommandFile receives the command line of the last invocation.
	CommandFile = "command.txt"
	// LogFile receives the combined stdout and stderr of the last invocation.
	LogFile = "output.log"

	tailLines = 20
)

// Command is one external program invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory; it must exist.
	Dir string
	// Env is merged over the current process environment.
	Env map[string]string
}

// Split turns a configured command such as "matlab -nodesktop -nosplash"
// into a command with those leading arguments.
func Split(line string, extra ...string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("empty command line")
	}
	return Command{Name: fields[0], Args: append(fields[1:], extra...)}, nil
}

// String renders the command as a shell-readable line.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, quote(c.Name))
	for _, a := range c.Args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.ContainsAny(s, " \t\n'\"\\$`;&|<>*?()[]{}") {
		return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
	}
	return s
}

// Environ returns the process environment with env merged over it, sorted
// for a stable command record.
func (c Command) Environ() []string {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	for k, v := range c.Env {
		merged[k] = v
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Run executes the command, writing CommandFile and LogFile into Dir. A
// failing command's error names the command line and ends with the last
// lines of its output.
func Run(ctx context.Context, c Command) error {
	logger := ctxlog.FromContext(ctx)
	if c.Dir == "" {
		return fmt.Errorf("command %s: working directory is not set", c.Name)
	}

	line := c.String()
	if err := os.WriteFile(filepath.Join(c.Dir, CommandFile), []byte(line+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to record command: %w", err)
	}

	logFile, err := os.Create(filepath.Join(c.Dir, LogFile))
	if err != nil {
		return fmt.Errorf("failed to create command log: %w", err)
	}
	defer logFile.Close()

	var tail bytes.Buffer
	out := io.MultiWriter(logFile, &tail)

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Environ()
	cmd.Stdout = out
	cmd.Stderr = out

	logger.Debug("Running external command.", "command", line, "dir", c.Dir)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("command %s interrupted: %w", line, ctx.Err())
		}
		return fmt.Errorf("command %s failed: %w\n%s", line, err, lastLines(tail.String(), tailLines))
	}
	logger.Debug("External command finished.", "command", c.Name)
	return nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

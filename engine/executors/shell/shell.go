// Package shell implements the shell executor (§4.7): a subprocess spawned
// under the execution's working directory, its stdout/stderr streamed as
// node-output events line by line, honoring a configurable timeout and the
// node's abort signal.
//
// Grounded on kadirpekel-hector's v2/tool/commandtool
// CommandTool.executeStreaming: exec.CommandContext for timeout+cancel,
// StdoutPipe/StderrPipe read through bufio.Scanner goroutines funneling
// into one channel, a WaitGroup to know when both streams are drained,
// then cmd.Wait() for the exit code.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/lyzr/workflow-engine/engine/graph"
	"github.com/lyzr/workflow-engine/engine/registry"
)

const defaultTimeout = 5 * time.Minute

// workDirResolver is the capability the shell executor needs from execCtx:
// resolving a node-level working-directory override against the
// execution's base (§4.3).
type workDirResolver interface {
	WorkingDirectory(nodeOverride string) string
}

// OutputLine is the streamed node-output sub-event for one line of
// stdout/stderr as it's produced.
type OutputLine struct {
	Stream string `json:"stream"` // "stdout" | "stderr"
	Line   string `json:"line"`
}

// Executor runs a node's `command` config as a shell subprocess.
type Executor struct{}

// New creates a shell Executor.
func New() *Executor { return &Executor{} }

// Validate requires a non-empty `command` string.
func (e *Executor) Validate(node any) error {
	n, ok := node.(*graph.Node)
	if !ok {
		return &registry.ValidationError{Message: "shell: node is not a *graph.Node"}
	}
	cmd, ok := n.Data.Config["command"].(string)
	if !ok || cmd == "" {
		return &registry.ValidationError{Message: "shell: config.command must be a non-empty string"}
	}
	return nil
}

// Execute spawns the node's command under sh -c, streaming output and
// returning {stdout, stderr, exitCode, result} (§4.7).
func (e *Executor) Execute(ctx context.Context, node any, execCtx any, emit registry.Emit) (registry.Result, error) {
	n, ok := node.(*graph.Node)
	if !ok {
		return registry.Result{}, fmt.Errorf("shell: node is not a *graph.Node")
	}

	command, _ := n.Data.Config["command"].(string)
	workDir := workDirOverride(n)

	if wdr, ok := execCtx.(workDirResolver); ok {
		workDir = wdr.WorkingDirectory(workDirOverride(n))
	}

	timeout := defaultTimeout
	if ms, ok := n.Data.Config["timeoutMs"].(float64); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	if workDir != "" {
		cmd.Dir = workDir
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return registry.Result{}, fmt.Errorf("shell: stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return registry.Result{}, fmt.Errorf("shell: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return registry.Result{}, fmt.Errorf("shell: start: %w", err)
	}

	var stdout, stderr strings.Builder
	var mu sync.Mutex
	var wg sync.WaitGroup

	stream := func(stream string, pipe interface{ Read([]byte) (int, error) }, buf *strings.Builder) {
		defer wg.Done()
		scanner := bufio.NewScanner(pipe)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			buf.WriteString(line)
			buf.WriteByte('\n')
			mu.Unlock()
			if emit != nil {
				emit(OutputLine{Stream: stream, Line: line})
			}
		}
	}

	wg.Add(2)
	go stream("stdout", stdoutPipe, &stdout)
	go stream("stderr", stderrPipe, &stderr)
	wg.Wait()

	waitErr := cmd.Wait()
	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if waitErr != nil && cmd.ProcessState == nil {
		return registry.Result{}, fmt.Errorf("shell: wait: %w", waitErr)
	}

	result := map[string]any{
		"stdout":   stdout.String(),
		"stderr":   stderr.String(),
		"exitCode": exitCode,
		"result":   strings.TrimSpace(stdout.String()),
	}
	return registry.Result{Output: result}, nil
}

func workDirOverride(n *graph.Node) string {
	s, _ := n.Data.Config["workingDirectory"].(string)
	return s
}

var _ registry.Executor = (*Executor)(nil)

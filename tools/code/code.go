// Package code provides workspace coding tools: read_file, write_file,
// list_files, search_code, and run_command. All paths are confined to the
// workspace directory; run_command executes either locally or inside a
// throwaway Docker container depending on the sandbox mode.
package code

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	foreman "github.com/mkarlsen/foreman"
)

const (
	maxFileReadChars = 8000
	maxOutputChars   = 50000
	searchTimeout    = 15 * time.Second
)

// SandboxMode selects where run_command executes.
type SandboxMode string

const (
	SandboxLocal  SandboxMode = "local"
	SandboxDocker SandboxMode = "docker"
)

// ValidSandboxMode reports whether s names a known mode.
func ValidSandboxMode(s string) bool {
	return SandboxMode(s) == SandboxLocal || SandboxMode(s) == SandboxDocker
}

// Sandbox configures run_command execution.
type Sandbox struct {
	Mode    SandboxMode
	Image   string // docker image, e.g. "python:3.12-slim"
	Network bool   // allow container network access
	Timeout time.Duration
}

// Tool implements the workspace coding tools.
type Tool struct {
	workspace string

	mu      sync.RWMutex
	sandbox Sandbox
}

// New creates the tool rooted at workspace. Zero sandbox fields get defaults
// (local mode, python:3.12-slim, no network, 120 s).
func New(workspace string, sandbox Sandbox) *Tool {
	if sandbox.Mode == "" {
		sandbox.Mode = SandboxLocal
	}
	if sandbox.Image == "" {
		sandbox.Image = "python:3.12-slim"
	}
	if sandbox.Timeout <= 0 {
		sandbox.Timeout = 120 * time.Second
	}
	return &Tool{workspace: workspace, sandbox: sandbox}
}

// SandboxMode returns the current execution mode.
func (t *Tool) SandboxMode() SandboxMode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sandbox.Mode
}

// SetSandboxMode switches run_command between local and docker execution.
func (t *Tool) SetSandboxMode(mode SandboxMode) error {
	if !ValidSandboxMode(string(mode)) {
		return fmt.Errorf("invalid sandbox mode %q", mode)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sandbox.Mode = mode
	return nil
}

func (t *Tool) Definitions() []foreman.ToolDefinition {
	return []foreman.ToolDefinition{
		{
			Name:        "read_file",
			Description: "Read a file from the workspace. Returns the file content (truncated to 8000 chars if large).",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"File path relative to workspace"}},"required":["path"]}`),
		},
		{
			Name:        "write_file",
			Description: "Write content to a file in the workspace. Creates parent directories if needed.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"File path relative to workspace"},"content":{"type":"string","description":"Content to write"}},"required":["path","content"]}`),
		},
		{
			Name:        "list_files",
			Description: "List files and directories in a workspace directory.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"Directory path relative to workspace (default: workspace root)"}}}`),
		},
		{
			Name:        "search_code",
			Description: "Search the workspace for a pattern using grep. Returns matching lines with file and line number.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"pattern":{"type":"string","description":"Pattern to search for"},"path":{"type":"string","description":"Directory to search, relative to workspace (default: workspace root)"}},"required":["pattern"]}`),
		},
		{
			Name:        "run_command",
			Description: "Run a shell command in the workspace. Output includes stdout, stderr, and the exit code.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"command":{"type":"string","description":"Shell command to execute"}},"required":["command"]}`),
		},
	}
}

func (t *Tool) Execute(ctx context.Context, call foreman.ToolInvocation) (foreman.ToolResult, error) {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Pattern string `json:"pattern"`
		Command string `json:"command"`
	}
	if err := json.Unmarshal(call.Args, &params); err != nil {
		return foreman.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}

	switch call.Name {
	case "read_file":
		return t.readFile(params.Path)
	case "write_file":
		return t.writeFile(params.Path, params.Content)
	case "list_files":
		return t.listFiles(params.Path)
	case "search_code":
		return t.searchCode(ctx, params.Pattern, params.Path)
	case "run_command":
		return t.runCommand(ctx, params.Command)
	default:
		return foreman.ToolResult{Error: "unknown code tool: " + call.Name}, nil
	}
}

// resolvePath confines a relative path to the workspace.
func (t *Tool) resolvePath(rel string) (string, error) {
	if strings.Contains(rel, "..") {
		return "", fmt.Errorf("path traversal not allowed: %s", rel)
	}
	abs := filepath.Join(t.workspace, filepath.Clean("/"+rel))
	wsAbs, err := filepath.Abs(t.workspace)
	if err != nil {
		return "", err
	}
	absClean, err := filepath.Abs(abs)
	if err != nil {
		return "", err
	}
	if absClean != wsAbs && !strings.HasPrefix(absClean, wsAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", rel)
	}
	return absClean, nil
}

func (t *Tool) readFile(path string) (foreman.ToolResult, error) {
	if path == "" {
		return foreman.ToolResult{Error: "path is required"}, nil
	}
	resolved, err := t.resolvePath(path)
	if err != nil {
		return foreman.ToolResult{Error: err.Error()}, nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return foreman.ToolResult{Error: "read failed: " + err.Error()}, nil
	}
	content := string(data)
	if len(content) > maxFileReadChars {
		content = content[:maxFileReadChars] + "\n[... truncated ...]"
	}
	return foreman.ToolResult{Content: content}, nil
}

func (t *Tool) writeFile(path, content string) (foreman.ToolResult, error) {
	if path == "" {
		return foreman.ToolResult{Error: "path is required"}, nil
	}
	resolved, err := t.resolvePath(path)
	if err != nil {
		return foreman.ToolResult{Error: err.Error()}, nil
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return foreman.ToolResult{Error: "create directories: " + err.Error()}, nil
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return foreman.ToolResult{Error: "write failed: " + err.Error()}, nil
	}
	return foreman.ToolResult{Content: fmt.Sprintf("Wrote %d bytes to %s", len(content), path)}, nil
}

func (t *Tool) listFiles(path string) (foreman.ToolResult, error) {
	resolved, err := t.resolvePath(path)
	if err != nil {
		return foreman.ToolResult{Error: err.Error()}, nil
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return foreman.ToolResult{Error: "list failed: " + err.Error()}, nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return foreman.ToolResult{Content: "(empty directory)"}, nil
	}
	return foreman.ToolResult{Content: strings.Join(names, "\n")}, nil
}

func (t *Tool) searchCode(ctx context.Context, pattern, path string) (foreman.ToolResult, error) {
	if pattern == "" {
		return foreman.ToolResult{Error: "pattern is required"}, nil
	}
	resolved, err := t.resolvePath(path)
	if err != nil {
		return foreman.ToolResult{Error: err.Error()}, nil
	}

	searchCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	cmd := exec.CommandContext(searchCtx, "grep", "-rn", "--", pattern, ".")
	cmd.Dir = resolved
	out, err := cmd.Output()
	if err != nil {
		// grep exits 1 on no matches.
		if ee, ok := err.(*exec.ExitError); ok && ee.ExitCode() == 1 {
			return foreman.ToolResult{Content: "No matches found."}, nil
		}
		return foreman.ToolResult{Error: "search failed: " + err.Error()}, nil
	}
	return foreman.ToolResult{Content: capOutput(string(out))}, nil
}

func (t *Tool) runCommand(ctx context.Context, command string) (foreman.ToolResult, error) {
	if command == "" {
		return foreman.ToolResult{Error: "command is required"}, nil
	}
	t.mu.RLock()
	sandbox := t.sandbox
	t.mu.RUnlock()

	runCtx, cancel := context.WithTimeout(ctx, sandbox.Timeout)
	defer cancel()

	if sandbox.Mode == SandboxDocker {
		return t.runDocker(runCtx, sandbox, command)
	}
	return t.runLocal(runCtx, command)
}

func (t *Tool) runLocal(ctx context.Context, command string) (foreman.ToolResult, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = t.workspace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else {
			return foreman.ToolResult{Error: "execution failed: " + err.Error()}, nil
		}
	}
	return foreman.ToolResult{Content: formatRun(stdout.String(), stderr.String(), exitCode)}, nil
}

// runDocker executes the command in a throwaway container: workspace
// bind-mounted at /workspace, network disabled unless allowed, 512 MB memory
// and half a CPU, force-removed afterwards.
func (t *Tool) runDocker(ctx context.Context, sandbox Sandbox, command string) (foreman.ToolResult, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return foreman.ToolResult{Error: "docker unavailable: " + err.Error()}, nil
	}
	defer cli.Close()

	wsAbs, err := filepath.Abs(t.workspace)
	if err != nil {
		return foreman.ToolResult{Error: "resolve workspace: " + err.Error()}, nil
	}

	created, err := cli.ContainerCreate(ctx,
		&container.Config{
			Image:           sandbox.Image,
			Cmd:             []string{"sh", "-c", command},
			WorkingDir:      "/workspace",
			NetworkDisabled: !sandbox.Network,
		},
		&container.HostConfig{
			Binds: []string{wsAbs + ":/workspace"},
			Resources: container.Resources{
				Memory:   512 << 20,
				NanoCPUs: 500_000_000, // 0.5 CPU
			},
		},
		nil, nil, "")
	if err != nil {
		return foreman.ToolResult{Error: "create container: " + err.Error()}, nil
	}
	defer func() {
		// Removal gets its own context so a run timeout doesn't leak the container.
		rmCtx, rmCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer rmCancel()
		_ = cli.ContainerRemove(rmCtx, created.ID, container.RemoveOptions{Force: true})
	}()

	if err := cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return foreman.ToolResult{Error: "start container: " + err.Error()}, nil
	}

	exitCode := 0
	statusCh, errCh := cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return foreman.ToolResult{Error: "wait for container: " + err.Error()}, nil
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	case <-ctx.Done():
		return foreman.ToolResult{Error: "command timed out"}, nil
	}

	logs, err := cli.ContainerLogs(ctx, created.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return foreman.ToolResult{Error: "read container logs: " + err.Error()}, nil
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil && err != io.EOF {
		return foreman.ToolResult{Error: "demux container logs: " + err.Error()}, nil
	}
	return foreman.ToolResult{Content: formatRun(stdout.String(), stderr.String(), exitCode)}, nil
}

func formatRun(stdout, stderr string, exitCode int) string {
	out := fmt.Sprintf("STDOUT:\n%s\nSTDERR:\n%s\nEXIT CODE: %d", stdout, stderr, exitCode)
	return capOutput(out)
}

func capOutput(s string) string {
	if len(s) > maxOutputChars {
		return s[:maxOutputChars] + "\n[... truncated ...]"
	}
	return s
}

var _ foreman.Tool = (*Tool)(nil)

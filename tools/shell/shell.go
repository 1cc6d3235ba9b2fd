// Package shell provides the run_command tool, which executes a shell
// command with the working directory fixed to the workspace.
//
// Commands are not sandboxed or filtered.
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"runtime"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpsse/mcp"
	"github.com/effective-security/mcpsse/pkg/llmutils"
	"github.com/effective-security/mcpsse/pkg/schema"
	"github.com/effective-security/mcpsse/tools"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpsse/tools", "shell")

const ToolName = "run_command"

// waitDelay bounds the wait for output pipes held open after the command is killed
const waitDelay = time.Second

// CommandRequest is the tool input
type CommandRequest struct {
	Command string `json:"command" yaml:"command" jsonschema:"description=A shell command like 'ls' or 'pwd'." validate:"required"`
}

// CommandResult is the tool output
type CommandResult struct {
	Stdout   string `json:"stdout" yaml:"stdout" jsonschema:"description=Standard output of the command."`
	Stderr   string `json:"stderr" yaml:"stderr" jsonschema:"description=Standard error of the command."`
	ExitCode int    `json:"exit_code" yaml:"exit_code" jsonschema:"description=Exit code of the command."`
	Success  bool   `json:"success" yaml:"success" jsonschema:"description=True when the command exited with code 0."`
}

// Output returns stdout, or stderr when stdout is empty
func (r *CommandResult) Output() string {
	if r.Stdout != "" {
		return r.Stdout
	}
	return r.Stderr
}

// Tool runs shell commands in the workspace
type Tool struct {
	name        string
	description string
	funcParams  any
	workspace   string
}

var (
	_ tools.Tool[CommandRequest, CommandResult] = (*Tool)(nil)
	_ tools.MCPTool[CommandRequest]             = (*Tool)(nil)
)

// New returns the tool bound to workspace, the folder is created if missing
func New(workspace string) (*Tool, error) {
	if workspace == "" {
		return nil, errors.New("workspace is required")
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid workspace: %s", workspace)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create workspace: %s", abs)
	}

	sc, err := schema.New(reflect.TypeOf(CommandRequest{}))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create schema")
	}

	return &Tool{
		name:        ToolName,
		description: "Executes a shell command in the default workspace and returns the result: standard output or error message from running the command.",
		funcParams:  sc.Parameters,
		workspace:   abs,
	}, nil
}

func (t *Tool) Name() string {
	return t.name
}

func (t *Tool) Description() string {
	return t.description
}

func (t *Tool) Parameters() any {
	return t.funcParams
}

// Workspace returns the absolute path of the working directory
func (t *Tool) Workspace() string {
	return t.workspace
}

// Run executes the command. A command that exits with non-zero code is not an error,
// the result is returned with Success set to false.
func (t *Tool) Run(ctx context.Context, req *CommandRequest) (*CommandResult, error) {
	if req.Command == "" {
		return nil, errors.New("invalid request: empty command")
	}

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", req.Command)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", req.Command)
	}
	cmd.Dir = t.workspace
	killGroup(cmd)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		logger.ContextKV(ctx, xlog.WARNING,
			"command", req.Command,
			"reason", "cancelled",
			"err", ctxErr.Error(),
		)
		return nil, errors.Wrap(ctxErr, "command cancelled")
	}
	res := &CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, errors.Wrapf(err, "failed to run command")
		}
		res.ExitCode = exitErr.ExitCode()
	}
	res.Success = res.ExitCode == 0

	logger.ContextKV(ctx, xlog.DEBUG,
		"command", req.Command,
		"exit_code", res.ExitCode,
	)
	return res, nil
}

func (t *Tool) Call(ctx context.Context, input string) (string, error) {
	var req CommandRequest
	if err := json.Unmarshal(llmutils.CleanJSON([]byte(input)), &req); err != nil {
		return "", errors.WithStack(tools.ErrFailedUnmarshalInput)
	}
	out, err := t.Run(ctx, &req)
	if err != nil {
		return "", err
	}
	return llmutils.ToJSON(out), nil
}

func (t *Tool) RegisterMCP(registrar tools.Registrar) error {
	return registrar.RegisterTool(t.name, t.description, t.RunMCP, mcp.WithOutputType(CommandResult{}))
}

// RunMCP returns the result as JSON text, flagged as error when the command failed
func (t *Tool) RunMCP(ctx context.Context, req *CommandRequest) (*mcp.ToolResponse, error) {
	out, err := t.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	content := mcp.NewTextContent(llmutils.ToJSON(out))
	if !out.Success {
		return mcp.NewToolErrorResponse(content), nil
	}
	return mcp.NewToolResponse(content), nil
}

// File: internal/toolchain/command.go
// Brief: Toolchain backed by templated external commands.

package toolchain

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"text/template"
	"time"

	"github.com/go-logr/logr"
	"github.com/mattn/go-shellwords"
	"github.com/pkg/errors"

	"github.com/example/dragons/internal/errdefs"
)

// DefaultTemplates compile with cargo. Keys are `<context>.<mode>`,
// `<context>` or `default`, looked up in that order.
var DefaultTemplates = map[string]string{
	string(InPlace): `cargo {{.Mode}} --manifest-path {{quote .Manifest}} --package {{quote .Spec}} --no-default-features` +
		`{{with .Features}} --features {{quote (join . ",")}}{{end}} --target-dir {{quote .OutputDir}}{{if eq .Mode "test"}} --no-run{{end}}`,
	string(Ephemeral): `cargo {{.Mode}} --manifest-path {{quote .Manifest}} --no-default-features` +
		`{{with .Features}} --features {{quote (join . ",")}}{{end}} --target-dir {{quote .OutputDir}}{{if eq .Mode "test"}} --no-run{{end}}`,
}

// CommandToolchain renders a command line per request and runs it.
type CommandToolchain struct {
	Templates map[string]string
	// Timeout bounds a single compile; zero means no limit.
	Timeout time.Duration
	// Env is appended to the current environment.
	Env []string
	Log logr.Logger

	parsed map[string]*template.Template
}

// NewCommandToolchain parses templates up front so a malformed template is
// reported before any work starts. Missing keys fall back to DefaultTemplates.
func NewCommandToolchain(templates map[string]string, timeout time.Duration, env []string, log logr.Logger) (*CommandToolchain, error) {
	merged := map[string]string{}
	for k, v := range DefaultTemplates {
		merged[k] = v
	}
	for k, v := range templates {
		if strings.TrimSpace(v) != "" {
			merged[strings.ToLower(k)] = v
		}
	}
	tc := &CommandToolchain{Templates: merged, Timeout: timeout, Env: env, Log: log, parsed: map[string]*template.Template{}}
	for k, v := range merged {
		t, err := template.New(k).Funcs(funcs).Option("missingkey=error").Parse(v)
		if err != nil {
			return nil, &errdefs.ConfigError{Msg: "invalid toolchain template " + k, Err: err}
		}
		tc.parsed[k] = t
	}
	return tc, nil
}

var funcs = template.FuncMap{
	"join":  strings.Join,
	"quote": quote,
}

// quote renders s as a single shell word.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Command renders the argument vector for req.
func (c *CommandToolchain) Command(req CompileRequest) ([]string, error) {
	var t *template.Template
	for _, key := range []string{string(req.Context) + "." + string(req.Mode), string(req.Context), "default"} {
		if t = c.parsed[key]; t != nil {
			break
		}
	}
	if t == nil {
		return nil, errdefs.Configf("no toolchain template for %s/%s", req.Context, req.Mode)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, req); err != nil {
		return nil, errors.Wrap(err, "render toolchain command")
	}
	args, err := shellwords.Parse(buf.String())
	if err != nil {
		return nil, errors.Wrapf(err, "parse toolchain command %q", buf.String())
	}
	if len(args) == 0 {
		return nil, errdefs.Configf("toolchain template for %s/%s renders an empty command", req.Context, req.Mode)
	}
	return args, nil
}

// Compile runs the rendered command in req.Dir and returns its combined output.
func (c *CommandToolchain) Compile(ctx context.Context, req CompileRequest) (CompileResult, error) {
	args, err := c.Command(req)
	if err != nil {
		return CompileResult{}, err
	}
	res := CompileResult{Args: args}
	err = c.run(ctx, req.Dir, args, &res)
	return res, err
}

func (c *CommandToolchain) run(ctx context.Context, dir string, args []string, res *CompileResult) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.WaitDelay = 5 * time.Second
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	c.Log.V(1).Info("running toolchain", "args", args, "dir", dir)
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Output = out.Bytes()
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return errors.Wrapf(ctx.Err(), "%s interrupted", args[0])
	}
	ce := &CommandError{Args: args, Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		ce.ExitCode = exitErr.ExitCode()
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		ce.TimedOut = true
	}
	return ce
}

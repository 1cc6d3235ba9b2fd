// Command queryagent is an interactive client that answers queries with Gemini,
// using the tools served by a Tool Host over SSE.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpsse/agent"
	"github.com/effective-security/mcpsse/callbacks"
	"github.com/effective-security/mcpsse/mcp"
	"github.com/effective-security/mcpsse/mcp/transport/sse"
	"github.com/effective-security/mcpsse/pkg/config"
	"github.com/effective-security/mcpsse/pkg/llmfactory"
	"github.com/effective-security/xlog"
	"github.com/spf13/pflag"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpsse/cmd", "queryagent")

const (
	clientName    = "queryagent"
	clientVersion = "1.0.0"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	flags := pflag.NewFlagSet(clientName, pflag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "Usage: %s [flags] <server_sse_url>\n", clientName)
		flags.PrintDefaults()
	}
	model := flags.String("model", "", "Gemini model to use")
	cfgFile := flags.String("config", "", "Optional YAML config file")
	verbose := flags.Bool("verbose", false, "Print the agent steps and the run log")
	logLevel := flags.String("log-level", "", "Log level: DEBUG, INFO, WARNING or ERROR")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return errors.WithStack(err)
	}
	if flags.NArg() > 1 {
		return errors.Errorf("unexpected arguments: %v", flags.Args()[1:])
	}

	cfg, err := config.LoadQueryAgent(*cfgFile)
	if err != nil {
		return err
	}
	if flags.NArg() == 1 {
		cfg.ServerURL = flags.Arg(0)
	}
	if flags.Changed("model") {
		cfg.Model = *model
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if err = cfg.Validate(); err != nil {
		return err
	}

	config.SetupLogging(os.Stderr, cfg.LogLevel)

	llm, err := llmfactory.New(cfg.LLM).Model(cfg.Model)
	if err != nil {
		return err
	}

	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	mode := callbacks.ModeDefault
	if *verbose {
		mode = callbacks.ModeVerbose
	}
	cb := callbacks.NewFanout(
		callbacks.NewPackageLogger(logger),
		callbacks.NewScratchpad(os.Stderr, mode),
	)
	if *verbose {
		cb.Add(callbacks.NewPrinter(os.Stderr, mode))
	}

	a := agent.New(llm, client,
		agent.WithName(clientName),
		agent.WithOutput(out),
		agent.WithCallback(cb),
		agent.WithCallOptions(cfg.CallOptions()...),
	)
	if err = a.LoadTools(ctx); err != nil {
		return err
	}
	names := make([]string, 0, len(a.Tools()))
	for _, t := range a.Tools() {
		names = append(names, t.Function.Name)
	}
	fmt.Fprintf(out, "\nConnected to server with tools: %v\n", names)

	return a.ChatLoop(ctx, in, out)
}

// connect opens the SSE session and performs the MCP handshake
func connect(ctx context.Context, cfg *config.QueryAgent) (*mcp.Client, error) {
	var opts []mcp.ClientOption
	opts = append(opts, mcp.WithClientInfo(clientName, clientVersion))
	if cfg.RequestTimeout > 0 {
		opts = append(opts, mcp.WithRequestTimeout(time.Duration(cfg.RequestTimeout)*time.Second))
	}

	client := mcp.NewClient(sse.NewSSEClientTransport(cfg.ServerURL), opts...)
	info, err := client.Initialize(ctx)
	if err != nil {
		_ = client.Close()
		return nil, errors.WithMessagef(err, "failed to connect to %s", cfg.ServerURL)
	}

	logger.KV(xlog.INFO,
		"status", "connected",
		"url", cfg.ServerURL,
		"server", info.ServerInfo.Name,
		"version", info.ServerInfo.Version,
	)
	return client, nil
}

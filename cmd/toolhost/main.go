// Command toolhost serves the add_numbers, run_command and web_search tools
// to MCP clients over SSE.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpsse/mcp"
	"github.com/effective-security/mcpsse/mcp/transport/localtransport"
	"github.com/effective-security/mcpsse/mcp/transport/sse"
	"github.com/effective-security/mcpsse/pkg/config"
	"github.com/effective-security/mcpsse/pkg/llmutils"
	"github.com/effective-security/mcpsse/tools"
	"github.com/effective-security/mcpsse/tools/arith"
	"github.com/effective-security/mcpsse/tools/shell"
	"github.com/effective-security/mcpsse/tools/tavily"
	"github.com/effective-security/xlog"
	"github.com/spf13/pflag"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpsse/cmd", "toolhost")

const (
	serverName    = "toolhost"
	serverVersion = "1.0.0"

	ssePath     = "/sse"
	messagePath = "/messages/"

	shutdownTimeout = 10 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	flags := pflag.NewFlagSet(serverName, pflag.ContinueOnError)
	host := flags.String("host", config.DefaultHost, "Host to bind to")
	port := flags.Int("port", config.DefaultPort, "Port to listen on, PORT env overrides the default")
	workspace := flags.String("workspace", config.DefaultWorkspace, "Working directory of run_command")
	cfgFile := flags.String("config", "", "Optional YAML config file")
	logLevel := flags.String("log-level", "", "Log level: DEBUG, INFO, WARNING or ERROR")
	listTools := flags.Bool("list-tools", false, "Print the tools and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return errors.WithStack(err)
	}

	cfg, err := config.LoadToolHost(*cfgFile)
	if err != nil {
		return err
	}
	if flags.Changed("host") {
		cfg.Host = *host
	}
	if flags.Changed("port") {
		cfg.Port = *port
	}
	if flags.Changed("workspace") {
		cfg.Workspace = *workspace
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if err = cfg.Validate(); err != nil {
		return err
	}

	config.SetupLogging(os.Stderr, cfg.LogLevel)

	server, err := newServer(cfg)
	if err != nil {
		return err
	}

	if *listTools {
		return printTools(ctx, server, out)
	}

	return serve(ctx, cfg, server)
}

// newServer returns the MCP server with the tools registered
func newServer(cfg *config.ToolHost) (*mcp.Server, error) {
	addTool, err := arith.New()
	if err != nil {
		return nil, err
	}
	shellTool, err := shell.New(cfg.Workspace)
	if err != nil {
		return nil, err
	}
	searchTool, err := tavily.New(cfg.TavilyAPIKey)
	if err != nil {
		return nil, err
	}

	server := mcp.NewServer(mcp.WithName(serverName, serverVersion))
	if err = tools.RegisterAll(server, addTool, shellTool, searchTool); err != nil {
		return nil, err
	}
	return server, nil
}

func newMux(server *mcp.Server) *http.ServeMux {
	mux := http.NewServeMux()
	sse.NewHandler(server, messagePath).Register(mux, ssePath)
	return mux
}

func serve(ctx context.Context, cfg *config.ToolHost, server *mcp.Server) error {
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           newMux(server),
		ReadHeaderTimeout: 10 * time.Second,
		// SSE streams end with ctx, otherwise Shutdown waits for them
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.KV(xlog.INFO,
			"status", "listening",
			"addr", httpServer.Addr,
			"sse", ssePath,
			"workspace", cfg.Workspace,
			"tools", server.ToolNames(),
		)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "failed to serve")
	case <-ctx.Done():
	}

	logger.KV(xlog.INFO, "status", "shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "failed to shutdown")
	}
	return nil
}

// printTools prints the tools as served by tools/list
func printTools(ctx context.Context, server *mcp.Server, out io.Writer) error {
	serverTransport := localtransport.New()
	if err := server.Connect(ctx, serverTransport); err != nil {
		return err
	}

	client := mcp.NewClient(localtransport.NewClientTransport(serverTransport))
	defer func() {
		_ = client.Close()
	}()
	if _, err := client.Initialize(ctx); err != nil {
		return err
	}

	list, err := client.ListAllTools(ctx)
	if err != nil {
		return err
	}
	fmt.Fprint(out, llmutils.ToYAML(list))
	return nil
}

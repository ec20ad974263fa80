package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/mcp-servers-for-revit/revit-mcp/pkg/config"
	"github.com/mcp-servers-for-revit/revit-mcp/pkg/mcp"
	"github.com/mcp-servers-for-revit/revit-mcp/pkg/mcp/auth"
	"github.com/mcp-servers-for-revit/revit-mcp/pkg/metrics"
	"github.com/mcp-servers-for-revit/revit-mcp/pkg/relay"
	"github.com/mcp-servers-for-revit/revit-mcp/pkg/routehost"
)

// version is set at build time with -ldflags "-X main.version=...".
//
//nolint:gochecknoglobals // set by the linker
var version = "dev"

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// cli holds state shared by every subcommand.
type cli struct {
	v          *viper.Viper
	configFile string

	// Legacy transport switches.
	sse        bool
	streamable bool
	combined   bool
}

// flagBindings maps config keys to the flags that override them.
var flagBindings = map[string]string{ //nolint:gochecknoglobals // static table
	"route_host.host":      "revit-host",
	"route_host.port":      "revit-port",
	"route_host.base_path": "revit-base-path",
	"server.transport":     "transport",
	"server.host":          "host",
	"server.port":          "port",
	"metrics.address":      "metrics-addr",
	"log.level":            "log-level",
	"log.format":           "log-format",
}

func newRootCmd() (root *cobra.Command) {
	c := &cli{v: config.New()}

	root = &cobra.Command{
		Use:   "revit-mcp",
		Short: "Relay MCP tool calls to a running Revit session",
		Long: `revit-mcp exposes Revit to MCP clients. Each tool call is relayed as an HTTP
request to the pyRevit Routes server inside Revit, and the answer is returned
as tool output.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          c.runServe,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configFile, "config", "c", "", "YAML config file")
	flags.String("revit-host", config.DefaultRouteHostHost, "Route Host hostname")
	flags.Int("revit-port", config.DefaultRouteHostPort, "Route Host port")
	flags.String("revit-base-path", config.DefaultRouteHostBasePath, "Route Host base path")
	flags.String("transport", string(mcp.TransportStdio), "MCP transport: stdio, sse, streamable-http or combined")
	flags.BoolVar(&c.sse, "sse", false, "serve MCP over SSE (same as --transport sse)")
	flags.BoolVar(&c.streamable, "http", false, "serve MCP over streamable HTTP (same as --transport streamable-http)")
	flags.BoolVar(&c.streamable, "streamable-http", false, "alias for --http")
	flags.BoolVar(&c.combined, "combined", false, "serve SSE and streamable HTTP together (same as --transport combined)")
	flags.String("host", config.DefaultListenHost, "listen host for HTTP transports")
	flags.Int("port", config.DefaultListenPort, "listen port for HTTP transports")
	flags.String("metrics-addr", "", "address for /metrics, /healthz and /readyz (disabled when empty)")
	flags.String("log-level", config.DefaultLogLevel, "log level: debug, info, warn or error")
	flags.String("log-format", config.DefaultLogFormat, "log format: json or text")

	for key, name := range flagBindings {
		_ = c.v.BindPFlag(key, flags.Lookup(name))
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Serve MCP until interrupted (default)",
			Args:  cobra.NoArgs,
			RunE:  c.runServe,
		},
		&cobra.Command{
			Use:   "status",
			Short: "Query Revit status once and print it",
			Args:  cobra.NoArgs,
			RunE:  c.runStatus,
		},
		&cobra.Command{
			Use:   "config",
			Short: "Print the effective configuration as YAML",
			Args:  cobra.NoArgs,
			RunE:  c.runConfig,
		},
		&cobra.Command{
			Use:   "tools",
			Short: "List the tools offered to MCP clients",
			Args:  cobra.NoArgs,
			RunE:  c.runTools,
		},
		c.tokenCmd(),
	)

	return root
}

// applyLegacyTransport maps --sse, --http and --combined onto server.transport.
func (c *cli) applyLegacyTransport(cmd *cobra.Command) (err error) {
	var chosen []mcp.Transport

	if c.sse {
		chosen = append(chosen, mcp.TransportSSE)
	}

	if c.streamable {
		chosen = append(chosen, mcp.TransportStreamableHTTP)
	}

	if c.combined {
		chosen = append(chosen, mcp.TransportCombined)
	}

	switch {
	case len(chosen) == 0:
		return err
	case len(chosen) > 1:
		err = errors.New("--sse, --http and --combined are mutually exclusive")
		return err
	}

	if cmd.Flags().Changed("transport") {
		explicit, parseErr := mcp.ParseTransport(c.v.GetString("server.transport"))
		if parseErr == nil && explicit != chosen[0] {
			err = fmt.Errorf("--transport %s conflicts with the --%s switch", explicit, legacyFlag(chosen[0]))
			return err
		}
	}

	c.v.Set("server.transport", string(chosen[0]))
	return err
}

func legacyFlag(transport mcp.Transport) (name string) {
	switch transport {
	case mcp.TransportSSE:
		name = "sse"
	case mcp.TransportStreamableHTTP:
		name = "http"
	default:
		name = string(transport)
	}

	return name
}

// load resolves the configuration and builds the logger. Logs always go to stderr.
func (c *cli) load(cmd *cobra.Command) (cfg config.Config, logger *slog.Logger, err error) {
	err = c.applyLegacyTransport(cmd)
	if err != nil {
		return cfg, logger, err
	}

	cfg, err = config.Load(c.v, c.configFile)
	if err != nil {
		return cfg, logger, err
	}

	logger, err = cfg.Log.NewLogger(cmd.ErrOrStderr())
	return cfg, logger, err
}

func newRelay(cfg config.Config, logger *slog.Logger) (toolRelay *relay.Relay, err error) {
	host, err := routehost.NewClient(cfg.RouteHostURL(), logger,
		routehost.WithTimeout(cfg.RouteHost.Timeout),
		routehost.WithImageTimeout(cfg.RouteHost.ImageTimeout),
	)
	if err != nil {
		err = fmt.Errorf("creating route host client: %w", err)
		return toolRelay, err
	}

	toolRelay, err = relay.New(host, logger)
	if err != nil {
		err = fmt.Errorf("registering tools: %w", err)
		return toolRelay, err
	}

	return toolRelay, err
}

func httpOptions(cfg config.Config, logger *slog.Logger) (opts mcp.HTTPOptions, err error) {
	chain, mtls, err := auth.NewChainFromConfig(cfg.Auth, logger)
	if err != nil {
		return opts, err
	}

	opts = mcp.HTTPOptions{
		Addr:        cfg.ListenAddr(),
		Transport:   cfg.Transport(),
		AuthChain:   chain,
		TLSCertFile: cfg.Server.TLSCert,
		TLSKeyFile:  cfg.Server.TLSKey,
	}

	if mtls != nil {
		if cfg.Server.TLSCert == "" {
			err = errors.New("mTLS authentication needs server.tls_cert and server.tls_key")
			return opts, err
		}
		opts.TLSConfig = mtls.TLSConfig()
	}

	if chain != nil {
		logger.Info("authentication enabled", slog.String("methods", strings.Join(chain.Methods(), ",")))
	}

	return opts, err
}

func (c *cli) runServe(cmd *cobra.Command, _ []string) (err error) {
	cfg, logger, err := c.load(cmd)
	if err != nil {
		return err
	}

	toolRelay, err := newRelay(cfg, logger)
	if err != nil {
		return err
	}

	server := mcp.NewServer(toolRelay, version, logger)

	var opts mcp.HTTPOptions
	if cfg.Transport().IsHTTP() {
		opts, err = httpOptions(cfg, logger)
		if err != nil {
			return err
		}
	}

	logger.Info("starting revit-mcp",
		slog.String("version", version),
		slog.String("route_host", cfg.RouteHostURL()),
		slog.String("transport", cfg.Server.Transport),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Address != "" {
		metricsServer := metrics.NewServer(cfg.Metrics.Address, logger)
		group.Go(func() error {
			return metricsServer.Start(ctx)
		})
	}

	group.Go(func() error {
		// A finished stdio session ends the process.
		defer cancel()

		if cfg.Transport().IsHTTP() {
			return server.RunHTTP(ctx, opts)
		}

		return server.RunStdio(ctx)
	})

	err = group.Wait()
	if err != nil {
		logger.Error("revit-mcp stopped", slog.String("error", err.Error()))
		return err
	}

	logger.Info("revit-mcp stopped")
	return err
}

func (c *cli) runStatus(cmd *cobra.Command, _ []string) (err error) {
	cfg, logger, err := c.load(cmd)
	if err != nil {
		return err
	}

	toolRelay, err := newRelay(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resp := toolRelay.Call(ctx, relay.StatusTool, nil)
	fmt.Fprintln(cmd.OutOrStdout(), relay.Format(resp))

	if !resp.OK() {
		err = fmt.Errorf("revit at %s is not available", cfg.RouteHostURL())
		return err
	}

	return err
}

func (c *cli) runConfig(cmd *cobra.Command, _ []string) (err error) {
	cfg, _, err := c.load(cmd)
	if err != nil {
		return err
	}

	out, err := cfg.Dump()
	if err != nil {
		return err
	}

	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func (c *cli) runTools(cmd *cobra.Command, _ []string) (err error) {
	cfg, logger, err := c.load(cmd)
	if err != nil {
		return err
	}

	toolRelay, err := newRelay(cfg, logger)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tACCESS\tDESCRIPTION")

	for _, tool := range toolRelay.Tools() {
		access := "write"
		switch {
		case tool.Destructive:
			access = "destructive"
		case tool.ReadOnly:
			access = "read"
		}

		summary, _, _ := strings.Cut(tool.Description, "\n")
		fmt.Fprintf(w, "%s\t%s\t%s\n", tool.Name, access, summary)
	}

	err = w.Flush()
	return err
}

func (c *cli) tokenCmd() (command *cobra.Command) {
	var (
		subject string
		groups  []string
		ttl     time.Duration
	)

	command = &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for an MCP client using auth.jwt_secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			cfg, _, err := c.load(cmd)
			if err != nil {
				return err
			}

			if cfg.Auth.JWTSecret == "" {
				err = errors.New("auth.jwt_secret is not configured")
				return err
			}

			jwtAuth, err := auth.NewJWTAuth(&auth.JWTConfig{
				Secret:    []byte(cfg.Auth.JWTSecret),
				Algorithm: cfg.Auth.JWTAlgorithm,
			})
			if err != nil {
				return err
			}

			now := time.Now()
			token, err := jwtAuth.Sign(auth.Claims{
				Groups: groups,
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    "revit-mcp",
					Subject:   subject,
					IssuedAt:  jwt.NewNumericDate(now),
					ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
				},
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	command.Flags().StringVar(&subject, "subject", "", "token subject (the client's identity)")
	command.Flags().StringSliceVar(&groups, "group", nil, "group claim, repeatable")
	command.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = command.MarkFlagRequired("subject")

	return command
}

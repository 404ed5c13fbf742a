// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/telekom/acctl/pkg/acctl/config"
	"github.com/telekom/acctl/pkg/acctl/output"
	"github.com/telekom/acctl/pkg/auth"
	"github.com/telekom/acctl/pkg/metrics"
	"github.com/telekom/acctl/pkg/sdk"
	"github.com/telekom/acctl/pkg/system"
	"github.com/telekom/acctl/pkg/telemetry"
	"github.com/telekom/acctl/pkg/version"
)

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
	ErrWriter    io.Writer
	// Presenter replaces the browser presenter for interactive logins.
	Presenter auth.Presenter
	// Getenv reads ACCTL_* overrides. Defaults to os.Getenv.
	Getenv func(string) string
	// Args replaces os.Args[1:] when non-nil.
	Args []string
}

type runtimeState struct {
	configPath      string
	cfg             *config.Config
	profileOverride string
	outputFormat    string
	debug           bool
	noBrowser       bool
	metricsFile     string
	traceExporter   string
	traceEndpoint   string
	traceInsecure   bool
	span            trace.Span
	stopTracing     telemetry.ShutdownFunc
	writer          io.Writer
	errWriter       io.Writer
	presenter       auth.Presenter
	getenv          func(string) string
	log             *zap.SugaredLogger
	sdk             *sdk.SDK
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   config.DefaultConfigPath(),
		OutputWriter: os.Stdout,
		ErrWriter:    os.Stderr,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		configPath: cfg.ConfigPath,
		writer:     cfg.OutputWriter,
		errWriter:  cfg.ErrWriter,
		presenter:  cfg.Presenter,
		getenv:     cfg.Getenv,
	}

	root := &cobra.Command{
		Use:           "acctl",
		Short:         "Manage platform accounts and sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.errWriter == nil {
				rt.errWriter = os.Stderr
			}
			if rt.getenv == nil {
				rt.getenv = os.Getenv
			}
			if rt.configPath == "" {
				rt.configPath = config.DefaultConfigPath()
			}
			if rt.profileOverride == "" {
				rt.profileOverride = rt.getenv("ACCTL_PROFILE")
			}
			if rt.outputFormat == "" {
				rt.outputFormat = rt.getenv("ACCTL_OUTPUT")
			}
			if !rt.debug {
				rt.debug = strings.EqualFold(rt.getenv("ACCTL_DEBUG"), "true")
			}
			if err := rt.initLogger(); err != nil {
				return err
			}
			if err := rt.initTracing(cmd); err != nil {
				return err
			}

			// Skip config loading for commands that don't need it
			if cmd.Name() == "init" && cmd.Parent() != nil && cmd.Parent().Name() == "config" {
				return nil
			}
			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}
			cfg, err := config.LoadOrDefault(rt.configPath)
			if err != nil {
				return err
			}
			rt.cfg = cfg
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return rt.finish(nil)
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVarP(&rt.profileOverride, "profile", "p", "", "Profile name override")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, json, yaml")
	root.PersistentFlags().BoolVar(&rt.debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&rt.noBrowser, "no-browser", false, "Print the login URL instead of opening a browser")
	root.PersistentFlags().StringVar(&rt.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after the command")
	root.PersistentFlags().StringVar(&rt.traceExporter, "trace-exporter", "", "Export traces: otlp, stdout or none")
	root.PersistentFlags().StringVar(&rt.traceEndpoint, "trace-endpoint", "", "OTLP gRPC collector endpoint")
	root.PersistentFlags().BoolVar(&rt.traceInsecure, "trace-insecure", false, "Disable TLS for the OTLP connection")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewConfigCommand(),
		NewAuthCommand(),
		NewOrgCommand(),
		NewUserCommand(),
		NewRoleCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)

	return root
}

// Execute runs the root command and prints a failure to ErrWriter.
func Execute(cfg Config) int {
	root := NewRootCommand(cfg)
	if cfg.Args != nil {
		root.SetArgs(cfg.Args)
	}
	if err := root.Execute(); err != nil {
		// post-run hooks are skipped when a command fails
		if rt, rerr := getRuntime(root); rerr == nil {
			_ = rt.finish(err)
		}
		w := cfg.ErrWriter
		if w == nil {
			w = os.Stderr
		}
		_, _ = fmt.Fprintf(w, "Error: %v\n", err)
		return 1
	}
	return 0
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) initLogger() error {
	if rt.log != nil {
		return nil
	}
	var (
		logger *zap.Logger
		err    error
	)
	if rt.debug {
		logger, err = system.NewLogger(true)
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
	} else {
		logger = system.NewWriterLogger(rt.errWriter, zapcore.WarnLevel)
	}
	rt.log = logger.Sugar()
	return nil
}

// initTracing installs the trace exporter selected by --trace-exporter or
// ACCTL_TRACE_EXPORTER and opens a span covering the command.
func (rt *runtimeState) initTracing(cmd *cobra.Command) error {
	if rt.traceExporter == "" {
		rt.traceExporter = rt.getenv("ACCTL_TRACE_EXPORTER")
	}
	if rt.traceEndpoint == "" {
		rt.traceEndpoint = rt.getenv("ACCTL_OTLP_ENDPOINT")
	}
	if rt.traceExporter == "" || rt.stopTracing != nil {
		return nil
	}
	_, stop, err := telemetry.Init(cmd.Context(), telemetry.Options{
		Enabled:        true,
		ServiceVersion: version.Version,
		Exporter:       rt.traceExporter,
		Endpoint:       rt.traceEndpoint,
		Insecure:       rt.traceInsecure,
		Writer:         rt.errWriter,
		Logger:         rt.log,
	})
	if err != nil {
		return err
	}
	rt.stopTracing = stop
	ctx, span := telemetry.Tracer("cmd").Start(cmd.Context(), cmd.CommandPath(),
		trace.WithAttributes(attribute.String("acctl.trace.exporter", rt.traceExporter)))
	rt.span = span
	cmd.SetContext(ctx)
	return nil
}

func (rt *runtimeState) finish(cmdErr error) error {
	var errs []error
	if rt.sdk != nil {
		errs = append(errs, rt.sdk.Close())
		rt.sdk = nil
	}
	if rt.span != nil {
		telemetry.End(rt.span, cmdErr)
		rt.span = nil
	}
	if rt.stopTracing != nil {
		if err := rt.stopTracing(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush traces: %w", err))
		}
		rt.stopTracing = nil
	}
	if rt.metricsFile != "" {
		if err := metrics.WriteTextfile(rt.metricsFile); err != nil {
			errs = append(errs, fmt.Errorf("failed to write metrics: %w", err))
		}
	}
	if rt.log != nil {
		_ = rt.log.Sync()
	}
	return errors.Join(errs...)
}

func (rt *runtimeState) ResolveProfileName() string {
	if rt.profileOverride != "" {
		return rt.profileOverride
	}
	if rt.cfg != nil {
		return rt.cfg.CurrentProfileOrDefault()
	}
	return ""
}

func (rt *runtimeState) OutputFormat() (output.Format, error) {
	if rt.outputFormat != "" {
		return output.ParseFormat(rt.outputFormat)
	}
	if rt.cfg != nil && rt.cfg.Settings.OutputFormat != "" {
		return output.ParseFormat(rt.cfg.Settings.OutputFormat)
	}
	return output.FormatTable, nil
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

// ResolveProfile returns the selected profile with ACCTL_* overrides
// applied. Without a config file the profile is built from the environment
// alone.
func (rt *runtimeState) ResolveProfile() (*config.Profile, error) {
	if rt.cfg == nil {
		return nil, errors.New("config not loaded")
	}
	var profile config.Profile
	name := rt.ResolveProfileName()
	if name != "" {
		found, err := rt.cfg.FindProfile(name)
		if err != nil && rt.profileOverride != "" {
			return nil, err
		}
		if found != nil {
			profile = *found
		}
	}
	if profile.Name == "" {
		profile.Name = config.DefaultProfileName
	}
	if err := profile.ApplyEnv(rt.getenv); err != nil {
		return nil, err
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w (run \"acctl config init\" or set ACCTL_BASE_URL and ACCTL_CLIENT_ID)", profile.Name, err)
	}
	return &profile, nil
}

// SDK builds the SDK for the selected profile once per command.
func (rt *runtimeState) SDK() (*sdk.SDK, error) {
	if rt.sdk != nil {
		return rt.sdk, nil
	}
	profile, err := rt.ResolveProfile()
	if err != nil {
		return nil, err
	}
	secret, err := profile.ClientSecret()
	if err != nil {
		return nil, err
	}
	timeout, err := profile.Timeout()
	if err != nil {
		return nil, err
	}
	presenter := rt.presenter
	if presenter == nil {
		presenter = auth.NewBrowserPresenter(rt.errWriter, rt.noBrowser)
	}
	s, err := sdk.New(&sdk.Options{
		BaseURL:         profile.BaseURL,
		ClientID:        profile.ClientID,
		Realm:           profile.Realm,
		PlatformURL:     profile.PlatformURL,
		TokenStoreType:  profile.TokenStoreType,
		TokenStoreDir:   profile.TokenStorePath,
		ClientSecret:    secret,
		PrivateKeyFile:  profile.PrivateKeyFile,
		ServiceClientID: profile.ServiceClientID,
		Scopes:          profile.Scopes,
		CallbackPort:    profile.CallbackPort,
		LoginTimeout:    timeout,
		Presenter:       presenter,
		CAFile:          profile.CAFile,
		InsecureSkipTLS: profile.InsecureSkipTLS,
		Logger:          rt.log,
	})
	if err != nil {
		return nil, err
	}
	rt.sdk = s
	return s, nil
}

func (rt *runtimeState) configPathValue() string {
	if rt.configPath == "" {
		return config.DefaultConfigPath()
	}
	return rt.configPath
}

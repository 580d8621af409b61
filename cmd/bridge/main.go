// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/internal/bridge"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/config"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/plugins"
)

const shutdownTimeout = 30 * time.Second

// Set with -ldflags "-X main.version=...".
var version = "dev"

type options struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	env, envErr := config.LoadEnv()
	opts := &options{configPath: env.ConfigPath, logLevel: env.LogLevel, logFormat: env.LogFormat}

	root := &cobra.Command{
		Use:           "process-bridge",
		Short:         "Bridge message queues to the process engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return envErr
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBridge(cmd.Context(), opts, cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", opts.configPath, "settings file (.yaml or .properties)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", opts.logLevel, "debug, info, warn or error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", opts.logFormat, "json or text")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Start consuming and dispatching to the engine",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runBridge(cmd.Context(), opts, cmd.ErrOrStderr())
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check the settings and list the consumers they define",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runValidate(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

// setup loads the settings and builds an unstarted bridge.
func setup(opts *options, logOut io.Writer) (*bridge.Bridge, *slog.Logger, error) {
	logger := config.NewLogger(logOut, opts.logLevel, opts.logFormat)

	settings, err := config.Load(opts.configPath)
	if err != nil {
		logger.Error("failed to load config", "path", opts.configPath, "error", err)
		return nil, logger, err
	}

	eng, err := bridge.NewEngine(settings, logger.With("component", "engine"))
	if err != nil {
		logger.Error("invalid engine settings", "error", err)
		return nil, logger, err
	}

	registry, err := plugins.FromSettings(settings, logger.With("component", "transports"))
	if err != nil {
		logger.Error("invalid transport settings", "error", err)
		return nil, logger, err
	}

	b, err := bridge.New(bridge.Options{
		Settings:   settings,
		Engine:     eng,
		Transports: registry,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("invalid settings", "error", err)
		return nil, logger, err
	}
	return b, logger, nil
}

func runBridge(ctx context.Context, opts *options, logOut io.Writer) error {
	b, logger, err := setup(opts, logOut)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := b.Start(ctx); err != nil {
		logger.Error("failed to start", "error", err)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(err, b.Stop(shutdownCtx))
	}
	logger.Info("process bridge running", "config", opts.configPath, "version", version)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := b.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
		return err
	}
	return nil
}

func runValidate(ctx context.Context, opts *options, out, logOut io.Writer) error {
	b, _, err := setup(opts, logOut)
	if err != nil {
		return err
	}
	defs, err := b.Validate(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CONSUMER\tTRANSPORT\tACTION\tDEFINITIONS\tMAPPING\tWORKERS")
	for _, d := range defs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n", d.Name(), d.Transport, d.Action, d.DefinitionsIdentifier, d.Mapping, d.Concurrency)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d endpoint(s) configured\n", len(defs))
	return nil
}

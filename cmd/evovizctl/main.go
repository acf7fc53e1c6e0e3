package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"evoviz/internal/config"
	"evoviz/internal/logging"
	evoapi "evoviz/pkg/evoviz"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	return execute(ctx, args, os.Stdout, os.Stderr)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{v: viper.New(), stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// app carries the state shared by every subcommand once PersistentPreRunE has run.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Config
	logger  *slog.Logger

	stdout io.Writer
	stderr io.Writer
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "evovizctl",
		Short:         "Reconstruct and animate generational summaries from *.Master.log event logs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.v, a.cfgFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logging.New(a.stderr, logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
			a.logger.Debug("configuration loaded", "command", cmd.Name(), "config", a.v.ConfigFileUsed())
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (default ./evoviz.{yaml,json,toml} when present)")
	flags.String("out-dir", "", "directory for run artifacts and exports")
	flags.String("suffix", "", "log file suffix")
	flags.String("topology-file", "", "YAML topology overriding the 13-agent ternary tree")
	flags.String("store", "", "run store: memory or sqlite")
	flags.String("db-path", "", "sqlite database path")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.String("log-format", "", "auto, text or json")
	a.bind(flags, "out_dir", "suffix", "topology_file", "store", "db_path", "log_level", "log_format")

	root.AddCommand(
		a.summaryCmd(),
		a.tracksCmd(),
		a.improvementsCmd(),
		a.runsCmd(),
		a.showCmd(),
		a.exportCmd(),
	)
	return root
}

// bind ties flags named like the config keys (dashes for underscores) to viper
// so a flag set on the command line wins over file and environment values.
func (a *app) bind(flags *pflag.FlagSet, keys ...string) {
	for _, key := range keys {
		_ = a.v.BindPFlag(key, flags.Lookup(flagName(key)))
	}
}

func (a *app) newClient() (*evoapi.Client, error) {
	return evoapi.New(evoapi.Options{
		StoreKind:    a.cfg.Store,
		DBPath:       a.cfg.DBPath,
		OutDir:       a.cfg.OutDir,
		TopologyFile: a.cfg.TopologyFile,
		Logger:       a.logger,
	})
}

func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

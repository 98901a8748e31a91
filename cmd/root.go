// Package cmd contains the netsync command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/vcsnet/netsync/config"
	"github.com/vcsnet/netsync/node"
)

var (
	// Version is the app's semantic version. Designed to be overwritten by make.
	Version string

	// Commit is the git commit used to build the app. Designed to be overwritten by make.
	Commit string
)

// New builds the root command. Every command reads its configuration from
// vip, which the persistent flags are bound to.
func New(vip *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:           "netsync",
		Short:         "synchronize revision repositories with peers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	AddCommands(root, vip)
	root.AddCommand(
		serveCmd(vip),
		syncCmd(vip, "push", "send revisions of matching branches to a server", "source"),
		syncCmd(vip, "pull", "fetch revisions of matching branches from a server", "sink"),
		syncCmd(vip, "sync", "exchange revisions of matching branches with a server", "source-and-sink"),
		genkeyCmd(vip),
		keysCmd(vip),
		versionCmd(),
	)
	return root
}

// AddCommands adds the persistent flags shared by every command and binds
// them to vip.
func AddCommands(cmd *cobra.Command, vip *viper.Viper) {
	defaults := config.DefaultConfig()
	flags := cmd.PersistentFlags()

	/** ======================== BaseConfig Flags ========================== **/
	flags.StringP("config", "c", "", "load configuration from file")
	flags.StringP("data-dir", "d", defaults.DataDir, "directory of the repository database and keys")
	flags.StringP("key", "k", defaults.Key, "name of the identity to use, anonymous if empty")
	flags.Bool("metrics", defaults.CollectMetrics, "collect metrics")
	flags.Int("metrics-port", defaults.MetricsPort, "metrics server port")
	flags.String("metrics-push", defaults.MetricsPush, "push metrics of each sync to this gateway url")
	flags.Int("db-connections", defaults.DatabaseConnections, "database connection pool size")

	/** ======================== Logging Flags ========================== **/
	flags.String("log-encoder", defaults.Logging.Encoder, "log encoder, console or json")
	flags.String("log-level", defaults.Logging.NetsyncLoggerLevel, "logging level of sessions")

	bind(vip, flags, "config", "config")
	bind(vip, flags, "main.data-dir", "data-dir")
	bind(vip, flags, "main.key", "key")
	bind(vip, flags, "main.metrics", "metrics")
	bind(vip, flags, "main.metrics-port", "metrics-port")
	bind(vip, flags, "main.metrics-push", "metrics-push")
	bind(vip, flags, "main.db-connections", "db-connections")
	bind(vip, flags, "logging.log-encoder", "log-encoder")
	bind(vip, flags, "logging.netsync", "log-level")
}

func bind(vip *viper.Viper, flags *pflag.FlagSet, key, name string) {
	if err := vip.BindPFlag(key, flags.Lookup(name)); err != nil {
		panic(err)
	}
}

// Execute runs the command line and exits with a non-zero status on
// failure.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := New(viper.New()).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "netsync:", err)
		cancel()
		os.Exit(1)
	}
}

func openNode(vip *viper.Viper) (*node.Node, error) {
	conf, err := config.Load(vip)
	if err != nil {
		return nil, err
	}
	n := node.New(*conf)
	if err := n.Open(); err != nil {
		return nil, err
	}
	return n, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "show version info",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprint(out, Version)
			if Commit != "" {
				fmt.Fprintf(out, "+%s", Commit)
			}
			fmt.Fprintln(out)
		},
	}
}

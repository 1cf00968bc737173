package service

import (
	"fmt"

	"commentbox/app/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version is set at build time with -ldflags "-X commentbox/service.Version=...".
var Version = "1.0.0"

// cli holds the state shared by all subcommands of one invocation.
type cli struct {
	configPath string
	verbose    bool
	cfg        *config.Config
	logger     *zap.Logger
}

// NewRootCommand builds the commentbox command tree.
func NewRootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "commentbox",
		Short: "Comment widget service for static blogs",
		Long: `commentbox serves a comment list and a CAPTCHA protected comment form for
static blog posts. Comments are kept in a JSON file, a local Badger store, or
on GitHub issues with a local fallback.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg

			logger, err := newLogger(cfg.Logging, c.verbose)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", config.DefaultPath, "path to the YAML configuration file")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		c.serveCommand(),
		c.postIDCommand(),
		c.listCommand(),
		c.addCommand(),
		c.dbCommand(),
		versionCommand(),
	)
	return root
}

// Execute runs the command line.
func Execute() error {
	return NewRootCommand().Execute()
}

func (c *cli) serveCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the comment HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				c.cfg.Server.Addr = addr
			}
			return RunAppServer(c.cfg, c.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "commentbox version %s\n", Version)
			return nil
		},
	}
}

func newLogger(cfg config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/deepwork/internal/config"
	"github.com/zjrosen/deepwork/internal/log"
)

var version = "dev"

// cli holds the global flags and the configuration they resolve to. Each
// command tree gets its own so tests can run commands side by side.
type cli struct {
	cfgFile string
	dbPath  string
	memory  bool
	debug   bool

	cfg     config.Config
	cfgUsed string // file the config was read from, if any
	cleanup []func()
}

// NewRootCmd builds the deepwork command tree.
func NewRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "deepwork",
		Short: "Focus-aware task orchestration",
		Long: `deepwork tracks tasks that need uninterrupted focus. It caps how many
tasks may be in progress at once, protects high-focus sessions from
interruption, and serves the task store through a read-through cache.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: c.load,
		PersistentPostRun: func(*cobra.Command, []string) { c.close() },
	}

	root.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", "",
		"config file (default: .deepwork/config.yaml or ~/.config/deepwork/config.yaml)")
	root.PersistentFlags().StringVar(&c.dbPath, "db", "", "path to the SQLite database (overrides config)")
	root.PersistentFlags().BoolVar(&c.memory, "memory", false, "use an in-memory store instead of SQLite")
	root.PersistentFlags().BoolVar(&c.debug, "debug", false, "log debug output to stderr")

	root.AddCommand(
		newServeCmd(c),
		newTaskCmd(c),
		newAnalyticsCmd(c),
		newConfigCmd(c),
	)
	return root
}

// load resolves configuration and logging before any subcommand runs.
func (c *cli) load(cmd *cobra.Command, _ []string) error {
	if c.debug {
		log.InitWithWriter(cmd.ErrOrStderr(), log.LevelDebug)
	}

	cfg, used, err := config.Load(viper.New(), c.cfgFile)
	if err != nil {
		return err
	}

	if c.dbPath != "" {
		cfg.Database.Backend = config.BackendSQLite
		cfg.Database.Path = c.dbPath
	}
	if c.memory {
		cfg.Database.Backend = config.BackendMemory
	}
	if err := config.ValidateDatabase(cfg.Database); err != nil {
		return err
	}

	if !c.debug && cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o750); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
		closeLog, err := log.Init(cfg.Log.File)
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		log.SetMinLevel(log.ParseLevel(cfg.Log.Level))
		c.cleanup = append(c.cleanup, closeLog)
	}
	log.SetFormat(log.Format(cfg.Log.Format))

	c.cfg = cfg
	c.cfgUsed = used
	log.Debug(log.CatConfig, "Configuration resolved", "file", used, "backend", cfg.Database.Backend)
	return nil
}

func (c *cli) close() {
	for i := len(c.cleanup) - 1; i >= 0; i-- {
		c.cleanup[i]()
	}
	c.cleanup = nil
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
}

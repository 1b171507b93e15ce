package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/deepwork/internal/config"
	"github.com/zjrosen/deepwork/internal/flags"
	"github.com/zjrosen/deepwork/internal/log"
	"github.com/zjrosen/deepwork/internal/paths"
)

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create and edit the config file",
		// Editing commands must work even when the current file is invalid.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if c.debug {
				log.InitWithWriter(cmd.ErrOrStderr(), log.LevelDebug)
			}
			return nil
		},
	}
	cmd.AddCommand(
		newConfigInitCmd(c),
		newConfigPathCmd(c),
		newConfigSetCmd(c),
		newConfigFlagCmd(c),
	)
	return cmd
}

func (c *cli) configPath() string {
	return paths.ConfigFile(c.cfgFile)
}

func newConfigInitCmd(c *cli) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := c.configPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.WriteDefaultConfig(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigPathCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file that commands read and edit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), c.configPath())
			return err
		},
	}
}

// editConfig applies edit to the config file and keeps the change only if
// the result still loads.
func editConfig(path string, edit func(string) error) error {
	previous, err := os.ReadFile(path)
	existed := err == nil
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reading config: %w", err)
	}

	if err := edit(path); err != nil {
		return err
	}
	if _, _, err := config.Load(viper.New(), path); err != nil {
		if existed {
			_ = os.WriteFile(path, previous, 0o600)
		} else {
			_ = os.Remove(path)
		}
		return fmt.Errorf("change rejected: %w", err)
	}
	return nil
}

func newConfigSetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a value by dotted key",
		Example: `  deepwork config set server.addr 0.0.0.0:7420
  deepwork config set orchestrator.max_concurrent_sessions 5`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.configPath()
			err := editConfig(path, func(p string) error {
				return config.SetValue(p, args[0], args[1])
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s (%s)\n", args[0], args[1], path)
			return nil
		},
	}
}

func newConfigFlagCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:       "flag <name> <on|off>",
		Short:     "Turn a feature flag on or off",
		Long:      fmt.Sprintf("Turn a feature flag on or off.\n\nKnown flags: %v", flags.Known()),
		Args:      cobra.ExactArgs(2),
		ValidArgs: flags.Known(),
		RunE: func(cmd *cobra.Command, args []string) error {
			var on bool
			switch args[1] {
			case "on", "true":
				on = true
			case "off", "false":
			default:
				return fmt.Errorf("flag state must be on or off, got %q", args[1])
			}
			path := c.configPath()
			if err := editConfig(path, func(p string) error {
				return config.SetFlag(p, args[0], on)
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", args[0], args[1])
			return nil
		},
	}
}

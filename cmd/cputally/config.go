package main

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/musher-dev/cputally/internal/config"
	clierrors "github.com/musher-dev/cputally/internal/errors"
	"github.com/musher-dev/cputally/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  `View and modify cputally configuration settings.`,
	}

	cmd.AddCommand(newConfigListCmd())
	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigSetCmd())

	return cmd
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration settings",
		Long:  `Display every supported configuration key with its effective value from flags, environment, config file, or defaults.`,
		Example: `  cputally config list
  cputally config list --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			cfg := config.Load()

			if out.JSON {
				return out.PrintJSON(cfg.All())
			}

			width := 0
			for _, k := range config.Keys {
				width = max(width, len(k.Name))
			}

			for _, k := range config.Keys {
				out.Print("%-*s = %v\n", width, k.Name, cfg.Get(k.Name))
			}

			out.Println()

			if file := cfg.ConfigFile(); file != "" {
				out.Muted("Config file: %s", file)
			} else {
				out.Muted("No config file; showing defaults and environment overrides")
			}

			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "get <key>",
		Short:   "Get a configuration value",
		Long:    `Retrieve and display the current value of a single configuration key.`,
		Example: `  cputally config get run.count`,
		Args:    cobra.ExactArgs(1),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}

			return keyCompletions(), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			key := args[0]

			if !config.IsKnownKey(key) {
				return clierrors.UnknownConfigKey(key)
			}

			out.Print("%s = %v\n", key, config.Load().Get(key))

			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "set <key> <value>",
		Short:   "Set a configuration value",
		Long:    `Set a configuration key to the given value. The value is persisted to the config file.`,
		Example: `  cputally config set run.concurrency 8`,
		Args:    cobra.ExactArgs(2),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}

			return keyCompletions(), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			key, value := args[0], args[1]

			if !config.IsKnownKey(key) {
				return clierrors.UnknownConfigKey(key)
			}

			if err := config.Load().Set(key, value); err != nil {
				return clierrors.ConfigFailed("set config", err)
			}

			out.Success("Set %s = %s", key, value)

			return nil
		},
	}
}

// keyCompletions returns "key\thelp" pairs for shell completion.
func keyCompletions() []string {
	names := make([]string, 0, len(config.Keys))
	for _, k := range config.Keys {
		names = append(names, k.Name+"\t"+k.Help)
	}

	sort.Strings(names)

	return names
}

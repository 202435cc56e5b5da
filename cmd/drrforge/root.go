package main

import (
	"github.com/spf13/cobra"

	"github.com/mrsinham/drrforge/internal/config"
)

func newRootCommand() *cobra.Command {
	ctx := newCommandContext()

	rootCmd := &cobra.Command{
		Use:           "drrforge",
		Short:         "Render and crop DRR figures from CT series",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig(cmd)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.saveConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&ctx.configFlag, "config", "c", "", "Configuration file (YAML or TOML)")
	flags.StringVar(&ctx.saveConfigFlag, "save-config", "", "Write the effective configuration to this file after a successful run")
	flags.String("log-level", config.Default().Log.Level, "Log level: debug, info, warn, error")
	flags.String("device", config.Default().Device, "Compute device: auto, cpu, gpu")
	flags.Int("workers", 0, "Render workers (default: one per CPU)")
	ctx.bindPersistent("log.level", flags.Lookup("log-level"))
	ctx.bindPersistent("device", flags.Lookup("device"))
	ctx.bindPersistent("workers", flags.Lookup("workers"))

	rootCmd.AddCommand(newGenerateCommand(ctx))
	rootCmd.AddCommand(newCropCommand(ctx))
	rootCmd.AddCommand(newPatientCommand(ctx))
	rootCmd.AddCommand(newSetupCommand(ctx))
	rootCmd.AddCommand(newPhantomCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

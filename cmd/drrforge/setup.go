package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newSetupCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create the output directories and report the render device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config
			out := cmd.OutOrStdout()

			for _, dir := range []string{cfg.Generate.Output, cfg.Crop.Output} {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return fmt.Errorf("create %s: %w", dir, err)
				}
				fmt.Fprintf(out, "  Directory ready: %s\n", dir)
			}

			d, err := ctx.device()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  Device:  %s\n", d.Kind)
			fmt.Fprintf(out, "  Workers: %d\n", d.Workers)
			if d.Fallback() {
				fmt.Fprintln(out, "  (GPU requested, rendering on CPU)")
			}
			fmt.Fprintln(out, "\n✓ Setup complete!")
			return nil
		},
	}
}

package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mrsinham/drrforge/internal/dicom"
	"github.com/mrsinham/drrforge/internal/patient"
)

func newPhantomCommand(ctx *commandContext) *cobra.Command {
	var (
		output   string
		patients int
		slices   int
	)

	cmd := &cobra.Command{
		Use:   "phantom",
		Short: "Write a synthetic CT dataset for trying the pipeline",
		Long: `Write a synthetic chest CT dataset laid out like the real one: one
LIDC-IDRI-<n> directory per patient, each with a full CT series and a small
scout series. Point 'drrforge generate --input' at the output.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if patients < 1 {
				return fmt.Errorf("--patients must be > 0, got %d", patients)
			}

			runCtx, stop := signalContext(cmd.Context())
			defer stop()

			out := cmd.OutOrStdout()
			var files int
			for i := 1; i <= patients; i++ {
				id := patient.Normalize(fmt.Sprintf("%04d", i))
				opts := dicom.DefaultPhantomOptions(output, string(id))
				opts.Slices = slices
				opts.Workers = ctx.config.Workers

				series, err := dicom.WritePhantomSeries(runCtx, opts)
				if err != nil {
					return fmt.Errorf("phantom %s: %w", id, err)
				}
				for _, s := range series {
					files += len(s.Files)
				}
				fmt.Fprintf(out, "  %s: %d series\n", id, len(series))
			}

			fmt.Fprintln(out, "\n✓ Phantom dataset written!")
			fmt.Fprintf(out, "  Dataset: %s\n", output)
			fmt.Fprintf(out, "  Files:   %s\n", humanize.Comma(int64(files)))
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "phantom_dataset", "Dataset root to write")
	cmd.Flags().IntVar(&patients, "patients", 3, "Number of patients")
	cmd.Flags().IntVar(&slices, "slices", 40, "Slices per CT series")
	return cmd
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/mrsinham/drrforge/internal/config"
	"github.com/mrsinham/drrforge/internal/pipeline"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Render one DRR figure per patient",
		Long: `Render one DRR figure per patient directory of the dataset.

Every LIDC-IDRI-<digits> directory under --input is processed in order. The
largest DICOM series of each patient is projected and saved as
<output>/<patient_id>.png. Patients that fail are reported and skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config
			gen, err := ctx.newGenerator(cmd)
			if err != nil {
				return err
			}

			runCtx, stop := signalContext(cmd.Context())
			defer stop()

			report, err := gen.Run(runCtx, pipeline.GenerateOptions{
				InputDir:  cfg.Generate.Input,
				OutputDir: cfg.Generate.Output,
				PatientID: cfg.Generate.Patient,
			})
			if report != nil {
				ctx.record(runCtx, report)
				printReport(cmd.OutOrStdout(), report)
			}
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), report, cfg.Generate.Output)
			return nil
		},
	}

	cmd.Flags().String("input", config.DefaultDatasetDir, "Dataset root holding one directory per patient")
	cmd.Flags().String("output", config.DefaultImagesDir, "Directory for the rendered figures")
	cmd.Flags().String("patient", "", "Only render this patient directory (e.g. LIDC-IDRI-0072)")
	ctx.bindLocal(cmd, "generate.input", "input")
	ctx.bindLocal(cmd, "generate.output", "output")
	ctx.bindLocal(cmd, "generate.patient", "patient")
	return cmd
}

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mrsinham/drrforge/internal/config"
	"github.com/mrsinham/drrforge/internal/pipeline"
)

func newPatientCommand(ctx *commandContext) *cobra.Command {
	var patientID string

	cmd := &cobra.Command{
		Use:   "patient",
		Short: "Render and crop a single patient",
		Example: `  drrforge patient --patient 0072
  drrforge patient --patient LIDC-IDRI-0072 --input /data/filtered_dataset`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config
			gen, err := ctx.newGenerator(cmd)
			if err != nil {
				return err
			}
			crp := ctx.newCropper(cmd)

			runCtx, stop := signalContext(cmd.Context())
			defer stop()

			res, err := pipeline.ProcessPatient(runCtx, gen, crp, pipeline.PatientOptions{
				PatientID:  patientID,
				InputDir:   cfg.Generate.Input,
				ImagesDir:  cfg.Generate.Output,
				CroppedDir: cfg.Crop.Output,
			})
			if res != nil {
				ctx.record(runCtx, res.Generate, res.Crop)
			}
			if err != nil {
				if errors.Is(err, pipeline.ErrNoImage) && res != nil && res.Generate != nil {
					printReport(cmd.OutOrStdout(), res.Generate)
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\n✓ Patient %s complete!\n", res.ID)
			fmt.Fprintf(out, "  Image:   %s\n", res.Image)
			fmt.Fprintf(out, "  Cropped: %s\n", res.Cropped)
			return nil
		},
	}

	cmd.Flags().StringVar(&patientID, "patient", "", "Patient ID, with or without the LIDC-IDRI- prefix (required)")
	cmd.Flags().String("input", config.DefaultDatasetDir, "Dataset root holding one directory per patient")
	_ = cmd.MarkFlagRequired("patient")
	ctx.bindLocal(cmd, "generate.input", "input")
	return cmd
}

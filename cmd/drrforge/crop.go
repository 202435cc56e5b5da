package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mrsinham/drrforge/internal/config"
	"github.com/mrsinham/drrforge/internal/pipeline"
)

func newCropCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crop",
		Short: "Trim the figure margins from rendered images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config
			crp := ctx.newCropper(cmd)

			runCtx, stop := signalContext(cmd.Context())
			defer stop()

			report, err := crp.Run(runCtx, pipeline.CropOptions{
				InputDir:  cfg.Crop.Input,
				OutputDir: cfg.Crop.Output,
				Filter:    cfg.Crop.Patient,
			})
			if report != nil {
				ctx.record(runCtx, report)
				printReport(cmd.OutOrStdout(), report)
			}
			// A missing input directory ends the crop pass without failing the
			// command; nothing has been written.
			if errors.Is(err, pipeline.ErrInputDir) {
				ctx.log().Error("crop pass aborted", zap.String("input", cfg.Crop.Input), zap.Error(err))
				fmt.Fprintf(cmd.OutOrStdout(), "Nothing cropped: %v\n", err)
				return nil
			}
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), report, cfg.Crop.Output)
			return nil
		},
	}

	cmd.Flags().String("input", config.DefaultImagesDir, "Directory holding the rendered figures")
	cmd.Flags().String("output", config.DefaultCroppedDir, "Directory for the cropped images")
	cmd.Flags().String("patient", "", "Only crop images whose name contains this text")
	ctx.bindLocal(cmd, "crop.input", "input")
	ctx.bindLocal(cmd, "crop.output", "output")
	ctx.bindLocal(cmd, "crop.patient", "patient")
	return cmd
}

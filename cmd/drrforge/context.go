package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mrsinham/drrforge/internal/config"
	"github.com/mrsinham/drrforge/internal/dicom"
	"github.com/mrsinham/drrforge/internal/drr"
	"github.com/mrsinham/drrforge/internal/figure"
	"github.com/mrsinham/drrforge/internal/journal"
	"github.com/mrsinham/drrforge/internal/logging"
	"github.com/mrsinham/drrforge/internal/pipeline"
)

// commandContext carries state shared by every subcommand of one root
// command: the viper instance, the loaded configuration and the logger.
type commandContext struct {
	configFlag     string
	saveConfigFlag string

	v        *viper.Viper
	bindings map[*cobra.Command]map[string]string

	config *config.Config
	logger *zap.Logger
}

func newCommandContext() *commandContext {
	return &commandContext{
		v:        config.New(),
		bindings: make(map[*cobra.Command]map[string]string),
	}
}

// bindPersistent ties a root flag to a configuration key.
func (c *commandContext) bindPersistent(key string, flag *pflag.Flag) {
	if err := c.v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind %s: %v", key, err))
	}
}

// bindLocal records that cmd's flag overrides key. Several commands share
// flag names (--input, --output), so binding happens only for the command
// that actually runs.
func (c *commandContext) bindLocal(cmd *cobra.Command, key, flagName string) {
	if c.bindings[cmd] == nil {
		c.bindings[cmd] = make(map[string]string)
	}
	c.bindings[cmd][key] = flagName
}

func (c *commandContext) ensureConfig(cmd *cobra.Command) (*config.Config, error) {
	if c.config != nil {
		return c.config, nil
	}
	for key, name := range c.bindings[cmd] {
		if err := c.v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return nil, fmt.Errorf("bind --%s: %w", name, err)
		}
	}

	cfg, err := config.Load(c.v, strings.TrimSpace(c.configFlag))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrConfig, err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}
	c.config = cfg
	c.logger = logger
	return cfg, nil
}

func (c *commandContext) saveConfig(cmd *cobra.Command) error {
	path := strings.TrimSpace(c.saveConfigFlag)
	if path == "" || c.config == nil {
		return nil
	}
	if err := config.Save(c.config, path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to %s\n", path)
	return nil
}

func (c *commandContext) log() *zap.Logger {
	return logging.OrNop(c.logger)
}

func (c *commandContext) device() (drr.Device, error) {
	d, err := drr.SelectDevice(c.config.Device, c.config.Workers)
	if err != nil {
		return drr.Device{}, err
	}
	if d.Fallback() {
		c.log().Warn("no GPU backend available, falling back to CPU", zap.Int("workers", d.Workers))
	}
	return d, nil
}

// newGenerator builds a Generator from the loaded configuration.
func (c *commandContext) newGenerator(cmd *cobra.Command) (*pipeline.Generator, error) {
	cfg := c.config
	d, err := c.device()
	if err != nil {
		return nil, err
	}
	logger := c.log()

	gen := pipeline.NewGenerator(
		dicom.NewSeriesLoader(d.Workers, logger),
		drr.NewRayCaster(d, cfg.Render.StepScale),
		logger,
	)
	gen.LoadOptions = cfg.LoadOptions()
	gen.Geometry = cfg.Geometry()
	gen.Pose = cfg.Pose()
	gen.Figure = figure.Options{
		Size:           cfg.Figure.Size,
		Margins:        cfg.Rect(),
		LowPercentile:  cfg.Figure.LowPercentile,
		HighPercentile: cfg.Figure.HighPercentile,
	}
	gen.Caption = cfg.Figure.Caption
	gen.Progress = cfg.Progress
	gen.Stderr = cmd.ErrOrStderr()
	return gen, nil
}

func (c *commandContext) newCropper(cmd *cobra.Command) *pipeline.Cropper {
	crp := pipeline.NewCropper(c.log())
	crp.Rect = c.config.Rect()
	crp.Progress = c.config.Progress
	crp.Stderr = cmd.ErrOrStderr()
	return crp
}

// record appends reports to the journal when one is configured. Journal
// problems are logged and never fail the command.
func (c *commandContext) record(ctx context.Context, reports ...*pipeline.Report) {
	path := c.config.Journal.Path
	if path == "" {
		return
	}
	// An interrupted run is still worth recording.
	ctx = context.WithoutCancel(ctx)
	store, err := journal.Open(ctx, path)
	if err != nil {
		c.log().Warn("journal unavailable", zap.String("path", path), zap.Error(err))
		return
	}
	defer store.Close()
	for _, r := range reports {
		if r == nil {
			continue
		}
		id, err := store.Record(ctx, r)
		if err != nil {
			c.log().Warn("journal write failed", zap.String("stage", r.Stage), zap.Error(err))
			continue
		}
		c.log().Debug("run recorded", zap.String("run_id", id.String()), zap.String("stage", r.Stage))
	}
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

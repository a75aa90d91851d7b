package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	"github.com/iancoleman/strcase"
	"github.com/sirupsen/logrus"
	"github.com/tingold/pyramid/internal/config"
	"github.com/urfave/cli/v2"
)

const (
	configFlag        = "config"
	logLevelFlag      = "log-level"
	storeFlag         = "store"
	sourceFlag        = "source"
	crsFlag           = "crs"
	bboxFlag          = "bbox"
	bboxCRSFlag       = "bbox-crs"
	scalesFlag        = "scales"
	tmsFlag           = "tms"
	zoomsFlag         = "zooms"
	sliceFlag         = "slice"
	onlyMissingFlag   = "only-missing"
	interpolationFlag = "interpolation"
	resolutionFlag    = "resolution"
	maxTilesFlag      = "max-tiles"
	outFlag           = "out"
)

// envVars names the environment variable backing a flag.
func envVars(flag string) []string {
	return []string{config.EnvPrefix + "_" + strcase.ToScreamingSnake(flag)}
}

// runtime is the state shared by the commands once the configuration is
// loaded.
type runtime struct {
	cfg       *config.Config
	log       *logrus.Logger
	logCloser io.Closer
}

func newApp() *cli.App {
	rt := &runtime{}
	return &cli.App{
		Name:    "pyramid",
		Usage:   "Build and query multi-resolution tiled raster pyramids",
		Version: versioninfo.Short(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    configFlag,
				Aliases: []string{"c"},
				Usage:   "Configuration `file` (TOML, YAML or JSON)",
				EnvVars: envVars(configFlag),
			},
			&cli.StringFlag{
				Name:    logLevelFlag,
				Aliases: []string{"l"},
				Usage:   "Log level, overrides the configuration",
				EnvVars: envVars(logLevelFlag),
			},
		},
		Before: rt.setup,
		After:  rt.teardown,
		Commands: []*cli.Command{
			rt.infoCommand(),
			rt.buildCommand(),
			rt.readCommand(),
		},
	}
}

func (rt *runtime) setup(c *cli.Context) error {
	cfg, err := config.Load(c.String(configFlag))
	if err != nil {
		return err
	}
	log, closer, err := newLogger(cfg.Log, c.String(logLevelFlag), c.App.ErrWriter)
	if err != nil {
		return err
	}
	rt.cfg, rt.log, rt.logCloser = cfg, log, closer
	rt.log.WithField("version", versioninfo.Short()).Debug("pyramid starting")
	return nil
}

func (rt *runtime) teardown(*cli.Context) error {
	if rt.logCloser != nil {
		return rt.logCloser.Close()
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "pyramid:", err)
		stop()
		os.Exit(1)
	}
}

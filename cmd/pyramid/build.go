package main

import (
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"github.com/tingold/pyramid"
	"github.com/tingold/pyramid/cog"
	"github.com/tingold/pyramid/gpkg"
	"github.com/tingold/pyramid/tms"
	"github.com/urfave/cli/v2"
	pb "gopkg.in/cheggaaa/pb.v1"
)

func (rt *runtime) buildCommand() *cli.Command {
	return &cli.Command{
		Name:  "build",
		Usage: "Write a GeoTIFF into the pyramid of a GeoPackage",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     sourceFlag,
				Usage:    "Source GeoTIFF (path or http URL)",
				Required: true,
				EnvVars:  envVars(sourceFlag),
			},
			&cli.StringFlag{
				Name:     storeFlag,
				Aliases:  []string{"s"},
				Usage:    "Target GeoPackage, created when missing",
				Required: true,
				EnvVars:  envVars(storeFlag),
			},
			&cli.StringFlag{
				Name:    crsFlag,
				Usage:   "CRS of the pyramid, defaults to the source CRS",
				EnvVars: envVars(crsFlag),
			},
			&cli.Float64SliceFlag{
				Name:    scalesFlag,
				Usage:   "Scales of the mosaics in CRS units per pixel. Without scales the source resolution is halved until the source fits one tile",
				EnvVars: envVars(scalesFlag),
			},
			&cli.StringFlag{
				Name:    tmsFlag,
				Usage:   "Tile matrix set: WebMercatorQuad or the path of an OGC TMS 2.0 JSON document. Replaces --crs and --scales",
				EnvVars: envVars(tmsFlag),
			},
			&cli.IntSliceFlag{
				Name:    zoomsFlag,
				Aliases: []string{"z"},
				Usage:   "Zoom levels of the tile matrix set to build",
				EnvVars: envVars(zoomsFlag),
			},
			&cli.StringFlag{
				Name:    bboxFlag,
				Usage:   "Envelope of the pyramid in its CRS: minx,miny,maxx,maxy",
				EnvVars: envVars(bboxFlag),
			},
			&cli.StringFlag{
				Name:    sliceFlag,
				Usage:   "Slice key tagging the mosaics, e.g. time=2021",
				EnvVars: envVars(sliceFlag),
			},
			&cli.BoolFlag{
				Name:    onlyMissingFlag,
				Usage:   "Leave populated tiles untouched",
				EnvVars: envVars(onlyMissingFlag),
			},
			&cli.StringFlag{
				Name:    interpolationFlag,
				Usage:   "nearest, bilinear or bicubic; defaults to the configuration",
				EnvVars: envVars(interpolationFlag),
			},
		},
		Action: rt.build,
	}
}

func (rt *runtime) build(c *cli.Context) error {
	ctx := c.Context
	started := time.Now()

	src, err := cog.ReadCoverage(ctx, c.String(sourceFlag), rt.cogOptions()...)
	if err != nil {
		return fmt.Errorf("failed to read source: %w", err)
	}
	if !isGeoPackage(c.String(storeFlag)) {
		return fmt.Errorf("build writes GeoPackages, got %s", c.String(storeFlag))
	}
	clip, err := parseBBox(c.String(bboxFlag))
	if err != nil {
		return err
	}
	target, err := rt.target(c, src, clip)
	if err != nil {
		return err
	}

	st, err := gpkg.Open(c.String(storeFlag), gpkg.WithLogger(rt.log))
	if err != nil {
		return err
	}
	defer st.Close()
	w, err := pyramid.NewWriter(st, rt.cfg.Writer, pyramid.WithLogger(rt.log))
	if err != nil {
		return err
	}

	bars := newProgress(c.App.ErrWriter)
	err = w.Write(ctx, pyramid.WriteRequest{
		Source:        src,
		Targets:       []pyramid.WriteTarget{target},
		OnlyMissing:   c.Bool(onlyMissingFlag),
		Interpolation: pyramid.Interpolation(c.String(interpolationFlag)),
		Slice:         c.String(sliceFlag),
		Progress:      bars.update,
	})
	bars.finish()
	if err != nil {
		return err
	}
	rt.log.WithFields(logrus.Fields{
		"store":  st.Path(),
		"crs":    target.CRS.String(),
		"scales": len(target.Scales),
		"tiles":  bars.total(),
		"took":   time.Since(started).Round(time.Millisecond),
	}).Info("build finished")
	return nil
}

func (rt *runtime) target(c *cli.Context, src *pyramid.Coverage, clip orb.Bound) (pyramid.WriteTarget, error) {
	if name := c.String(tmsFlag); name != "" {
		zooms := c.IntSlice(zoomsFlag)
		if len(zooms) == 0 {
			return pyramid.WriteTarget{}, fmt.Errorf("--%s needs --%s", tmsFlag, zoomsFlag)
		}
		var set *tms.TileMatrixSet
		var err error
		if strings.HasSuffix(strings.ToLower(name), ".json") {
			set, err = tms.Load(name)
		} else {
			set, err = tms.Builtin(name, slices.Max(zooms))
		}
		if err != nil {
			return pyramid.WriteTarget{}, err
		}
		return set.Target(clip, zooms...)
	}

	crs := src.CRS
	if s := c.String(crsFlag); s != "" {
		var err error
		if crs, err = pyramid.ParseCRS(s); err != nil {
			return pyramid.WriteTarget{}, err
		}
	}
	scales := c.Float64Slice(scalesFlag)
	if len(scales) == 0 {
		if !crs.Equal(src.CRS) {
			return pyramid.WriteTarget{}, fmt.Errorf("--%s is required when the pyramid CRS differs from the source", scalesFlag)
		}
		scales = overviewScales(src, rt.cfg.Writer.TileWidth, rt.cfg.Writer.TileHeight)
		if len(scales) == 0 {
			return pyramid.WriteTarget{}, fmt.Errorf("source has no usable resolution, pass --%s", scalesFlag)
		}
	}
	return pyramid.WriteTarget{CRS: crs, Envelope: clip, Scales: scales}, nil
}

// overviewScales starts at the source resolution and doubles the scale until
// the whole source fits one tile.
func overviewScales(src *pyramid.Coverage, tileWidth, tileHeight int) []float64 {
	base := src.GridToCRS.ScaleX()
	if !(base > 0) || math.IsInf(base, 0) {
		return nil
	}
	scale := base
	scales := []float64{scale}
	for {
		w := math.Ceil(float64(src.Width) * base / scale)
		h := math.Ceil(float64(src.Height) * base / scale)
		if w <= float64(tileWidth) && h <= float64(tileHeight) {
			return scales
		}
		scale *= 2
		scales = append(scales, scale)
	}
}

// progress shows one bar per mosaic being written.
type progress struct {
	mu   sync.Mutex
	out  io.Writer
	bars map[string]*pb.ProgressBar
	done map[string]int
}

func newProgress(out io.Writer) *progress {
	return &progress{out: out, bars: make(map[string]*pb.ProgressBar), done: make(map[string]int)}
}

func (p *progress) update(m *pyramid.GridMosaic, done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	bar, ok := p.bars[m.ID]
	if !ok {
		bar = pb.New(total).Prefix(fmt.Sprintf("scale %g ", m.Scale))
		bar.Output = p.out
		bar.SetRefreshRate(time.Second)
		bar.Start()
		p.bars[m.ID] = bar
	}
	// workers report out of order
	if done > p.done[m.ID] {
		p.done[m.ID] = done
		bar.Set(done)
	}
}

func (p *progress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, bar := range p.bars {
		bar.Finish()
	}
}

func (p *progress) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, d := range p.done {
		n += d
	}
	return n
}

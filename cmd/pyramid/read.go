package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tingold/pyramid"
	"github.com/urfave/cli/v2"
)

const mosaicFlag = "mosaic"

func (rt *runtime) readCommand() *cli.Command {
	return &cli.Command{
		Name:  "read",
		Usage: "Read an envelope of a store into a PNG",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     storeFlag,
				Aliases:  []string{"s"},
				Usage:    "GeoPackage or GeoTIFF (path or http URL)",
				Required: true,
				EnvVars:  envVars(storeFlag),
			},
			&cli.StringFlag{
				Name:     outFlag,
				Aliases:  []string{"o"},
				Usage:    "Output PNG `file`",
				Required: true,
				EnvVars:  envVars(outFlag),
			},
			&cli.StringFlag{
				Name:    bboxFlag,
				Usage:   "Envelope to read: minx,miny,maxx,maxy. Defaults to the whole set",
				EnvVars: envVars(bboxFlag),
			},
			&cli.StringFlag{
				Name:    bboxCRSFlag,
				Usage:   "CRS of --bbox, defaults to --crs",
				EnvVars: envVars(bboxCRSFlag),
			},
			&cli.StringFlag{
				Name:    crsFlag,
				Usage:   "CRS of the result; the result is reprojected when no pyramid uses it",
				EnvVars: envVars(crsFlag),
			},
			&cli.Float64Flag{
				Name:    resolutionFlag,
				Usage:   "Resolution in CRS units per pixel; 0 reads the coarsest level",
				EnvVars: envVars(resolutionFlag),
			},
			&cli.StringFlag{
				Name:    sliceFlag,
				Usage:   "Slice key of the mosaics to read",
				EnvVars: envVars(sliceFlag),
			},
			&cli.IntFlag{
				Name:    maxTilesFlag,
				Usage:   "Tile budget of the read, overrides the configuration",
				EnvVars: envVars(maxTilesFlag),
			},
			&cli.StringFlag{
				Name:    mosaicFlag,
				Usage:   "Render a whole 8-bit mosaic, as pyramid/mosaic or a mosaic ID, instead of reading an envelope",
				EnvVars: envVars(mosaicFlag),
			},
		},
		Action: rt.read,
	}
}

func (rt *runtime) read(c *cli.Context) error {
	st, err := rt.openStore(c.String(storeFlag))
	if err != nil {
		return err
	}
	defer st.Close()
	set, err := st.PyramidSet(c.Context)
	if err != nil {
		return err
	}
	if id := c.String(mosaicFlag); id != "" {
		return rt.render(c, set, id)
	}

	req := pyramid.ReadRequest{
		Resolution: c.Float64(resolutionFlag),
		Slice:      c.String(sliceFlag),
		MaxTiles:   c.Int(maxTilesFlag),
	}
	if s := c.String(crsFlag); s != "" {
		if req.CRS, err = pyramid.ParseCRS(s); err != nil {
			return err
		}
		req.Reproject = true
	}
	if s := c.String(bboxCRSFlag); s != "" {
		if req.EnvelopeCRS, err = pyramid.ParseCRS(s); err != nil {
			return err
		}
	}
	if req.Envelope, err = parseBBox(c.String(bboxFlag)); err != nil {
		return err
	}

	r, err := pyramid.NewReader(set, rt.cfg.Reader, pyramid.WithLogger(rt.log))
	if err != nil {
		return err
	}
	cov, readErr := r.Read(c.Context, req)
	if cov == nil {
		return readErr
	}
	// a cancelled read still leaves the tiles composited so far
	if err := writePNG(c.String(outFlag), coverageImage(cov.Raster)); err != nil {
		return errors.Join(readErr, err)
	}
	b := cov.Bounds()
	rt.log.WithFields(logrus.Fields{
		"out":    c.String(outFlag),
		"width":  cov.Width,
		"height": cov.Height,
		"crs":    cov.CRS.String(),
		"bounds": fmt.Sprintf("%g,%g,%g,%g", b.Min[0], b.Min[1], b.Max[0], b.Max[1]),
	}).Info("read finished")
	return readErr
}

// render writes the whole of one mosaic through a cached view.
func (rt *runtime) render(c *cli.Context, set *pyramid.PyramidSet, id string) error {
	m := findMosaic(set, id)
	if m == nil {
		return fmt.Errorf("mosaic %s: %w", id, pyramid.ErrNoMosaic)
	}
	cache, err := pyramid.NewTileCache(rt.cfg.Cache)
	if err != nil {
		return err
	}
	defer cache.Stop()
	view, err := pyramid.NewView(c.Context, m, cache, pyramid.WithLogger(rt.log))
	if err != nil {
		return err
	}
	img, err := view.Image(c.Context)
	if err != nil {
		return err
	}
	if err := writePNG(c.String(outFlag), img); err != nil {
		return err
	}
	rt.log.WithFields(logrus.Fields{
		"out":    c.String(outFlag),
		"mosaic": m.ID,
		"cached": cache.Len(),
	}).Info("render finished")
	return c.Context.Err()
}

// findMosaic accepts "pyramid/mosaic" or a bare mosaic ID.
func findMosaic(set *pyramid.PyramidSet, id string) *pyramid.GridMosaic {
	if p, m, ok := strings.Cut(id, "/"); ok {
		return set.Mosaic(p, m)
	}
	for _, p := range set.Pyramids() {
		if m := p.Mosaic(id); m != nil {
			return m
		}
	}
	return nil
}

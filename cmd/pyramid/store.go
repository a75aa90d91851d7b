package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/tingold/pyramid"
	"github.com/tingold/pyramid/cog"
	"github.com/tingold/pyramid/gpkg"
)

type store interface {
	pyramid.Store
	Close() error
}

func isGeoPackage(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".gpkg")
}

func isGeoTIFF(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return true
	}
	return cog.IsRemote(path)
}

// openStore opens an existing GeoPackage or GeoTIFF.
func (rt *runtime) openStore(path string) (store, error) {
	switch {
	case isGeoPackage(path):
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
		return gpkg.Open(path, gpkg.WithLogger(rt.log))
	case isGeoTIFF(path):
		return cog.Open(path, rt.cogOptions()...)
	}
	return nil, fmt.Errorf("unsupported store %s, want a .gpkg file or a GeoTIFF", path)
}

func (rt *runtime) cogOptions() []cog.Option {
	return []cog.Option{
		cog.WithLogger(rt.log),
		cog.WithReadAhead(rt.cfg.COG.ReadAhead),
		cog.WithTimeout(rt.cfg.COG.Timeout),
	}
}

// parseBBox reads "minx,miny,maxx,maxy". An empty string is the zero bound.
func parseBBox(s string) (orb.Bound, error) {
	var b orb.Bound
	if strings.TrimSpace(s) == "" {
		return b, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return b, fmt.Errorf("bbox %q: want minx,miny,maxx,maxy", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return b, fmt.Errorf("bbox %q: %w", s, err)
		}
		v[i] = f
	}
	if !(v[2] > v[0]) || !(v[3] > v[1]) {
		return b, fmt.Errorf("bbox %q is empty", s)
	}
	b.Min[0], b.Min[1], b.Max[0], b.Max[1] = v[0], v[1], v[2], v[3]
	return b, nil
}

package main

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"github.com/tingold/pyramid"
)

// coverageImage maps a raster onto an image. 8-bit rasters with 1, 3 or 4
// bands keep their samples; anything else shows its first band stretched
// between its minimum and maximum, with no-data pixels transparent.
func coverageImage(r *pyramid.Raster) image.Image {
	rect := image.Rect(0, 0, r.Width, r.Height)
	if r.Model.Type == pyramid.Uint8 {
		switch r.Bands() {
		case 1:
			img := image.NewGray(rect)
			for y := 0; y < r.Height; y++ {
				for x := 0; x < r.Width; x++ {
					img.SetGray(x, y, color.Gray{Y: uint8(r.At(0, x, y))})
				}
			}
			return img
		case 3, 4:
			img := image.NewNRGBA(rect)
			for y := 0; y < r.Height; y++ {
				for x := 0; x < r.Width; x++ {
					c := color.NRGBA{uint8(r.At(0, x, y)), uint8(r.At(1, x, y)), uint8(r.At(2, x, y)), 0xff}
					if r.Bands() == 4 {
						c.A = uint8(r.At(3, x, y))
					}
					img.SetNRGBA(x, y, c)
				}
			}
			return img
		}
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 0; i < len(r.Data); i += r.Bands() {
		v := r.Data[i]
		if noData(v, r.Model.NoData) {
			continue
		}
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	img := image.NewNRGBA64(rect)
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			v := r.At(0, x, y)
			if noData(v, r.Model.NoData) {
				continue
			}
			g := uint16(math.MaxUint16)
			if hi > lo {
				g = uint16(math.Round((v - lo) / (hi - lo) * math.MaxUint16))
			}
			img.SetNRGBA64(x, y, color.NRGBA64{R: g, G: g, B: g, A: math.MaxUint16})
		}
	}
	return img
}

func noData(v, noData float64) bool {
	return math.IsNaN(v) || v == noData
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

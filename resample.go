package pyramid

import (
	"context"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"golang.org/x/image/draw"
)

// Interpolation selects the pixel interpolation kernel.
type Interpolation string

const (
	Nearest  Interpolation = "nearest"
	Bilinear Interpolation = "bilinear"
	Bicubic  Interpolation = "bicubic"
)

// kernel returns the separable kernel for i, nil for nearest neighbour.
func (i Interpolation) kernel() (*draw.Kernel, error) {
	switch i {
	case Nearest, "":
		return nil, nil
	case Bilinear:
		return draw.BiLinear, nil
	case Bicubic:
		return draw.CatmullRom, nil
	}
	return nil, fmt.Errorf("unknown interpolation %q", string(i))
}

// Resampler recomputes pixel values on a new grid. Samples falling outside
// the source raster get Fill, one value per band; missing values are zero.
type Resampler struct {
	Interpolation Interpolation
	Fill          []float64
}

// Resample fills every pixel of dst by mapping its center through
// dstToSrc into source pixel space and interpolating src there. ctx is checked
// between rows.
func (rs Resampler) Resample(ctx context.Context, src, dst *Raster, dstToSrc Transform) error {
	k, err := rs.Interpolation.kernel()
	if err != nil {
		return err
	}
	bands := dst.Model.Bands
	fill := make([]float64, bands)
	copy(fill, rs.Fill)
	px := make([]float64, bands)
	for y := 0; y < dst.Height; y++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for x := 0; x < dst.Width; x++ {
			p := dstToSrc.Apply(orb.Point{float64(x) + 0.5, float64(y) + 0.5})
			i := dst.Index(0, x, y)
			if !rs.sample(src, k, p[0], p[1], px) {
				copy(dst.Data[i:i+bands], fill)
				continue
			}
			for b := 0; b < bands; b++ {
				if b < src.Model.Bands {
					dst.Data[i+b] = px[b]
				} else {
					dst.Data[i+b] = fill[b]
				}
			}
		}
	}
	return nil
}

// Sample interpolates src at the continuous pixel position fx, fy (origin at
// the upper left corner of the raster) into out, one value per band. It
// returns false when the position lies outside the raster.
func (rs Resampler) Sample(src *Raster, fx, fy float64, out []float64) (bool, error) {
	k, err := rs.Interpolation.kernel()
	if err != nil {
		return false, err
	}
	return rs.sample(src, k, fx, fy, out), nil
}

func (rs Resampler) sample(src *Raster, k *draw.Kernel, fx, fy float64, out []float64) bool {
	if !(fx >= 0 && fy >= 0 && fx < float64(src.Width) && fy < float64(src.Height)) {
		return false
	}
	bands := min(len(out), src.Model.Bands)
	if k == nil {
		i := src.Index(0, int(fx), int(fy))
		copy(out[:bands], src.Data[i:i+bands])
		return true
	}

	// kernel taps around the pixel center
	cx, cy := fx-0.5, fy-0.5
	support := int(math.Ceil(k.Support))
	x0, y0 := int(math.Floor(cx)), int(math.Floor(cy))
	for b := 0; b < bands; b++ {
		var sum, weight float64
		for ty := y0 - support + 1; ty <= y0+support; ty++ {
			wy := k.At(math.Abs(float64(ty) - cy))
			if wy == 0 {
				continue
			}
			sy := clampInt(ty, 0, src.Height-1)
			for tx := x0 - support + 1; tx <= x0+support; tx++ {
				wx := k.At(math.Abs(float64(tx) - cx))
				if wx == 0 {
					continue
				}
				v := src.Data[src.Index(b, clampInt(tx, 0, src.Width-1), sy)]
				if math.IsNaN(v) {
					continue
				}
				sum += v * wx * wy
				weight += wx * wy
			}
		}
		if weight == 0 {
			out[b] = src.Model.NoData
			continue
		}
		out[b] = clampSample(sum/weight, src.Model.Type)
	}
	return true
}

// Warp resamples src onto the grid gridToCRS of size width x height in crs.
func (rs Resampler) Warp(ctx context.Context, src *Coverage, crs CRS, gridToCRS Affine, width, height int) (*Coverage, error) {
	dstToSrc, err := PixelTransform(gridToCRS, crs, src)
	if err != nil {
		return nil, err
	}
	dst := NewRaster(width, height, src.Model)
	if err := rs.Resample(ctx, src.Raster, dst, dstToSrc); err != nil {
		return nil, err
	}
	return &Coverage{Raster: dst, CRS: crs, GridToCRS: gridToCRS}, nil
}

// PixelTransform composes destination pixel -> destination CRS -> source CRS
// -> source pixel.
func PixelTransform(dstGridToCRS Affine, dstCRS CRS, src *Coverage) (Transform, error) {
	toSrcCRS, err := FindTransform(dstCRS, src.CRS)
	if err != nil {
		return nil, err
	}
	srcInv, err := src.GridToCRS.Invert()
	if err != nil {
		return nil, err
	}
	if toSrcCRS == Identity {
		return dstGridToCRS.Then(srcInv), nil
	}
	return Chain{dstGridToCRS, toSrcCRS, srcInv}, nil
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// clampSample keeps interpolated values in the range of integer sample types;
// bicubic kernels overshoot.
func clampSample(v float64, t SampleType) float64 {
	switch t {
	case Uint8:
		return math.Max(0, math.Min(255, math.Round(v)))
	case Int8:
		return math.Max(-128, math.Min(127, math.Round(v)))
	case Uint16:
		return math.Max(0, math.Min(65535, math.Round(v)))
	case Int16:
		return math.Max(-32768, math.Min(32767, math.Round(v)))
	case Uint32:
		return math.Max(0, math.Min(math.MaxUint32, math.Round(v)))
	case Int32:
		return math.Max(math.MinInt32, math.Min(math.MaxInt32, math.Round(v)))
	}
	return v
}

package gpkg

import (
	"bytes"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tingold/pyramid"
)

func filled(w, h int, model pyramid.SampleModel, f func(band, x, y int) float64) *pyramid.Raster {
	r := pyramid.NewRaster(w, h, model)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for b := 0; b < model.Bands; b++ {
				r.Set(b, x, y, f(b, x, y))
			}
		}
	}
	return r
}

func TestTileCodec_RoundTrip(t *testing.T) {
	bytesOf := func(b, x, y int) float64 { return float64((b*70 + x*3 + y*5) % 256) }
	tests := []struct {
		name  string
		model pyramid.SampleModel
		value func(b, x, y int) float64
		png   bool
	}{
		{"gray", pyramid.SampleModel{Bands: 1, Type: pyramid.Uint8}, bytesOf, true},
		{"rgb", pyramid.SampleModel{Bands: 3, Type: pyramid.Uint8}, bytesOf, true},
		{"rgba", pyramid.SampleModel{Bands: 4, Type: pyramid.Uint8}, bytesOf, true},
		{"opaque rgba", pyramid.SampleModel{Bands: 4, Type: pyramid.Uint8},
			func(b, x, y int) float64 {
				if b == 3 {
					return 255
				}
				return bytesOf(b, x, y)
			}, true},
		{"two band bytes", pyramid.SampleModel{Bands: 2, Type: pyramid.Uint8}, bytesOf, false},
		{"int16", pyramid.SampleModel{Bands: 1, Type: pyramid.Int16, NoData: -32768},
			func(b, x, y int) float64 { return float64(x*100 - y*300) }, false},
		{"uint32", pyramid.SampleModel{Bands: 2, Type: pyramid.Uint32},
			func(b, x, y int) float64 { return float64(b*1e6 + x*y) }, false},
		{"float32 with nan", pyramid.DefaultSampleModel(1, pyramid.Float32),
			func(b, x, y int) float64 {
				if x == y {
					return math.NaN()
				}
				return float64(x) * 0.5
			}, false},
		{"float64", pyramid.SampleModel{Bands: 3, Type: pyramid.Float64, NoData: -9999},
			func(b, x, y int) float64 { return math.Pi * float64(b+x-y) }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := filled(17, 9, tt.model, tt.value)
			data, err := encodeTile(r)
			require.NoError(t, err)
			assert.Equal(t, tt.png, bytes.HasPrefix(data, pngSignature))

			got, err := decodeTile(data, &tt.model)
			require.NoError(t, err)
			assert.Equal(t, 17, got.Width)
			assert.Equal(t, 9, got.Height)
			assert.True(t, tt.model.Equal(got.Model), "model %+v", got.Model)
			assert.Empty(t, cmp.Diff(r.Data, got.Data, cmpopts.EquateNaNs()))
		})
	}
}

func TestTileCodec_PNGClampsSamples(t *testing.T) {
	model := pyramid.SampleModel{Bands: 1, Type: pyramid.Uint8}
	r := pyramid.NewRaster(3, 1, model)
	r.Data = []float64{-4, 300, 12.6}
	data, err := encodeTile(r)
	require.NoError(t, err)
	got, err := decodeTile(data, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 255, 13}, got.Data)
}

func TestTileCodec_Invalid(t *testing.T) {
	_, err := decodeTile([]byte("garbage"), nil)
	assert.ErrorIs(t, err, errPayload)

	_, err = decodeTile([]byte("PYRT\x01"), nil)
	assert.ErrorIs(t, err, errPayload)

	r := filled(4, 4, pyramid.SampleModel{Bands: 1, Type: pyramid.Uint16}, func(int, int, int) float64 { return 7 })
	data, err := encodeTile(r)
	require.NoError(t, err)

	wrongVersion := bytes.Clone(data)
	wrongVersion[4] = 9
	_, err = decodeTile(wrongVersion, nil)
	assert.ErrorIs(t, err, errPayload)

	_, err = decodeTile(data[:len(data)-3], nil)
	assert.ErrorIs(t, err, errPayload)

	_, err = decodeTile(append(bytes.Clone(pngSignature), 0, 0), nil)
	assert.ErrorIs(t, err, errPayload)
}

package pyramid

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxTiles caps the tiles a single read may need.
	DefaultMaxTiles = 100
	// DefaultTolerance lets a level slightly coarser than wanted win.
	DefaultTolerance = 0.1
)

// AnyResolution marks an unset resolution; the finder then favours the
// coarsest usable level.
var AnyResolution = math.Inf(1)

// FindPyramid returns the pyramid of crs. When the set has no pyramid for crs
// another pyramid is returned and a warning is logged, so callers must not
// assume the result matches crs. The result is nil only for an empty set.
func FindPyramid(set *PyramidSet, crs CRS, log logrus.FieldLogger) *Pyramid {
	pyramids := set.Pyramids()
	if len(pyramids) == 0 {
		return nil
	}
	for _, p := range pyramids {
		if p.CRS.Equal(crs) {
			return p
		}
	}
	if log != nil {
		log.WithFields(logrus.Fields{
			"set":      set.ID,
			"crs":      crs.String(),
			"fallback": pyramids[0].CRS.String(),
		}).Warn("no pyramid for requested crs, falling back")
	}
	return pyramids[0]
}

// FindMosaic walks mosaics ordered from coarsest to finest. Each level is
// accepted in turn and refinement continues while
//
//	scale * (1 - tolerance) >= wanted
//
// holds for the accepted level. A level needing more than maxTiles tiles over
// envelope stops the walk and the previous level is returned; the coarsest
// level is returned even if it exceeds the budget. maxTiles <= 0 disables the
// budget. Returns nil only if mosaics is empty.
func FindMosaic(mosaics []*GridMosaic, wanted, tolerance float64, envelope orb.Bound, maxTiles int) *GridMosaic {
	switch {
	case math.IsNaN(wanted):
		wanted = AnyResolution
	case wanted < 0:
		wanted = 0
	}
	var best *GridMosaic
	for _, m := range mosaics {
		if maxTiles > 0 && m.EstimateTileCount(envelope) > float64(maxTiles) {
			if best == nil {
				best = m
			}
			break
		}
		best = m
		if !(m.Scale*(1-tolerance) >= wanted) {
			break
		}
	}
	return best
}

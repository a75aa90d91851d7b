package pyramid

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Transform maps points from one coordinate space to another.
type Transform interface {
	Apply(p orb.Point) orb.Point
	Inverse() (Transform, error)
}

// Affine is a 2D affine transform:
//
//	x' = A*x + B*y + C
//	y' = D*x + E*y + F
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// IdentityAffine leaves points untouched.
var IdentityAffine = Affine{A: 1, E: 1}

// Apply implements Transform.
func (a Affine) Apply(p orb.Point) orb.Point {
	return orb.Point{
		a.A*p[0] + a.B*p[1] + a.C,
		a.D*p[0] + a.E*p[1] + a.F,
	}
}

// Inverse implements Transform. Singular matrices yield ErrTransform.
func (a Affine) Inverse() (Transform, error) {
	return a.Invert()
}

// Invert is Inverse with a concrete return type.
func (a Affine) Invert() (Affine, error) {
	det := a.A*a.E - a.B*a.D
	if det == 0 || !isFinite(det) {
		return Affine{}, fmt.Errorf("affine transform is not invertible: %w", ErrTransform)
	}
	return Affine{
		A: a.E / det,
		B: -a.B / det,
		C: (a.B*a.F - a.E*a.C) / det,
		D: -a.D / det,
		E: a.A / det,
		F: (a.D*a.C - a.A*a.F) / det,
	}, nil
}

// Then returns the affine transform applying a first and then b.
func (a Affine) Then(b Affine) Affine {
	return Affine{
		A: b.A*a.A + b.B*a.D,
		B: b.A*a.B + b.B*a.E,
		C: b.A*a.C + b.B*a.F + b.C,
		D: b.D*a.A + b.E*a.D,
		E: b.D*a.B + b.E*a.E,
		F: b.D*a.C + b.E*a.F + b.F,
	}
}

// ScaleX is the pixel width in world units.
func (a Affine) ScaleX() float64 {
	return math.Hypot(a.A, a.D)
}

// ScaleY is the pixel height in world units.
func (a Affine) ScaleY() float64 {
	return math.Hypot(a.B, a.E)
}

type identity struct{}

// Identity is the transform between equal reference systems.
var Identity Transform = identity{}

func (identity) Apply(p orb.Point) orb.Point  { return p }
func (identity) Inverse() (Transform, error) { return identity{}, nil }

// projection pairs a forward and inverse orb.Projection.
type projection struct {
	forward, inverse orb.Projection
}

func (p projection) Apply(pt orb.Point) orb.Point {
	return p.forward(pt)
}

func (p projection) Inverse() (Transform, error) {
	if p.inverse == nil {
		return nil, fmt.Errorf("projection has no inverse: %w", ErrTransform)
	}
	return projection{forward: p.inverse, inverse: p.forward}, nil
}

// NewProjection wraps a pair of orb projections as a Transform. inverse may be nil.
func NewProjection(forward, inverse orb.Projection) Transform {
	return projection{forward: forward, inverse: inverse}
}

// Chain applies transforms in order.
type Chain []Transform

// Apply implements Transform.
func (c Chain) Apply(p orb.Point) orb.Point {
	for _, t := range c {
		p = t.Apply(p)
	}
	return p
}

// Inverse implements Transform.
func (c Chain) Inverse() (Transform, error) {
	inv := make(Chain, len(c))
	for i, t := range c {
		it, err := t.Inverse()
		if err != nil {
			return nil, err
		}
		inv[len(c)-1-i] = it
	}
	return inv, nil
}

var registry = struct {
	sync.RWMutex
	transforms map[string]Transform
}{
	transforms: map[string]Transform{
		pairKey(EPSG4326, EPSG3857): NewProjection(project.WGS84.ToMercator, project.Mercator.ToWGS84),
		pairKey(EPSG3857, EPSG4326): NewProjection(project.Mercator.ToWGS84, project.WGS84.ToMercator),
	},
}

func pairKey(src, dst CRS) string {
	return strings.ToUpper(src.Code) + ">" + strings.ToUpper(dst.Code)
}

// RegisterTransform makes a transform from src to dst available to
// FindTransform. If the transform is invertible the reverse direction is
// registered too.
func RegisterTransform(src, dst CRS, t Transform) {
	registry.Lock()
	defer registry.Unlock()
	registry.transforms[pairKey(src, dst)] = t
	if inv, err := t.Inverse(); err == nil {
		if _, ok := registry.transforms[pairKey(dst, src)]; !ok {
			registry.transforms[pairKey(dst, src)] = inv
		}
	}
}

// FindTransform returns the transform from src to dst coordinates.
func FindTransform(src, dst CRS) (Transform, error) {
	if src.Equal(dst) {
		return Identity, nil
	}
	registry.RLock()
	defer registry.RUnlock()
	if t, ok := registry.transforms[pairKey(src, dst)]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("no transform from %s to %s: %w", src, dst, ErrTransform)
}

// boundDensify is the number of points sampled along each envelope edge.
const boundDensify = 21

// TransformBound transforms a bound by sampling points along its edges and
// returns the bound of the results. Non-finite results are skipped.
func TransformBound(t Transform, b orb.Bound) orb.Bound {
	if _, ok := t.(identity); ok {
		return b
	}
	if a, ok := t.(Affine); ok {
		return transformBoundCorners(a, b)
	}
	var out orb.Bound
	first := true
	add := func(p orb.Point) {
		q := t.Apply(p)
		if !isFinite(q[0]) || !isFinite(q[1]) {
			return
		}
		if first {
			out = q.Bound()
			first = false
			return
		}
		out = out.Extend(q)
	}
	w, h := b.Max[0]-b.Min[0], b.Max[1]-b.Min[1]
	for i := 0; i < boundDensify; i++ {
		f := float64(i) / float64(boundDensify-1)
		add(orb.Point{b.Min[0] + f*w, b.Min[1]})
		add(orb.Point{b.Min[0] + f*w, b.Max[1]})
		add(orb.Point{b.Min[0], b.Min[1] + f*h})
		add(orb.Point{b.Max[0], b.Min[1] + f*h})
	}
	if first {
		nan := math.NaN()
		return orb.Bound{Min: orb.Point{nan, nan}, Max: orb.Point{nan, nan}}
	}
	return out
}

func transformBoundCorners(t Transform, b orb.Bound) orb.Bound {
	out := t.Apply(b.Min).Bound()
	out = out.Extend(t.Apply(b.Max))
	out = out.Extend(t.Apply(orb.Point{b.Min[0], b.Max[1]}))
	return out.Extend(t.Apply(orb.Point{b.Max[0], b.Min[1]}))
}

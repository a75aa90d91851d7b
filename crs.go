package pyramid

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

var (
	uriCRSRegex = regexp.MustCompile(`^https?://.+/def/crs/(?P<authority>[^/]+)/[^/]+/(?P<code>[^/]+)$`)
	urnCRSRegex = regexp.MustCompile(`^urn:ogc:def:crs:(?P<authority>[^:]+):[^:]*:(?P<code>[^:]+)$`)
)

// CRS identifies a coordinate reference system by its authority code.
// Domain is the area of validity expressed in the CRS itself; an empty Domain
// means unknown.
type CRS struct {
	Code   string
	Domain orb.Bound
}

// Well known reference systems.
var (
	EPSG4326 = CRS{
		Code:   "EPSG:4326",
		Domain: orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}},
	}
	EPSG3857 = CRS{
		Code: "EPSG:3857",
		// latitude clipped to +-85.0511 degrees
		Domain: orb.Bound{
			Min: orb.Point{-20037508.342789244, -20037508.342789244},
			Max: orb.Point{20037508.342789244, 20037508.342789244},
		},
	}
)

var knownCRS = map[string]CRS{
	EPSG4326.Code: EPSG4326,
	EPSG3857.Code: EPSG3857,
	"EPSG:900913": {Code: "EPSG:3857", Domain: EPSG3857.Domain},
}

// ParseCRS accepts "EPSG:n", OGC URN and OGC HTTP URI notations as well as the
// CRS84 aliases. Known codes come back with their domain of validity.
func ParseCRS(s string) (CRS, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CRS{}, fmt.Errorf("empty crs")
	}
	switch strings.ToUpper(s) {
	case "CRS:84", "OGC:CRS84", "CRS84":
		return EPSG4326, nil
	}
	if strings.HasSuffix(s, "/OGC/1.3/CRS84") || strings.HasSuffix(s, ":OGC:1.3:CRS84") {
		return EPSG4326, nil
	}

	authority, code := "", ""
	switch {
	case uriCRSRegex.MatchString(s):
		m := uriCRSRegex.FindStringSubmatch(s)
		authority, code = m[1], m[2]
	case urnCRSRegex.MatchString(s):
		m := urnCRSRegex.FindStringSubmatch(s)
		authority, code = m[1], m[2]
	default:
		parts := strings.SplitN(s, ":", 2)
		if len(parts) != 2 {
			return CRS{}, fmt.Errorf("invalid crs %q", s)
		}
		authority, code = parts[0], parts[1]
	}
	if _, err := strconv.Atoi(code); err != nil {
		return CRS{}, fmt.Errorf("invalid crs code in %q: %w", s, err)
	}
	normalized := strings.ToUpper(authority) + ":" + code
	if known, ok := knownCRS[normalized]; ok {
		return known, nil
	}
	return CRS{Code: normalized}, nil
}

// MustParseCRS is like ParseCRS but panics on error.
func MustParseCRS(s string) CRS {
	c, err := ParseCRS(s)
	if err != nil {
		panic(err)
	}
	return c
}

// IsZero reports whether the CRS is unset.
func (c CRS) IsZero() bool {
	return c.Code == ""
}

// Equal compares two reference systems by authority code only, ignoring the
// domain and any other metadata.
func (c CRS) Equal(o CRS) bool {
	if c.IsZero() || o.IsZero() {
		return false
	}
	return strings.EqualFold(c.Code, o.Code)
}

// EPSG returns the numeric EPSG code, or 0 for other authorities.
func (c CRS) EPSG() int {
	code, ok := strings.CutPrefix(strings.ToUpper(c.Code), "EPSG:")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return 0
	}
	return n
}

// HasDomain reports whether the domain of validity is known.
func (c CRS) HasDomain() bool {
	d := c.Domain
	return d.Max[0] > d.Min[0] && d.Max[1] > d.Min[1]
}

// ClipToDomain intersects the bound with the domain of validity. Edges that
// are not finite after clipping are replaced by the domain edge.
func (c CRS) ClipToDomain(b orb.Bound) orb.Bound {
	if !c.HasDomain() {
		return b
	}
	d := c.Domain
	out := orb.Bound{
		Min: orb.Point{math.Max(b.Min[0], d.Min[0]), math.Max(b.Min[1], d.Min[1])},
		Max: orb.Point{math.Min(b.Max[0], d.Max[0]), math.Min(b.Max[1], d.Max[1])},
	}
	for i := 0; i < 2; i++ {
		if !isFinite(out.Min[i]) {
			out.Min[i] = d.Min[i]
		}
		if !isFinite(out.Max[i]) {
			out.Max[i] = d.Max[i]
		}
	}
	return out
}

func (c CRS) String() string {
	return c.Code
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

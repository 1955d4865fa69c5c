// Package coords models the four-dimensional coordinate (level, role,
// platform, site) at which a version pin applies, and supplies the defaulting
// rules applied to partially specified coordinates.
//
// Hierarchy nodes are named with dotted paths below their dimension root:
// levels live under "facility" ("dev01", "dev01.rd", "dev01.rd.9999"), roles,
// platforms and sites live under "any" ("model", "model.beta").
package coords

import (
	"fmt"
	"strings"
)

const (
	// Facility is the root of the level hierarchy.
	Facility = "facility"
	// Any is the root of the role, platform and site hierarchies.
	Any = "any"

	// Separator joins the segments of a hierarchy node name.
	Separator = "."
)

// Search modes understood by the storage gateway. Other values are carried
// through untouched.
const (
	ModeAncestor   = "ancestor"
	ModeDescendant = "descendant"
	ModeExact      = "exact"
)

// Coordinate is a fully populated position in the hierarchy.
type Coordinate struct {
	Level    string `json:"level"`
	Role     string `json:"role"`
	Platform string `json:"platform"`
	Site     string `json:"site"`
}

// Root returns the facility/any/any/any coordinate.
func Root() Coordinate {
	return Coordinate{Level: Facility, Role: Any, Platform: Any, Site: Any}
}

// String renders the coordinate as level/role/platform/site.
func (c Coordinate) String() string {
	return strings.Join([]string{c.Level, c.Role, c.Platform, c.Site}, "/")
}

// Query is a resolved coordinate plus the search mode and facility isolation
// flag handed to the storage gateway.
type Query struct {
	Coordinate
	Mode            string `json:"mode"`
	IsolateFacility bool   `json:"isolateFacility"`
}

// Resolve applies the defaulting rules to optional inputs. A nil or empty value
// is absent: level defaults to "facility", role, platform and site default to
// "any" and mode defaults to "ancestor". Resolve is total and idempotent.
func Resolve(level, role, platform, site, mode *string) Query {
	return Query{
		Coordinate: Coordinate{
			Level:    orDefault(level, Facility),
			Role:     orDefault(role, Any),
			Platform: orDefault(platform, Any),
			Site:     orDefault(site, Any),
		},
		Mode: orDefault(mode, ModeAncestor),
	}
}

// Defaults fills any empty dimension of c with its root.
func Defaults(c Coordinate) Coordinate {
	return Resolve(&c.Level, &c.Role, &c.Platform, &c.Site, nil).Coordinate
}

// Normalize re-applies defaulting to q, keeping IsolateFacility as given.
func (q Query) Normalize() Query {
	out := Resolve(&q.Level, &q.Role, &q.Platform, &q.Site, &q.Mode)
	out.IsolateFacility = q.IsolateFacility
	return out
}

// FacilityIsolated reports whether the query must stay at the facility level.
func (q Query) FacilityIsolated() bool {
	return q.IsolateFacility && q.Level == Facility
}

// Parse reads a slash separated coordinate. Missing trailing dimensions and
// empty segments take their defaults.
func Parse(s string) (Coordinate, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Root(), nil
	}
	parts := strings.Split(s, "/")
	if len(parts) > 4 {
		return Coordinate{}, fmt.Errorf("coordinate %q has %d dimensions, at most 4 allowed", s, len(parts))
	}
	for len(parts) < 4 {
		parts = append(parts, "")
	}
	return Defaults(Coordinate{
		Level:    strings.TrimSpace(parts[0]),
		Role:     strings.TrimSpace(parts[1]),
		Platform: strings.TrimSpace(parts[2]),
		Site:     strings.TrimSpace(parts[3]),
	}), nil
}

// Ancestors returns name followed by each of its ancestors up to and including
// root, closest first.
func Ancestors(name, root string) []string {
	if name == "" || name == root {
		return []string{root}
	}
	segs := strings.Split(name, Separator)
	out := make([]string, 0, len(segs)+1)
	for i := len(segs); i > 0; i-- {
		out = append(out, strings.Join(segs[:i], Separator))
	}
	return append(out, root)
}

// Depth returns the distance of name from root. The root has depth 0.
func Depth(name, root string) int {
	if name == "" || name == root {
		return 0
	}
	return strings.Count(name, Separator) + 1
}

// Parent returns the parent node of name, which is root for top-level nodes.
func Parent(name, root string) string {
	if name == root {
		return ""
	}
	if i := strings.LastIndex(name, Separator); i >= 0 {
		return name[:i]
	}
	return root
}

// Show returns the show a level belongs to, or "" for the facility.
func Show(level string) string {
	if level == "" || level == Facility {
		return ""
	}
	if i := strings.Index(level, Separator); i >= 0 {
		return level[:i]
	}
	return level
}

func orDefault(v *string, def string) string {
	if v == nil {
		return def
	}
	if s := strings.TrimSpace(*v); s != "" {
		return s
	}
	return def
}

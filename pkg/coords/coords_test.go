package coords

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

func TestResolveDefaults(t *testing.T) {
	q := Resolve(nil, nil, nil, nil, nil)
	assert.Equal(t, Root(), q.Coordinate)
	assert.Equal(t, ModeAncestor, q.Mode)
	assert.False(t, q.IsolateFacility)

	q = Resolve(ptr("dev01"), ptr(""), nil, ptr("portland"), ptr("descendant"))
	assert.Equal(t, Coordinate{Level: "dev01", Role: Any, Platform: Any, Site: "portland"}, q.Coordinate)
	assert.Equal(t, ModeDescendant, q.Mode)
}

func TestResolvePassesUnknownModeThrough(t *testing.T) {
	q := Resolve(nil, nil, nil, nil, ptr("sideways"))
	assert.Equal(t, "sideways", q.Mode)
}

func TestResolveIdempotent(t *testing.T) {
	values := []*string{nil, ptr(""), ptr("x")}
	for _, l := range values {
		for _, r := range values {
			for _, p := range values {
				for _, s := range values {
					for _, m := range []*string{nil, ptr("exact")} {
						once := Resolve(l, r, p, s, m)
						twice := Resolve(&once.Level, &once.Role, &once.Platform, &once.Site, &once.Mode)
						assert.Equal(t, once, twice)
						assert.Equal(t, once, once.Normalize())
						assert.NotEmpty(t, once.Level)
						assert.NotEmpty(t, once.Role)
						assert.NotEmpty(t, once.Platform)
						assert.NotEmpty(t, once.Site)
					}
				}
			}
		}
	}
}

func TestNormalizeKeepsIsolation(t *testing.T) {
	q := Query{IsolateFacility: true}.Normalize()
	assert.True(t, q.IsolateFacility)
	assert.True(t, q.FacilityIsolated())

	q.Level = "dev01"
	assert.False(t, q.FacilityIsolated())
}

func TestAncestors(t *testing.T) {
	assert.Equal(t, []string{"dev01.rd.9999", "dev01.rd", "dev01", Facility}, Ancestors("dev01.rd.9999", Facility))
	assert.Equal(t, []string{Facility}, Ancestors(Facility, Facility))
	assert.Equal(t, []string{"model", Any}, Ancestors("model", Any))
	assert.Equal(t, []string{Any}, Ancestors("", Any))
}

func TestDepthParentShow(t *testing.T) {
	assert.Equal(t, 0, Depth(Facility, Facility))
	assert.Equal(t, 1, Depth("dev01", Facility))
	assert.Equal(t, 2, Depth("dev01.rd", Facility))
	assert.Equal(t, 3, Depth("dev01.rd.9999", Facility))

	assert.Equal(t, "dev01.rd", Parent("dev01.rd.9999", Facility))
	assert.Equal(t, Facility, Parent("dev01", Facility))
	assert.Equal(t, "", Parent(Facility, Facility))

	assert.Equal(t, "dev01", Show("dev01.rd.9999"))
	assert.Equal(t, "dev01", Show("dev01"))
	assert.Equal(t, "", Show(Facility))
}

func TestParse(t *testing.T) {
	c, err := Parse("dev01/model")
	require.NoError(t, err)
	assert.Equal(t, Coordinate{Level: "dev01", Role: "model", Platform: Any, Site: Any}, c)
	assert.Equal(t, "dev01/model/any/any", c.String())

	c, err = Parse("")
	require.NoError(t, err)
	assert.Equal(t, Root(), c)

	c, err = Parse("/ /cent7_64/")
	require.NoError(t, err)
	assert.Equal(t, Coordinate{Level: Facility, Role: Any, Platform: "cent7_64", Site: Any}, c)

	_, err = Parse("a/b/c/d/e")
	assert.Error(t, err)
}

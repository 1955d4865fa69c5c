package store

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/packrat/pinserver/pkg/coords"
	"github.com/packrat/pinserver/pkg/errcode"
	"github.com/packrat/pinserver/pkg/query"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), GormConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, Migrate(db))
	return db
}

// seedPins creates maya-1 at the facility, maya-2 at dev01 and maya-3 at
// dev01/model, plus nuke-1 at the facility.
func seedPins(t *testing.T, g *Gateway) {
	t.Helper()
	must := func(_ []Change, err error) { require.NoError(t, err) }
	must(g.AddPackages([]string{"maya", "nuke", "mtoa"}))
	must(g.AddLevels([]string{"dev01.rd", "dev01", "dev02"}))
	must(g.AddRoles([]string{"model", "model.beta", "anim"}))
	must(g.AddPlatforms([]string{"cent7_64"}))
	must(g.AddSites([]string{"portland"}))
	must(g.AddDistributions("maya", []string{"1", "2", "3"}))
	must(g.AddDistributions("nuke", []string{"1"}))
	must(g.AddVersionPins("maya-1", nil, nil, nil, nil))
	must(g.AddVersionPins("maya-2", []string{"dev01"}, nil, nil, nil))
	must(g.AddVersionPins("maya-3", []string{"dev01"}, []string{"model"}, nil, nil))
	must(g.AddVersionPins("nuke-1", nil, nil, nil, nil))
}

func TestMigrateSeedsRoots(t *testing.T) {
	db := setupTestDB(t)
	g := NewGateway(db, nil)
	ctx := context.Background()

	levels, err := g.Levels(ctx, query.Levels{})
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, coords.Facility, levels[0].Name)

	roles, err := g.Roles(ctx, query.Roles{})
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, coords.Any, roles[0].Name)

	// Migrating again leaves a single root.
	require.NoError(t, Migrate(db))
	roles, err = g.Roles(ctx, query.Roles{})
	require.NoError(t, err)
	assert.Len(t, roles, 1)
}

func TestAddLevels(t *testing.T) {
	g := NewGateway(setupTestDB(t), nil)
	ctx := context.Background()

	changes, err := g.AddLevels([]string{"dev01.rd.9999", "dev01.rd", "dev01", "dev01"})
	require.NoError(t, err)
	require.Len(t, changes, 3)
	assert.Equal(t, "dev01", changes[0].Level)
	assert.Equal(t, EntityLevel, changes[0].Entity)
	assert.Equal(t, coords.Any, changes[0].Role)

	levels, err := g.Levels(ctx, query.Levels{Show: "dev01", Sort: query.Sort{OrderBy: "depth"}})
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{levels[0].Depth, levels[1].Depth, levels[2].Depth})

	_, err = g.AddLevels([]string{"dev02.rd"})
	assert.True(t, errcode.Is(err, errcode.FailedPrecondition), "missing parent: %v", err)

	_, err = g.AddLevels([]string{"dev01"})
	assert.True(t, errcode.Is(err, errcode.FailedPrecondition), "duplicate: %v", err)

	_, err = g.AddLevels([]string{"dev01..rd"})
	assert.True(t, errcode.Is(err, errcode.InvalidArgument))

	_, err = g.AddLevels([]string{" "})
	assert.True(t, errcode.Is(err, errcode.InvalidArgument))
}

func TestNameFilters(t *testing.T) {
	g := NewGateway(setupTestDB(t), nil)
	ctx := context.Background()
	_, err := g.AddPackages([]string{"maya", "mayapy", "nuke", "ma_x"})
	require.NoError(t, err)

	pkgs, err := g.Packages(ctx, query.NewPackages(query.WithNameLike("maya")))
	require.NoError(t, err)
	assert.Equal(t, []Package{{Name: "maya"}, {Name: "mayapy"}}, pkgs)

	// Underscore is literal in substring filters.
	pkgs, err = g.Packages(ctx, query.NewPackages(query.WithNameLike("a_")))
	require.NoError(t, err)
	assert.Equal(t, []Package{{Name: "ma_x"}}, pkgs)

	pkgs, err = g.Packages(ctx, query.NewPackages(query.WithOrderDirection("desc"), query.WithLimit(2)))
	require.NoError(t, err)
	assert.Equal(t, []Package{{Name: "nuke"}, {Name: "mayapy"}}, pkgs)
}

func TestVersionPinAncestorResolution(t *testing.T) {
	g := NewGateway(setupTestDB(t), nil)
	seedPins(t, g)
	ctx := context.Background()

	tests := []struct {
		name string
		opts query.VersionPin
		want string
		at   coords.Coordinate
	}{
		{"fully specified", query.VersionPin{Package: "maya", Level: "dev01", Role: "model", Platform: "cent7_64", Site: "portland"},
			"maya-3", coords.Coordinate{Level: "dev01", Role: "model", Platform: coords.Any, Site: coords.Any}},
		{"child nodes fall back", query.VersionPin{Package: "maya", Level: "dev01.rd", Role: "model.beta"},
			"maya-3", coords.Coordinate{Level: "dev01", Role: "model", Platform: coords.Any, Site: coords.Any}},
		{"other role", query.VersionPin{Package: "maya", Level: "dev01", Role: "anim"},
			"maya-2", coords.Coordinate{Level: "dev01", Role: coords.Any, Platform: coords.Any, Site: coords.Any}},
		{"other show", query.VersionPin{Package: "maya", Level: "dev02", Role: "model"},
			"maya-1", coords.Root()},
		{"defaults", query.VersionPin{Package: "nuke"}, "nuke-1", coords.Root()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				row, err := g.VersionPin(ctx, tt.opts)
				require.NoError(t, err)
				assert.Equal(t, tt.want, row.Distribution)
				assert.Equal(t, tt.at, row.Coords)
			}
		})
	}

	_, err := g.VersionPin(ctx, query.VersionPin{Package: "mtoa"})
	assert.True(t, errcode.Is(err, errcode.NotFound))
}

func TestVersionPinLevelOutranksRole(t *testing.T) {
	g := NewGateway(setupTestDB(t), nil)
	seedPins(t, g)
	// A facility-level pin that is specific in every other dimension still
	// loses to a show-level pin.
	_, err := g.AddVersionPins("maya-1", nil, []string{"model"}, []string{"cent7_64"}, []string{"portland"})
	require.NoError(t, err)

	row, err := g.VersionPin(context.Background(),
		query.VersionPin{Package: "maya", Level: "dev01.rd", Role: "anim", Platform: "cent7_64", Site: "portland"})
	require.NoError(t, err)
	assert.Equal(t, "maya-2", row.Distribution)
}

func TestVersionPinsSearchModes(t *testing.T) {
	g := NewGateway(setupTestDB(t), nil)
	seedPins(t, g)
	ctx := context.Background()

	dists := func(rows []VersionPinRow) []string {
		out := make([]string, len(rows))
		for i, r := range rows {
			out[i] = r.Distribution
		}
		return out
	}

	rows, err := g.VersionPins(ctx, query.NewVersionPins(query.WithLevel("dev01"), query.WithRole("model")))
	require.NoError(t, err)
	assert.Equal(t, []string{"maya-3", "nuke-1"}, dists(rows))

	rows, err = g.VersionPins(ctx, query.NewVersionPins(query.WithSearchMode(coords.ModeDescendant), query.WithPackage("maya")))
	require.NoError(t, err)
	assert.Equal(t, []string{"maya-1", "maya-2", "maya-3"}, dists(rows))

	rows, err = g.VersionPins(ctx, query.NewVersionPins(query.WithSearchMode(coords.ModeDescendant),
		query.WithPackage("maya"), query.WithIsolateFacility(true)))
	require.NoError(t, err)
	assert.Equal(t, []string{"maya-1"}, dists(rows))

	rows, err = g.VersionPins(ctx, query.NewVersionPins(query.WithSearchMode(coords.ModeExact), query.WithLevel("dev01")))
	require.NoError(t, err)
	assert.Equal(t, []string{"maya-2"}, dists(rows))

	rows, err = g.VersionPins(ctx, query.NewVersionPins(query.WithSearchMode(coords.ModeDescendant),
		query.WithFilter(`package = maya and version != 2`), query.WithOrderBy("version"), query.WithOrderDirection("desc")))
	require.NoError(t, err)
	assert.Equal(t, []string{"maya-3", "maya-1"}, dists(rows))

	_, err = g.VersionPins(ctx, query.NewVersionPins(query.WithSearchMode("sideways")))
	assert.True(t, errcode.Is(err, errcode.InvalidArgument))

	_, err = g.VersionPins(ctx, query.NewVersionPins(query.WithFilter(`package ==`)))
	assert.True(t, errcode.Is(err, errcode.InvalidArgument))
}

func TestUnknownOrderByMatchesNone(t *testing.T) {
	g := NewGateway(setupTestDB(t), nil)
	seedPins(t, g)
	ctx := context.Background()

	for _, mode := range []string{coords.ModeAncestor, coords.ModeDescendant} {
		plain, err := g.VersionPins(ctx, query.NewVersionPins(query.WithSearchMode(mode)))
		require.NoError(t, err)
		bogus, err := g.VersionPins(ctx, query.NewVersionPins(query.WithSearchMode(mode), query.WithOrderBy("bogus,flavour")))
		require.NoError(t, err)
		assert.Equal(t, plain, bogus, mode)
	}
}

func TestSetVersionPins(t *testing.T) {
	g := NewGateway(setupTestDB(t), nil)
	seedPins(t, g)
	ctx := context.Background()

	row, err := g.VersionPin(ctx, query.VersionPin{Package: "maya", Level: "dev01"})
	require.NoError(t, err)
	dists, err := g.Distributions(ctx, query.NewDistributions(query.WithPackage("maya"), query.WithVersion("1")))
	require.NoError(t, err)
	require.Len(t, dists, 1)

	changes, err := g.SetVersionPins([]int64{row.VersionPinID}, []int64{dists[0].ID})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, ActionUpdate, changes[0].Action)
	assert.Equal(t, row.DistributionID, *changes[0].OldDistributionID)
	assert.Equal(t, dists[0].ID, *changes[0].NewDistributionID)

	after, err := g.VersionPin(ctx, query.VersionPin{Package: "maya", Level: "dev01"})
	require.NoError(t, err)
	assert.Equal(t, "maya-1", after.Distribution)

	// Same distribution again is not a change.
	changes, err = g.SetVersionPins([]int64{row.VersionPinID}, []int64{dists[0].ID})
	require.NoError(t, err)
	assert.Empty(t, changes)

	nuke, err := g.Distributions(ctx, query.NewDistributions(query.WithFilter(`package = nuke`)))
	require.NoError(t, err)
	_, err = g.SetVersionPins([]int64{row.VersionPinID}, []int64{nuke[0].ID})
	assert.True(t, errcode.Is(err, errcode.FailedPrecondition))

	_, err = g.SetVersionPins([]int64{row.VersionPinID}, nil)
	assert.True(t, errcode.Is(err, errcode.InvalidArgument))

	_, err = g.SetVersionPins([]int64{9999}, []int64{dists[0].ID})
	assert.True(t, errcode.Is(err, errcode.NotFound))
}

func TestAddVersionPinsCrossProduct(t *testing.T) {
	g := NewGateway(setupTestDB(t), nil)
	seedPins(t, g)
	ctx := context.Background()

	changes, err := g.AddVersionPins("nuke-1", []string{"dev01", "dev02"}, []string{"model", "anim"}, nil, nil)
	require.NoError(t, err)
	assert.Len(t, changes, 4)

	slots, err := g.PkgCoords(ctx, query.NewPkgCoords(query.WithPackage("nuke"), query.WithSearchMode(coords.ModeDescendant)))
	require.NoError(t, err)
	assert.Len(t, slots, 5)

	_, err = g.AddVersionPins("nuke-1", []string{"dev01"}, []string{"model"}, nil, nil)
	assert.True(t, errcode.Is(err, errcode.FailedPrecondition), "already pinned: %v", err)

	_, err = g.AddVersionPins("nuke-9", nil, nil, nil, nil)
	assert.True(t, errcode.Is(err, errcode.FailedPrecondition))

	_, err = g.AddVersionPins("nuke", nil, nil, nil, nil)
	assert.True(t, errcode.Is(err, errcode.InvalidArgument))

	_, err = g.AddVersionPins("nuke-1", []string{"dev03"}, nil, nil, nil)
	assert.True(t, errcode.Is(err, errcode.FailedPrecondition))
}

func TestWiths(t *testing.T) {
	g := NewGateway(setupTestDB(t), nil)
	seedPins(t, g)
	ctx := context.Background()

	row, err := g.VersionPin(ctx, query.VersionPin{Package: "maya", Level: "dev01", Role: "model"})
	require.NoError(t, err)

	_, err = g.AddWiths(row.VersionPinID, []string{"mtoa", "nuke"})
	require.NoError(t, err)
	_, err = g.AddWiths(row.VersionPinID, []string{"mtoa"})
	assert.True(t, errcode.Is(err, errcode.FailedPrecondition))
	_, err = g.AddWiths(row.VersionPinID, []string{"houdini"})
	assert.True(t, errcode.Is(err, errcode.FailedPrecondition))

	withs, err := g.VersionPinWiths(ctx, query.VersionPinWiths{VersionPinID: row.VersionPinID})
	require.NoError(t, err)
	require.Len(t, withs, 2)
	assert.Equal(t, "mtoa", withs[0].Package)
	assert.Equal(t, 0, withs[0].Order)
	assert.Equal(t, "nuke", withs[1].Package)
	assert.Equal(t, 1, withs[1].Order)

	again, err := g.VersionPin(ctx, query.VersionPin{Package: "maya", Level: "dev01.rd", Role: "model"})
	require.NoError(t, err)
	assert.Equal(t, []string{"mtoa", "nuke"}, again.Withs)

	users, err := g.Withs(ctx, query.NewWiths(query.WithPackage("mtoa"), query.WithSearchMode(coords.ModeDescendant)))
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, row.VersionPinID, users[0].VersionPinID)

	_, err = g.VersionPinWiths(ctx, query.VersionPinWiths{VersionPinID: 4242})
	assert.True(t, errcode.Is(err, errcode.NotFound))
}

func TestAuditRecords(t *testing.T) {
	g := NewGateway(setupTestDB(t), nil)
	ctx := context.Background()
	_, err := g.AddPackages([]string{"maya"})
	require.NoError(t, err)

	txID, err := g.AllocateTransaction()
	require.NoError(t, err)
	changes, err := g.AddDistributions("maya", []string{"2018"})
	require.NoError(t, err)
	_, err = g.RecordRevision(txID, "jgerber", "Auto Comment - Add Distributions", time.Now())
	require.NoError(t, err)
	require.NoError(t, g.RecordChanges(txID, changes))

	revs, err := g.Revisions(ctx, query.NewRevisions(query.WithAuthor("jgerber")))
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.Equal(t, txID, revs[0].TransactionID)

	rows, err := g.Changes(ctx, query.NewChanges(query.WithTransactionID(txID)))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "maya-2018", rows[0].NewDistribution)
	assert.Empty(t, rows[0].OldDistribution)
	assert.Equal(t, EntityDistribution, rows[0].Entity)
	assert.Equal(t, coords.Root(), rows[0].Coords)

	next, err := g.AllocateTransaction()
	require.NoError(t, err)
	assert.Greater(t, next, txID)
}

func TestShowPins(t *testing.T) {
	g := NewGateway(setupTestDB(t), nil)
	seedPins(t, g)
	_, err := g.AddVersionPins("nuke-1", []string{"dev02"}, nil, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	rows, err := g.ShowPins(ctx, "dev01")
	require.NoError(t, err)
	var got []string
	for _, r := range rows {
		got = append(got, r.Distribution+"@"+r.Coords.String())
	}
	assert.Equal(t, []string{
		"maya-1@facility/any/any/any",
		"maya-2@dev01/any/any/any",
		"maya-3@dev01/model/any/any",
		"nuke-1@facility/any/any/any",
	}, got)

	_, err = g.ShowPins(ctx, "dev01.rd")
	assert.True(t, errcode.Is(err, errcode.NotFound))
}

func TestParseDistribution(t *testing.T) {
	pkg, version, err := ParseDistribution("maya-2018.sp3-beta")
	require.NoError(t, err)
	assert.Equal(t, "maya", pkg)
	assert.Equal(t, "2018.sp3-beta", version)

	for _, bad := range []string{"maya", "-1", "maya-", ""} {
		_, _, err := ParseDistribution(bad)
		assert.Error(t, err, bad)
	}
}

func TestReadCoordinatesValidated(t *testing.T) {
	g := NewGateway(setupTestDB(t), nil)
	seedPins(t, g)
	ctx := context.Background()

	malformed := []query.VersionPin{
		{Package: "maya", Level: "dev01..rd"},
		{Package: "maya", Level: "dev01. rd"},
		{Package: "maya", Level: "dev01.rd/x"},
		{Package: "maya", Level: "no such show"},
		{Package: "maya", Level: coords.Any},
		{Package: "maya", Role: coords.Facility},
		{Package: "maya", Platform: ".cent7_64"},
		{Package: "maya", Site: "portland."},
	}
	for _, opts := range malformed {
		_, err := g.VersionPin(ctx, opts)
		assert.True(t, errcode.Is(err, errcode.InvalidArgument), "%+v: %v", opts, err)
	}

	missing := []query.VersionPin{
		{Package: "maya", Level: "dev99"},
		{Package: "maya", Level: "dev01.rd.0001"},
		{Package: "maya", Role: "light"},
		{Package: "maya", Platform: "win10"},
		{Package: "maya", Site: "tokyo"},
	}
	for _, opts := range missing {
		_, err := g.VersionPin(ctx, opts)
		assert.True(t, errcode.Is(err, errcode.NotFound), "%+v: %v", opts, err)
	}

	_, err := g.VersionPins(ctx, query.NewVersionPins(query.WithSearchMode(coords.ModeDescendant), query.WithLevel("dev01..rd")))
	assert.True(t, errcode.Is(err, errcode.InvalidArgument))
	_, err = g.Withs(ctx, query.NewWiths(query.WithPackage("mtoa"), query.WithLevel("dev99")))
	assert.True(t, errcode.Is(err, errcode.NotFound))
	_, err = g.PkgCoords(ctx, query.NewPkgCoords(query.WithSearchMode(coords.ModeExact), query.WithRole("model..beta")))
	assert.True(t, errcode.Is(err, errcode.InvalidArgument))
	_, err = g.PkgCoords(ctx, query.NewPkgCoords(query.WithRole("light")))
	assert.True(t, errcode.Is(err, errcode.NotFound))
}

func TestVersionPinsResolveBeforeNarrowing(t *testing.T) {
	g := NewGateway(setupTestDB(t), nil)
	seedPins(t, g)
	ctx := context.Background()
	at := []query.Option{query.WithPackage("maya"), query.WithLevel("dev01"), query.WithRole("model")}

	// maya-1 is overridden at dev01/model, so asking for version 1 finds nothing.
	rows, err := g.VersionPins(ctx, query.NewVersionPins(append(at, query.WithVersion("1"))...))
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = g.VersionPins(ctx, query.NewVersionPins(append(at, query.WithVersion("3"))...))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "maya-3", rows[0].Distribution)

	rows, err = g.VersionPins(ctx, query.NewVersionPins(append(at, query.WithFilter(`version = 1`))...))
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = g.VersionPins(ctx, query.NewVersionPins(query.WithLevel("dev01"), query.WithRole("model"), query.WithLimit(1)))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "maya-3", rows[0].Distribution)
}

func TestAddPackagesRejectsDashes(t *testing.T) {
	g := NewGateway(setupTestDB(t), nil)

	for _, name := range []string{"houdini-engine", "-maya", "maya-", "", "a b", "a/b"} {
		_, err := g.AddPackages([]string{name})
		assert.True(t, errcode.Is(err, errcode.InvalidArgument), "%q: %v", name, err)
	}

	_, err := g.AddPackages([]string{"houdini_engine"})
	require.NoError(t, err)
	_, err = g.AddDistributions("houdini_engine", []string{"19.5-beta"})
	require.NoError(t, err)
	pkg, version, err := ParseDistribution("houdini_engine-19.5-beta")
	require.NoError(t, err)
	assert.Equal(t, "houdini_engine", pkg)
	assert.Equal(t, "19.5-beta", version)
	_, err = g.AddVersionPins("houdini_engine-19.5-beta", nil, nil, nil, nil)
	require.NoError(t, err)
}

package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"gorm.io/gorm"

	"github.com/packrat/pinserver/pkg/coords"
	"github.com/packrat/pinserver/pkg/errcode"
	"github.com/packrat/pinserver/pkg/query"
)

// Gateway reads and writes pin data over one gorm session. Construct it over
// a pooled handle for reads, or over an open transaction for writes.
type Gateway struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewGateway creates a Gateway. A nil logger uses slog.Default().
func NewGateway(db *gorm.DB, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{db: db, logger: logger}
}

// columns maps sortable and filterable attributes to SQL columns.
type columns map[query.Attribute][]string

var (
	nameColumns = columns{
		query.AttrID:    {"id"},
		query.AttrName:  {"name"},
		query.AttrShow:  {"show_name"},
		query.AttrDepth: {"depth"},
	}
	distributionColumns = columns{
		query.AttrID:      {"id"},
		query.AttrPackage: {"package"},
		query.AttrVersion: {"version"},
	}
	pkgCoordColumns = columns{
		query.AttrID:       {"pkgcoords.id"},
		query.AttrPackage:  {"pkgcoords.package"},
		query.AttrLevel:    {"pkgcoords.level"},
		query.AttrRole:     {"pkgcoords.role"},
		query.AttrPlatform: {"pkgcoords.platform"},
		query.AttrSite:     {"pkgcoords.site"},
	}
	pinColumns = columns{
		query.AttrID:           {"versionpins.id"},
		query.AttrPackage:      {"pkgcoords.package"},
		query.AttrVersion:      {"distributions.version"},
		query.AttrDistribution: {"distributions.package", "distributions.version"},
		query.AttrLevel:        {"pkgcoords.level"},
		query.AttrRole:         {"pkgcoords.role"},
		query.AttrPlatform:     {"pkgcoords.platform"},
		query.AttrSite:         {"pkgcoords.site"},
	}
	revisionColumns = columns{
		query.AttrID:            {"id"},
		query.AttrTransactionID: {"transaction_id"},
		query.AttrAuthor:        {"author"},
		query.AttrDatetime:      {"datetime"},
	}
	changeColumns = columns{
		query.AttrID:       {"id"},
		query.AttrAction:   {"action"},
		query.AttrPackage:  {"package"},
		query.AttrLevel:    {"level"},
		query.AttrRole:     {"role"},
		query.AttrPlatform: {"platform"},
		query.AttrSite:     {"site"},
	}
)

// order applies s to db. Unknown attributes are skipped. The default column
// always breaks ties so results are deterministic; it takes the requested
// direction when no known attribute is given. The returned limit is 0 when
// unbounded.
func (g *Gateway) order(db *gorm.DB, s query.Sort, allowed []query.Attribute, cols columns, def string) (*gorm.DB, int) {
	o := s.Ordering(allowed, g.logger)
	dir := " ASC"
	if o.Direction == query.Desc {
		dir = " DESC"
	}
	known := o.Known()
	for _, a := range known {
		for _, c := range cols[a] {
			db = db.Order(c + dir)
		}
	}
	if len(known) == 0 {
		db = db.Order(def + dir)
	} else {
		db = db.Order(def + " ASC")
	}
	return db, o.Limit
}

func limit(db *gorm.DB, n int) *gorm.DB {
	if n > 0 {
		return db.Limit(n)
	}
	return db
}

func whereName(db *gorm.DB, col, name, like string) *gorm.DB {
	if name != "" {
		db = db.Where(col+" = ?", name)
	}
	if like != "" {
		db = db.Where(col+" LIKE ? ESCAPE '"+likeEscape+"'", "%"+escapeLike(like)+"%")
	}
	return db
}

func applyConditions(db *gorm.DB, conds []query.Condition, cols columns) *gorm.DB {
	for _, c := range conds {
		col := cols[c.Field][0]
		switch c.Op {
		case query.OpNotEqual:
			db = db.Where(col+" <> ?", c.Value)
		case query.OpContains:
			db = db.Where(col+" LIKE ? ESCAPE '"+likeEscape+"'", "%"+escapeLike(c.Value)+"%")
		default:
			db = db.Where(col+" = ?", c.Value)
		}
	}
	return db
}

type dimension struct {
	column, value, root string
}

// matchCoords restricts db to rows of table whose coordinate matches q.
func matchCoords(db *gorm.DB, table string, q coords.Query) (*gorm.DB, error) {
	dims := []dimension{
		{table + ".level", q.Level, coords.Facility},
		{table + ".role", q.Role, coords.Any},
		{table + ".platform", q.Platform, coords.Any},
		{table + ".site", q.Site, coords.Any},
	}
	for _, d := range dims {
		switch q.Mode {
		case coords.ModeAncestor:
			db = db.Where(d.column+" IN ?", coords.Ancestors(d.value, d.root))
		case coords.ModeDescendant:
			if d.value == d.root {
				continue
			}
			db = db.Where("("+d.column+" = ? OR "+d.column+" LIKE ? ESCAPE '"+likeEscape+"')",
				d.value, escapeLike(d.value+coords.Separator)+"%")
		case coords.ModeExact:
			db = db.Where(d.column+" = ?", d.value)
		default:
			return nil, errcode.New(errcode.InvalidArgument, "unknown search mode %q", q.Mode)
		}
	}
	if q.FacilityIsolated() {
		db = db.Where(table+".level = ?", coords.Facility)
	}
	return db, nil
}

func listNames[T any](ctx context.Context, g *Gateway, f query.Names, allowed []query.Attribute, def string) ([]T, error) {
	db := whereName(g.db.WithContext(ctx).Model(new(T)), "name", f.Name, f.NameLike)
	db, n := g.order(db, f.Sort, allowed, nameColumns, def)
	out := []T{}
	if err := limit(db, n).Find(&out).Error; err != nil {
		return nil, classify("list", err)
	}
	return out, nil
}

// Packages lists packages.
func (g *Gateway) Packages(ctx context.Context, f query.Packages) ([]Package, error) {
	return listNames[Package](ctx, g, f.Names, query.PackageAttributes, "name")
}

// Roles lists roles.
func (g *Gateway) Roles(ctx context.Context, f query.Roles) ([]Role, error) {
	return listNames[Role](ctx, g, f.Names, query.HierarchyAttributes, "id")
}

// Platforms lists platforms.
func (g *Gateway) Platforms(ctx context.Context, f query.Platforms) ([]Platform, error) {
	return listNames[Platform](ctx, g, f.Names, query.HierarchyAttributes, "id")
}

// Sites lists sites.
func (g *Gateway) Sites(ctx context.Context, f query.Sites) ([]Site, error) {
	return listNames[Site](ctx, g, f.Names, query.HierarchyAttributes, "id")
}

// Levels lists levels filtered by name, show and depth.
func (g *Gateway) Levels(ctx context.Context, f query.Levels) ([]Level, error) {
	db := whereName(g.db.WithContext(ctx).Model(&Level{}), "name", f.Name, f.NameLike)
	if f.Show != "" {
		db = db.Where("show_name = ?", f.Show)
	}
	if f.Depth > 0 {
		db = db.Where("depth = ?", f.Depth)
	}
	db, n := g.order(db, f.Sort, query.LevelAttributes, nameColumns, "id")
	out := []Level{}
	if err := limit(db, n).Find(&out).Error; err != nil {
		return nil, classify("list levels", err)
	}
	return out, nil
}

// Distributions lists distributions.
func (g *Gateway) Distributions(ctx context.Context, f query.Distributions) ([]Distribution, error) {
	conds, err := query.ParseFilter(f.Filter, query.DistributionFilterFields)
	if err != nil {
		return nil, err
	}
	db := g.db.WithContext(ctx).Model(&Distribution{})
	if f.Package != "" {
		db = db.Where("package = ?", f.Package)
	}
	if f.Version != "" {
		db = db.Where("version = ?", f.Version)
	}
	db = applyConditions(db, conds, distributionColumns)
	db, n := g.order(db, f.Sort, query.DistributionAttributes, distributionColumns, "id")
	out := []Distribution{}
	if err := limit(db, n).Find(&out).Error; err != nil {
		return nil, classify("list distributions", err)
	}
	return out, nil
}

// PkgCoords lists package coordinate slots matching the coordinate query.
func (g *Gateway) PkgCoords(ctx context.Context, f query.PkgCoords) ([]PkgCoord, error) {
	db := g.db.WithContext(ctx).Model(&PkgCoord{})
	if f.Package != "" {
		db = db.Where("pkgcoords.package = ?", f.Package)
	}
	q := f.Coords.Query()
	if err := g.checkCoords(ctx, q); err != nil {
		return nil, err
	}
	db, err := matchCoords(db, "pkgcoords", q)
	if err != nil {
		return nil, err
	}
	db, n := g.order(db, f.Sort, query.PkgCoordAttributes, pkgCoordColumns, "pkgcoords.id")
	out := []PkgCoord{}
	if err := limit(db, n).Find(&out).Error; err != nil {
		return nil, classify("list pkgcoords", err)
	}
	return out, nil
}

// pinFilter selects version pins. A nil coordinate query leaves every
// coordinate eligible.
type pinFilter struct {
	pkg, version string
	with         string
	show         string
	q            *coords.Query
	conds        []query.Condition
	sort         query.Sort
}

// findPins runs the pin join. In ancestor mode the most specific pin of each
// package is resolved from the package and coordinate alone; version, with and
// filter conditions then narrow the resolved pins, so a pin overridden at the
// coordinate never reappears. Limits apply last.
func (g *Gateway) findPins(ctx context.Context, f pinFilter) ([]VersionPinRow, error) {
	join := func() *gorm.DB {
		return g.db.WithContext(ctx).Table("versionpins").
			Select("versionpins.id AS version_pin_id, versionpins.distribution_id, versionpins.pkgcoord_id, " +
				"distributions.package, distributions.version, " +
				"pkgcoords.level, pkgcoords.role, pkgcoords.platform, pkgcoords.site").
			Joins("JOIN pkgcoords ON pkgcoords.id = versionpins.pkgcoord_id").
			Joins("JOIN distributions ON distributions.id = versionpins.distribution_id")
	}

	db := join()
	if f.pkg != "" {
		db = db.Where("pkgcoords.package = ?", f.pkg)
	}
	if f.show != "" {
		db = db.Where("(pkgcoords.level = ? OR pkgcoords.level = ? OR pkgcoords.level LIKE ? ESCAPE '"+likeEscape+"')",
			coords.Facility, f.show, escapeLike(f.show+coords.Separator)+"%")
	}
	if f.q != nil {
		if err := g.checkCoords(ctx, *f.q); err != nil {
			return nil, err
		}
		var err error
		if db, err = matchCoords(db, "pkgcoords", *f.q); err != nil {
			return nil, err
		}
	}

	if f.q != nil && f.q.Mode == coords.ModeAncestor {
		var candidates []pinScan
		if err := db.Scan(&candidates).Error; err != nil {
			return nil, classify("resolve version pins", err)
		}
		resolved := closest(candidates)
		if len(resolved) == 0 {
			return []VersionPinRow{}, nil
		}
		ids := make([]int64, len(resolved))
		for i, c := range resolved {
			ids[i] = c.VersionPinID
		}
		db = join().Where("versionpins.id IN ?", ids)
	}

	if f.with != "" {
		db = db.Joins("JOIN withs ON withs.versionpin_id = versionpins.id").Where("withs.package = ?", f.with)
	}
	if f.version != "" {
		db = db.Where("distributions.version = ?", f.version)
	}
	db = applyConditions(db, f.conds, pinColumns)
	db, n := g.order(db, f.sort, query.VersionPinAttributes, pinColumns, "versionpins.id")

	var scanned []pinScan
	if err := limit(db, n).Scan(&scanned).Error; err != nil {
		return nil, classify("find version pins", err)
	}

	rows := make([]VersionPinRow, 0, len(scanned))
	for _, s := range scanned {
		rows = append(rows, s.row())
	}
	if err := g.attachWiths(ctx, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// checkCoords rejects malformed coordinate values and reports nodes missing
// from their hierarchy. Roots are always accepted.
func (g *Gateway) checkCoords(ctx context.Context, q coords.Query) error {
	dims := []struct {
		h     hierarchy
		value string
	}{
		{levelHierarchy, q.Level},
		{roleHierarchy, q.Role},
		{platformHierarchy, q.Platform},
		{siteHierarchy, q.Site},
	}
	for _, d := range dims {
		if d.value == d.h.root {
			continue
		}
		if !validNode(d.value, d.h.root) {
			return errcode.New(errcode.InvalidArgument, "malformed %s %q", d.h.entity, d.value)
		}
		var n int64
		if err := g.db.WithContext(ctx).Table(d.h.table).Where("name = ?", d.value).Count(&n).Error; err != nil {
			return classify("check "+d.h.table, err)
		}
		if n == 0 {
			return errcode.New(errcode.NotFound, "%s %q does not exist", d.h.entity, d.value)
		}
	}
	return nil
}

// closest keeps the most specific candidate per package, in input order.
func closest(in []pinScan) []pinScan {
	best := make(map[string]int, len(in))
	for i, s := range in {
		if j, ok := best[s.Package]; !ok || outranks(s, in[j]) {
			best[s.Package] = i
		}
	}
	out := make([]pinScan, 0, len(best))
	for i, s := range in {
		if best[s.Package] == i {
			out = append(out, s)
		}
	}
	return out
}

func (g *Gateway) attachWiths(ctx context.Context, rows []VersionPinRow) error {
	if len(rows) == 0 {
		return nil
	}
	ids := make([]int64, len(rows))
	index := make(map[int64]int, len(rows))
	for i, r := range rows {
		ids[i] = r.VersionPinID
		index[r.VersionPinID] = i
	}
	var withs []With
	if err := g.db.WithContext(ctx).Where("versionpin_id IN ?", ids).
		Order("versionpin_id ASC").Order("with_order ASC").Find(&withs).Error; err != nil {
		return classify("load withs", err)
	}
	for _, w := range withs {
		i := index[w.VersionPinID]
		rows[i].Withs = append(rows[i].Withs, w.Package)
	}
	return nil
}

// VersionPin returns the most specific pin of a package visible from the
// coordinate, or a NotFound error.
func (g *Gateway) VersionPin(ctx context.Context, f query.VersionPin) (VersionPinRow, error) {
	q := f.Query()
	rows, err := g.findPins(ctx, pinFilter{pkg: f.Package, q: &q})
	if err != nil {
		return VersionPinRow{}, err
	}
	if len(rows) == 0 {
		return VersionPinRow{}, errcode.New(errcode.NotFound, "no version pin for %s at %s", f.Package, q.Coordinate)
	}
	return rows[0], nil
}

// VersionPins returns the pins matching the query. In ancestor mode each
// package contributes its most specific pin.
func (g *Gateway) VersionPins(ctx context.Context, f query.VersionPins) ([]VersionPinRow, error) {
	conds, err := query.ParseFilter(f.Filter, query.VersionPinFilterFields)
	if err != nil {
		return nil, err
	}
	q := f.Query()
	return g.findPins(ctx, pinFilter{pkg: f.Package, version: f.Version, q: &q, conds: conds, sort: f.Sort})
}

// Withs returns the pins that list f.Package among their withs.
func (g *Gateway) Withs(ctx context.Context, f query.Withs) ([]VersionPinRow, error) {
	q := f.Coords.Query()
	return g.findPins(ctx, pinFilter{with: f.Package, q: &q, sort: f.Sort})
}

// VersionPinWiths returns the withs of a pin in order.
func (g *Gateway) VersionPinWiths(ctx context.Context, f query.VersionPinWiths) ([]With, error) {
	db := g.db.WithContext(ctx)
	var pin VersionPin
	if err := db.First(&pin, "id = ?", f.VersionPinID).Error; err != nil {
		return nil, classify(fmt.Sprintf("load version pin %d", f.VersionPinID), err)
	}
	out := []With{}
	if err := db.Where("versionpin_id = ?", pin.ID).Order("with_order ASC").Find(&out).Error; err != nil {
		return nil, classify("list withs", err)
	}
	return out, nil
}

// ShowPins returns every pin visible to a show: those at the facility level
// and those in the show's level subtree, grouped by package from least to most
// specific. An empty show selects all pins.
func (g *Gateway) ShowPins(ctx context.Context, show string) ([]VersionPinRow, error) {
	if show != "" {
		var lvl Level
		err := g.db.WithContext(ctx).First(&lvl, "name = ? AND depth = ?", show, 1).Error
		if err != nil {
			return nil, classify(fmt.Sprintf("load show %q", show), err)
		}
	}
	rows, err := g.findPins(ctx, pinFilter{show: show})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Package != rows[j].Package {
			return rows[i].Package < rows[j].Package
		}
		return outranks(scanOf(rows[j]), scanOf(rows[i]))
	})
	return rows, nil
}

func scanOf(r VersionPinRow) pinScan {
	return pinScan{Level: r.Coords.Level, Role: r.Coords.Role, Platform: r.Coords.Platform, Site: r.Coords.Site}
}

// Revisions lists revisions.
func (g *Gateway) Revisions(ctx context.Context, f query.Revisions) ([]Revision, error) {
	db := g.db.WithContext(ctx).Model(&Revision{})
	if f.ID > 0 {
		db = db.Where("id = ?", f.ID)
	}
	if f.TransactionID > 0 {
		db = db.Where("transaction_id = ?", f.TransactionID)
	}
	if f.Author != "" {
		db = db.Where("author = ?", f.Author)
	}
	db, n := g.order(db, f.Sort, query.RevisionAttributes, revisionColumns, "id")
	out := []Revision{}
	if err := limit(db, n).Find(&out).Error; err != nil {
		return nil, classify("list revisions", err)
	}
	return out, nil
}

// Changes lists the changes of a transaction.
func (g *Gateway) Changes(ctx context.Context, f query.Changes) ([]ChangeRow, error) {
	db := g.db.WithContext(ctx).Model(&Change{}).Where("transaction_id = ?", f.TransactionID)
	db, n := g.order(db, f.Sort, query.ChangeAttributes, changeColumns, "id")
	var changes []Change
	if err := limit(db, n).Find(&changes).Error; err != nil {
		return nil, classify("list changes", err)
	}

	var ids []int64
	for _, c := range changes {
		if c.OldDistributionID != nil {
			ids = append(ids, *c.OldDistributionID)
		}
		if c.NewDistributionID != nil {
			ids = append(ids, *c.NewDistributionID)
		}
	}
	names := map[int64]string{}
	if len(ids) > 0 {
		var dists []Distribution
		if err := g.db.WithContext(ctx).Where("id IN ?", ids).Find(&dists).Error; err != nil {
			return nil, classify("load change distributions", err)
		}
		for _, d := range dists {
			names[d.ID] = d.String()
		}
	}

	out := make([]ChangeRow, 0, len(changes))
	for _, c := range changes {
		out = append(out, changeRow(c, names))
	}
	return out, nil
}

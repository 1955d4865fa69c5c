// Package query holds the per-entity request options of the pin service.
// Each Options struct is built once, either as a literal or with the New*
// constructors and functional Option values, and is passed by value so it
// cannot change after construction. The structs double as the JSON request
// bodies of the read operations.
package query

import (
	"github.com/packrat/pinserver/pkg/coords"
)

// Option sets one field on a request under construction. Options that do not
// apply to an entity are ignored by its constructor.
type Option func(*params)

type params struct {
	name, nameLike   string
	pkg, version     string
	level, role      string
	platform, site   string
	mode, filter     string
	show, author     string
	depth            int
	id, txID, vpinID int64
	isolate          bool
	sort             Sort
}

func build(opts []Option) params {
	var p params
	for _, o := range opts {
		o(&p)
	}
	return p
}

// WithName selects an exact name.
func WithName(s string) Option { return func(p *params) { p.name = s } }

// WithNameLike selects names containing a substring.
func WithNameLike(s string) Option { return func(p *params) { p.nameLike = s } }

// WithPackage selects a package.
func WithPackage(s string) Option { return func(p *params) { p.pkg = s } }

// WithVersion selects a distribution version.
func WithVersion(s string) Option { return func(p *params) { p.version = s } }

// WithLevel sets the level coordinate.
func WithLevel(s string) Option { return func(p *params) { p.level = s } }

// WithRole sets the role coordinate.
func WithRole(s string) Option { return func(p *params) { p.role = s } }

// WithPlatform sets the platform coordinate.
func WithPlatform(s string) Option { return func(p *params) { p.platform = s } }

// WithSite sets the site coordinate.
func WithSite(s string) Option { return func(p *params) { p.site = s } }

// WithSearchMode sets the coordinate search mode: ancestor, descendant or exact.
func WithSearchMode(s string) Option { return func(p *params) { p.mode = s } }

// WithFilter sets a filter expression over the entity's filter fields.
func WithFilter(s string) Option { return func(p *params) { p.filter = s } }

// WithShow restricts levels to one show.
func WithShow(s string) Option { return func(p *params) { p.show = s } }

// WithAuthor selects revisions by author.
func WithAuthor(s string) Option { return func(p *params) { p.author = s } }

// WithDepth selects levels at one depth.
func WithDepth(d int) Option { return func(p *params) { p.depth = d } }

// WithID selects a record by id.
func WithID(id int64) Option { return func(p *params) { p.id = id } }

// WithTransactionID selects the changes of one transaction.
func WithTransactionID(id int64) Option { return func(p *params) { p.txID = id } }

// WithVersionPinID selects the withs of one pin.
func WithVersionPinID(id int64) Option { return func(p *params) { p.vpinID = id } }

// WithIsolateFacility keeps only facility-level pins.
func WithIsolateFacility(b bool) Option { return func(p *params) { p.isolate = b } }

// WithOrderBy sorts by an entity attribute.
func WithOrderBy(s string) Option { return func(p *params) { p.sort.OrderBy = s } }

// WithOrderDirection sets the sort direction, asc or desc.
func WithOrderDirection(s string) Option { return func(p *params) { p.sort.OrderDirection = s } }

// WithLimit caps the number of rows. Zero is unlimited.
func WithLimit(n int) Option { return func(p *params) { p.sort.Limit = n } }

// WithCoordinate sets all four coordinate fields at once.
func WithCoordinate(c coords.Coordinate) Option {
	return func(p *params) {
		p.level, p.role, p.platform, p.site = c.Level, c.Role, c.Platform, c.Site
	}
}

// Coords holds the optional coordinate fields shared by pin queries.
type Coords struct {
	Level      string `json:"level,omitempty"`
	Role       string `json:"role,omitempty"`
	Platform   string `json:"platform,omitempty"`
	Site       string `json:"site,omitempty"`
	SearchMode string `json:"searchMode,omitempty"`
}

// Query resolves c into a fully defaulted coordinate query.
func (c Coords) Query() coords.Query {
	return coords.Resolve(&c.Level, &c.Role, &c.Platform, &c.Site, &c.SearchMode)
}

func coordsOf(p params) Coords {
	return Coords{Level: p.level, Role: p.role, Platform: p.platform, Site: p.site, SearchMode: p.mode}
}

// Names filters the flat name-keyed entities: packages, roles, platforms and
// sites.
type Names struct {
	Name     string `json:"name,omitempty"`
	NameLike string `json:"nameLike,omitempty"`
	Sort
}

// Packages, Roles, Platforms and Sites are the name queries of their entities.
type (
	Packages  struct{ Names }
	Roles     struct{ Names }
	Platforms struct{ Names }
	Sites     struct{ Names }
)

func namesOf(p params) Names { return Names{Name: p.name, NameLike: p.nameLike, Sort: p.sort} }

// NewPackages builds a package query.
func NewPackages(opts ...Option) Packages { return Packages{namesOf(build(opts))} }

// NewRoles builds a role query.
func NewRoles(opts ...Option) Roles { return Roles{namesOf(build(opts))} }

// NewPlatforms builds a platform query.
func NewPlatforms(opts ...Option) Platforms { return Platforms{namesOf(build(opts))} }

// NewSites builds a site query.
func NewSites(opts ...Option) Sites { return Sites{namesOf(build(opts))} }

// Levels filters levels by name, show and depth. Depth zero is unfiltered.
type Levels struct {
	Name     string `json:"name,omitempty"`
	NameLike string `json:"nameLike,omitempty"`
	Show     string `json:"show,omitempty"`
	Depth    int    `json:"depth,omitempty"`
	Sort
}

// NewLevels builds a level query.
func NewLevels(opts ...Option) Levels {
	p := build(opts)
	return Levels{Name: p.name, NameLike: p.nameLike, Show: p.show, Depth: p.depth, Sort: p.sort}
}

// Distributions filters distributions by package and version.
type Distributions struct {
	Package string `json:"package,omitempty"`
	Version string `json:"version,omitempty"`
	Filter  string `json:"filter,omitempty"`
	Sort
}

// NewDistributions builds a distribution query.
func NewDistributions(opts ...Option) Distributions {
	p := build(opts)
	return Distributions{Package: p.pkg, Version: p.version, Filter: p.filter, Sort: p.sort}
}

// PkgCoords selects package coordinate slots.
type PkgCoords struct {
	Package string `json:"package,omitempty"`
	Coords
	Sort
}

// NewPkgCoords builds a package coordinate query.
func NewPkgCoords(opts ...Option) PkgCoords {
	p := build(opts)
	return PkgCoords{Package: p.pkg, Coords: coordsOf(p), Sort: p.sort}
}

// Withs finds the pins that declare Package as a with.
type Withs struct {
	Package string `json:"package" validate:"required"`
	Coords
	Sort
}

// NewWiths builds a withs query.
func NewWiths(opts ...Option) Withs {
	p := build(opts)
	return Withs{Package: p.pkg, Coords: coordsOf(p), Sort: p.sort}
}

// VersionPin selects the single best pin for a package at a coordinate. The
// search mode is always ancestor.
type VersionPin struct {
	Package  string `json:"package" validate:"required"`
	Level    string `json:"level,omitempty"`
	Role     string `json:"role,omitempty"`
	Platform string `json:"platform,omitempty"`
	Site     string `json:"site,omitempty"`
}

// NewVersionPin builds a single pin query.
func NewVersionPin(opts ...Option) VersionPin {
	p := build(opts)
	return VersionPin{Package: p.pkg, Level: p.level, Role: p.role, Platform: p.platform, Site: p.site}
}

// Query resolves the pin coordinate in ancestor mode.
func (v VersionPin) Query() coords.Query {
	mode := coords.ModeAncestor
	return coords.Resolve(&v.Level, &v.Role, &v.Platform, &v.Site, &mode)
}

// VersionPins selects every pin matching the coordinate query.
type VersionPins struct {
	Package         string `json:"package,omitempty"`
	Version         string `json:"version,omitempty"`
	IsolateFacility bool   `json:"isolateFacility,omitempty"`
	Filter          string `json:"filter,omitempty"`
	Coords
	Sort
}

// NewVersionPins builds a pin search.
func NewVersionPins(opts ...Option) VersionPins {
	p := build(opts)
	return VersionPins{
		Package:         p.pkg,
		Version:         p.version,
		IsolateFacility: p.isolate,
		Filter:          p.filter,
		Coords:          coordsOf(p),
		Sort:            p.sort,
	}
}

// Query resolves the coordinate and carries IsolateFacility through.
func (v VersionPins) Query() coords.Query {
	q := v.Coords.Query()
	q.IsolateFacility = v.IsolateFacility
	return q
}

// VersionPinWiths lists the withs of one pin, in order.
type VersionPinWiths struct {
	VersionPinID int64 `json:"versionPinId" validate:"required,gt=0"`
}

// NewVersionPinWiths builds a query for one pin's withs.
func NewVersionPinWiths(opts ...Option) VersionPinWiths {
	return VersionPinWiths{VersionPinID: build(opts).vpinID}
}

// Revisions filters the audit revisions.
type Revisions struct {
	ID            int64  `json:"id,omitempty"`
	TransactionID int64  `json:"transactionId,omitempty"`
	Author        string `json:"author,omitempty"`
	Sort
}

// NewRevisions builds a revision query.
func NewRevisions(opts ...Option) Revisions {
	p := build(opts)
	return Revisions{ID: p.id, TransactionID: p.txID, Author: p.author, Sort: p.sort}
}

// Changes lists the change rows of one transaction.
type Changes struct {
	TransactionID int64 `json:"transactionId" validate:"required,gt=0"`
	Sort
}

// NewChanges builds a change query.
func NewChanges(opts ...Option) Changes {
	p := build(opts)
	return Changes{TransactionID: p.txID, Sort: p.sort}
}

// Sortable attributes per entity.
var (
	PackageAttributes      = []Attribute{AttrName}
	HierarchyAttributes    = []Attribute{AttrID, AttrName, AttrDepth}
	LevelAttributes        = []Attribute{AttrID, AttrName, AttrShow, AttrDepth}
	DistributionAttributes = []Attribute{AttrID, AttrPackage, AttrVersion}
	PkgCoordAttributes     = []Attribute{AttrID, AttrPackage, AttrLevel, AttrRole, AttrPlatform, AttrSite}
	VersionPinAttributes   = []Attribute{AttrID, AttrPackage, AttrVersion, AttrDistribution, AttrLevel, AttrRole, AttrPlatform, AttrSite}
	RevisionAttributes     = []Attribute{AttrID, AttrTransactionID, AttrAuthor, AttrDatetime}
	ChangeAttributes       = []Attribute{AttrID, AttrAction, AttrPackage, AttrLevel, AttrRole, AttrPlatform, AttrSite}
)

// Filterable fields per entity.
var (
	DistributionFilterFields = []Attribute{AttrPackage, AttrVersion}
	VersionPinFilterFields   = []Attribute{AttrPackage, AttrVersion, AttrLevel, AttrRole, AttrPlatform, AttrSite}
)

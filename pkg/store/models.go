package store

import (
	"time"

	"github.com/packrat/pinserver/pkg/coords"
)

// Change actions.
const (
	ActionInsert = "insert"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Entities named by Change.Entity.
const (
	EntityPackage      = "package"
	EntityLevel        = "level"
	EntityRole         = "role"
	EntityPlatform     = "platform"
	EntitySite         = "site"
	EntityDistribution = "distribution"
	EntityVersionPin   = "versionpin"
	EntityWith         = "with"
)

// Package is a named software package.
type Package struct {
	Name string `gorm:"primaryKey;column:name;type:varchar(255)" json:"name"`
}

func (Package) TableName() string { return "packages" }

// Level is a node of the facility/show/sequence/shot hierarchy.
type Level struct {
	ID    int64  `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	Name  string `gorm:"column:name;type:varchar(255);uniqueIndex:idx_level_name;not null" json:"name"`
	Show  string `gorm:"column:show_name;type:varchar(255);index" json:"show"`
	Depth int    `gorm:"column:depth;not null" json:"depth"`
}

func (Level) TableName() string { return "levels" }

// Role is a node of the role hierarchy rooted at "any".
type Role struct {
	ID    int64  `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	Name  string `gorm:"column:name;type:varchar(255);uniqueIndex:idx_role_name;not null" json:"name"`
	Depth int    `gorm:"column:depth;not null" json:"depth"`
}

func (Role) TableName() string { return "roles" }

// Platform is a node of the platform hierarchy rooted at "any".
type Platform struct {
	ID    int64  `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	Name  string `gorm:"column:name;type:varchar(255);uniqueIndex:idx_platform_name;not null" json:"name"`
	Depth int    `gorm:"column:depth;not null" json:"depth"`
}

func (Platform) TableName() string { return "platforms" }

// Site is a node of the site hierarchy rooted at "any".
type Site struct {
	ID    int64  `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	Name  string `gorm:"column:name;type:varchar(255);uniqueIndex:idx_site_name;not null" json:"name"`
	Depth int    `gorm:"column:depth;not null" json:"depth"`
}

func (Site) TableName() string { return "sites" }

// Distribution is a concrete version of a package.
type Distribution struct {
	ID      int64  `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	Package string `gorm:"column:package;type:varchar(255);uniqueIndex:idx_dist_pkg_ver,priority:1;not null" json:"package"`
	Version string `gorm:"column:version;type:varchar(255);uniqueIndex:idx_dist_pkg_ver,priority:2;not null" json:"version"`
}

func (Distribution) TableName() string { return "distributions" }

// String renders the distribution as package-version.
func (d Distribution) String() string { return d.Package + "-" + d.Version }

// PkgCoord is the (package, coordinate) slot a version pin occupies.
type PkgCoord struct {
	ID       int64  `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	Package  string `gorm:"column:package;type:varchar(255);uniqueIndex:idx_pkgcoord,priority:1;not null" json:"package"`
	Level    string `gorm:"column:level;type:varchar(255);uniqueIndex:idx_pkgcoord,priority:2;not null" json:"level"`
	Role     string `gorm:"column:role;type:varchar(255);uniqueIndex:idx_pkgcoord,priority:3;not null" json:"role"`
	Platform string `gorm:"column:platform;type:varchar(255);uniqueIndex:idx_pkgcoord,priority:4;not null" json:"platform"`
	Site     string `gorm:"column:site;type:varchar(255);uniqueIndex:idx_pkgcoord,priority:5;not null" json:"site"`
}

func (PkgCoord) TableName() string { return "pkgcoords" }

// Coordinate returns the slot's coordinate.
func (p PkgCoord) Coordinate() coords.Coordinate {
	return coords.Coordinate{Level: p.Level, Role: p.Role, Platform: p.Platform, Site: p.Site}
}

// VersionPin assigns a distribution to a pkgcoord. One pin per pkgcoord.
type VersionPin struct {
	ID             int64 `gorm:"primaryKey;autoIncrement;column:id"`
	PkgCoordID     int64 `gorm:"column:pkgcoord_id;uniqueIndex:idx_versionpin_pkgcoord;not null"`
	DistributionID int64 `gorm:"column:distribution_id;index;not null"`
}

func (VersionPin) TableName() string { return "versionpins" }

// With is an ordered companion package of a version pin.
type With struct {
	ID           int64  `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	VersionPinID int64  `gorm:"column:versionpin_id;uniqueIndex:idx_with_pin_pkg,priority:1;not null" json:"versionPinId"`
	Package      string `gorm:"column:package;type:varchar(255);uniqueIndex:idx_with_pin_pkg,priority:2;index;not null" json:"package"`
	Order        int    `gorm:"column:with_order;not null" json:"order"`
}

func (With) TableName() string { return "withs" }

// Transaction allocates the id shared by a revision and its changes.
type Transaction struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;column:id"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Transaction) TableName() string { return "transactions" }

// Revision is the audit record of one committed mutation. Write-once.
type Revision struct {
	ID            int64     `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	TransactionID int64     `gorm:"column:transaction_id;uniqueIndex:idx_revision_txid;not null" json:"transactionId"`
	Author        string    `gorm:"column:author;type:varchar(255);index;not null" json:"author"`
	Comment       string    `gorm:"column:comment;type:text" json:"comment"`
	Datetime      time.Time `gorm:"column:datetime;not null" json:"datetime"`
}

func (Revision) TableName() string { return "revisions" }

// Change is one logical write inside a transaction. Mutations return Changes
// without ID or TransactionID; the transaction coordinator fills both.
type Change struct {
	ID                int64  `gorm:"primaryKey;autoIncrement;column:id"`
	TransactionID     int64  `gorm:"column:transaction_id;index;not null"`
	Action            string `gorm:"column:action;type:varchar(16);not null"`
	Entity            string `gorm:"column:entity;type:varchar(32);not null"`
	Package           string `gorm:"column:package;type:varchar(255)"`
	Level             string `gorm:"column:level;type:varchar(255);not null"`
	Role              string `gorm:"column:role;type:varchar(255);not null"`
	Platform          string `gorm:"column:platform;type:varchar(255);not null"`
	Site              string `gorm:"column:site;type:varchar(255);not null"`
	OldDistributionID *int64 `gorm:"column:old_distribution_id"`
	NewDistributionID *int64 `gorm:"column:new_distribution_id"`
}

func (Change) TableName() string { return "changes" }

func newChange(action, entity, pkg string, c coords.Coordinate) Change {
	c = coords.Defaults(c)
	return Change{
		Action:   action,
		Entity:   entity,
		Package:  pkg,
		Level:    c.Level,
		Role:     c.Role,
		Platform: c.Platform,
		Site:     c.Site,
	}
}

func allModels() []any {
	return []any{
		&Package{}, &Level{}, &Role{}, &Platform{}, &Site{},
		&Distribution{}, &PkgCoord{}, &VersionPin{}, &With{},
		&Transaction{}, &Revision{}, &Change{},
	}
}

package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"gorm.io/gorm"

	"github.com/packrat/pinserver/pkg/coords"
	"github.com/packrat/pinserver/pkg/errcode"
)

// Write methods run on the session the Gateway was built over, normally an
// open transaction carrying the request context. Each returns the logical
// changes it made for the audit trail.

// unique trims names and drops blanks and repeats, keeping first occurrence
// order.
func unique(names []string) []string {
	seen := mapset.NewThreadUnsafeSet[string]()
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" && seen.Add(n) {
			out = append(out, n)
		}
	}
	return out
}

func (g *Gateway) exists(table, where string, args ...any) (bool, error) {
	var n int64
	if err := g.db.Table(table).Where(where, args...).Count(&n).Error; err != nil {
		return false, classify("check "+table, err)
	}
	return n > 0, nil
}

// AddPackages creates packages.
func (g *Gateway) AddPackages(names []string) ([]Change, error) {
	names = unique(names)
	if len(names) == 0 {
		return nil, errcode.New(errcode.InvalidArgument, "no package names given")
	}
	changes := make([]Change, 0, len(names))
	for _, name := range names {
		// Distributions split on the first dash.
		if strings.ContainsAny(name, " /-") {
			return nil, errcode.New(errcode.InvalidArgument, "invalid package name %q", name)
		}
		found, err := g.exists("packages", "name = ?", name)
		if err != nil {
			return nil, err
		}
		if found {
			return nil, errcode.New(errcode.FailedPrecondition, "package %q already exists", name)
		}
		if err := g.db.Create(&Package{Name: name}).Error; err != nil {
			return nil, classify(fmt.Sprintf("create package %q", name), err)
		}
		changes = append(changes, newChange(ActionInsert, EntityPackage, name, coords.Root()))
	}
	return changes, nil
}

// hierarchy describes one of the four coordinate dimensions.
type hierarchy struct {
	entity string
	table  string
	root   string
	model  func(name string) any
	coord  func(name string) coords.Coordinate
}

var (
	levelHierarchy = hierarchy{
		entity: EntityLevel, table: "levels", root: coords.Facility,
		model: func(n string) any {
			return &Level{Name: n, Show: coords.Show(n), Depth: coords.Depth(n, coords.Facility)}
		},
		coord: func(n string) coords.Coordinate { return coords.Coordinate{Level: n} },
	}
	roleHierarchy = hierarchy{
		entity: EntityRole, table: "roles", root: coords.Any,
		model: func(n string) any { return &Role{Name: n, Depth: coords.Depth(n, coords.Any)} },
		coord: func(n string) coords.Coordinate { return coords.Coordinate{Role: n} },
	}
	platformHierarchy = hierarchy{
		entity: EntityPlatform, table: "platforms", root: coords.Any,
		model: func(n string) any { return &Platform{Name: n, Depth: coords.Depth(n, coords.Any)} },
		coord: func(n string) coords.Coordinate { return coords.Coordinate{Platform: n} },
	}
	siteHierarchy = hierarchy{
		entity: EntitySite, table: "sites", root: coords.Any,
		model: func(n string) any { return &Site{Name: n, Depth: coords.Depth(n, coords.Any)} },
		coord: func(n string) coords.Coordinate { return coords.Coordinate{Site: n} },
	}
)

func validNode(name, root string) bool {
	if name == root || name == coords.Facility || name == coords.Any {
		return false
	}
	if strings.ContainsAny(name, " /") {
		return false
	}
	for _, seg := range strings.Split(name, coords.Separator) {
		if seg == "" {
			return false
		}
	}
	return true
}

// addNodes creates hierarchy nodes. Parents are created before children
// within one call; a parent missing from both the call and the store is a
// failed precondition.
func (g *Gateway) addNodes(h hierarchy, names []string) ([]Change, error) {
	names = unique(names)
	if len(names) == 0 {
		return nil, errcode.New(errcode.InvalidArgument, "no %s names given", h.entity)
	}
	sort.SliceStable(names, func(i, j int) bool {
		return coords.Depth(names[i], h.root) < coords.Depth(names[j], h.root)
	})

	changes := make([]Change, 0, len(names))
	for _, name := range names {
		if !validNode(name, h.root) {
			return nil, errcode.New(errcode.InvalidArgument, "invalid %s name %q", h.entity, name)
		}
		found, err := g.exists(h.table, "name = ?", name)
		if err != nil {
			return nil, err
		}
		if found {
			return nil, errcode.New(errcode.FailedPrecondition, "%s %q already exists", h.entity, name)
		}
		if parent := coords.Parent(name, h.root); parent != h.root {
			found, err := g.exists(h.table, "name = ?", parent)
			if err != nil {
				return nil, err
			}
			if !found {
				return nil, errcode.New(errcode.FailedPrecondition, "parent %s %q of %q does not exist", h.entity, parent, name)
			}
		}
		if err := g.db.Create(h.model(name)).Error; err != nil {
			return nil, classify(fmt.Sprintf("create %s %q", h.entity, name), err)
		}
		changes = append(changes, newChange(ActionInsert, h.entity, "", h.coord(name)))
	}
	return changes, nil
}

// AddLevels creates levels below the facility.
func (g *Gateway) AddLevels(names []string) ([]Change, error) { return g.addNodes(levelHierarchy, names) }

// AddRoles creates roles.
func (g *Gateway) AddRoles(names []string) ([]Change, error) { return g.addNodes(roleHierarchy, names) }

// AddPlatforms creates platforms.
func (g *Gateway) AddPlatforms(names []string) ([]Change, error) {
	return g.addNodes(platformHierarchy, names)
}

// AddSites creates sites.
func (g *Gateway) AddSites(names []string) ([]Change, error) { return g.addNodes(siteHierarchy, names) }

// AddDistributions creates versions of an existing package.
func (g *Gateway) AddDistributions(pkg string, versions []string) ([]Change, error) {
	versions = unique(versions)
	if pkg == "" || len(versions) == 0 {
		return nil, errcode.New(errcode.InvalidArgument, "package and at least one version are required")
	}
	found, err := g.exists("packages", "name = ?", pkg)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errcode.New(errcode.FailedPrecondition, "package %q does not exist", pkg)
	}

	changes := make([]Change, 0, len(versions))
	for _, v := range versions {
		found, err := g.exists("distributions", "package = ? AND version = ?", pkg, v)
		if err != nil {
			return nil, err
		}
		if found {
			return nil, errcode.New(errcode.FailedPrecondition, "distribution %s-%s already exists", pkg, v)
		}
		d := Distribution{Package: pkg, Version: v}
		if err := g.db.Create(&d).Error; err != nil {
			return nil, classify(fmt.Sprintf("create distribution %s", d), err)
		}
		c := newChange(ActionInsert, EntityDistribution, pkg, coords.Root())
		c.NewDistributionID = &d.ID
		changes = append(changes, c)
	}
	return changes, nil
}

// ParseDistribution splits "package-version" on the first dash. Package
// names never contain a dash; versions may.
func ParseDistribution(s string) (pkg, version string, err error) {
	pkg, version, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok || pkg == "" || version == "" {
		return "", "", errcode.New(errcode.InvalidArgument, "distribution %q is not of the form package-version", s)
	}
	return pkg, version, nil
}

func (g *Gateway) distribution(pkg, version string) (Distribution, error) {
	var d Distribution
	err := g.db.Where("package = ? AND version = ?", pkg, version).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return d, errcode.New(errcode.FailedPrecondition, "distribution %s-%s does not exist", pkg, version)
	}
	if err != nil {
		return d, classify("load distribution", err)
	}
	return d, nil
}

// nodes resolves a dimension list for a cross product, checking existence.
// An empty list yields the root.
func (g *Gateway) nodes(h hierarchy, names []string) ([]string, error) {
	names = unique(names)
	if len(names) == 0 {
		return []string{h.root}, nil
	}
	for _, n := range names {
		if n == h.root {
			continue
		}
		found, err := g.exists(h.table, "name = ?", n)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, errcode.New(errcode.FailedPrecondition, "%s %q does not exist", h.entity, n)
		}
	}
	return names, nil
}

// AddVersionPins pins a distribution at every coordinate of the cross product
// levels x roles x platforms x sites. A coordinate that already holds a pin
// for the package is a failed precondition; use SetVersionPins to change it.
func (g *Gateway) AddVersionPins(distribution string, levels, roles, platforms, sites []string) ([]Change, error) {
	pkg, version, err := ParseDistribution(distribution)
	if err != nil {
		return nil, err
	}
	dist, err := g.distribution(pkg, version)
	if err != nil {
		return nil, err
	}

	dims := make([][]string, 4)
	for i, h := range []hierarchy{levelHierarchy, roleHierarchy, platformHierarchy, siteHierarchy} {
		in := [][]string{levels, roles, platforms, sites}[i]
		if dims[i], err = g.nodes(h, in); err != nil {
			return nil, err
		}
	}

	var changes []Change
	for _, l := range dims[0] {
		for _, r := range dims[1] {
			for _, p := range dims[2] {
				for _, s := range dims[3] {
					c := coords.Coordinate{Level: l, Role: r, Platform: p, Site: s}
					change, err := g.addPin(dist, c)
					if err != nil {
						return nil, err
					}
					changes = append(changes, change)
				}
			}
		}
	}
	return changes, nil
}

func (g *Gateway) addPin(dist Distribution, c coords.Coordinate) (Change, error) {
	pc := PkgCoord{Package: dist.Package, Level: c.Level, Role: c.Role, Platform: c.Platform, Site: c.Site}
	if err := g.db.Where(pc).FirstOrCreate(&pc).Error; err != nil {
		return Change{}, classify("create pkgcoord", err)
	}
	found, err := g.exists("versionpins", "pkgcoord_id = ?", pc.ID)
	if err != nil {
		return Change{}, err
	}
	if found {
		return Change{}, errcode.New(errcode.FailedPrecondition, "%s is already pinned at %s", dist.Package, c)
	}
	pin := VersionPin{PkgCoordID: pc.ID, DistributionID: dist.ID}
	if err := g.db.Create(&pin).Error; err != nil {
		return Change{}, classify("create version pin", err)
	}
	change := newChange(ActionInsert, EntityVersionPin, dist.Package, c)
	change.NewDistributionID = &dist.ID
	return change, nil
}

// SetVersionPins repoints pins at new distributions. vpinIDs and distIDs are
// parallel. A pin already at the requested distribution is left alone and
// produces no change.
func (g *Gateway) SetVersionPins(vpinIDs, distIDs []int64) ([]Change, error) {
	if len(vpinIDs) == 0 {
		return nil, errcode.New(errcode.InvalidArgument, "no version pins given")
	}
	if len(vpinIDs) != len(distIDs) {
		return nil, errcode.New(errcode.InvalidArgument,
			"version pin ids and distribution ids differ in length (%d != %d)", len(vpinIDs), len(distIDs))
	}

	var changes []Change
	for i, id := range vpinIDs {
		var pin VersionPin
		if err := g.db.First(&pin, "id = ?", id).Error; err != nil {
			return nil, classify(fmt.Sprintf("load version pin %d", id), err)
		}
		var pc PkgCoord
		if err := g.db.First(&pc, "id = ?", pin.PkgCoordID).Error; err != nil {
			return nil, classify(fmt.Sprintf("load pkgcoord of version pin %d", id), err)
		}
		var dist Distribution
		if err := g.db.First(&dist, "id = ?", distIDs[i]).Error; err != nil {
			return nil, classify(fmt.Sprintf("load distribution %d", distIDs[i]), err)
		}
		if dist.Package != pc.Package {
			return nil, errcode.New(errcode.FailedPrecondition,
				"distribution %s does not belong to package %q of version pin %d", dist, pc.Package, id)
		}
		if pin.DistributionID == dist.ID {
			continue
		}
		old := pin.DistributionID
		if err := g.db.Model(&pin).Update("distribution_id", dist.ID).Error; err != nil {
			return nil, classify(fmt.Sprintf("update version pin %d", id), err)
		}
		c := newChange(ActionUpdate, EntityVersionPin, pc.Package, pc.Coordinate())
		c.OldDistributionID = &old
		c.NewDistributionID = &dist.ID
		changes = append(changes, c)
	}
	return changes, nil
}

// AddWiths appends withs to a pin after any it already has.
func (g *Gateway) AddWiths(vpinID int64, withs []string) ([]Change, error) {
	withs = unique(withs)
	if len(withs) == 0 {
		return nil, errcode.New(errcode.InvalidArgument, "no withs given")
	}
	var pin VersionPin
	if err := g.db.First(&pin, "id = ?", vpinID).Error; err != nil {
		return nil, classify(fmt.Sprintf("load version pin %d", vpinID), err)
	}
	var pc PkgCoord
	if err := g.db.First(&pc, "id = ?", pin.PkgCoordID).Error; err != nil {
		return nil, classify(fmt.Sprintf("load pkgcoord of version pin %d", vpinID), err)
	}
	var next int64
	if err := g.db.Model(&With{}).Where("versionpin_id = ?", pin.ID).Count(&next).Error; err != nil {
		return nil, classify("count withs", err)
	}

	changes := make([]Change, 0, len(withs))
	for i, w := range withs {
		found, err := g.exists("packages", "name = ?", w)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, errcode.New(errcode.FailedPrecondition, "with package %q does not exist", w)
		}
		found, err = g.exists("withs", "versionpin_id = ? AND package = ?", pin.ID, w)
		if err != nil {
			return nil, err
		}
		if found {
			return nil, errcode.New(errcode.FailedPrecondition, "version pin %d already has with %q", pin.ID, w)
		}
		if err := g.db.Create(&With{VersionPinID: pin.ID, Package: w, Order: int(next) + i}).Error; err != nil {
			return nil, classify(fmt.Sprintf("create with %q", w), err)
		}
		c := newChange(ActionInsert, EntityWith, w, pc.Coordinate())
		distID := pin.DistributionID
		c.NewDistributionID = &distID
		changes = append(changes, c)
	}
	return changes, nil
}

// AllocateTransaction reserves a fresh transaction id.
func (g *Gateway) AllocateTransaction() (int64, error) {
	t := Transaction{CreatedAt: time.Now().UTC()}
	if err := g.db.Create(&t).Error; err != nil {
		return 0, classify("allocate transaction", err)
	}
	return t.ID, nil
}

// RecordRevision writes the revision of a transaction.
func (g *Gateway) RecordRevision(txID int64, author, comment string, at time.Time) (Revision, error) {
	rev := Revision{TransactionID: txID, Author: author, Comment: comment, Datetime: at}
	if err := g.db.Create(&rev).Error; err != nil {
		return Revision{}, classify("write revision", err)
	}
	return rev, nil
}

// RecordChanges writes the changes of a transaction.
func (g *Gateway) RecordChanges(txID int64, changes []Change) error {
	rows := make([]Change, len(changes))
	for i, c := range changes {
		c.ID = 0
		c.TransactionID = txID
		rows[i] = c
	}
	if err := g.db.CreateInBatches(rows, 100).Error; err != nil {
		return classify("write changes", err)
	}
	return nil
}

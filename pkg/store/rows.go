package store

import "github.com/packrat/pinserver/pkg/coords"

// VersionPinRow is a resolved version pin as returned by pin queries.
type VersionPinRow struct {
	VersionPinID   int64             `json:"versionPinId"`
	DistributionID int64             `json:"distributionId"`
	PkgCoordID     int64             `json:"pkgCoordId"`
	Package        string            `json:"package"`
	Version        string            `json:"version"`
	Distribution   string            `json:"distribution"`
	Coords         coords.Coordinate `json:"coords"`
	Withs          []string          `json:"withs"`
}

// ChangeRow is a Change with its distributions rendered as strings.
type ChangeRow struct {
	ID              int64             `json:"id"`
	TransactionID   int64             `json:"transactionId"`
	Action          string            `json:"action"`
	Entity          string            `json:"entity"`
	Package         string            `json:"package,omitempty"`
	Coords          coords.Coordinate `json:"coords"`
	OldDistribution string            `json:"oldDistribution,omitempty"`
	NewDistribution string            `json:"newDistribution,omitempty"`
}

// pinScan is the flat shape of the pin join.
type pinScan struct {
	VersionPinID   int64  `gorm:"column:version_pin_id"`
	DistributionID int64  `gorm:"column:distribution_id"`
	PkgCoordID     int64  `gorm:"column:pkgcoord_id"`
	Package        string `gorm:"column:package"`
	Version        string `gorm:"column:version"`
	Level          string `gorm:"column:level"`
	Role           string `gorm:"column:role"`
	Platform       string `gorm:"column:platform"`
	Site           string `gorm:"column:site"`
}

func (s pinScan) coordinate() coords.Coordinate {
	return coords.Coordinate{Level: s.Level, Role: s.Role, Platform: s.Platform, Site: s.Site}
}

// rank orders candidates by specificity, level first.
func (s pinScan) rank() [4]int {
	return [4]int{
		coords.Depth(s.Level, coords.Facility),
		coords.Depth(s.Role, coords.Any),
		coords.Depth(s.Platform, coords.Any),
		coords.Depth(s.Site, coords.Any),
	}
}

func outranks(a, b pinScan) bool {
	ra, rb := a.rank(), b.rank()
	for i := range ra {
		if ra[i] != rb[i] {
			return ra[i] > rb[i]
		}
	}
	return false
}

func (s pinScan) row() VersionPinRow {
	return VersionPinRow{
		VersionPinID:   s.VersionPinID,
		DistributionID: s.DistributionID,
		PkgCoordID:     s.PkgCoordID,
		Package:        s.Package,
		Version:        s.Version,
		Distribution:   Distribution{Package: s.Package, Version: s.Version}.String(),
		Coords:         s.coordinate(),
		Withs:          []string{},
	}
}

func changeRow(c Change, dists map[int64]string) ChangeRow {
	row := ChangeRow{
		ID:            c.ID,
		TransactionID: c.TransactionID,
		Action:        c.Action,
		Entity:        c.Entity,
		Package:       c.Package,
		Coords:        coords.Coordinate{Level: c.Level, Role: c.Role, Platform: c.Platform, Site: c.Site},
	}
	if c.OldDistributionID != nil {
		row.OldDistribution = dists[*c.OldDistributionID]
	}
	if c.NewDistributionID != nil {
		row.NewDistribution = dists[*c.NewDistributionID]
	}
	return row
}

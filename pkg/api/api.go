// Package api defines the wire contract of the pin service: operation names,
// write request bodies and replies. Read requests are the pkg/query option
// structs; read replies are the pkg/store row types.
package api

import "github.com/packrat/pinserver/pkg/errcode"

// BasePath prefixes every operation: POST {BasePath}/{operation}.
const BasePath = "/api/pins/v1"

// Read operations.
const (
	OpGetPackages        = "get-packages"
	OpGetLevels          = "get-levels"
	OpGetRoles           = "get-roles"
	OpGetPlatforms       = "get-platforms"
	OpGetSites           = "get-sites"
	OpGetDistributions   = "get-distributions"
	OpGetPkgCoords       = "get-pkgcoords"
	OpGetWiths           = "get-withs"
	OpGetVersionPin      = "get-version-pin"
	OpGetVersionPins     = "get-version-pins"
	OpGetVersionPinWiths = "get-version-pin-withs"
	OpGetRevisions       = "get-revisions"
	OpGetChanges         = "get-changes"
	OpExport             = "export"
)

// Write operations. Each commits one audited transaction.
const (
	OpAddPackages      = "add-packages"
	OpAddLevels        = "add-levels"
	OpAddRoles         = "add-roles"
	OpAddPlatforms     = "add-platforms"
	OpAddSites         = "add-sites"
	OpAddDistributions = "add-distributions"
	OpAddWiths         = "add-withs"
	OpAddVersionPins   = "add-version-pins"
	OpSetVersionPins   = "set-version-pins"
)

// Operation describes one entry of the operation listing.
type Operation struct {
	Name  string `json:"name"`
	Write bool   `json:"write"`
}

// Audit carries the provenance recorded with a write. An empty author falls
// back to the authenticated caller; an empty comment gets a generated one.
type Audit struct {
	Author  string `json:"author,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// Provenance returns the audit fields of a write request.
func (a Audit) Provenance() Audit { return a }

// AddNames creates packages, levels, roles, platforms or sites.
type AddNames struct {
	Names []string `json:"names" validate:"required,min=1,dive,required"`
	Audit
}

// AddDistributions creates versions of a package.
type AddDistributions struct {
	Package  string   `json:"package" validate:"required"`
	Versions []string `json:"versions" validate:"required,min=1,dive,required"`
	Audit
}

// AddWiths appends withs to a version pin, in the given order.
type AddWiths struct {
	VersionPinID int64    `json:"versionPinId" validate:"required,gt=0"`
	Withs        []string `json:"withs" validate:"required,min=1,dive,required"`
	Audit
}

// AddVersionPins pins a "package-version" distribution at every coordinate of
// the cross product of the dimension lists. An empty list means the root.
type AddVersionPins struct {
	Distribution string   `json:"distribution" validate:"required"`
	Levels       []string `json:"levels,omitempty" validate:"dive,required"`
	Roles        []string `json:"roles,omitempty" validate:"dive,required"`
	Platforms    []string `json:"platforms,omitempty" validate:"dive,required"`
	Sites        []string `json:"sites,omitempty" validate:"dive,required"`
	Audit
}

// SetVersionPins repoints pins; the two lists are parallel.
type SetVersionPins struct {
	VersionPinIDs   []int64 `json:"versionPinIds" validate:"required,min=1,dive,gt=0"`
	DistributionIDs []int64 `json:"distributionIds" validate:"required,min=1,dive,gt=0"`
	Audit
}

// WriteReply reports a committed write.
type WriteReply struct {
	TransactionID int64 `json:"transactionId"`
	Updates       int64 `json:"updates"`
}

// Export asks for the pins visible to a show as a packages document.
type Export struct {
	Show   string `json:"show" validate:"required"`
	Format string `json:"format,omitempty"`
}

// ExportReply carries the rendered document.
type ExportReply struct {
	Show     string `json:"show"`
	Format   string `json:"format"`
	Pins     int    `json:"pins"`
	Document string `json:"document"`
}

// ErrorBody is the reply of a failed operation.
type ErrorBody struct {
	Code      errcode.Code `json:"code"`
	Operation string       `json:"operation,omitempty"`
	Message   string       `json:"message"`
}

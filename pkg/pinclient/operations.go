package pinclient

import (
	"context"

	"github.com/packrat/pinserver/pkg/api"
	"github.com/packrat/pinserver/pkg/query"
	"github.com/packrat/pinserver/pkg/store"
)

// Packages lists packages.
func (c *Client) Packages(ctx context.Context, q query.Packages) ([]store.Package, error) {
	return call[[]store.Package](ctx, c, api.OpGetPackages, true, q)
}

// Levels lists levels.
func (c *Client) Levels(ctx context.Context, q query.Levels) ([]store.Level, error) {
	return call[[]store.Level](ctx, c, api.OpGetLevels, true, q)
}

// Roles lists roles.
func (c *Client) Roles(ctx context.Context, q query.Roles) ([]store.Role, error) {
	return call[[]store.Role](ctx, c, api.OpGetRoles, true, q)
}

// Platforms lists platforms.
func (c *Client) Platforms(ctx context.Context, q query.Platforms) ([]store.Platform, error) {
	return call[[]store.Platform](ctx, c, api.OpGetPlatforms, true, q)
}

// Sites lists sites.
func (c *Client) Sites(ctx context.Context, q query.Sites) ([]store.Site, error) {
	return call[[]store.Site](ctx, c, api.OpGetSites, true, q)
}

// Distributions lists distributions.
func (c *Client) Distributions(ctx context.Context, q query.Distributions) ([]store.Distribution, error) {
	return call[[]store.Distribution](ctx, c, api.OpGetDistributions, true, q)
}

// PkgCoords lists package coordinate slots.
func (c *Client) PkgCoords(ctx context.Context, q query.PkgCoords) ([]store.PkgCoord, error) {
	return call[[]store.PkgCoord](ctx, c, api.OpGetPkgCoords, true, q)
}

// Withs returns the pins that list q.Package as a with.
func (c *Client) Withs(ctx context.Context, q query.Withs) ([]store.VersionPinRow, error) {
	return call[[]store.VersionPinRow](ctx, c, api.OpGetWiths, true, q)
}

// VersionPin resolves the single best pin for a package at a coordinate.
func (c *Client) VersionPin(ctx context.Context, q query.VersionPin) (store.VersionPinRow, error) {
	return call[store.VersionPinRow](ctx, c, api.OpGetVersionPin, true, q)
}

// VersionPins searches pins by coordinate.
func (c *Client) VersionPins(ctx context.Context, q query.VersionPins) ([]store.VersionPinRow, error) {
	return call[[]store.VersionPinRow](ctx, c, api.OpGetVersionPins, true, q)
}

// VersionPinWiths lists the withs of one pin in order.
func (c *Client) VersionPinWiths(ctx context.Context, q query.VersionPinWiths) ([]store.With, error) {
	return call[[]store.With](ctx, c, api.OpGetVersionPinWiths, true, q)
}

// Revisions lists audit revisions.
func (c *Client) Revisions(ctx context.Context, q query.Revisions) ([]store.Revision, error) {
	return call[[]store.Revision](ctx, c, api.OpGetRevisions, true, q)
}

// Changes lists the changes of one transaction.
func (c *Client) Changes(ctx context.Context, q query.Changes) ([]store.ChangeRow, error) {
	return call[[]store.ChangeRow](ctx, c, api.OpGetChanges, true, q)
}

// Export renders the pins visible to a show. It writes nothing and is retried
// like any read.
func (c *Client) Export(ctx context.Context, req api.Export) (api.ExportReply, error) {
	return call[api.ExportReply](ctx, c, api.OpExport, true, req)
}

// AddPackages creates packages.
func (c *Client) AddPackages(ctx context.Context, req api.AddNames) (api.WriteReply, error) {
	return call[api.WriteReply](ctx, c, api.OpAddPackages, false, req)
}

// AddLevels creates levels. Parents must exist or be in the same request.
func (c *Client) AddLevels(ctx context.Context, req api.AddNames) (api.WriteReply, error) {
	return call[api.WriteReply](ctx, c, api.OpAddLevels, false, req)
}

// AddRoles creates roles.
func (c *Client) AddRoles(ctx context.Context, req api.AddNames) (api.WriteReply, error) {
	return call[api.WriteReply](ctx, c, api.OpAddRoles, false, req)
}

// AddPlatforms creates platforms.
func (c *Client) AddPlatforms(ctx context.Context, req api.AddNames) (api.WriteReply, error) {
	return call[api.WriteReply](ctx, c, api.OpAddPlatforms, false, req)
}

// AddSites creates sites.
func (c *Client) AddSites(ctx context.Context, req api.AddNames) (api.WriteReply, error) {
	return call[api.WriteReply](ctx, c, api.OpAddSites, false, req)
}

// AddDistributions creates versions of a package.
func (c *Client) AddDistributions(ctx context.Context, req api.AddDistributions) (api.WriteReply, error) {
	return call[api.WriteReply](ctx, c, api.OpAddDistributions, false, req)
}

// AddWiths appends withs to pins.
func (c *Client) AddWiths(ctx context.Context, req api.AddWiths) (api.WriteReply, error) {
	return call[api.WriteReply](ctx, c, api.OpAddWiths, false, req)
}

// AddVersionPins pins a distribution at the cross product of the given coordinates.
func (c *Client) AddVersionPins(ctx context.Context, req api.AddVersionPins) (api.WriteReply, error) {
	return call[api.WriteReply](ctx, c, api.OpAddVersionPins, false, req)
}

// SetVersionPins repoints existing pins at other distributions.
func (c *Client) SetVersionPins(ctx context.Context, req api.SetVersionPins) (api.WriteReply, error) {
	return call[api.WriteReply](ctx, c, api.OpSetVersionPins, false, req)
}

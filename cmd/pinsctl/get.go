package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/packrat/pinserver/pkg/query"
	"github.com/packrat/pinserver/pkg/store"
)

// filters are the read flags; each entity's constructor keeps the ones that
// apply to it.
type filters struct {
	name, nameLike   string
	pkg, version     string
	level, role      string
	platform, site   string
	mode, filter     string
	show, author     string
	depth            int
	id, txID, vpinID int64
	isolate          bool
	orderBy, dir     string
	limit            int
}

func (f *filters) addFlags(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.name, "name", "", "Exact name")
	fl.StringVar(&f.nameLike, "name-like", "", "Name pattern (substring match)")
	fl.StringVarP(&f.pkg, "package", "p", "", "Package name")
	fl.StringVar(&f.version, "version", "", "Distribution version")
	fl.StringVarP(&f.level, "level", "l", "", "Level (default facility)")
	fl.StringVarP(&f.role, "role", "r", "", "Role (default any)")
	fl.StringVar(&f.platform, "platform", "", "Platform (default any)")
	fl.StringVar(&f.site, "site", "", "Site (default any)")
	fl.StringVarP(&f.mode, "search-mode", "m", "", "Coordinate search mode: ancestor, exact or descendant")
	fl.StringVarP(&f.filter, "filter", "f", "", "Filter expression, e.g. package = \"maya\" AND version LIKE \"2024%\"")
	fl.StringVar(&f.show, "show", "", "Show")
	fl.StringVar(&f.author, "author", "", "Revision author")
	fl.IntVar(&f.depth, "depth", 0, "Level depth")
	fl.Int64Var(&f.id, "id", 0, "Row id")
	fl.Int64VarP(&f.txID, "transaction", "t", 0, "Transaction id")
	fl.Int64Var(&f.vpinID, "pin-id", 0, "Version pin id")
	fl.BoolVar(&f.isolate, "isolate-facility", false, "Exclude facility pins when querying below facility")
	fl.StringVar(&f.orderBy, "order-by", "", "Sort attribute")
	fl.StringVar(&f.dir, "order", "", "Sort direction: asc or desc")
	fl.IntVar(&f.limit, "limit", 0, "Maximum number of rows")
}

func (f *filters) options() []query.Option {
	return []query.Option{
		query.WithName(f.name),
		query.WithNameLike(f.nameLike),
		query.WithPackage(f.pkg),
		query.WithVersion(f.version),
		query.WithLevel(f.level),
		query.WithRole(f.role),
		query.WithPlatform(f.platform),
		query.WithSite(f.site),
		query.WithSearchMode(f.mode),
		query.WithFilter(f.filter),
		query.WithShow(f.show),
		query.WithAuthor(f.author),
		query.WithDepth(f.depth),
		query.WithID(f.id),
		query.WithTransactionID(f.txID),
		query.WithVersionPinID(f.vpinID),
		query.WithIsolateFacility(f.isolate),
		query.WithOrderBy(f.orderBy),
		query.WithOrderDirection(f.dir),
		query.WithLimit(f.limit),
	}
}

func newGetCommand(a *app) *cobra.Command {
	f := &filters{}
	cmd := &cobra.Command{
		Use:   "get ENTITY",
		Short: "Read pins, hierarchy entries, distributions or revisions",
		Long: `Read one kind of entity. ENTITY is one of:

  packages levels roles platforms sites distributions pkgcoords
  pin pins withs pin-withs revisions changes

"pin" resolves the single best pin for --package at a coordinate. "withs"
lists the pins that carry --package as a with. "pin-withs" lists the withs
of --pin-id.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: getEntities,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.get(cmd, args[0], f.options())
		},
	}
	f.addFlags(cmd)
	return cmd
}

var getEntities = []string{
	"packages", "levels", "roles", "platforms", "sites", "distributions", "pkgcoords",
	"pin", "pins", "withs", "pin-withs", "revisions", "changes",
}

func (a *app) get(cmd *cobra.Command, entity string, opts []query.Option) error {
	ctx := cmd.Context()
	c := a.client()

	switch entity {
	case "packages":
		rows, err := c.Packages(ctx, query.NewPackages(opts...))
		if err != nil {
			return err
		}
		return a.render(rows, "No packages found.", len(rows), func() ([]string, [][]string) {
			out := make([][]string, 0, len(rows))
			for _, r := range rows {
				out = append(out, []string{r.Name})
			}
			return []string{"Name"}, out
		})
	case "levels":
		rows, err := c.Levels(ctx, query.NewLevels(opts...))
		if err != nil {
			return err
		}
		return a.render(rows, "No levels found.", len(rows), func() ([]string, [][]string) {
			out := make([][]string, 0, len(rows))
			for _, r := range rows {
				out = append(out, []string{itoa(r.ID), r.Name, r.Show, strconv.Itoa(r.Depth)})
			}
			return []string{"ID", "Name", "Show", "Depth"}, out
		})
	case "roles":
		rows, err := c.Roles(ctx, query.NewRoles(opts...))
		if err != nil {
			return err
		}
		return a.render(rows, "No roles found.", len(rows), func() ([]string, [][]string) {
			out := make([][]string, 0, len(rows))
			for _, r := range rows {
				out = append(out, []string{itoa(r.ID), r.Name, strconv.Itoa(r.Depth)})
			}
			return []string{"ID", "Name", "Depth"}, out
		})
	case "platforms":
		rows, err := c.Platforms(ctx, query.NewPlatforms(opts...))
		if err != nil {
			return err
		}
		return a.render(rows, "No platforms found.", len(rows), func() ([]string, [][]string) {
			out := make([][]string, 0, len(rows))
			for _, r := range rows {
				out = append(out, []string{itoa(r.ID), r.Name, strconv.Itoa(r.Depth)})
			}
			return []string{"ID", "Name", "Depth"}, out
		})
	case "sites":
		rows, err := c.Sites(ctx, query.NewSites(opts...))
		if err != nil {
			return err
		}
		return a.render(rows, "No sites found.", len(rows), func() ([]string, [][]string) {
			out := make([][]string, 0, len(rows))
			for _, r := range rows {
				out = append(out, []string{itoa(r.ID), r.Name, strconv.Itoa(r.Depth)})
			}
			return []string{"ID", "Name", "Depth"}, out
		})
	case "distributions":
		rows, err := c.Distributions(ctx, query.NewDistributions(opts...))
		if err != nil {
			return err
		}
		return a.render(rows, "No distributions found.", len(rows), func() ([]string, [][]string) {
			out := make([][]string, 0, len(rows))
			for _, r := range rows {
				out = append(out, []string{itoa(r.ID), r.Package, r.Version})
			}
			return []string{"ID", "Package", "Version"}, out
		})
	case "pkgcoords":
		rows, err := c.PkgCoords(ctx, query.NewPkgCoords(opts...))
		if err != nil {
			return err
		}
		return a.render(rows, "No package coordinates found.", len(rows), func() ([]string, [][]string) {
			out := make([][]string, 0, len(rows))
			for _, r := range rows {
				out = append(out, []string{itoa(r.ID), r.Package, r.Level, r.Role, r.Platform, r.Site})
			}
			return []string{"ID", "Package", "Level", "Role", "Platform", "Site"}, out
		})
	case "pin":
		row, err := c.VersionPin(ctx, query.NewVersionPin(opts...))
		if err != nil {
			return err
		}
		return a.renderPins(row, []store.VersionPinRow{row})
	case "pins":
		rows, err := c.VersionPins(ctx, query.NewVersionPins(opts...))
		if err != nil {
			return err
		}
		return a.renderPins(rows, rows)
	case "withs":
		rows, err := c.Withs(ctx, query.NewWiths(opts...))
		if err != nil {
			return err
		}
		return a.renderPins(rows, rows)
	case "pin-withs":
		rows, err := c.VersionPinWiths(ctx, query.NewVersionPinWiths(opts...))
		if err != nil {
			return err
		}
		return a.render(rows, "No withs found.", len(rows), func() ([]string, [][]string) {
			out := make([][]string, 0, len(rows))
			for _, r := range rows {
				out = append(out, []string{strconv.Itoa(r.Order), r.Package})
			}
			return []string{"Order", "Package"}, out
		})
	case "revisions":
		rows, err := c.Revisions(ctx, query.NewRevisions(opts...))
		if err != nil {
			return err
		}
		return a.render(rows, "No revisions found.", len(rows), func() ([]string, [][]string) {
			out := make([][]string, 0, len(rows))
			for _, r := range rows {
				out = append(out, []string{
					itoa(r.ID), itoa(r.TransactionID), r.Author,
					r.Datetime.Local().Format(time.DateTime), truncate(r.Comment, 50),
				})
			}
			return []string{"ID", "Transaction", "Author", "Datetime", "Comment"}, out
		})
	case "changes":
		rows, err := c.Changes(ctx, query.NewChanges(opts...))
		if err != nil {
			return err
		}
		return a.render(rows, "No changes found.", len(rows), func() ([]string, [][]string) {
			out := make([][]string, 0, len(rows))
			for _, r := range rows {
				out = append(out, []string{
					itoa(r.ID), r.Action, r.Entity, r.Package, r.Coords.String(),
					r.OldDistribution, r.NewDistribution,
				})
			}
			return []string{"ID", "Action", "Entity", "Package", "Coords", "Old", "New"}, out
		})
	default:
		return fmt.Errorf("unknown entity %q (expected one of %s)", entity, strings.Join(getEntities, ", "))
	}
}

func (a *app) renderPins(v any, rows []store.VersionPinRow) error {
	return a.render(v, "No pins found.", len(rows), func() ([]string, [][]string) {
		out := make([][]string, 0, len(rows))
		for _, r := range rows {
			out = append(out, []string{
				itoa(r.VersionPinID), r.Distribution,
				r.Coords.Level, r.Coords.Role, r.Coords.Platform, r.Coords.Site,
				strings.Join(r.Withs, ","),
			})
		}
		return []string{"Pin", "Distribution", "Level", "Role", "Platform", "Site", "Withs"}, out
	})
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

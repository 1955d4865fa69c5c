package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/packrat/pinserver/pkg/api"
	"github.com/packrat/pinserver/pkg/export"
)

// addAuditFlags registers --author and --comment on a write command.
func addAuditFlags(cmd *cobra.Command, audit *api.Audit) {
	cmd.Flags().StringVar(&audit.Author, "author", "", "Revision author (default: the --user caller)")
	cmd.Flags().StringVar(&audit.Comment, "comment", "", "Revision comment")
}

func (a *app) printWrite(reply api.WriteReply) error {
	if a.outputFmt != "table" {
		return a.printOutput(reply)
	}
	fmt.Fprintf(a.out, "transaction %d: %d updates\n", reply.TransactionID, reply.Updates)
	return nil
}

func newAddCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create entities and pins",
	}
	for _, kind := range []string{"packages", "levels", "roles", "platforms", "sites"} {
		cmd.AddCommand(newAddNamesCommand(a, kind))
	}
	cmd.AddCommand(
		newAddDistributionsCommand(a),
		newAddWithsCommand(a),
		newAddPinsCommand(a),
	)
	return cmd
}

func newAddNamesCommand(a *app, kind string) *cobra.Command {
	var audit api.Audit
	cmd := &cobra.Command{
		Use:   kind + " NAME...",
		Short: "Create " + kind,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.client()
			req := api.AddNames{Names: args, Audit: audit}
			var (
				reply api.WriteReply
				err   error
			)
			switch kind {
			case "packages":
				reply, err = c.AddPackages(cmd.Context(), req)
			case "levels":
				reply, err = c.AddLevels(cmd.Context(), req)
			case "roles":
				reply, err = c.AddRoles(cmd.Context(), req)
			case "platforms":
				reply, err = c.AddPlatforms(cmd.Context(), req)
			case "sites":
				reply, err = c.AddSites(cmd.Context(), req)
			}
			if err != nil {
				return err
			}
			return a.printWrite(reply)
		},
	}
	addAuditFlags(cmd, &audit)
	return cmd
}

func newAddDistributionsCommand(a *app) *cobra.Command {
	var audit api.Audit
	cmd := &cobra.Command{
		Use:   "distributions PACKAGE VERSION...",
		Short: "Create versions of a package",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := a.client().AddDistributions(cmd.Context(), api.AddDistributions{
				Package: args[0], Versions: args[1:], Audit: audit,
			})
			if err != nil {
				return err
			}
			return a.printWrite(reply)
		},
	}
	addAuditFlags(cmd, &audit)
	return cmd
}

func newAddWithsCommand(a *app) *cobra.Command {
	var audit api.Audit
	cmd := &cobra.Command{
		Use:   "withs PIN_ID PACKAGE...",
		Short: "Append withs to a version pin",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid pin id %q: %w", args[0], err)
			}
			reply, err := a.client().AddWiths(cmd.Context(), api.AddWiths{
				VersionPinID: id, Withs: args[1:], Audit: audit,
			})
			if err != nil {
				return err
			}
			return a.printWrite(reply)
		},
	}
	addAuditFlags(cmd, &audit)
	return cmd
}

func newAddPinsCommand(a *app) *cobra.Command {
	var (
		audit api.Audit
		req   api.AddVersionPins
	)
	cmd := &cobra.Command{
		Use:   "pins DISTRIBUTION",
		Short: "Pin a package-version at every combination of the given coordinates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Distribution = args[0]
			req.Audit = audit
			reply, err := a.client().AddVersionPins(cmd.Context(), req)
			if err != nil {
				return err
			}
			return a.printWrite(reply)
		},
	}
	cmd.Flags().StringSliceVarP(&req.Levels, "levels", "l", nil, "Levels (default facility)")
	cmd.Flags().StringSliceVarP(&req.Roles, "roles", "r", nil, "Roles (default any)")
	cmd.Flags().StringSliceVar(&req.Platforms, "platforms", nil, "Platforms (default any)")
	cmd.Flags().StringSliceVar(&req.Sites, "sites", nil, "Sites (default any)")
	addAuditFlags(cmd, &audit)
	return cmd
}

func newSetCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change existing pins",
	}

	var (
		audit api.Audit
		req   api.SetVersionPins
	)
	pins := &cobra.Command{
		Use:   "pins",
		Short: "Repoint version pins to other distributions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(req.VersionPinIDs) != len(req.DistributionIDs) {
				return fmt.Errorf("--pin-ids and --distribution-ids must have the same length (%d != %d)",
					len(req.VersionPinIDs), len(req.DistributionIDs))
			}
			req.Audit = audit
			reply, err := a.client().SetVersionPins(cmd.Context(), req)
			if err != nil {
				return err
			}
			return a.printWrite(reply)
		},
	}
	pins.Flags().Int64SliceVar(&req.VersionPinIDs, "pin-ids", nil, "Version pin ids")
	pins.Flags().Int64SliceVar(&req.DistributionIDs, "distribution-ids", nil, "Distribution ids, parallel to --pin-ids")
	_ = pins.MarkFlagRequired("pin-ids")
	_ = pins.MarkFlagRequired("distribution-ids")
	addAuditFlags(pins, &audit)

	cmd.AddCommand(pins)
	return cmd
}

func newExportCommand(a *app) *cobra.Command {
	var (
		format string
		path   string
	)
	cmd := &cobra.Command{
		Use:   "export SHOW",
		Short: "Write every pin visible to a show as an XML or YAML document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := export.ParseFormat(format); err != nil {
				return err
			}
			reply, err := a.client().Export(cmd.Context(), api.Export{Show: args[0], Format: format})
			if err != nil {
				return err
			}
			if path == "" || path == "-" {
				_, err := fmt.Fprint(a.out, reply.Document)
				return err
			}
			if err := os.WriteFile(path, []byte(reply.Document), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Fprintf(a.errOut, "exported %d pins for %s to %s\n", reply.Pins, reply.Show, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "xml", "Document format: xml or yaml")
	cmd.Flags().StringVar(&path, "path", "", "Output file (default stdout)")
	return cmd
}

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/packrat/pinserver/pkg/pinclient"
)

// app carries the global flags shared by every subcommand.
type app struct {
	out       io.Writer
	errOut    io.Writer
	cfg       pinclient.Config
	outputFmt string
	verbose   bool
}

func (a *app) client() *pinclient.Client {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: level}))
	return pinclient.New(a.cfg, logger)
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{out: stdout, errOut: stderr, cfg: pinclient.ConfigFromEnv()}

	cmd := &cobra.Command{
		Use:   "pinsctl",
		Short: "CLI for the pin server",
		Long: `pinsctl reads and edits version pins on a pinsd server.

Reads resolve pins across the level, role, platform and site hierarchies.
Writes are recorded as one audited revision each; the author defaults to $USER.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch a.outputFmt {
			case "table", "json", "yaml":
				return nil
			default:
				return fmt.Errorf("unsupported output format %q (use table, json or yaml)", a.outputFmt)
			}
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.cfg.BaseURL, "server", a.cfg.BaseURL, "Pin server URL (env PINS_SERVER)")
	pf.StringVar(&a.cfg.Token, "token", a.cfg.Token, "Bearer token (env PINS_TOKEN)")
	pf.StringVar(&a.cfg.User, "user", os.Getenv("USER"), "Caller sent as X-Remote-User")
	pf.IntVar(&a.cfg.RetryMax, "retries", a.cfg.RetryMax, "Retries for read operations")
	pf.DurationVar(&a.cfg.Timeout, "timeout", a.cfg.Timeout, "Per-request timeout")
	pf.StringVarP(&a.outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Log requests and retries to stderr")

	cmd.AddCommand(
		newHealthCommand(a),
		newOperationsCommand(a),
		newGetCommand(a),
		newAddCommand(a),
		newSetCommand(a),
		newExportCommand(a),
	)
	return cmd
}

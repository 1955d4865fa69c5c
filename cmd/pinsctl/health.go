package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newHealthCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server liveness",
		RunE: func(cmd *cobra.Command, args []string) error {
			health, err := a.client().Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("server unreachable: %w", err)
			}
			return a.render(health, "", len(health), func() ([]string, [][]string) {
				return []string{"Check", "Status"}, [][]string{
					{"Liveness", health["status"]},
					{"Uptime", health["uptime"]},
				}
			})
		},
	}
}

func newOperationsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "operations",
		Aliases: []string{"ops"},
		Short:   "List the operations the server provides",
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := a.client().Operations(cmd.Context())
			if err != nil {
				return err
			}
			return a.render(ops, "No operations found.", len(ops), func() ([]string, [][]string) {
				rows := make([][]string, 0, len(ops))
				for _, op := range ops {
					rows = append(rows, []string{op.Name, strconv.FormatBool(op.Write)})
				}
				return []string{"Operation", "Write"}, rows
			})
		},
	}
}

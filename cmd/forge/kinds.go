package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jwebster45206/vtt-forge/pkg/content"
	"github.com/jwebster45206/vtt-forge/pkg/schemas"
)

func kindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the content kinds and where they are stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := schemas.Default()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tENTITY\tCONTAINER\tREMOVE BACKGROUND")
			for _, k := range content.AllKinds() {
				tmpl, err := table.Template(k)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", k, tmpl.EntityKind, tmpl.Container, tmpl.RemoveBackground)
			}
			return tw.Flush()
		},
	}
}

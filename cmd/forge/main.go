package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "forge",
		Short:        "Generate tabletop content and assemble it into a document store",
		SilenceUsage: true,
	}
	root.AddCommand(generateCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(kindsCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

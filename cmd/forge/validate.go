package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jwebster45206/vtt-forge/internal/generator"
	"github.com/jwebster45206/vtt-forge/pkg/content"
	"github.com/jwebster45206/vtt-forge/pkg/errs"
	"github.com/jwebster45206/vtt-forge/pkg/schemas"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <kind> <file>",
		Short: "Check a saved oracle reply against a kind's schema (use - for stdin)",
		Args:  cobra.ExactArgs(2),
		RunE:  runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	kind, err := content.ParseKind(args[0])
	if err != nil {
		return err
	}

	var raw []byte
	if args[1] == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(args[1])
	}
	if err != nil {
		return fmt.Errorf("reading reply: %w", err)
	}

	gen := generator.New(nil, nil, schemas.MustDefault(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	s, err := gen.Parse(content.GenerationRequest{Kind: kind}, raw)
	out := cmd.OutOrStdout()
	if err != nil {
		var sv *errs.SchemaViolation
		if !errors.As(err, &sv) {
			return err
		}
		fmt.Fprintf(out, "Problems (%d):\n", max(len(sv.Problems), 1))
		if len(sv.Problems) == 0 {
			fmt.Fprintf(out, "  - %v\n", sv.Err)
		}
		for _, p := range sv.Problems {
			fmt.Fprintf(out, "  - %s\n", p)
		}
		return fmt.Errorf("reply does not match the %s schema", kind)
	}

	fmt.Fprintf(out, "Valid %s: %s\n", kind, s.Name())
	return nil
}

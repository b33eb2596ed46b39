package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/jwebster45206/vtt-forge/internal/assembly"
	"github.com/jwebster45206/vtt-forge/internal/config"
	"github.com/jwebster45206/vtt-forge/internal/generator"
	"github.com/jwebster45206/vtt-forge/internal/logger"
	"github.com/jwebster45206/vtt-forge/internal/services"
	"github.com/jwebster45206/vtt-forge/internal/storage"
	"github.com/jwebster45206/vtt-forge/pkg/content"
	"github.com/jwebster45206/vtt-forge/pkg/schemas"
)

var clipboardWriteAll = clipboard.WriteAll

type generateOptions struct {
	challengeRating  int
	image            bool
	removeBackground bool
	imagePrompt      string
	store            string
	tui              bool
	copy             bool
	json             bool
	width            int
}

func generateCmd() *cobra.Command {
	opts := &generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate <kind> [prompt...]",
		Short: "Generate content and assemble it into the configured store",
		Long: `Generate content of the given kind from an optional free-text prompt.
With no prompt the oracle is asked for a completely random object.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, args, opts)
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.challengeRating, "cr", 0, "required challenge rating (positive integer)")
	f.BoolVar(&opts.image, "image", false, "render an image asset")
	f.BoolVar(&opts.removeBackground, "remove-bg", false, "override the kind's background removal default")
	f.StringVar(&opts.imagePrompt, "image-prompt", "", "use this image prompt instead of the generated one")
	f.StringVar(&opts.store, "store", "", "store backend (memory, redis, sqlite); overrides STORE_BACKEND")
	f.BoolVar(&opts.tui, "tui", false, "show a progress spinner while generating")
	f.BoolVar(&opts.copy, "copy", false, "copy the composed entity JSON to the clipboard")
	f.BoolVar(&opts.json, "json", false, "print the composed entity as JSON")
	f.IntVar(&opts.width, "width", 80, "wrap narrative text at this width")
	return cmd
}

func runGenerate(cmd *cobra.Command, args []string, opts *generateOptions) error {
	kind, err := content.ParseKind(args[0])
	if err != nil {
		return err
	}
	req := content.GenerationRequest{
		Kind:                kind,
		UserPrompt:          strings.Join(args[1:], " "),
		IncludeImage:        opts.image,
		ImagePromptOverride: opts.imagePrompt,
	}
	if cmd.Flags().Changed("cr") {
		cr := opts.challengeRating
		req.ChallengeRating = &cr
	}
	if cmd.Flags().Changed("remove-bg") {
		rb := opts.removeBackground
		req.RemoveBackground = &rb
	}
	if err := req.Validate(); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.store != "" {
		cfg.StoreBackend = strings.ToLower(opts.store)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	var logOut io.Writer = cmd.ErrOrStderr()
	if opts.tui {
		logOut = io.Discard
	}
	log := logger.SetupTo(cfg, logOut)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	pipeline, closeStore, err := buildPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	var composed *assembly.ComposedEntity
	if opts.tui {
		composed, err = runWithSpinner(ctx, cmd.ErrOrStderr(), pipeline, req)
	} else {
		composed, err = pipeline.Run(ctx, req)
	}
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(composed, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}

	out := cmd.OutOrStdout()
	if opts.json {
		fmt.Fprintln(out, string(data))
	} else {
		fmt.Fprintln(out, renderSummary(composed, opts.width))
	}

	if opts.copy {
		if err := clipboardWriteAll(string(data)); err != nil {
			return fmt.Errorf("copying to clipboard: %w", err)
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "Composed entity JSON copied to clipboard.")
	}
	return nil
}

func buildPipeline(ctx context.Context, cfg *config.Config, log *slog.Logger) (*assembly.Pipeline, func(), error) {
	text, err := services.NewTextOracle(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.Open(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() {
		if err := store.Close(); err != nil {
			log.Error("Error closing store", "error", err)
		}
	}
	gen := generator.New(text, services.NewImageOracle(cfg, log), schemas.MustDefault(), log)
	return assembly.NewPipeline(gen, store, log), closeStore, nil
}

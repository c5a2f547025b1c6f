package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"manim-server/internal/llm"
	"manim-server/internal/render"
	"manim-server/internal/scene"
)

type generateOptions struct {
	model  string
	dir    string
	render bool
}

func newGenerateCommand() *cobra.Command {
	opts := generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Ask the model for a scene and write it as a script",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return generate(cmd.Context(), strings.Join(args, " "), opts)
		},
	}
	cmd.Flags().StringVar(&opts.model, "model", "", "Model from the catalogue, e.g. \"Claude Opus\"")
	cmd.Flags().StringVar(&opts.dir, "dir", ".", "Directory the script and video are written to")
	cmd.Flags().BoolVar(&opts.render, "render", false, "Render the script with manim")
	return cmd
}

func generate(ctx context.Context, prompt string, opts generateOptions) error {
	prompt, err := llm.SanitizePrompt(prompt)
	if err != nil {
		return err
	}
	c, err := llmConfig(cfg)
	if err != nil {
		return err
	}
	if opts.model != "" {
		if c, err = withModel(c, opts.model); err != nil {
			return err
		}
	}
	gen, err := llm.New(c)
	if err != nil {
		return err
	}

	log.Debug().Str("model", gen.Name()).Msg("[GENERATE] Asking for a scene")
	reply, err := gen.Generate(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		return errors.Wrap(err, "generate reply")
	}
	printReply(reply)

	pipeline := scene.NewPipeline(cfg.Render.SceneName)
	command := cfg.Render.Command(pipeline.SceneName())
	res := pipeline.Materialize(reply, command.String())
	if res.Empty() {
		log.Warn().Msg("[GENERATE] The reply has no code, writing the placeholder scene")
	}

	if !opts.render {
		path := filepath.Join(opts.dir, command.ScriptName())
		if err := os.WriteFile(path, []byte(res.File), 0o644); err != nil {
			return errors.Wrap(err, "write script")
		}
		fmt.Fprintln(os.Stderr, "Script written to", path)
		return nil
	}

	renderer := render.NewRenderer(&render.Workspace{Root: opts.dir}, cfg.Render.Timeout)
	out, err := renderer.Render(ctx, "", command, res.File)
	if err != nil {
		if out != nil && out.Log != "" {
			fmt.Fprintln(os.Stderr, out.Log)
		}
		return err
	}
	fmt.Fprintln(os.Stderr, "Video written to", out.Video)
	if prober := render.NewFFProbe(); prober != nil {
		if info, err := prober.Probe(ctx, out.Video); err == nil {
			fmt.Fprintf(os.Stderr, "%dx%d, %.1fs\n", info.Width, info.Height, info.Duration)
		}
	}
	return nil
}

// printReply renders markdown on a terminal and prints it raw otherwise.
func printReply(reply string) {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
		if err == nil {
			if out, err := r.Render(reply); err == nil {
				fmt.Print(out)
				return
			}
		}
	}
	fmt.Println(reply)
}

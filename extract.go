package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"manim-server/internal/scene"
)

func newExtractCommand() *cobra.Command {
	var asCode bool
	cmd := &cobra.Command{
		Use:   "extract [file]",
		Short: "Print the script for a model reply read from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = os.Stdin
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return errors.Wrap(err, "open reply")
				}
				defer f.Close()
				in = f
			}
			data, err := io.ReadAll(in)
			if err != nil {
				return errors.Wrap(err, "read reply")
			}

			pipeline := scene.NewPipeline(cfg.Render.SceneName)
			command := cfg.Render.Command(pipeline.SceneName()).String()
			var res scene.Result
			if asCode {
				res = pipeline.FromCode(string(data), command)
			} else {
				res = pipeline.Materialize(string(data), command)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), res.File)
			return err
		},
	}
	cmd.Flags().BoolVar(&asCode, "code", false, "Treat the input as code instead of a chat reply")
	return cmd
}

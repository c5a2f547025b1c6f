package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"manim-server/internal/config"
)

// cfg is loaded before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:          "manim-server",
	Short:        "Chat with a model and turn its replies into manim animations",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}
		if err := config.Init(viper.GetViper(), configPath); err != nil {
			return err
		}
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		cfg, err = config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		// reinitialize the logger now that flags and config are parsed
		return config.InitLogger(cfg.Log)
	},
}

func main() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file (default is ./manim-server.yaml)")
	flags.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text or json)")
	flags.String("log-file", "", "Also write logs to this file")
	flags.Bool("with-caller", false, "Log the caller of each log line")

	rootCmd.AddCommand(
		newServeCommand(),
		newWorkerCommand(),
		newGenerateCommand(),
		newExtractCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

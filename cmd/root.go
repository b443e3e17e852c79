// Package cmd contains the Cobra commands for ti-options.
//
// Running `ti-options` with no subcommand starts the server, the same as
// `ti-options serve`.
package cmd

import (
	"github.com/YJPM/ti-options/internal/config"
	"github.com/YJPM/ti-options/internal/logger"
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "ti-options",
	Short: "Typing indicator and reply options service for chat front-ends",
	Long: `ti-options backs a chat front-end extension:
  • a typing indicator shown while the host generates
  • LLM-generated reply options rendered as clickable buttons
  • OpenAI-compatible and Gemini backends

Run 'ti-options serve' (or just 'ti-options') to start the server the
browser bridge connects to.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./config.yaml)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the configuration and installs the default logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "docctl",
	Short: "Docctl is a command line tool for interacting with the docplane API",
	Long: `docctl is the command-line interface for docplane, the document extraction
and summarization pipeline.

A process runs one extraction or summary over every asset of a project. Each
asset becomes a step; steps run in parallel once their asset finished
preprocessing, and the process is re-queued until all of them are ready.

Common workflows:

  Start an extraction over a project:
    docctl submit --project <project-id> --type extract --details fields.json

  Start a summary and follow it until it finishes:
    docctl submit --project <project-id> --type extractive_summary --watch

  Check a process:
    docctl status <process-id> --steps

  Stop or resume a process:
    docctl stop <process-id>
    docctl resume <process-id>

  Re-run preprocessing for an asset:
    docctl preprocess <asset-id>

Configuration:
  Set the API endpoint via flag, environment variable or config file:
    DOCPLANE_URL    API endpoint (default: http://localhost:6161)`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".docctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".docctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "DOCPLANE_VARNAME"
	viper.SetEnvPrefix("DOCPLANE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.docctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "docplane API URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
}

package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var stopCmd = &cobra.Command{
	Use:   "stop [process_id]",
	Short: "Stop a pending or running process",
	Long: `Stop a process. Steps already talking to the extraction service finish
their call but do not store the result. A stopped process can be resumed.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		result, err := NewProcessClient(viper.GetString("url")).StopProcess(args[0])
		if err != nil {
			printAPIError(cmd, "Stop", err)
			return
		}
		cmd.Printf("Process %s is %s\n", result.ProcessID, colorizeStatus(result.Status))
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume [process_id]",
	Short: "Resume a stopped or failed process",
	Long:  `Resume a process. Completed steps are kept; pending, failed and interrupted steps run again.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewProcessClient(viper.GetString("url"))
		result, err := client.ResumeProcess(args[0])
		if err != nil {
			printAPIError(cmd, "Resume", err)
			return
		}
		cmd.Printf("Process %s is %s\n", result.ProcessID, colorizeStatus(result.Status))

		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			watchProcess(cmd, client, result.ProcessID)
		}
	},
}

var preprocessCmd = &cobra.Command{
	Use:   "preprocess [asset_id]",
	Short: "Parse and index an asset again",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		result, err := NewProcessClient(viper.GetString("url")).PreprocessAsset(args[0])
		if err != nil {
			printAPIError(cmd, "Preprocess", err)
			return
		}
		cmd.Printf("Asset %s %s for preprocessing\n", result.AssetID, result.Status)
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(preprocessCmd)

	resumeCmd.Flags().BoolP("watch", "w", false, "Follow the process until it finishes")
}

package cmd

import (
	"encoding/json"
	"os"

	"docplane/internal/processing"
	"docplane/internal/store"
	"docplane/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Start a process over a project",
	Long: `Start an extraction or summary process over every asset of a project.

The details file is validated locally before it is sent, so typos in field
definitions fail fast instead of failing the process.

Example:
  docctl submit --project <id> --type extract --details fields.json
  docctl submit --project <id> --type extractive_summary --details summary.json --watch`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		projectID, _ := flags.GetString("project")
		name, _ := flags.GetString("name")
		typ, _ := flags.GetString("type")
		detailsFile, _ := flags.GetString("details")
		watch, _ := flags.GetBool("watch")

		if projectID == "" {
			cmd.Println("Error: --project is required")
			return
		}

		details := json.RawMessage(`{}`)
		if detailsFile != "" {
			raw, err := os.ReadFile(detailsFile)
			if err != nil {
				cmd.Printf("Error: failed to read details file: %v\n", err)
				return
			}
			details = raw
		}

		if _, err := processing.ParseDetails(store.ProcessType(typ), details); err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		client := NewProcessClient(viper.GetString("url"))
		result, err := client.CreateProcess(projectID, api.CreateProcessRequest{
			Name:    name,
			Type:    typ,
			Details: details,
		})
		if err != nil {
			printAPIError(cmd, "Submit", err)
			return
		}

		cmd.Printf("Process started (ID: %s, status: %s)\n", result.ProcessID, result.Status)

		if watch {
			watchProcess(cmd, client, result.ProcessID)
		}
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringP("project", "p", "", "Project ID (required)")
	submitCmd.Flags().StringP("name", "n", "", "Process name")
	submitCmd.Flags().String("type", string(store.ProcessTypeExtract), "Process type: extract or extractive_summary")
	submitCmd.Flags().StringP("details", "d", "", "Path to a JSON file with the process details")
	submitCmd.Flags().BoolP("watch", "w", false, "Follow the process until it finishes")
}

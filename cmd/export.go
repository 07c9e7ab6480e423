package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sw33tLie/wascope/internal/utils"
	"github.com/sw33tLie/wascope/pkg/export"
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a session's results to JSON, CSV or XLSX",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		sess, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if sess == nil {
			return fmt.Errorf("session not found: %s", args[0])
		}

		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = sess.ID + "." + format
		}
		details, _ := cmd.Flags().GetBool("details")
		includeErrors, _ := cmd.Flags().GetBool("errors")
		waOnly, _ := cmd.Flags().GetBool("whatsapp-only")

		opts := export.Options{
			Format:         format,
			IncludeDetails: details,
			IncludeErrors:  includeErrors,
			WhatsAppOnly:   waOnly,
		}
		if err := export.Write(sess, opts, output); err != nil {
			return err
		}
		utils.Log.Infof("Exported session %s to %s", sess.ID, output)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().String("format", "json", "Export format: json, csv or xlsx")
	exportCmd.Flags().StringP("output", "o", "", "Output path (default <session-id>.<format>)")
	exportCmd.Flags().Bool("details", false, "Include profile details")
	exportCmd.Flags().Bool("errors", true, "Include results that ended in an error")
	exportCmd.Flags().Bool("whatsapp-only", false, "Only export numbers with an active WhatsApp account")
}

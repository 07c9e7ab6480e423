package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sw33tLie/wascope/internal/utils"
	"github.com/sw33tLie/wascope/pkg/export"
	"github.com/sw33tLie/wascope/pkg/ingest"
	"github.com/sw33tLie/wascope/pkg/session"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a bulk WhatsApp check on a list of phone numbers",
	Long: `Validates and deduplicates the input numbers, then checks each one
against the WhatsApp data API. The run is stored as a session and can be
resumed after cancellation (Ctrl-C) with 'wascope resume'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		numbersFlag, _ := cmd.Flags().GetString("numbers")
		if file == "" && numbersFlag == "" {
			return fmt.Errorf("either --file or --numbers is required")
		}

		var (
			parsed *ingest.FileResult
			err    error
		)
		if file != "" {
			parsed, err = ingest.ParseFile(file)
		} else {
			parsed, err = ingest.ParseText(strings.ReplaceAll(numbersFlag, ",", "\n"))
		}
		if err != nil {
			return err
		}

		utils.Log.Infof("Parsed %s: %d numbers (%d valid, %d invalid after dedup)",
			parsed.FileName, len(parsed.Records), parsed.Valid, parsed.Invalid)
		for _, r := range parsed.Records {
			if !r.Valid {
				utils.Log.Debugf("Skipping %q: %s", r.Original, r.ValidationError)
			}
		}
		if parsed.Valid == 0 {
			return fmt.Errorf("no valid phone numbers in input")
		}

		settings := settingsFromConfig()
		applyCheckFlags(cmd, &settings)

		store, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		sess := session.New(parsed.FileName, parsed.Records, settings)
		if err := store.Create(cmd.Context(), sess); err != nil {
			return err
		}
		utils.Log.Infof("Created session %s", sess.ID)

		sess, err = runSession(store, sess)
		if err != nil {
			return err
		}
		printOutcome(sess)

		if format, _ := cmd.Flags().GetString("export"); format != "" {
			output, _ := cmd.Flags().GetString("output")
			if output == "" {
				output = sess.ID + "." + format
			}
			details, _ := cmd.Flags().GetBool("details")
			if err := export.Write(sess, export.Options{Format: format, IncludeDetails: details, IncludeErrors: true}, output); err != nil {
				return err
			}
			utils.Log.Infof("Exported results to %s", output)
		}
		return nil
	},
}

func applyCheckFlags(cmd *cobra.Command, settings *session.Settings) {
	if cmd.Flags().Changed("concurrency") {
		settings.Concurrency, _ = cmd.Flags().GetInt("concurrency")
	}
	if cmd.Flags().Changed("max-retries") {
		settings.MaxRetries, _ = cmd.Flags().GetInt("max-retries")
	}
	if cmd.Flags().Changed("retry-delay") {
		settings.RetryDelay, _ = cmd.Flags().GetDuration("retry-delay")
	}
	if cmd.Flags().Changed("timeout") {
		settings.Timeout, _ = cmd.Flags().GetDuration("timeout")
	}
	if cmd.Flags().Changed("backoff") {
		settings.Backoff, _ = cmd.Flags().GetString("backoff")
	}
	if cmd.Flags().Changed("throw-on-limit") {
		settings.ThrowOnLimit, _ = cmd.Flags().GetBool("throw-on-limit")
	}
	if cmd.Flags().Changed("stop-on-error") {
		settings.StopOnError, _ = cmd.Flags().GetBool("stop-on-error")
	}
	if cmd.Flags().Changed("apikey") {
		settings.APIKey, _ = cmd.Flags().GetString("apikey")
	}
}

func printOutcome(sess *session.Session) {
	utils.Log.Infof("Session %s finished with status %s: %d/%d checked, %d on WhatsApp, %d failed",
		sess.ID, sess.Status, sess.CompletedNumbers, sess.TotalNumbers, sess.SuccessfulChecks, sess.FailedChecks)
	if sess.Status == session.StatusCancelled {
		utils.Log.Infof("Resume with: wascope resume %s", sess.ID)
	}
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringP("file", "f", "", "Input file with phone numbers (.txt, .csv, .xlsx)")
	checkCmd.Flags().StringP("numbers", "n", "", "Comma-separated phone numbers to check")
	checkCmd.Flags().String("apikey", "", "WhatsApp data API key (overrides config)")
	checkCmd.Flags().IntP("concurrency", "c", 1, "Concurrent lookups")
	checkCmd.Flags().Int("max-retries", 3, "Retries per number on API errors")
	checkCmd.Flags().Duration("retry-delay", 0, "Base delay between retries (e.g. 1s)")
	checkCmd.Flags().Duration("timeout", 0, "Per-request timeout (e.g. 15s)")
	checkCmd.Flags().String("backoff", "fixed", "Retry backoff policy: fixed, linear or exponential")
	checkCmd.Flags().Bool("throw-on-limit", false, "Abort the batch instead of pausing when the rate limit is hit")
	checkCmd.Flags().Bool("stop-on-error", false, "Stop dispatching after the first terminal API error")
	checkCmd.Flags().String("export", "", "Auto-export results when done: json, csv or xlsx")
	checkCmd.Flags().StringP("output", "o", "", "Export output path")
	checkCmd.Flags().Bool("details", false, "Include profile details in the export")
}

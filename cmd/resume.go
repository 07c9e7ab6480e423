package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sw33tLie/wascope/internal/utils"
)

// resumeCmd represents the resume command
var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a cancelled check session",
	Long: `Re-runs the engine for a cancelled session, checking only the numbers
that do not yet have a terminal result. The session keeps its id and its
original settings snapshot.`,
	Args: cobra.ExactArgs(1),
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
		if sess.Status.Terminal() {
			return fmt.Errorf("session %s is already %s and cannot be resumed", sess.ID, sess.Status)
		}
		if len(sess.Pending()) == 0 {
			utils.Log.Infof("Session %s has no pending numbers left", sess.ID)
		}

		sess, err = runSession(store, sess)
		if err != nil {
			return err
		}
		printOutcome(sess)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

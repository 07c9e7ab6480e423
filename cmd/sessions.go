package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sw33tLie/wascope/pkg/wadata"
)

// sessionsCmd represents the sessions command
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored check sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		sessions, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions stored yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tSTARTED\tSTATUS\tCHECKED\tWHATSAPP\tFAILED\tFILE\t")
		for _, s := range sessions {
			star := ""
			if s.Starred {
				star = "*"
			}
			fmt.Fprintf(w, "%s%s\t%s\t%s\t%d/%d\t%d\t%d\t%s\t\n",
				star, s.ID, s.StartTime.Local().Format("2006-01-02 15:04"),
				s.Status, s.CompletedNumbers, s.TotalNumbers,
				s.SuccessfulChecks, s.FailedChecks, s.FileName)
		}
		return w.Flush()
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print the per-number results of a session",
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

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "NUMBER\tOUTCOME\tNAME\tBUSINESS\tERROR\t")
		for _, r := range sess.Results {
			name, business := "", ""
			if r.Profile != nil {
				name = r.Profile.Name
				if r.Profile.IsBusiness {
					business = "yes"
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\n", r.Number, wadata.Classify(r), name, business, r.Err)
		}
		for _, n := range sess.Pending() {
			fmt.Fprintf(w, "%s\t%s\t\t\t\t\n", n.Canonical, wadata.OutcomePending)
		}
		return w.Flush()
	},
}

var sessionsStarCmd = &cobra.Command{
	Use:   "star <session-id>",
	Short: "Toggle the bookmark on a session",
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
		if err := store.SetStarred(cmd.Context(), sess.ID, !sess.Starred); err != nil {
			return err
		}
		if sess.Starred {
			fmt.Printf("Unstarred session %s\n", sess.ID)
		} else {
			fmt.Printf("Starred session %s\n", sess.ID)
		}
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a stored session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		deleted, err := store.Delete(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("session not found: %s", args[0])
		}
		fmt.Printf("Deleted session %s\n", args[0])
		return nil
	},
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := store.Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("All sessions deleted.")
		return nil
	},
}

var sessionsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print aggregate statistics across all sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		stats, err := store.GetStats(cmd.Context())
		if err != nil {
			return err
		}
		if stats.TotalSessions == 0 {
			fmt.Println("No data in the database to generate stats.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintf(w, "SESSIONS\t%d\t\n", stats.TotalSessions)
		fmt.Fprintf(w, "NUMBERS CHECKED\t%d\t\n", stats.TotalNumbers)
		fmt.Fprintf(w, "ON WHATSAPP\t%d\t\n", stats.TotalSuccessful)
		fmt.Fprintf(w, "FAILED\t%d\t\n", stats.TotalFailed)
		if !stats.LastCheck.IsZero() {
			fmt.Fprintf(w, "LAST CHECK\t%s\t\n", stats.LastCheck.Local().Format(time.RFC1123))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsStarCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsClearCmd)
	sessionsCmd.AddCommand(sessionsStatsCmd)
}

package cmd

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/sw33tLie/wascope/pkg/phone"
)

// generateCmd represents the generate command
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate random valid phone numbers for testing",
	Long: `Produces random structurally-valid phone numbers for a region, one per
line. Useful for exercising the check pipeline without a real list.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		region, _ := cmd.Flags().GetString("region")
		count, _ := cmd.Flags().GetInt("count")
		if count <= 0 {
			return fmt.Errorf("count must be positive")
		}

		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		records, err := phone.Generate(region, count, rng)
		if err != nil {
			return err
		}
		for _, r := range records {
			fmt.Println(r.Canonical)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().StringP("region", "r", "US", "ISO region code (US, GB, DE, ...)")
	generateCmd.Flags().IntP("count", "c", 10, "How many numbers to generate")
}

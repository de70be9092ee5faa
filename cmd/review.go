package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/heartwood-builders/attribution/internal/model"
)

var (
	reviewLimit   int
	reviewDismiss string
	reviewBy      string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "List pending review queue items, or dismiss one",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if reviewDismiss != "" {
			if reviewBy == "" {
				return fmt.Errorf("--by is required with --dismiss")
			}
			if err := env.attrStore.ResolveReview(cmd.Context(), reviewDismiss, model.ReviewDismissed, reviewBy); err != nil {
				return err
			}
			fmt.Printf("dismissed review for span %s\n", reviewDismiss)
			return nil
		}

		items, err := env.attrStore.PendingReviews(cmd.Context(), reviewLimit)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(items, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	reviewCmd.Flags().IntVar(&reviewLimit, "limit", 50, "maximum items to list")
	reviewCmd.Flags().StringVar(&reviewDismiss, "dismiss", "", "span id whose pending review should be dismissed")
	reviewCmd.Flags().StringVar(&reviewBy, "by", "", "reviewer identity recorded on a dismissal")
	rootCmd.AddCommand(reviewCmd)
}

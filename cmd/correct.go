package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/heartwood-builders/attribution/internal/attribution"
)

var (
	correctFile string
	correctBy   string
)

var correctCmd = &cobra.Command{
	Use:   "correct",
	Short: "Apply human span corrections from a JSON file",
	Long:  "Reads a JSON array of corrections ({span_id, project_id, idempotency_key}) and applies them under a human lock. Missing idempotency keys are generated.",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(correctFile)
		if err != nil {
			return err
		}
		var corrections []attribution.Correction
		if err := json.Unmarshal(raw, &corrections); err != nil {
			return fmt.Errorf("parse corrections: %w", err)
		}
		for i := range corrections {
			if corrections[i].IdempotencyKey == "" {
				corrections[i].IdempotencyKey = uuid.NewString()
			}
		}

		env, err := initPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		applied, err := env.attrStore.ApplyCorrections(cmd.Context(), corrections, correctBy)
		if err != nil {
			return err
		}
		fmt.Printf("applied %d of %d corrections\n", applied, len(corrections))
		return nil
	},
}

func init() {
	correctCmd.Flags().StringVar(&correctFile, "file", "", "path to the corrections JSON file")
	correctCmd.Flags().StringVar(&correctBy, "by", "", "reviewer identity recorded on the corrections")
	_ = correctCmd.MarkFlagRequired("file")
	_ = correctCmd.MarkFlagRequired("by")
	rootCmd.AddCommand(correctCmd)
}

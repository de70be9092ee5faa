package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var attributeDryRun bool

var attributeCmd = &cobra.Command{
	Use:   "attribute <span-id> [span-id...]",
	Short: "Attribute transcript spans to projects",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		failed := 0
		for _, spanID := range args {
			result, err := env.pipeline.Run(cmd.Context(), spanID, attributeDryRun)
			if err != nil {
				zap.L().Error("attribution failed",
					zap.String("span_id", spanID), zap.Error(err))
				failed++
				continue
			}
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d spans failed", failed, len(args))
		}
		return nil
	},
}

func init() {
	attributeCmd.Flags().BoolVar(&attributeDryRun, "dry-run", false, "run the pipeline without persisting or firing hooks")
	rootCmd.AddCommand(attributeCmd)
}

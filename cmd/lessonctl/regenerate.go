package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yungbote/lessonforge/internal/app"
	"github.com/yungbote/lessonforge/internal/modules/lesson"
)

var regenerateCmd = &cobra.Command{
	Use:   "regenerate <document-id> <stage>",
	Short: "Rerun one later stage of an existing document version in place",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid document id: %w", err)
		}
		version, _ := cmd.Flags().GetInt("version")

		a, err := app.New(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := a.Pipeline.Compiler.RegenerateStage(cmd.Context(), id, version, lesson.StageName(args[1]))
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

func init() {
	regenerateCmd.Flags().Int("version", 0, "document version (0 = latest)")

	rootCmd.AddCommand(regenerateCmd)
}

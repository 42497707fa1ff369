package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yungbote/lessonforge/internal/data/db"
	"github.com/yungbote/lessonforge/internal/data/repos"
	"github.com/yungbote/lessonforge/internal/platform/envutil"
	"github.com/yungbote/lessonforge/internal/platform/logger"
)

var showCmd = &cobra.Command{
	Use:   "show <document-id>",
	Short: "Print a stored document version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid document id: %w", err)
		}
		version, _ := cmd.Flags().GetInt("version")
		statusOnly, _ := cmd.Flags().GetBool("status")

		log, err := logger.New(envutil.String("LOG_MODE", "development"))
		if err != nil {
			return err
		}
		defer log.Sync()
		gdb, err := db.Open(log, db.ConfigFromEnv())
		if err != nil {
			return err
		}
		if sqlDB, err := gdb.DB(); err == nil {
			defer sqlDB.Close()
		}

		doc, err := repos.NewStore(gdb, log).GetDocument(cmd.Context(), id, version)
		if err != nil {
			return err
		}
		if statusOnly {
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"document_id": doc.ID,
				"version":     doc.Version,
				"status":      doc.Status,
				"errors":      doc.Errors,
				"flags":       doc.Flags,
				"quality":     doc.Quality,
			})
		}
		return printJSON(cmd.OutOrStdout(), doc)
	},
}

func init() {
	showCmd.Flags().Int("version", 0, "document version (0 = latest)")
	showCmd.Flags().Bool("status", false, "print stage status, errors and quality only")

	rootCmd.AddCommand(showCmd)
}

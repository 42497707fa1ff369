package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yungbote/lessonforge/internal/data/graph"
	"github.com/yungbote/lessonforge/internal/platform/envutil"
	"github.com/yungbote/lessonforge/internal/platform/logger"
	"github.com/yungbote/lessonforge/internal/platform/neo4jdb"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Manage the knowledge graph",
}

var graphSeedCmd = &cobra.Command{
	Use:   "seed <fixture.yaml>",
	Short: "Upsert descriptors, vocabulary and grammar from a YAML fixture into neo4j",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := graph.LoadFixture(args[0])
		if err != nil {
			return err
		}
		log, err := logger.New(envutil.String("LOG_MODE", "development"))
		if err != nil {
			return err
		}
		defer log.Sync()
		client, err := neo4jdb.NewFromEnv(log)
		if err != nil {
			return err
		}
		if client == nil {
			return fmt.Errorf("NEO4J_URI is not set")
		}
		defer client.Close(cmd.Context())

		if err := graph.UpsertFixture(cmd.Context(), client, log, f); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %d descriptors, %d vocabulary, %d grammar entries\n",
			len(f.Descriptors), len(f.Vocabulary), len(f.Grammar))
		return nil
	},
}

func init() {
	graphCmd.AddCommand(graphSeedCmd)
	rootCmd.AddCommand(graphCmd)
}

// Command lessonctl drives the lesson pipeline from a terminal against the same wiring as lessond.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lessonctl",
	Short: "Compile, inspect and regenerate lesson documents",
	Long: `lessonctl runs the staged lesson pipeline in process. Configuration comes from
the same environment variables as the lessond server (database, redis, neo4j, openai).`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRaw(w io.Writer, raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return printJSON(w, v)
}

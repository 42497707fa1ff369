package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yungbote/lessonforge/internal/app"
	"github.com/yungbote/lessonforge/internal/modules/lesson"
	"github.com/yungbote/lessonforge/internal/modules/lesson/compiler"
)

var compileCmd = &cobra.Command{
	Use:   "compile <descriptor-id>",
	Short: "Compile a new lesson document version",
	Long: `Compile plans the lesson and runs every stage. With --incremental the content
stage is printed as soon as it is persisted and the remaining stages keep streaming
progress to stderr until they finish.`,
	Args: cobra.ExactArgs(1),
	RunE: runCompile,
}

func init() {
	compileCmd.Flags().StringToString("personalization", nil, "learner context as key=value pairs")
	compileCmd.Flags().StringSlice("require-vocab", nil, "vocabulary ids the lesson must cover")
	compileCmd.Flags().StringSlice("require-grammar", nil, "grammar function ids the lesson must cover")
	compileCmd.Flags().Bool("incremental", false, "return after the content stage and continue in background")
	compileCmd.Flags().Bool("force", false, "bypass the document and plan caches")
	compileCmd.Flags().Bool("quiet", false, "do not print progress events")

	rootCmd.AddCommand(compileCmd)
}

func runCompile(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	personalization, _ := cmd.Flags().GetStringToString("personalization")
	vocab, _ := cmd.Flags().GetStringSlice("require-vocab")
	grammar, _ := cmd.Flags().GetStringSlice("require-grammar")
	incremental, _ := cmd.Flags().GetBool("incremental")
	force, _ := cmd.Flags().GetBool("force")
	quiet, _ := cmd.Flags().GetBool("quiet")

	a, err := app.New(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	req := compiler.CompileRequest{
		DescriptorID:    args[0],
		Personalization: lesson.Personalization(personalization),
		Requirements:    lesson.Requirements{Vocabulary: vocab, Grammar: grammar},
		Incremental:     incremental,
		ForceRecompile:  force,
	}
	if !quiet {
		req.Progress = lesson.ProgressFunc(func(_ context.Context, ev lesson.ProgressEvent) {
			printEvent(cmd, ev)
		})
	}

	res, err := a.Pipeline.Compiler.Compile(ctx, req)
	if err != nil {
		return fmt.Errorf("compile %s (%s): %w", args[0], lesson.Classify(err), err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "document %s v%d cache_hit=%t\n", res.DocumentID, res.Version, res.CacheHit)
	if err := printRaw(cmd.OutOrStdout(), res.Raw); err != nil {
		return err
	}
	if res.Task == nil {
		return nil
	}
	if err := res.Task.Wait(ctx); err != nil {
		return fmt.Errorf("background stages: %w", err)
	}
	doc, err := a.Pipeline.Store.GetDocument(ctx, res.DocumentID, res.Version)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), doc)
}

func printEvent(cmd *cobra.Command, ev lesson.ProgressEvent) {
	w := cmd.ErrOrStderr()
	switch {
	case ev.Error != nil:
		fmt.Fprintf(w, "[%s] %s: %s\n", ev.Stage, ev.Event, ev.Error.Message)
	case ev.Event != "":
		fmt.Fprintf(w, "[%s] %s\n", ev.Stage, ev.Event)
	default:
		fmt.Fprintf(w, "[%s] %3d%% %s\n", ev.Stage, ev.Progress, ev.Message)
	}
}

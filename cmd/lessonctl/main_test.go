package main

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
)

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"compile", "regenerate", "show", "graph"} {
		assert.True(t, names[want], want)
	}
}

func TestPrintEvent(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetErr(&buf)

	printEvent(cmd, lesson.ProgressEvent{Stage: lesson.StageContent, Progress: 40, Message: "dialogue ready"})
	printEvent(cmd, lesson.ProgressEvent{Stage: lesson.StageContent, Event: "content_ready"})
	printEvent(cmd, lesson.ProgressEvent{Stage: lesson.StageProduction, Event: "production_failed",
		Error: &lesson.EventError{Type: lesson.KindTransient, Message: "upstream 503"}})

	assert.Equal(t, "[content]  40% dialogue ready\n[content] content_ready\n[production] production_failed: upstream 503\n", buf.String())
}

func TestPrintRawIndents(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printRaw(&buf, []byte(`{"a":1}`)))
	assert.Equal(t, "{\n  \"a\": 1\n}\n", buf.String())
	assert.Error(t, printRaw(&buf, []byte(`nope`)))
}

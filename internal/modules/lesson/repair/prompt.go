package repair

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/lessonforge/internal/modules/lesson/schema"
)

const maxOffendingChars = 6000

func extract(text string) (json.RawMessage, bool) {
	return schema.ExtractBlock(text)
}

func offending(text string, block json.RawMessage) string {
	s := strings.TrimSpace(text)
	if len(block) > 0 {
		s = string(block)
	}
	if len(s) > maxOffendingChars {
		s = s[:maxOffendingChars] + "...(truncated)"
	}
	return s
}

func repairPrompt(req Request, bad string, errs []string) (string, string) {
	system := strings.TrimSpace(req.System) + `

You are correcting a previous response that failed validation.
Return one corrected JSON value only. No prose, no code fences.`

	var b strings.Builder
	b.WriteString("ORIGINAL_TASK:\n")
	b.WriteString(strings.TrimSpace(req.User))
	if req.SchemaText != "" {
		b.WriteString("\n\nJSON_SCHEMA:\n")
		b.WriteString(req.SchemaText)
	}
	b.WriteString("\n\nPREVIOUS_OUTPUT:\n")
	b.WriteString(bad)
	b.WriteString("\n\nVALIDATION_ERRORS_TO_FIX:\n")
	for _, e := range errs {
		fmt.Fprintf(&b, "- %s\n", e)
	}
	b.WriteString("\nKeep every part of PREVIOUS_OUTPUT that is already valid; change only what the errors require.")
	return system, b.String()
}

package collections

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// FormatMarkdown renders expanded contexts as a single markdown
// document for LLM consumers. Each document becomes a labeled section;
// matched chunks are flagged so the model can weight them.
func FormatMarkdown(contexts []DocumentContext) string {
	if len(contexts) == 0 {
		return ""
	}
	var b strings.Builder
	for i, dc := range contexts {
		if i > 0 {
			b.WriteString("\n---\n\n")
		}
		title := dc.Title
		if title == "" {
			if dc.DocumentID != uuid.Nil {
				title = "Document " + dc.DocumentID.String()
			} else {
				title = "Untitled source"
			}
		}
		fmt.Fprintf(&b, "## %s\n\n", title)

		if dc.FullDocument {
			b.WriteString(dc.Content)
			b.WriteString("\n")
			continue
		}
		for _, ch := range dc.Chunks {
			if ch.Matched {
				fmt.Fprintf(&b, "> [matched chunk %d]\n\n", ch.ChunkIndex)
			} else {
				fmt.Fprintf(&b, "> [context chunk %d]\n\n", ch.ChunkIndex)
			}
			b.WriteString(ch.Content)
			b.WriteString("\n\n")
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

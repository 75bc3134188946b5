package prompt

import (
	"fmt"
	"strings"

	"CatalogEnricher/internal/domain"
)

const truncationMarker = "…"

// Build composes the instruction text for one record. The description is cut
// to descriptionBudget runes before it is embedded. Record fields come last so
// that a later cut from the end never drops the response shape.
func Build(record domain.Record, schema domain.OutputSchema, descriptionBudget int) string {
	var b strings.Builder
	b.WriteString("You are an agent with deep knowledge of the music industry. ")
	b.WriteString("Use the video information below and the attached thumbnail, if any, to extract accurate data.\n\n")

	b.WriteString("Extraction rules:\n")
	for i, f := range schema.Fields {
		line := fmt.Sprintf("%d. %s (%s)", i+1, f.Name, f.Type)
		if f.Description != "" {
			line += ": " + f.Description
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("\nRespond with a single JSON object only, in exactly this shape:\n")
	b.WriteString(schema.Describe())

	b.WriteString("\n\nVideo information:\n")
	fmt.Fprintf(&b, "Title: %s\n", strings.TrimSpace(record.Title))
	fmt.Fprintf(&b, "Channel: %s\n", strings.TrimSpace(record.SourceChannel))
	fmt.Fprintf(&b, "Description: %s", Truncate(strings.TrimSpace(record.Description), descriptionBudget))
	return b.String()
}

// Truncate cuts text to at most budget runes, marking the cut. A budget <= 0
// disables truncation.
func Truncate(text string, budget int) string {
	if budget <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= budget {
		return text
	}
	if budget <= len([]rune(truncationMarker)) {
		return string(runes[:budget])
	}
	return string(runes[:budget-1]) + truncationMarker
}

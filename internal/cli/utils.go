// Package cli provides output formatting for the noteweave command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"noteweave/internal/models"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms", response.Total, response.QueryTime)
	if response.Degraded {
		fmt.Fprint(w, " (degraded: partial ranking)")
	}
	fmt.Fprint(w, "\n\n")
	for i, result := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", i+1, result.Score)
		fmt.Fprintf(w, "ID: %s\n", result.ID)
		if owner := result.Payload["owner_path"]; owner != "" {
			fmt.Fprintf(w, "Note: %s\n", owner)
		}
		if content := result.Payload["content"]; content != "" {
			fmt.Fprintf(w, "\n%s\n", Truncate(content, 200))
		}
		fmt.Fprintln(w)
	}
	return nil
}

// WriteAssociations writes derived note associations to w in the given format.
func WriteAssociations(w io.Writer, associations []*models.NoteAssociation, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(associations)
	}
	fmt.Fprintf(w, "\n%d associations\n\n", len(associations))
	for _, a := range associations {
		fmt.Fprintf(w, "%.2f  %s <-> %s\n", a.Confidence, a.SourceNoteID, a.TargetNoteID)
		fmt.Fprintf(w, "      shared: %s\n", strings.Join(a.SharedConcepts, ", "))
	}
	return nil
}

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}

package history

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/llmlb/llmlb/types"
)

// Format selects an export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

var csvHeader = []string{
	"id", "timestamp", "path", "model", "endpoint_id", "status",
	"error_message", "duration_ms", "prompt_tokens", "completion_tokens", "total_tokens",
}

// Export streams every record matching opts (ignoring Offset/Limit — export
// is unpaginated) to w in the given format, oldest-match-first so a
// resumed download reads chronologically.
func (r *Ring) Export(w io.Writer, format Format, opts QueryOptions) error {
	opts.Limit = 0
	records, _ := r.Query(QueryOptions{Model: opts.Model, Status: opts.Status, Limit: int(r.cap) + 1})
	// Query returns newest-first; export wants oldest-first.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}

	switch format {
	case FormatJSON:
		return exportJSON(w, records)
	case FormatCSV, "":
		return exportCSV(w, records)
	default:
		return fmt.Errorf("history: unsupported export format %q", format)
	}
}

func exportJSON(w io.Writer, records []*types.RequestRecord) error {
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("history: encode json row: %w", err)
		}
	}
	return nil
}

func exportCSV(w io.Writer, records []*types.RequestRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("history: write csv header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			rec.ID,
			rec.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
			rec.Path,
			rec.Model,
			rec.EndpointID,
			string(rec.Status),
			rec.ErrorMessage,
			fmt.Sprintf("%d", rec.DurationMS),
			fmt.Sprintf("%d", rec.PromptTokens),
			fmt.Sprintf("%d", rec.CompletionTokens),
			fmt.Sprintf("%d", rec.TotalTokens()),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("history: write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

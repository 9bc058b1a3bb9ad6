package export

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"infraflow/task-portal/task-portal-backend/internal/tasks"
)

// Format is an audit trail rendering
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

// ParseFormat converts a query value into a Format; empty means CSV
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatXLSX, FormatPDF:
		return f, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ContentType returns the MIME type of the rendering
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	}
	return "text/csv"
}

// Columns of an exported audit trail, in order
var Columns = []string{"sequence", "created_at", "action", "from_status", "to_status", "actor_id", "actor_role", "details"}

// ColumnLabels are the human readable headers for Columns
var ColumnLabels = []string{"Seq", "Time", "Action", "From", "To", "Actor", "Role", "Details"}

// Rows flattens audit entries into export rows keyed by Columns
func Rows(entries []tasks.AuditLog) []map[string]interface{} {
	rows := make([]map[string]interface{}, len(entries))
	for i, e := range entries {
		rows[i] = map[string]interface{}{
			"sequence":    e.Sequence,
			"created_at":  e.CreatedAt,
			"action":      string(e.Action),
			"from_status": string(e.FromStatus),
			"to_status":   string(e.ToStatus),
			"actor_id":    e.ActorID.String(),
			"actor_role":  string(e.ActorRole),
			"details":     flattenDetails(e.DetailMap()),
		}
	}
	return rows
}

// flattenDetails renders a details payload as sorted key=value pairs
func flattenDetails(details map[string]interface{}) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, details[k])
	}
	return strings.Join(parts, "; ")
}

// WriteAuditTrail renders the audit trail of task to w
func WriteAuditTrail(w io.Writer, format Format, task *tasks.Task, entries []tasks.AuditLog) error {
	rows := Rows(entries)
	switch format {
	case FormatCSV:
		exporter := NewCSVExporter(w, DefaultCSVOptions())
		if err := exporter.WriteMapRows(rows, Columns); err != nil {
			return err
		}
		return exporter.Flush()
	case FormatXLSX:
		opts := DefaultExcelOptions()
		opts.SheetName = "Audit"
		exporter := NewExcelExporter(opts)
		defer exporter.Close()
		if err := exporter.WriteHeader(Columns); err != nil {
			return err
		}
		if err := exporter.WriteRows(rows, Columns); err != nil {
			return err
		}
		return exporter.WriteTo(w)
	case FormatPDF:
		opts := DefaultPDFOptions()
		opts.Orientation = "landscape"
		opts.Title = "Audit trail: " + task.Title
		opts.Subtitle = fmt.Sprintf("Task %s, status %s", task.ID, task.Status)
		generator := NewPDFGenerator(opts)
		if err := generator.GenerateReport(Columns, ColumnLabels, rows); err != nil {
			return err
		}
		summary := map[string]interface{}{
			"Entries":        len(entries),
			"Current status": string(task.Status),
			"Last updated":   task.UpdatedAt,
		}
		if task.AssignedToID != nil {
			summary["Assignee"] = task.AssignedToID.String()
		}
		generator.AddSummarySection("Summary", summary)
		return generator.WriteTo(w)
	}
	return fmt.Errorf("unsupported export format %q", format)
}

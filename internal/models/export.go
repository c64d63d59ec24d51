package models

import "time"

// ExportFormat enumerates the rendered plan formats.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// Valid reports whether the format can be rendered.
func (f ExportFormat) Valid() bool {
	return f == ExportFormatCSV || f == ExportFormatPDF
}

// PlanExport describes a rendered plan available for download.
type PlanExport struct {
	DraftID      string       `json:"draft_id"`
	Format       ExportFormat `json:"format"`
	RelativePath string       `json:"-"`
	Token        string       `json:"token"`
	URL          string       `json:"url"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

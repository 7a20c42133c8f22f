package models

import "time"

// GeneratedDocument records one rendered document. The (RunID, StepID) pair
// is the idempotency key: replaying a document generation step for the same
// run reuses the existing record instead of rendering again. Keying on the
// source object alone would conflate two runs against the same record.
type GeneratedDocument struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"       validate:"required"`
	StepID     string    `json:"step_id"      validate:"required"`
	DocumentID string    `json:"document_id"  validate:"required"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	PDFID      string    `json:"pdf_id,omitempty"`
	PDFURL     string    `json:"pdf_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// HasPDF reports whether a PDF rendition exists for this document.
func (d *GeneratedDocument) HasPDF() bool {
	return d.PDFID != "" || d.PDFURL != ""
}

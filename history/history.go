// Package history records one entry per bot run: who ran it, for which
// company, how many files were captured and how it ended.
package history

import (
	"context"
	"time"
)

// Status is the outcome stored with a record.
type Status string

const (
	StatusSuccess   Status = "sucesso"
	StatusError     Status = "erro"
	StatusSimulated Status = "simulado"
	StatusPartial   Status = "parcial"
)

// Mode tells a manual run from a company run inside a batch.
type Mode string

const (
	ModeManual Mode = "manual"
	ModeBatch  Mode = "lote"
)

// ErrorDetail is one structured error attached to a record.
type ErrorDetail struct {
	Message string `json:"message"`
}

// Record is one execution.
type Record struct {
	ID          string        `json:"id"`
	OwnerID     string        `json:"ownerId"`
	OwnerLabel  string        `json:"ownerLabel,omitempty"`
	CompanyID   string        `json:"companyId,omitempty"`
	CompanyName string        `json:"companyName,omitempty"`
	Mode        Mode          `json:"mode"`
	Timestamp   time.Time     `json:"timestamp"`
	FileCount   int           `json:"fileCount"`
	XMLCount    int           `json:"xmlCount"`
	PDFCount    int           `json:"pdfCount"`
	Status      Status        `json:"status"`
	Errors      []ErrorDetail `json:"errors,omitempty"`
	Details     string        `json:"details"`
}

// Recorder persists records. Callers treat failures as best-effort.
type Recorder interface {
	Record(ctx context.Context, r Record) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, r Record) error

func (f RecorderFunc) Record(ctx context.Context, r Record) error { return f(ctx, r) }

// Discard drops every record.
var Discard Recorder = RecorderFunc(func(context.Context, Record) error { return nil })

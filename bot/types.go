package bot

import (
	"github.com/hazyhaar/nfsebot/capture"
	"github.com/hazyhaar/nfsebot/history"
	"github.com/hazyhaar/nfsebot/period"
	"github.com/hazyhaar/nfsebot/runlog"
)

// DefaultDestination is used when a run names no destination folder.
const DefaultDestination = "downloads"

// Mode tags a run as a manual request or one company of a batch.
type Mode string

const (
	ModeManual Mode = "manual"
	ModeBatch  Mode = "batch"
)

func (m Mode) history() history.Mode {
	if m == ModeBatch {
		return history.ModeBatch
	}
	return history.ModeManual
}

// Status is the outcome of a run.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusPartial   Status = "partial"
	StatusError     Status = "error"
	StatusSimulated Status = "simulated"
)

func (s Status) history() history.Status {
	switch s {
	case StatusSuccess:
		return history.StatusSuccess
	case StatusPartial:
		return history.StatusPartial
	case StatusSimulated:
		return history.StatusSimulated
	default:
		return history.StatusError
	}
}

// Credentials log into the portal.
type Credentials struct {
	Login    string `json:"login"`
	Password string `json:"-"`
}

func (c *Credentials) complete() bool {
	return c != nil && c.Login != "" && c.Password != ""
}

// RunConfig is one single-type run. It is not modified once the run starts.
type RunConfig struct {
	DateFrom          *period.Date     `json:"dateFrom,omitempty"`
	DateTo            *period.Date     `json:"dateTo,omitempty"`
	NoteType          capture.NoteType `json:"noteType"`
	WantXML           bool             `json:"wantXml"`
	WantPDF           bool             `json:"wantPdf"`
	DestinationFolder string           `json:"destinationFolder"`
	Credentials       *Credentials     `json:"credentials,omitempty"`
	OwnerID           string           `json:"ownerId"`
	OwnerLabel        string           `json:"ownerLabel,omitempty"`
	CompanyID         string           `json:"companyId,omitempty"`
	CompanyName       string           `json:"companyName,omitempty"`
	Mode              Mode             `json:"mode"`

	// OnLog receives every line as it is produced.
	OnLog runlog.Sink `json:"-"`
	// Sequence, when set, continues the file numbering of an earlier run
	// into the same destination.
	Sequence *capture.Sequence `json:"-"`
}

// Range returns the requested emission period.
func (c RunConfig) Range() period.Range {
	return period.Range{From: c.DateFrom, To: c.DateTo}
}

// RunResult is handed back to the caller once per RunSingle or RunBatch.
type RunResult struct {
	RunID      string   `json:"runId"`
	Lines      []string `json:"logs"`
	TotalFiles int      `json:"totalArquivos"`
	XMLFiles   int      `json:"xmlArquivos"`
	PDFFiles   int      `json:"pdfArquivos"`
	Status     Status   `json:"status"`
	OutputDir  string   `json:"pastaSaida,omitempty"`
}

// Success reports whether the run did not end in error.
func (r RunResult) Success() bool { return r.Status != StatusError }

// BatchOptions apply to every company of a batch.
type BatchOptions struct {
	DateFrom          *period.Date
	DateTo            *period.Date
	NoteType          capture.NoteType
	WantXML           bool
	WantPDF           bool
	DestinationFolder string
	OwnerID           string
	OwnerLabel        string
	OnLog             runlog.Sink
}

// Package capture persists browser downloads under a deterministic layout:
//
//	<destination>/{Entrada|Saida}/{emitidas|recebidas}-{cnpj|linhaN}-{seq}{ext}
//
// The sequence number is strictly increasing within a run and never reused,
// so two captures never share a filename inside one output directory.
package capture

import (
	"fmt"
	"strings"
)

// NoteType selects the portal listing: notes issued by the company or
// notes it received.
type NoteType int

const (
	Emitted NoteType = iota
	Received
)

// ParseNoteType accepts the portal vocabulary (emitidas/recebidas) as well as
// emitted/received. Matching is case-insensitive.
func ParseNoteType(s string) (NoteType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "emitidas", "emitida", "emitted", "saida", "saída":
		return Emitted, nil
	case "recebidas", "recebida", "received", "entrada":
		return Received, nil
	}
	return Emitted, fmt.Errorf("capture: unknown note type %q", s)
}

// Slug is the filename prefix.
func (n NoteType) Slug() string {
	if n == Received {
		return "recebidas"
	}
	return "emitidas"
}

// Subfolder is decided by the note type alone.
func (n NoteType) Subfolder() string {
	if n == Received {
		return "Entrada"
	}
	return "Saida"
}

// Label is the human description used in run logs.
func (n NoteType) Label() string {
	if n == Received {
		return "Notas Recebidas (Entrada)"
	}
	return "Notas Emitidas (Saída)"
}

func (n NoteType) String() string { return n.Slug() }

// MarshalText encodes the slug so JSON payloads read "emitidas".
func (n NoteType) MarshalText() ([]byte, error) { return []byte(n.Slug()), nil }

func (n *NoteType) UnmarshalText(b []byte) error {
	v, err := ParseNoteType(string(b))
	if err != nil {
		return err
	}
	*n = v
	return nil
}

// Format is the requested document representation.
type Format int

const (
	XML Format = iota
	PDF
)

func (f Format) String() string {
	if f == PDF {
		return "PDF"
	}
	return "XML"
}

// DefaultExt is used when the suggested filename has no extension.
func (f Format) DefaultExt() string {
	switch f {
	case XML:
		return ".xml"
	case PDF:
		return ".pdf"
	}
	return ".bin"
}

// Download is what the browser reports once a file has landed on disk.
type Download struct {
	TempPath      string
	SuggestedName string
	URL           string
}

// CapturedFile describes one persisted download.
type CapturedFile struct {
	Sequence       int    `json:"sequence"`
	SourceTempPath string `json:"source_temp_path"`
	OriginalName   string `json:"original_name"`
	Extension      string `json:"extension"`
	TaxID          string `json:"tax_id,omitempty"`
	FinalPath      string `json:"final_path"`
	Format         Format `json:"-"`
	Row            int    `json:"row"`
}

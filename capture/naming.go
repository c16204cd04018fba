package capture

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/hazyhaar/nfsebot/horosafe"
)

var (
	cnpjLike = regexp.MustCompile(`\d{2}\.?\d{3}\.?\d{3}/?\d{4}-?\d{2}`)
	plainExt = regexp.MustCompile(`^\.[A-Za-z0-9]{1,5}$`)
)

// ExtractTaxID returns the digits of the first CNPJ-like sequence in s, or "".
func ExtractTaxID(s string) string {
	m := cnpjLike.FindString(s)
	if m == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range m {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ResolveExtension returns the extension of name, else the format default.
// Only short alphanumeric extensions count.
func ResolveExtension(name string, f Format) string {
	if ext := filepath.Ext(name); plainExt.MatchString(ext) {
		return strings.ToLower(ext)
	}
	return f.DefaultExt()
}

// FileName builds "{slug}-{taxID|linhaN}-{seq}{ext}".
func FileName(note NoteType, taxID string, row, seq int, ext string) string {
	part := taxID
	if part == "" {
		part = fmt.Sprintf("linha%d", row)
	}
	return fmt.Sprintf("%s-%s-%d%s", note.Slug(), part, seq, ext)
}

// Sequence hands out strictly increasing indexes starting at 1. A single
// Sequence may be shared by the note-type sub-passes of one job.
type Sequence struct{ n atomic.Int64 }

// Next consumes and returns the next index.
func (s *Sequence) Next() int { return int(s.n.Add(1)) }

// Last returns the most recently issued index, 0 if none.
func (s *Sequence) Last() int { return int(s.n.Load()) }

func sanitizeOriginal(name string) string {
	return horosafe.FileName(name, "arquivo")
}

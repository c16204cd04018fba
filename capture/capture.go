package capture

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/hazyhaar/nfsebot/runlog"
)

// Capturer persists the downloads of one run. It is not safe for concurrent
// use; a run captures strictly one file at a time.
type Capturer struct {
	dir   string
	note  NoteType
	seq   *Sequence
	log   *runlog.Logger
	files []CapturedFile
	count map[Format]int
	check func(path string) error
}

// Option configures a Capturer.
type Option func(*Capturer)

// WithSequence shares an index counter across Capturers of the same job.
func WithSequence(s *Sequence) Option {
	return func(c *Capturer) {
		if s != nil {
			c.seq = s
		}
	}
}

// WithPDFCheck replaces the PDF integrity check. nil disables it.
func WithPDFCheck(fn func(path string) error) Option {
	return func(c *Capturer) { c.check = fn }
}

// New prepares destination/{Entrada|Saida} and returns a Capturer writing
// into it.
func New(destination string, note NoteType, log *runlog.Logger, opts ...Option) (*Capturer, error) {
	c := &Capturer{
		dir:   filepath.Join(destination, note.Subfolder()),
		note:  note,
		seq:   &Sequence{},
		log:   log,
		count: make(map[Format]int),
		check: ValidatePDF,
	}
	for _, o := range opts {
		o(c)
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, fmt.Errorf("capture: create %s: %w", c.dir, err)
	}
	return c, nil
}

// Dir is the final directory for this run's note type.
func (c *Capturer) Dir() string { return c.dir }

// Capture copies dl into the output directory, replacing a file of the same
// name left by an earlier run. row is the 1-based table row that produced it.
// Failures are logged and reported as false; the index is consumed either way.
func (c *Capturer) Capture(dl Download, f Format, row int) (CapturedFile, bool) {
	if dl.TempPath == "" {
		c.log.Warn("Aviso: o navegador não retornou caminho de arquivo para o download da linha %d.", row)
		return CapturedFile{}, false
	}

	original := sanitizeOriginal(dl.SuggestedName)
	ext := ResolveExtension(original, f)
	if !strings.EqualFold(filepath.Ext(original), ext) {
		original += ext
	}
	taxID := ExtractTaxID(original)
	if taxID == "" {
		taxID = ExtractTaxID(dl.URL)
	}

	seq := c.seq.Next()
	name := FileName(c.note, taxID, row, seq, ext)
	final := filepath.Join(c.dir, name)

	if err := copyFile(dl.TempPath, final); err != nil {
		c.log.Error("Erro ao copiar arquivo da linha %d: %v", row, err)
		return CapturedFile{}, false
	}

	if f == PDF && c.check != nil {
		if err := c.check(final); err != nil {
			c.log.Warn("Aviso: PDF da linha %d não passou na validação (%v). Arquivo mantido.", row, err)
		}
	}

	cf := CapturedFile{
		Sequence:       seq,
		SourceTempPath: dl.TempPath,
		OriginalName:   original,
		Extension:      ext,
		TaxID:          taxID,
		FinalPath:      final,
		Format:         f,
		Row:            row,
	}
	c.files = append(c.files, cf)
	c.count[f]++

	c.log.Info("Arquivo #%d capturado na linha %d. Original: %q -> Novo nome: %q. Caminho final: %s",
		seq, row, original, name, final)
	return cf, true
}

// Files returns the captures of this run in order.
func (c *Capturer) Files() []CapturedFile {
	out := make([]CapturedFile, len(c.files))
	copy(out, c.files)
	return out
}

// Total is the number of files persisted by this Capturer.
func (c *Capturer) Total() int { return len(c.files) }

// Count is the number of files persisted for one format.
func (c *Capturer) Count(f Format) int { return c.count[f] }

// ValidatePDF parses and validates the file with pdfcpu.
func ValidatePDF(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx, err := api.ReadValidateAndOptimize(f, model.NewDefaultConfiguration())
	if err != nil {
		return fmt.Errorf("pdfcpu: %w", err)
	}
	if ctx.PageCount == 0 {
		return fmt.Errorf("pdfcpu: no pages")
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

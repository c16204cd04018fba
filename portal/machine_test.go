package portal_test

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/nfsebot/capture"
	"github.com/hazyhaar/nfsebot/period"
	"github.com/hazyhaar/nfsebot/portal"
	"github.com/hazyhaar/nfsebot/portal/portaltest"
	"github.com/hazyhaar/nfsebot/runlog"
)

type run struct {
	out   portal.Outcome
	err   error
	log   *runlog.Logger
	sess  *portaltest.Session
	capt  *capture.Capturer
	dest  string
	state portal.State
}

func runJob(t *testing.T, pages map[string]string, cfg portal.Config, job portal.Job) run {
	t.Helper()
	if job.Login == "" {
		job.Login, job.Password = "12345678000190", "s3cret"
	}
	dest := t.TempDir()
	log := runlog.New(nil, nil)
	capt, err := capture.New(dest, job.Note, log, capture.WithPDFCheck(nil))
	if err != nil {
		t.Fatal(err)
	}
	sess := portaltest.New(pages, t.TempDir())
	m := portal.NewMachine(cfg, sess, capt, log)
	out, err := m.Run(context.Background(), job)
	return run{out: out, err: err, log: log, sess: sess, capt: capt, dest: dest, state: m.State()}
}

func joined(l *runlog.Logger) string { return strings.Join(l.Lines(), "\n") }

func linesContaining(l *runlog.Logger, sub string) []string {
	var out []string
	for _, line := range l.Lines() {
		if strings.Contains(line, sub) {
			out = append(out, line)
		}
	}
	return out
}

func rows(n int) []portaltest.Row {
	var rs []portaltest.Row
	for i := 0; i < n; i++ {
		rs = append(rs, portaltest.Row{Emission: "10/03/2026", TaxID: "12345678000190"})
	}
	return rs
}

func TestRun_EmittedXMLAndPDF(t *testing.T) {
	pages := portaltest.Portal(portaltest.ListPage("emitidas", rows(2), false), portaltest.NoRecordsPage())
	r := runJob(t, pages, portaltest.Config(), portal.Job{Note: capture.Emitted, WantXML: true, WantPDF: true})
	if r.err != nil {
		t.Fatalf("Run: %v\n%s", r.err, joined(r.log))
	}
	if r.out.Files != 4 || r.out.Failures != 0 || r.out.Rows != 2 {
		t.Fatalf("outcome = %+v\n%s", r.out, joined(r.log))
	}
	if r.state != portal.Done || r.out.State != portal.Done {
		t.Fatalf("state = %s", r.state)
	}
	for i, f := range r.capt.Files() {
		if f.Sequence != i+1 {
			t.Errorf("file %d has sequence %d", i, f.Sequence)
		}
		if filepath.Dir(f.FinalPath) != filepath.Join(r.dest, "Saida") {
			t.Errorf("file outside Saida: %s", f.FinalPath)
		}
		if !strings.HasPrefix(filepath.Base(f.FinalPath), "emitidas-12345678000190-") {
			t.Errorf("unexpected name %s", f.FinalPath)
		}
	}
	if r.capt.Count(capture.XML) != 2 || r.capt.Count(capture.PDF) != 2 {
		t.Fatalf("xml=%d pdf=%d", r.capt.Count(capture.XML), r.capt.Count(capture.PDF))
	}
	if !strings.Contains(joined(r.log), "Total de arquivos capturados nesta execução: 4") {
		t.Fatal("missing total line")
	}
	if got := r.sess.Filled["Login"]; got != "12345678000190" {
		t.Fatalf("login filled with %q", got)
	}
}

func TestRun_ReceivedGoesToEntrada(t *testing.T) {
	pages := portaltest.Portal(portaltest.NoRecordsPage(), portaltest.ListPage("recebidas", rows(1), false))
	r := runJob(t, pages, portaltest.Config(), portal.Job{Note: capture.Received, WantXML: true})
	if r.err != nil || r.out.Files != 1 {
		t.Fatalf("err=%v outcome=%+v", r.err, r.out)
	}
	f := r.capt.Files()[0]
	if filepath.Dir(f.FinalPath) != filepath.Join(r.dest, "Entrada") || !strings.HasPrefix(filepath.Base(f.FinalPath), "recebidas-") {
		t.Fatalf("final path = %s", f.FinalPath)
	}
	if !strings.Contains(strings.Join(r.sess.Clicks, ","), `[title="NFS-e Recebidas"]`) {
		t.Fatalf("clicks = %v", r.sess.Clicks)
	}
}

func TestRun_NoRecords(t *testing.T) {
	pages := portaltest.Portal(portaltest.NoRecordsPage(), portaltest.NoRecordsPage())
	r := runJob(t, pages, portaltest.Config(), portal.Job{Note: capture.Emitted, WantXML: true, WantPDF: true})
	if r.err != nil {
		t.Fatal(r.err)
	}
	if !r.out.NoRecords || r.out.Files != 0 || r.state != portal.Done {
		t.Fatalf("outcome = %+v", r.out)
	}
	if got := linesContaining(r.log, "Linha "); len(got) != 0 {
		t.Fatalf("unexpected per-row lines: %v", got)
	}
}

func TestRun_MissingTriggerSkipsRow(t *testing.T) {
	rs := rows(3)
	rs[1].NoTrigger = true
	pages := portaltest.Portal(portaltest.ListPage("emitidas", rs, false), "")
	r := runJob(t, pages, portaltest.Config(), portal.Job{Note: capture.Emitted, WantXML: true})
	if r.err != nil {
		t.Fatal(r.err)
	}
	if r.out.Files != 2 || r.out.Failures != 1 {
		t.Fatalf("outcome = %+v", r.out)
	}
	row2 := linesContaining(r.log, "linha 2")
	row2 = append(row2, linesContaining(r.log, "Linha 2")...)
	if len(row2) != 1 || !strings.HasPrefix(row2[0], runlog.TagWarn) {
		t.Fatalf("row 2 lines = %v", row2)
	}
	for _, f := range r.capt.Files() {
		if f.Row == 2 {
			t.Fatal("row 2 must not produce a capture")
		}
	}
}

func TestRun_ClientSideDateFilter(t *testing.T) {
	day := period.New(2026, time.March, 10)
	rs := []portaltest.Row{
		{Emission: "09/03/2026"},
		{Emission: "10/03/2026"},
		{Emission: "11/03/2026"},
		{Emission: "sem data"},
	}
	pages := portaltest.Portal(portaltest.ListPage("emitidas", rs, false), "")
	r := runJob(t, pages, portaltest.Config(), portal.Job{
		Note: capture.Emitted, WantXML: true,
		Range: period.Range{From: &day, To: &day},
	})
	if r.err != nil {
		t.Fatal(r.err)
	}
	if r.out.DateSkipped != 2 || r.out.Files != 2 || r.out.ServerFiltered {
		t.Fatalf("outcome = %+v\n%s", r.out, joined(r.log))
	}
	kept := map[int]bool{}
	for _, f := range r.capt.Files() {
		kept[f.Row] = true
	}
	if !kept[2] || !kept[4] || kept[1] || kept[3] {
		t.Fatalf("captured rows = %v", kept)
	}
	skipped := regexp.MustCompile(`(?i)\blinha [13]\b`)
	for _, line := range r.log.Lines() {
		if !skipped.MatchString(line) {
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "capturado") || strings.Contains(lower, "download") {
			t.Errorf("skipped row has capture line: %q", line)
		}
	}
	if len(linesContaining(r.log, "fora do período")) != 2 {
		t.Fatalf("expected two skip lines\n%s", joined(r.log))
	}
}

func TestRun_ServerSideDateFilter(t *testing.T) {
	from := period.New(2026, time.March, 1)
	to := period.New(2026, time.March, 31)
	pages := portaltest.Portal(portaltest.ListPage("emitidas", rows(1), true), "")
	// The filtered result deliberately contains an out-of-range date: once
	// the portal applied the filter, rows are trusted.
	pages[portaltest.FilteredURL] = portaltest.ListPage("emitidas", []portaltest.Row{{Emission: "01/01/2020"}}, true)

	r := runJob(t, pages, portaltest.Config(), portal.Job{
		Note: capture.Emitted, WantXML: true,
		Range: period.Range{From: &from, To: &to},
	})
	if r.err != nil {
		t.Fatal(r.err)
	}
	if !r.out.ServerFiltered || r.out.DateSkipped != 0 || r.out.Files != 1 {
		t.Fatalf("outcome = %+v\n%s", r.out, joined(r.log))
	}
	if r.sess.Filled["DataInicio"] != "01/03/2026" || r.sess.Filled["DataFim"] != "31/03/2026" {
		t.Fatalf("filled = %v", r.sess.Filled)
	}
	if !strings.Contains(joined(r.log), "Filtro de período aplicado pelos campos: 01/03/2026 até 31/03/2026.") {
		t.Fatal("missing filter line")
	}
}

func TestRun_LoginFieldNotFoundIsFatal(t *testing.T) {
	pages := portaltest.Portal("", "")
	pages[portaltest.LoginURL] = portaltest.BrokenLoginPage()
	r := runJob(t, pages, portaltest.Config(), portal.Job{Note: capture.Emitted, WantXML: true})

	var fe *portal.FieldError
	if !errors.As(r.err, &fe) || fe.Field != "password" {
		t.Fatalf("err = %v", r.err)
	}
	if !errors.Is(r.err, portal.ErrFieldNotFound) {
		t.Fatal("FieldError must wrap ErrFieldNotFound")
	}
	if r.state != portal.ErrorAbort || r.out.State != portal.ErrorAbort {
		t.Fatalf("state = %s", r.state)
	}
}

func TestRun_MenuFallbackToDirectURL(t *testing.T) {
	pages := portaltest.Portal(portaltest.ListPage("emitidas", rows(1), false), "")
	pages[portaltest.HomeURL] = portaltest.HomePageWithoutMenu()
	r := runJob(t, pages, portaltest.Config(), portal.Job{Note: capture.Emitted, WantXML: true})
	if r.err != nil {
		t.Fatal(r.err)
	}
	if r.out.Files != 1 || !strings.Contains(joined(r.log), "URL direta") {
		t.Fatalf("outcome = %+v\n%s", r.out, joined(r.log))
	}
}

func TestRun_NoteListUnreachable(t *testing.T) {
	pages := map[string]string{
		portaltest.LoginURL: portaltest.LoginPage(portaltest.HomeURL),
		portaltest.HomeURL:  portaltest.HomePageWithoutMenu(),
	}
	r := runJob(t, pages, portaltest.Config(), portal.Job{Note: capture.Emitted, WantXML: true})
	if !errors.Is(r.err, portal.ErrNoteListUnreachable) {
		t.Fatalf("err = %v", r.err)
	}
	if r.state != portal.ErrorAbort {
		t.Fatalf("state = %s", r.state)
	}
}

func loginRejectedPages() map[string]string {
	pages := portaltest.Portal(portaltest.ListPage("emitidas", rows(1), false), "")
	pages[portaltest.LoginURL] = strings.Replace(portaltest.LoginPage(portaltest.LoginURL), "<form>",
		`<div class="validation-summary-errors"><ul><li>Usuário ou senha inválidos</li></ul><script>alert(1)</script></div><form>`, 1)
	return pages
}

func TestRun_StillOnLoginIsSoftWarning(t *testing.T) {
	r := runJob(t, loginRejectedPages(), portaltest.Config(), portal.Job{Note: capture.Emitted, WantXML: true})
	if r.err != nil {
		t.Fatalf("soft warning must not abort: %v", r.err)
	}
	warn := linesContaining(r.log, "(Alerta)")
	if len(warn) != 1 || !strings.HasPrefix(warn[0], runlog.TagWarn) {
		t.Fatalf("alert lines = %v", warn)
	}
	if !strings.Contains(warn[0], "Usuário ou senha inválidos") || strings.Contains(warn[0], "alert(1)") {
		t.Fatalf("alert text = %q", warn[0])
	}
}

func TestRun_StrictLogin(t *testing.T) {
	cfg := portaltest.Config()
	cfg.StrictLogin = true
	r := runJob(t, loginRejectedPages(), cfg, portal.Job{Note: capture.Emitted, WantXML: true})
	if !errors.Is(r.err, portal.ErrLoginRejected) {
		t.Fatalf("err = %v", r.err)
	}
}

func TestRun_DownloadTimeoutIsRowLevel(t *testing.T) {
	rs := rows(2)
	rs[0].Silent = true
	pages := portaltest.Portal(portaltest.ListPage("emitidas", rs, false), "")
	r := runJob(t, pages, portaltest.Config(), portal.Job{Note: capture.Emitted, WantXML: true, WantPDF: true})
	if r.err != nil {
		t.Fatal(r.err)
	}
	if r.out.Files != 2 || r.out.Failures != 2 {
		t.Fatalf("outcome = %+v", r.out)
	}
	if len(linesContaining(r.log, "não foi possível identificar um download")) != 2 {
		t.Fatalf("log:\n%s", joined(r.log))
	}
}

func TestRun_MissingLinkCountsAsFailure(t *testing.T) {
	rs := rows(1)
	rs[0].NoPDF = true
	pages := portaltest.Portal(portaltest.ListPage("emitidas", rs, false), "")
	r := runJob(t, pages, portaltest.Config(), portal.Job{Note: capture.Emitted, WantXML: true, WantPDF: true})
	if r.err != nil || r.out.Files != 1 || r.out.Failures != 1 {
		t.Fatalf("err=%v outcome=%+v", r.err, r.out)
	}
}

func TestRun_NoFormatSelected(t *testing.T) {
	pages := portaltest.Portal(portaltest.ListPage("emitidas", rows(2), false), "")
	r := runJob(t, pages, portaltest.Config(), portal.Job{Note: capture.Emitted})
	if r.err != nil || r.out.Files != 0 {
		t.Fatalf("err=%v outcome=%+v", r.err, r.out)
	}
	if !strings.Contains(joined(r.log), "Nenhum formato selecionado") {
		t.Fatal("missing notice")
	}
}

func TestRun_TableNeverAppears(t *testing.T) {
	pages := portaltest.Portal(`<html><body><p>carregando...</p></body></html>`, "")
	r := runJob(t, pages, portaltest.Config(), portal.Job{Note: capture.Emitted, WantXML: true})
	if r.err != nil || r.out.Rows != 0 || r.out.NoRecords {
		t.Fatalf("err=%v outcome=%+v", r.err, r.out)
	}
	if len(linesContaining(r.log, "não apareceu")) != 1 {
		t.Fatalf("log:\n%s", joined(r.log))
	}
}

func TestRun_StateHook(t *testing.T) {
	pages := portaltest.Portal(portaltest.NoRecordsPage(), "")
	var seen []portal.State
	log := runlog.New(nil, nil)
	capt, _ := capture.New(t.TempDir(), capture.Emitted, log)
	m := portal.NewMachine(portaltest.Config(), portaltest.New(pages, t.TempDir()), capt, log,
		portal.WithStateHook(func(s portal.State) { seen = append(seen, s) }))
	if _, err := m.Run(context.Background(), portal.Job{Note: capture.Emitted, Login: "a", Password: "b"}); err != nil {
		t.Fatal(err)
	}
	want := []portal.State{portal.LoggingIn, portal.LoggedIn, portal.OnNoteList, portal.Filtering, portal.Done}
	if len(seen) != len(want) {
		t.Fatalf("states = %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("states = %v, want %v", seen, want)
		}
	}
}

package portal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// stubScope resolves selectors from a fixed table.
type stubScope map[string][]Element

func (s stubScope) Find(ctx context.Context, css string) (Element, bool, error) {
	els := s[css]
	if len(els) == 0 {
		return nil, false, nil
	}
	return els[0], true, nil
}

func (s stubScope) FindAll(ctx context.Context, css string) ([]Element, error) {
	return s[css], nil
}

type stubElement struct {
	stubScope
	text string
}

func (e *stubElement) Text(context.Context) (string, error) { return e.text, nil }
func (e *stubElement) HTML(context.Context) (string, error) { return e.text, nil }
func (e *stubElement) Click(context.Context) error { return nil }
func (e *stubElement) Fill(context.Context, string) error { return nil }

func TestFirst_OrderAndText(t *testing.T) {
	xml := &stubElement{text: "Download XML"}
	pdf := &stubElement{text: "Download DANFS-e"}
	scope := stubScope{
		"a":                 {xml, pdf},
		`a[href*="DANFS"]`: {pdf},
	}

	el, loc, ok, err := First(context.Background(), scope, Chain{
		{CSS: "a", Text: "danfs"},
		{CSS: `a[href*="DANFS"]`},
	})
	if err != nil || !ok || el != pdf {
		t.Fatalf("got %v, %v, %v", el, ok, err)
	}
	if loc.Text != "danfs" {
		t.Fatalf("matched locator = %v", loc)
	}

	_, _, ok, _ = First(context.Background(), scope, CSS(".missing", "#nope"))
	if ok {
		t.Fatal("expected no match")
	}
}

func TestFirst_FallsThrough(t *testing.T) {
	target := &stubElement{}
	scope := stubScope{`input[type="password"]`: {target}}
	el, loc, ok, _ := First(context.Background(), scope, CSS(`input[name="Senha"]`, `input[type="password"]`))
	if !ok || el != target || loc.CSS != `input[type="password"]` {
		t.Fatalf("got %v %v %v", el, loc, ok)
	}
}

func TestLocator_String(t *testing.T) {
	if got := (Locator{CSS: "button", Text: "Entrar"}).String(); got != `button:has-text("Entrar")` {
		t.Fatalf("String = %q", got)
	}
}

func TestAwait(t *testing.T) {
	v, ok := Await(context.Background(), time.Second, func(ctx context.Context) (int, error) { return 42, nil })
	if !ok || v != 42 {
		t.Fatalf("got %d, %v", v, ok)
	}

	start := time.Now()
	_, ok = Await(context.Background(), 20*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if ok {
		t.Fatal("timeout must yield ok=false")
	}
	if time.Since(start) > time.Second {
		t.Fatal("Await did not honor its timeout")
	}

	_, ok = Await(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 1, errors.New("boom")
	})
	if ok {
		t.Fatal("error must yield ok=false")
	}
}

func TestPoll(t *testing.T) {
	n := 0
	if !Poll(context.Background(), time.Second, time.Millisecond, func(context.Context) bool { n++; return n >= 3 }) {
		t.Fatal("Poll should succeed")
	}
	if Poll(context.Background(), 10*time.Millisecond, time.Millisecond, func(context.Context) bool { return false }) {
		t.Fatal("Poll should time out")
	}
}

func TestWaitFirst_Timeout(t *testing.T) {
	_, ok := WaitFirst(context.Background(), stubScope{}, CSS("#x"), 10*time.Millisecond, time.Millisecond)
	if ok {
		t.Fatal("expected timeout")
	}
}

func TestState_String(t *testing.T) {
	if IteratingRows.String() != "iterating_rows" || ErrorAbort.String() != "error_abort" || State(99).String() != "unknown" {
		t.Fatal("state names")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !strings.Contains(cfg.URLs.Login, "nfse.gov.br/EmissorNacional/Login") {
		t.Fatalf("login url = %s", cfg.URLs.Login)
	}
	if cfg.Timeouts.Download != 25*time.Second || cfg.Timeouts.MenuClick != 8*time.Second || cfg.Timeouts.RowsWait != 10*time.Second {
		t.Fatalf("timeouts = %+v", cfg.Timeouts)
	}
	if cfg.Selectors.Rows != "table tbody tr" || len(cfg.Selectors.PDFLink) != 7 {
		t.Fatalf("selectors = %+v", cfg.Selectors)
	}
	if cfg.StrictLogin {
		t.Fatal("login check must be soft by default")
	}
}

func TestLoadFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "portal.yaml")
	os.WriteFile(p, []byte(`
urls:
  emitted: https://homolog.example/Notas/Emitidas
selectors:
  menu_trigger:
    - css: ".btn-acoes"
  xml_link:
    - css: "a"
      text: "Baixar XML"
timeouts:
  download: 40s
strict_login: true
browser:
  resource_blocking: [images, fonts]
`), 0o644)

	cfg, err := LoadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.URLs.Emitted != "https://homolog.example/Notas/Emitidas" {
		t.Errorf("emitted = %s", cfg.URLs.Emitted)
	}
	if cfg.URLs.Received == "" {
		t.Error("received url must default")
	}
	if len(cfg.Selectors.MenuTrigger) != 1 || cfg.Selectors.MenuTrigger[0].CSS != ".btn-acoes" {
		t.Errorf("menu trigger = %v", cfg.Selectors.MenuTrigger)
	}
	if cfg.Selectors.XMLLink[0].Text != "Baixar XML" {
		t.Errorf("xml link = %v", cfg.Selectors.XMLLink)
	}
	if cfg.Timeouts.Download != 40*time.Second || cfg.Timeouts.RowsWait != 10*time.Second {
		t.Errorf("timeouts = %+v", cfg.Timeouts)
	}
	if !cfg.StrictLogin || len(cfg.Browser.ResourceBlocking) != 2 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	env := map[string]string{
		"NFSE_EMITIDAS_URL":   "https://x/E",
		"NFSE_BROWSER_REMOTE": "ws://chrome:9222",
	}
	cfg.ApplyEnv(func(k string) string { return env[k] })
	if cfg.URLs.Emitted != "https://x/E" || cfg.Browser.Remote != "ws://chrome:9222" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if !strings.Contains(cfg.URLs.Received, "nfse.gov.br") {
		t.Fatal("unset env must not override")
	}
}

func TestSnippeter(t *testing.T) {
	s := NewSnippeter(40)
	got := s.Render(`<div class="menu-content" onclick="evil()"><script>steal()</script>
		<a href="/Notas/DownloadXml/1">Download XML</a></div>`)
	if strings.Contains(got, "steal") || strings.Contains(got, "onclick") {
		t.Fatalf("unsafe content kept: %q", got)
	}
	if !strings.Contains(got, "Download XML") {
		t.Fatalf("text lost: %q", got)
	}

	long := s.Render("<p>" + strings.Repeat("a", 100) + "</p>")
	if !strings.HasSuffix(long, "...") || len([]rune(long)) != 43 {
		t.Fatalf("truncation: %q", long)
	}
}

func TestRowCells(t *testing.T) {
	cells := rowCells(`<td> 05/03/2026 </td><td>Tomador   X</td><td><div><span class="icone-trigger"></span></div></td>`, "td")
	if len(cells) != 3 || cells[0] != "05/03/2026" || cells[1] != "Tomador X" {
		t.Fatalf("cells = %q", cells)
	}
}

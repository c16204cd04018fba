package portaltest

import (
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/nfsebot/portal"
)

// Fake portal URLs.
const (
	LoginURL     = "https://portal.test/EmissorNacional/Login"
	HomeURL      = "https://portal.test/EmissorNacional"
	EmittedURL   = "https://portal.test/EmissorNacional/Notas/Emitidas"
	ReceivedURL  = "https://portal.test/EmissorNacional/Notas/Recebidas"
	FilteredURL  = "https://portal.test/EmissorNacional/Notas/Filtradas"
	NoRecordsMsg = "Nenhum registro encontrado"
)

// Row describes one row of the fake notes table.
type Row struct {
	Emission  string // first cell, DD/MM/YYYY
	TaxID     string // put in the suggested download names
	NoTrigger bool   // the action cell lacks the menu icon
	NoXML     bool   // the menu lacks the XML link
	NoPDF     bool   // the menu lacks the PDF link
	Silent    bool   // download links emit no download event
}

// Config returns a portal configuration pointing at the fake URLs with
// millisecond timeouts.
func Config() portal.Config {
	cfg := portal.DefaultConfig()
	cfg.URLs.Login = LoginURL
	cfg.URLs.Emitted = EmittedURL
	cfg.URLs.Received = ReceivedURL
	ms := time.Millisecond
	cfg.Timeouts = portal.Timeouts{
		Element: 50 * ms, Navigation: 200 * ms, LoginWait: 50 * ms, MenuClick: 50 * ms,
		URLWait: 50 * ms, DirectNav: 200 * ms, RowsWait: 100 * ms, Download: 50 * ms,
		MenuSettle: ms, RowPause: ms, FormSettle: ms, SearchSettle: ms, PollInterval: 5 * ms,
	}
	return cfg
}

// LoginPage is a login form whose submit button goes to next.
func LoginPage(next string) string {
	return page("Login", fmt.Sprintf(`
<form>
  <input type="text" name="Login" id="Login">
  <input type="password" name="Senha" id="Senha">
  <button type="submit" data-goto=%q>Entrar</button>
</form>`, next))
}

// BrokenLoginPage has no password field.
func BrokenLoginPage() string {
	return page("Login", `<form><input type="text" name="Login"><button type="submit">Entrar</button></form>`)
}

// HomePage is the post-login screen with the note menu icons.
func HomePage() string {
	return page("Emissor Nacional", fmt.Sprintf(`
<nav>
  <a title="NFS-e Emitidas" data-goto=%q><i class="icon"></i></a>
  <a title="NFS-e Recebidas" data-goto=%q><i class="icon"></i></a>
</nav>`, EmittedURL, ReceivedURL))
}

// HomePageWithoutMenu forces the direct-URL fallback.
func HomePageWithoutMenu() string {
	return page("Emissor Nacional", `<nav><span>Menu indisponível</span></nav>`)
}

// NoRecordsPage shows the empty-result marker.
func NoRecordsPage() string {
	return page("Notas", `<div class="alert">`+NoRecordsMsg+`</div>`)
}

// ListPage renders a notes table. With dateForm, the page has date inputs
// and a search button leading to FilteredURL.
func ListPage(slug string, rows []Row, dateForm bool) string {
	var b strings.Builder
	if dateForm {
		fmt.Fprintf(&b, `
<form>
  <input type="text" id="DataInicio" name="DataInicio">
  <input type="text" id="DataFim" name="DataFim">
  <button type="submit" data-goto=%q>Pesquisar</button>
</form>`, FilteredURL)
	}
	b.WriteString(`<table><thead><tr><th>Emissão</th><th>Tomador</th><th></th></tr></thead><tbody>`)
	for i, r := range rows {
		b.WriteString(rowHTML(slug, i+1, r))
	}
	b.WriteString(`</tbody></table>`)
	return page("Notas", b.String())
}

func rowHTML(slug string, n int, r Row) string {
	var menu strings.Builder
	menu.WriteString(`<div class="menu-suspenso-tabela">`)
	if !r.NoTrigger {
		menu.WriteString(`<span class="icone-trigger"></span>`)
	}
	menu.WriteString(`<div class="menu-content">`)
	xmlName := fmt.Sprintf("NFSe_%s_%d.xml", r.TaxID, n)
	pdfName := fmt.Sprintf("DANFSe_%s_%d.pdf", r.TaxID, n)
	if !r.NoXML {
		menu.WriteString(link("Download XML", "/Notas/DownloadXml/"+fmt.Sprint(n), xmlName, r.Silent))
	}
	if !r.NoPDF {
		menu.WriteString(link("Download DANFS-e", "/Notas/DownloadDANFSe/"+fmt.Sprint(n), pdfName, r.Silent))
	}
	menu.WriteString(`</div></div>`)
	return fmt.Sprintf(`<tr><td>%s</td><td>Tomador %d (%s)</td><td>%s</td></tr>`, r.Emission, n, slug, menu.String())
}

func link(text, href, download string, silent bool) string {
	if silent {
		return fmt.Sprintf(`<a href=%q>%s</a>`, href, text)
	}
	return fmt.Sprintf(`<a href=%q data-download=%q data-download-url=%q>%s</a>`, href, download, "https://portal.test"+href, text)
}

func page(title, body string) string {
	return "<html><head><title>" + title + "</title></head><body>" + body + "</body></html>"
}

// Portal assembles a full site: login leading home, and both listings.
func Portal(emitted, received string) map[string]string {
	return map[string]string{
		LoginURL:    LoginPage(HomeURL),
		HomeURL:     HomePage(),
		EmittedURL:  emitted,
		ReceivedURL: received,
	}
}

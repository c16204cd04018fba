package portal

import (
	"context"
	"fmt"
	"strings"

	"github.com/hazyhaar/nfsebot/capture"
	"github.com/hazyhaar/nfsebot/period"
	"github.com/hazyhaar/nfsebot/runlog"
)

// Job is what one pass over the portal must fetch.
type Job struct {
	Note     capture.NoteType
	Range    period.Range
	WantXML  bool
	WantPDF  bool
	Login    string
	Password string
}

// Outcome summarizes a pass. It is meaningful even when Run returns an error.
type Outcome struct {
	State          State
	Rows           int  // rows in the table snapshot
	DateSkipped    int  // rows outside the requested range
	Failures       int  // row-level capture attempts that failed
	Files          int  // files persisted
	NoRecords      bool // the portal reported an empty result
	ServerFiltered bool // the date range was applied through the portal form
}

// Machine walks one Session through login, the note listing and the rows.
// A Machine serves exactly one Run.
type Machine struct {
	cfg     Config
	sess    Session
	cap     *capture.Capturer
	log     *runlog.Logger
	snip    *Snippeter
	state   State
	onState func(State)
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithStateHook is called on every transition.
func WithStateHook(fn func(State)) MachineOption {
	return func(m *Machine) { m.onState = fn }
}

// NewMachine returns a Machine in the LoggedOut state.
func NewMachine(cfg Config, sess Session, capt *capture.Capturer, log *runlog.Logger, opts ...MachineOption) *Machine {
	cfg.applyDefaults()
	m := &Machine{
		cfg:   cfg,
		sess:  sess,
		cap:   capt,
		log:   log,
		snip:  NewSnippeter(350),
		state: LoggedOut,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

func (m *Machine) enter(s State) {
	m.log.Slog().Debug("portal: transition", "from", m.state, "to", s)
	m.state = s
	if m.onState != nil {
		m.onState(s)
	}
}

// Run executes the job. Fatal conditions (login form not found, note list
// unreachable) abort with an error and leave the Machine in ErrorAbort;
// row-level problems are logged and counted in Outcome.Failures.
// Run does not close the Session.
func (m *Machine) Run(ctx context.Context, job Job) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("portal: panic in state %s: %v", m.state, r)
		}
		if err != nil {
			m.enter(ErrorAbort)
		}
		out.State = m.state
		out.Files = m.cap.Total()
	}()

	m.enter(LoggingIn)
	if err := m.login(ctx, job); err != nil {
		return out, err
	}
	m.enter(LoggedIn)

	if err := m.openNoteList(ctx, job.Note); err != nil {
		return out, err
	}
	m.enter(OnNoteList)

	m.enter(Filtering)
	clientFilter := m.applyDateFilter(ctx, job.Range)
	out.ServerFiltered = job.Range.IsSet() && !clientFilter

	rows, noRecords := m.snapshotRows(ctx)
	out.NoRecords = noRecords
	out.Rows = len(rows)

	if noRecords {
		m.log.Info("Nenhuma nota encontrada (a tela exibiu '%s').", m.cfg.NoRecordsMarker)
	} else if len(rows) > 0 {
		m.enter(IteratingRows)
		if !job.WantXML && !job.WantPDF {
			m.log.Info("Nenhum formato selecionado (XML/PDF). Nada será baixado.")
		} else {
			var filter period.Range
			if clientFilter {
				filter = job.Range
			}
			for i, row := range rows {
				m.iterateRow(ctx, job, filter, row, i+1, &out)
			}
		}
	}

	m.enter(Done)
	m.log.Info("Processo de download finalizado. Total de arquivos capturados nesta execução: %d.", m.cap.Total())
	return out, nil
}

func (m *Machine) login(ctx context.Context, job Job) error {
	m.log.Info("Abrindo portal nacional da NFS-e...")
	navCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeouts.Navigation)
	err := m.sess.Navigate(navCtx, m.cfg.URLs.Login)
	cancel()
	if err != nil {
		m.log.Error("Não consegui abrir a tela de login: %v", err)
		return fmt.Errorf("portal: open login page: %w", err)
	}
	m.log.Info("Página de login carregada.")

	root := m.sess.Root()
	fields := []struct {
		name  string
		label string
		chain Chain
		value string
	}{
		{"login", "login", m.cfg.Selectors.LoginField, job.Login},
		{"password", "senha", m.cfg.Selectors.PasswordField, job.Password},
	}
	for _, f := range fields {
		el, ok := WaitFirst(ctx, root, f.chain, m.cfg.Timeouts.Element, m.cfg.Timeouts.PollInterval)
		if !ok {
			m.log.Error("Não consegui encontrar o campo de %s. Ajuste os seletores na configuração do portal.", f.label)
			return &FieldError{Field: f.name, Tried: f.chain}
		}
		if err := el.Fill(ctx, f.value); err != nil {
			return fmt.Errorf("portal: fill %s: %w", f.name, err)
		}
		m.log.Info("Campo de %s preenchido.", f.label)
	}

	submit, ok := WaitFirst(ctx, root, m.cfg.Selectors.Submit, m.cfg.Timeouts.Element, m.cfg.Timeouts.PollInterval)
	if !ok {
		m.log.Error("Não consegui encontrar o botão de login. Ajuste os seletores na configuração do portal.")
		return &FieldError{Field: "submit", Tried: m.cfg.Selectors.Submit}
	}

	nav := m.sess.ExpectNavigation(ctx)
	defer nav.Stop()
	if err := submit.Click(ctx); err != nil {
		return fmt.Errorf("portal: click submit: %w", err)
	}
	m.log.Info("Botão de login clicado. Aguardando resposta...")
	if _, navigated := Await(ctx, m.cfg.Timeouts.LoginWait, nav.Wait); !navigated {
		m.log.Slog().Debug("portal: no navigation after login submit", "timeout", m.cfg.Timeouts.LoginWait)
	}

	url := m.sess.URL()
	m.log.Slog().Info("portal: after login", "url", url, "title", m.sess.Title(ctx))
	if !strings.Contains(url, m.cfg.LoginPathMarker) {
		m.log.Info("Login aparentemente bem-sucedido (URL diferente da tela de Login).")
		return nil
	}

	msg := "(Alerta) Ainda estou na tela de Login. O login pode ter falhado ou exigir alguma ação extra (captcha, seleção, etc.)."
	if alert := m.loginAlert(ctx); alert != "" {
		msg += " Mensagem do portal: " + alert
	}
	if m.cfg.StrictLogin {
		m.log.Error("%s", msg)
		return ErrLoginRejected
	}
	m.log.Warn("%s", msg)
	return nil
}

func (m *Machine) loginAlert(ctx context.Context) string {
	el, _, ok, err := First(ctx, m.sess.Root(), m.cfg.Selectors.LoginAlert)
	if err != nil || !ok {
		return ""
	}
	html, err := el.HTML(ctx)
	if err != nil {
		return ""
	}
	return m.snip.Render(html)
}

func (m *Machine) openNoteList(ctx context.Context, note capture.NoteType) error {
	target, path, menu, title := m.cfg.noteURL(note == capture.Received)

	m.log.Info("Tentando clicar no ícone %q na barra superior...", title)
	if icon, ok := WaitFirst(ctx, m.sess.Root(), menu, m.cfg.Timeouts.MenuClick, m.cfg.Timeouts.PollInterval); ok {
		if err := icon.Click(ctx); err == nil {
			Poll(ctx, m.cfg.Timeouts.URLWait, m.cfg.Timeouts.PollInterval, func(context.Context) bool {
				return strings.Contains(m.sess.URL(), path)
			})
			m.log.Info("Clique em %s concluído. URL atual: %s", title, m.sess.URL())
			return nil
		}
	}

	m.log.Info("Não consegui clicar no ícone do menu de notas. Tentando acessar pela URL direta...")
	navCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeouts.DirectNav)
	defer cancel()
	if err := m.sess.Navigate(navCtx, target); err != nil {
		m.log.Error("Não consegui abrir a tela de notas nem pelo clique nem pela URL direta. Verifique as configurações.")
		return fmt.Errorf("%w: %s: %v", ErrNoteListUnreachable, target, err)
	}
	m.log.Info("Tela de notas aberta pela URL direta. URL atual: %s", m.sess.URL())
	return nil
}

// applyDateFilter tries the portal's own date form. It reports whether the
// rows must be filtered client-side instead.
func (m *Machine) applyDateFilter(ctx context.Context, r period.Range) (clientSide bool) {
	if !r.IsSet() {
		return false
	}
	defer func() {
		if clientSide {
			m.log.Info("Não localizei campos de data no formulário. Vou aplicar o filtro diretamente pela coluna 'Emissão' da tabela.")
		}
	}()

	if err := pause(ctx, m.cfg.Timeouts.FormSettle); err != nil {
		return true
	}

	root := m.sess.Root()
	start, _, hasStart, err := First(ctx, root, m.cfg.Selectors.DateStart)
	if err != nil {
		m.log.Warn("Erro ao tentar aplicar filtro de data pelos campos: %v. Vou filtrar pela coluna \"Emissão\".", err)
		return true
	}
	end, _, hasEnd, err := First(ctx, root, m.cfg.Selectors.DateEnd)
	if err != nil {
		m.log.Warn("Erro ao tentar aplicar filtro de data pelos campos: %v. Vou filtrar pela coluna \"Emissão\".", err)
		return true
	}

	fillStart := hasStart && r.From != nil
	fillEnd := hasEnd && r.To != nil
	if !fillStart && !fillEnd {
		return true
	}
	search, _, ok, err := First(ctx, root, m.cfg.Selectors.Search)
	if err != nil || !ok {
		return true
	}

	if fillStart {
		if err := start.Fill(ctx, r.From.BR()); err != nil {
			m.log.Warn("Erro ao preencher data inicial: %v. Vou filtrar pela coluna \"Emissão\".", err)
			return true
		}
	}
	if fillEnd {
		if err := end.Fill(ctx, r.To.BR()); err != nil {
			m.log.Warn("Erro ao preencher data final: %v. Vou filtrar pela coluna \"Emissão\".", err)
			return true
		}
	}
	if err := search.Click(ctx); err != nil {
		m.log.Warn("Erro ao clicar em pesquisar: %v. Vou filtrar pela coluna \"Emissão\".", err)
		return true
	}
	pause(ctx, m.cfg.Timeouts.SearchSettle)
	m.log.Info("Filtro de período aplicado pelos campos: %s.", r.Label())
	return false
}

// snapshotRows waits for the no-records marker or the results table and
// returns the rows present at that moment. The slice is never re-queried.
func (m *Machine) snapshotRows(ctx context.Context) (rows []Element, noRecords bool) {
	type snapshot struct {
		rows      []Element
		noRecords bool
	}
	root := m.sess.Root()
	snap, found := Await(ctx, m.cfg.Timeouts.RowsWait, func(ctx context.Context) (snapshot, error) {
		for {
			if body, err := m.sess.BodyText(ctx); err == nil && strings.Contains(body, m.cfg.NoRecordsMarker) {
				return snapshot{noRecords: true}, nil
			}
			if els, err := root.FindAll(ctx, m.cfg.Selectors.Rows); err == nil && len(els) > 0 {
				return snapshot{rows: els}, nil
			}
			if err := pause(ctx, m.cfg.Timeouts.PollInterval); err != nil {
				return snapshot{}, err
			}
		}
	})
	if !found {
		m.log.Warn("Aviso: a tabela de notas não apareceu em %s. Nenhuma linha será processada.", m.cfg.Timeouts.RowsWait)
		return nil, false
	}
	if snap.noRecords {
		return nil, true
	}
	m.log.Info("Tabela de notas carregada. Linhas encontradas: %d.", len(snap.rows))
	return snap.rows, false
}

func (m *Machine) iterateRow(ctx context.Context, job Job, filter period.Range, row Element, idx int, out *Outcome) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("Erro inesperado ao processar a linha %d: %v", idx, r)
			out.Failures++
		}
	}()
	skipped, failures, err := m.processRow(ctx, job, filter, row, idx)
	if err != nil {
		m.log.Error("Erro inesperado ao processar a linha %d: %v", idx, err)
		failures++
	}
	if skipped {
		out.DateSkipped++
	}
	out.Failures += failures
	pause(ctx, m.cfg.Timeouts.RowPause)
}

func (m *Machine) processRow(ctx context.Context, job Job, filter period.Range, row Element, idx int) (skipped bool, failures int, err error) {
	if filter.IsSet() {
		inner, err := row.HTML(ctx)
		if err != nil {
			return false, 0, fmt.Errorf("read row: %w", err)
		}
		var emission string
		if cells := rowCells(inner, m.cfg.Selectors.Cells); len(cells) > 0 {
			emission = cells[0]
		}
		if !filter.Keep(emission) {
			m.log.Info("Linha %d: data de emissão %s fora do período selecionado. Ignorando linha.", idx, emission)
			return true, 0, nil
		}
	}

	cells, err := row.FindAll(ctx, m.cfg.Selectors.Cells)
	if err != nil {
		return false, 0, fmt.Errorf("list cells: %w", err)
	}
	if len(cells) == 0 {
		m.log.Warn("Linha %d: não encontrei coluna de ações (última coluna).", idx)
		return false, 1, nil
	}
	action := cells[len(cells)-1]

	wrapper := action
	if w, _, ok, _ := First(ctx, action, m.cfg.Selectors.MenuWrapper); ok {
		wrapper = w
	}
	if idx == 1 {
		if html, err := wrapper.HTML(ctx); err == nil {
			m.log.Info("(Debug) Menu suspenso da linha 1: %s", m.snip.Render(html))
		}
	}

	trigger, _, ok, err := First(ctx, wrapper, m.cfg.Selectors.MenuTrigger)
	if err != nil {
		return false, 0, err
	}
	if !ok {
		m.log.Warn("Linha %d: não encontrei o ícone do menu suspenso.", idx)
		return false, 1, nil
	}
	if err := trigger.Click(ctx); err != nil {
		return false, 0, fmt.Errorf("open menu: %w", err)
	}
	pause(ctx, m.cfg.Timeouts.MenuSettle)

	menu, _, ok, err := First(ctx, wrapper, m.cfg.Selectors.Menu)
	if err != nil {
		return false, 0, err
	}
	if !ok {
		m.log.Warn("Linha %d: menu suspenso não encontrado após clique.", idx)
		return false, 1, nil
	}

	for _, want := range []struct {
		on     bool
		format capture.Format
		chain  Chain
		label  string
	}{
		{job.WantXML, capture.XML, m.cfg.Selectors.XMLLink, "XML"},
		{job.WantPDF, capture.PDF, m.cfg.Selectors.PDFLink, "PDF/DANFS-e"},
	} {
		if !want.on {
			continue
		}
		link, _, ok, err := First(ctx, menu, want.chain)
		if err != nil || !ok {
			m.log.Warn("Linha %d: não encontrei item de menu para %s.", idx, want.label)
			failures++
			continue
		}
		m.log.Info("Linha %d: clicando na opção de download %s...", idx, want.label)
		if !m.download(ctx, link, want.format, idx) {
			failures++
		}
	}
	return false, failures, nil
}

// download clicks link while racing the browser's download event.
func (m *Machine) download(ctx context.Context, link Element, f capture.Format, idx int) bool {
	exp := m.sess.ExpectDownload(ctx)
	defer exp.Stop()

	if err := link.Click(ctx); err != nil {
		m.log.Error("Erro ao clicar/capturar arquivo na linha %d: %v", idx, err)
		return false
	}
	dl, ok := Await(ctx, m.cfg.Timeouts.Download, exp.Wait)
	if !ok {
		m.log.Warn("Aviso: não foi possível identificar um download %s após o clique na linha %d.", f, idx)
		return false
	}
	_, ok = m.cap.Capture(dl, f, idx)
	return ok
}

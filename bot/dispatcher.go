// Package bot decides how a download request runs: simulated, or driven
// through the portal state machine, for one request or for every company
// of a batch.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/hazyhaar/nfsebot/capture"
	"github.com/hazyhaar/nfsebot/history"
	"github.com/hazyhaar/nfsebot/idgen"
	"github.com/hazyhaar/nfsebot/portal"
	"github.com/hazyhaar/nfsebot/runlog"
)

// EnvFlag returns a feature flag reading key at every call.
func EnvFlag(key string) func() bool {
	return func() bool { return os.Getenv(key) == "true" }
}

// EnvCredentials returns process-wide credentials read at every call.
func EnvCredentials(loginKey, passwordKey string) func() *Credentials {
	return func() *Credentials {
		return &Credentials{Login: os.Getenv(loginKey), Password: os.Getenv(passwordKey)}
	}
}

// Dispatcher runs requests. It holds no per-run state and may serve
// concurrent calls; each run owns its logger, capturer and session.
type Dispatcher struct {
	open        portal.Opener
	usePortal   func() bool
	credentials func() *Credentials
	recorder    history.Recorder
	portal      portal.Config
	logger      *slog.Logger
	newRunID    idgen.Generator
	captureOpts []capture.Option
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithFeatureFlag sets the portal automation switch. It is consulted once per
// RunSingle or RunBatch call.
func WithFeatureFlag(fn func() bool) Option { return func(d *Dispatcher) { d.usePortal = fn } }

// WithDefaultCredentials sets the fallback used when a run carries none.
func WithDefaultCredentials(fn func() *Credentials) Option {
	return func(d *Dispatcher) { d.credentials = fn }
}

func WithRecorder(r history.Recorder) Option  { return func(d *Dispatcher) { d.recorder = r } }
func WithPortalConfig(c portal.Config) Option { return func(d *Dispatcher) { d.portal = c } }
func WithLogger(l *slog.Logger) Option        { return func(d *Dispatcher) { d.logger = l } }
func WithRunIDs(g idgen.Generator) Option     { return func(d *Dispatcher) { d.newRunID = g } }

func WithCaptureOptions(o ...capture.Option) Option {
	return func(d *Dispatcher) { d.captureOpts = o }
}

// New returns a Dispatcher opening browser sessions through open.
func New(open portal.Opener, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		open:        open,
		usePortal:   EnvFlag("NFSE_USE_PORTAL"),
		credentials: EnvCredentials("NFSE_USER", "NFSE_PASSWORD"),
		recorder:    history.Discard,
		portal:      portal.DefaultConfig(),
		logger:      slog.Default(),
		newRunID:    idgen.RunID,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) runLogger(runID string, sink runlog.Sink, attrs ...any) *runlog.Logger {
	return runlog.New(sink, d.logger.With(append([]any{"run_id", runID}, attrs...)...))
}

// RunSingle performs one run for a single note type. It never panics and
// never returns an error: failures are reported through the status and
// the log.
func (d *Dispatcher) RunSingle(ctx context.Context, cfg RunConfig) RunResult {
	if cfg.Mode == "" {
		cfg.Mode = ModeManual
	}
	runID := d.newRunID()
	log := d.runLogger(runID, cfg.OnLog, "mode", string(cfg.Mode), "owner", cfg.OwnerID)
	res := d.runSingle(ctx, cfg, log, d.usePortal())
	res.RunID = runID
	res.Lines = log.Lines()
	return res
}

// runSingle records each run exactly once, including runs cut short by a
// panic.
func (d *Dispatcher) runSingle(ctx context.Context, cfg RunConfig, log *runlog.Logger, usePortal bool) (res RunResult) {
	once := new(sync.Once)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("bot: unexpected failure: %v", r)
			log.Error("Falha inesperada durante a execução: %v", r)
			res = RunResult{Status: StatusError}
			once.Do(func() {
				d.record(ctx, cfg, res, err, log, fmt.Sprintf("Execução %s interrompida - tipoNota=%s.", cfg.Mode, cfg.NoteType.Slug()))
			})
		}
	}()

	if !usePortal {
		log.Info("(Debug) Modo SIMULAÇÃO ativo (automação do portal desligada).")
		return d.simulate(ctx, cfg, log, once)
	}

	creds := Credentials{}
	if cfg.Credentials != nil {
		creds = *cfg.Credentials
	}
	if !creds.complete() && d.credentials != nil {
		if def := d.credentials(); def != nil {
			if creds.Login == "" {
				creds.Login = def.Login
			}
			if creds.Password == "" {
				creds.Password = def.Password
			}
		}
	}
	if !creds.complete() {
		log.Info("Login/senha não informados para esta execução. Voltando para modo SIMULAÇÃO.")
		return d.simulate(ctx, cfg, log, once)
	}
	return d.runPortal(ctx, cfg, creds, log, once)
}

func (d *Dispatcher) logHeader(cfg RunConfig, log *runlog.Logger, simulated bool) {
	what := "Iniciando robô de download manual de NFS-e"
	if cfg.Mode == ModeBatch {
		what = "Iniciando robô de download de NFS-e para a empresa"
	}
	if simulated {
		what += " (SIMULAÇÃO)"
	}
	log.Info("%s...", what)
	log.Info("Período selecionado: %s", cfg.Range().Label())
	log.Info("Tipo de nota: %s", cfg.NoteType.Label())
	log.Info("Formatos: %s", formats(cfg.WantXML, cfg.WantPDF))
	log.Info("Pasta de destino: %s", destination(cfg))
}

func (d *Dispatcher) simulate(ctx context.Context, cfg RunConfig, log *runlog.Logger, once *sync.Once) RunResult {
	d.logHeader(cfg, log, true)
	log.Info("(Simulação) Abrindo navegador automatizado...")
	log.Info("(Simulação) Acessando portal da NFS-e...")
	log.Info("(Simulação) Aplicando filtros de data e tipo de nota...")
	if cfg.WantXML {
		log.Info("(Simulação) Baixando arquivos XML...")
	}
	if cfg.WantPDF {
		log.Info("(Simulação) Baixando arquivos PDF...")
	}
	log.Info("(Simulação) Organizando arquivos nas pastas Entrada/Saida...")
	log.Info("Download concluído com sucesso (simulação).")

	res := RunResult{Status: StatusSimulated}
	details := fmt.Sprintf("Simulação - tipoNota=%s, período=%s.", cfg.NoteType.Slug(), cfg.Range().Label())
	once.Do(func() { d.record(ctx, cfg, res, nil, log, details) })
	return res
}

func (d *Dispatcher) runPortal(ctx context.Context, cfg RunConfig, creds Credentials, log *runlog.Logger, once *sync.Once) RunResult {
	d.logHeader(cfg, log, false)

	capt, out, err := d.drive(ctx, cfg, creds, log)

	res := RunResult{Status: StatusSuccess}
	if capt != nil {
		res.TotalFiles = capt.Total()
		res.XMLFiles = capt.Count(capture.XML)
		res.PDFFiles = capt.Count(capture.PDF)
		res.OutputDir = filepath.Dir(capt.Dir())
	}
	switch {
	case err != nil:
		res.Status = StatusError
		log.Error("ERRO durante a execução no portal nacional: %v", err)
	case out.Failures > 0:
		res.Status = StatusPartial
		log.Warn("%d tentativa(s) de download falharam nesta execução.", out.Failures)
	}

	details := fmt.Sprintf("Execução %s no portal nacional - tipoNota=%s, período=%s.", cfg.Mode, cfg.NoteType.Slug(), cfg.Range().Label())
	once.Do(func() { d.record(ctx, cfg, res, err, log, details) })
	log.Info("Fluxo no portal nacional finalizado.")
	return res
}

// drive owns the browser session: it is closed on every path, panics
// included.
func (d *Dispatcher) drive(ctx context.Context, cfg RunConfig, creds Credentials, log *runlog.Logger) (capt *capture.Capturer, out portal.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bot: unexpected failure: %v", r)
		}
	}()

	base, err := filepath.Abs(destination(cfg))
	if err != nil {
		return nil, out, fmt.Errorf("bot: destination: %w", err)
	}
	opts := d.captureOpts
	if cfg.Sequence != nil {
		opts = append(slices.Clone(opts), capture.WithSequence(cfg.Sequence))
	}
	capt, err = capture.New(base, cfg.NoteType, log, opts...)
	if err != nil {
		return nil, out, err
	}
	log.Info("Pasta base de downloads: %s | Subpasta: %s | Final: %s", base, cfg.NoteType.Subfolder(), capt.Dir())

	sess, err := d.open(ctx)
	if err != nil {
		return capt, out, fmt.Errorf("bot: open browser: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Slog().Warn("bot: close session", "error", cerr)
		}
		log.Info("Navegador fechado.")
	}()

	m := portal.NewMachine(d.portal, sess, capt, log)
	out, err = m.Run(ctx, portal.Job{
		Note:     cfg.NoteType,
		Range:    cfg.Range(),
		WantXML:  cfg.WantXML,
		WantPDF:  cfg.WantPDF,
		Login:    creds.Login,
		Password: creds.Password,
	})
	return capt, out, err
}

// record stores one history entry. Failures, panics included, are logged
// and dropped.
func (d *Dispatcher) record(ctx context.Context, cfg RunConfig, res RunResult, runErr error, log *runlog.Logger, details string) {
	defer func() {
		if r := recover(); r != nil {
			log.Slog().Error("bot: record history", "panic", r)
		}
	}()
	rec := history.Record{
		OwnerID:     cfg.OwnerID,
		OwnerLabel:  cfg.OwnerLabel,
		CompanyID:   cfg.CompanyID,
		CompanyName: cfg.CompanyName,
		Mode:        cfg.Mode.history(),
		FileCount:   res.TotalFiles,
		XMLCount:    res.XMLFiles,
		PDFCount:    res.PDFFiles,
		Status:      res.Status.history(),
		Details:     details,
	}
	if runErr != nil {
		rec.Errors = []history.ErrorDetail{{Message: runErr.Error()}}
	}
	if err := d.recorder.Record(ctx, rec); err != nil {
		log.Slog().Error("bot: record history", "error", err)
	}
}

func destination(cfg RunConfig) string {
	if strings.TrimSpace(cfg.DestinationFolder) == "" {
		return DefaultDestination
	}
	return cfg.DestinationFolder
}

func formats(xml, pdf bool) string {
	var f []string
	if xml {
		f = append(f, "XML")
	}
	if pdf {
		f = append(f, "PDF")
	}
	if len(f) == 0 {
		return "Nenhum"
	}
	return strings.Join(f, " + ")
}

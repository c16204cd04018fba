// Package api exposes the dispatcher, the company registry and the run
// history over HTTP (chi) and MCP. Caller identity comes from the proxy
// headers read by shield.Owner, or from the "owner" argument of MCP tools.
package api

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/hazyhaar/nfsebot/bot"
	"github.com/hazyhaar/nfsebot/capture"
	"github.com/hazyhaar/nfsebot/company"
	"github.com/hazyhaar/nfsebot/history"
	"github.com/hazyhaar/nfsebot/horosafe"
	"github.com/hazyhaar/nfsebot/idgen"
	"github.com/hazyhaar/nfsebot/kit"
	"github.com/hazyhaar/nfsebot/period"
	"github.com/hazyhaar/nfsebot/shield"
)

// Runner is implemented by *bot.Dispatcher.
type Runner interface {
	RunSingle(ctx context.Context, cfg bot.RunConfig) bot.RunResult
	RunBatch(ctx context.Context, companies []company.Company, opts bot.BatchOptions) bot.RunResult
}

// HistoryLister is implemented by *history.Store.
type HistoryLister interface {
	List(ctx context.Context, f history.Filter) ([]history.Record, error)
}

// CompanyStore is implemented by *company.Store.
type CompanyStore interface {
	List(ctx context.Context, ownerID string) ([]company.Company, error)
	Create(ctx context.Context, c company.Company) (company.Company, error)
	Delete(ctx context.Context, ownerID, id string) error
}

// RequestError is a caller mistake, answered with 400.
type RequestError struct{ Msg string }

func (e *RequestError) Error() string { return e.Msg }

func badRequest(format string, args ...any) error {
	return &RequestError{Msg: fmt.Sprintf(format, args...)}
}

// ErrNoOwner is returned when the caller identity is missing.
var ErrNoOwner = errors.New("api: caller identity missing")

// Config wires a Service.
type Config struct {
	Runner       Runner
	History      HistoryLister
	Companies    CompanyStore
	DownloadsDir string
	// Limiter guards the run endpoints. Nil uses DefaultRunLimits.
	Limiter *shield.RateLimiter
	JobIDs  idgen.Generator
}

// Service holds the operations shared by the HTTP and MCP surfaces.
type Service struct {
	runner    Runner
	history   HistoryLister
	companies CompanyStore
	downloads string
	limiter   *shield.RateLimiter
	newJobID  idgen.Generator
}

// DefaultRunLimits allows each owner a handful of automation runs per minute.
func DefaultRunLimits() map[string]shield.RateLimitConfig {
	return map[string]shield.RateLimitConfig{
		"POST /api/nf/manual": {MaxRequests: 6, Window: time.Minute},
		"POST /api/nf/lote":   {MaxRequests: 2, Window: time.Minute},
	}
}

func New(cfg Config) *Service {
	s := &Service{
		runner:    cfg.Runner,
		history:   cfg.History,
		companies: cfg.Companies,
		downloads: cfg.DownloadsDir,
		limiter:   cfg.Limiter,
		newJobID:  cfg.JobIDs,
	}
	if s.downloads == "" {
		s.downloads = bot.DefaultDestination
	}
	if s.limiter == nil {
		s.limiter = shield.NewRateLimiter(DefaultRunLimits())
	}
	if s.newJobID == nil {
		s.newJobID = idgen.Prefixed("job_", idgen.Default)
	}
	return s
}

// RunRequest is the body of both run endpoints.
type RunRequest struct {
	DataInicial    string   `json:"dataInicial"`
	DataFinal      string   `json:"dataFinal"`
	TipoNota       string   `json:"tipoNota"`
	ProcessarTipos []string `json:"processarTipos"`
	BaixarXML      bool     `json:"baixarXml"`
	BaixarPDF      bool     `json:"baixarPdf"`
	PastaDestino   string   `json:"pastaDestino"`
	Login          string   `json:"login"`
	Senha          string   `json:"senha"`
}

// RunResponse merges the results of every note type of a request.
type RunResponse struct {
	Success       bool       `json:"success"`
	Status        bot.Status `json:"status"`
	Logs          []string   `json:"logs"`
	TotalArquivos int        `json:"totalArquivos"`
	PastaSaida    string     `json:"pastaSaida,omitempty"`
}

type runPlan struct {
	from, to *period.Date
	types    []capture.NoteType
	jobDir   string
}

func (s *Service) plan(req RunRequest) (runPlan, error) {
	var p runPlan
	if strings.TrimSpace(req.DataInicial) == "" || strings.TrimSpace(req.DataFinal) == "" {
		return p, badRequest("Informe dataInicial e dataFinal (obrigatório).")
	}
	from, err := period.ParseISO(req.DataInicial)
	if err != nil {
		return p, badRequest("dataInicial inválida: %q", req.DataInicial)
	}
	to, err := period.ParseISO(req.DataFinal)
	if err != nil {
		return p, badRequest("dataFinal inválida: %q", req.DataFinal)
	}
	if from.After(to) {
		return p, badRequest("dataInicial posterior a dataFinal.")
	}
	p.from, p.to = &from, &to
	p.types = NoteTypes(req.ProcessarTipos, req.TipoNota)

	base, err := horosafe.SafePath(s.downloads, req.PastaDestino)
	if err != nil {
		return p, badRequest("pastaDestino inválida.")
	}
	p.jobDir = filepath.Join(base, s.newJobID())
	return p, nil
}

// NoteTypes normalizes the requested types: known values of processarTipos
// in order without repeats, else tipoNota, else emitted.
func NoteTypes(process []string, fallback string) []capture.NoteType {
	var out []capture.NoteType
	for _, raw := range process {
		if n, err := capture.ParseNoteType(raw); err == nil && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	if len(out) > 0 {
		return out
	}
	if n, err := capture.ParseNoteType(fallback); err == nil {
		return []capture.NoteType{n}
	}
	return []capture.NoteType{capture.Emitted}
}

// RunManual runs the request once per note type into a single job folder,
// numbering files continuously across types.
func (s *Service) RunManual(ctx context.Context, req RunRequest) (RunResponse, error) {
	owner, label := kit.GetOwner(ctx)
	if owner == "" {
		return RunResponse{}, ErrNoOwner
	}
	p, err := s.plan(req)
	if err != nil {
		return RunResponse{}, err
	}
	var creds *bot.Credentials
	if req.Login != "" || req.Senha != "" {
		creds = &bot.Credentials{Login: req.Login, Password: req.Senha}
	}

	seq := &capture.Sequence{}
	results := make([]bot.RunResult, 0, len(p.types))
	for _, n := range p.types {
		results = append(results, s.runner.RunSingle(ctx, bot.RunConfig{
			DateFrom:          p.from,
			DateTo:            p.to,
			NoteType:          n,
			WantXML:           req.BaixarXML,
			WantPDF:           req.BaixarPDF,
			DestinationFolder: p.jobDir,
			Credentials:       creds,
			OwnerID:           owner,
			OwnerLabel:        label,
			Mode:              bot.ModeManual,
			Sequence:          seq,
		}))
	}
	return merge(results), nil
}

// RunBatch runs every company of the caller once per note type.
func (s *Service) RunBatch(ctx context.Context, req RunRequest) (RunResponse, error) {
	owner, label := kit.GetOwner(ctx)
	if owner == "" {
		return RunResponse{}, ErrNoOwner
	}
	p, err := s.plan(req)
	if err != nil {
		return RunResponse{}, err
	}
	companies, err := s.companies.List(ctx, owner)
	if err != nil {
		return RunResponse{}, err
	}
	if len(companies) == 0 {
		return RunResponse{}, badRequest("Nenhuma empresa cadastrada para execução em lote (para este usuário).")
	}

	results := make([]bot.RunResult, 0, len(p.types))
	for _, n := range p.types {
		results = append(results, s.runner.RunBatch(ctx, companies, bot.BatchOptions{
			DateFrom:          p.from,
			DateTo:            p.to,
			NoteType:          n,
			WantXML:           req.BaixarXML,
			WantPDF:           req.BaixarPDF,
			DestinationFolder: p.jobDir,
			OwnerID:           owner,
			OwnerLabel:        label,
		}))
	}
	return merge(results), nil
}

// merge concatenates logs and folds statuses: identical statuses are kept,
// anything mixed is partial.
func merge(results []bot.RunResult) RunResponse {
	resp := RunResponse{Logs: []string{}}
	for i, r := range results {
		resp.Logs = append(resp.Logs, r.Lines...)
		resp.TotalArquivos += r.TotalFiles
		if resp.PastaSaida == "" {
			resp.PastaSaida = r.OutputDir
		}
		if i == 0 {
			resp.Status = r.Status
		} else if r.Status != resp.Status {
			resp.Status = bot.StatusPartial
		}
	}
	resp.Success = resp.Status != bot.StatusError
	return resp
}

// History lists the caller's runs.
func (s *Service) History(ctx context.Context, companyID string, limit int) ([]history.Record, error) {
	owner, _ := kit.GetOwner(ctx)
	if owner == "" {
		return nil, ErrNoOwner
	}
	recs, err := s.history.List(ctx, history.Filter{OwnerID: owner, CompanyID: companyID, Limit: limit})
	if recs == nil {
		recs = []history.Record{}
	}
	return recs, err
}

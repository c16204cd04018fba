package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/nfsebot/company"
	"github.com/hazyhaar/nfsebot/kit"
	"github.com/hazyhaar/nfsebot/shield"
)

// NewRouter mounts the HTTP surface of s.
func NewRouter(s *Service) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack() {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(requireOwner)

		r.With(s.limiter.Middleware).Post("/nf/manual", s.handleRun(s.RunManual))
		r.With(s.limiter.Middleware).Post("/nf/lote", s.handleRun(s.RunBatch))
		r.Get("/historico", s.handleHistory)

		r.Get("/empresas", s.handleListCompanies)
		r.Post("/empresas", s.handleCreateCompany)
		r.Delete("/empresas/{id}", s.handleDeleteCompany)
	})
	return r
}

func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if owner, _ := kit.GetOwner(r.Context()); owner == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "Usuário não identificado."})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleRun answers 200 with the structured result even when the run
// failed; only request mistakes get 400.
func (s *Service) handleRun(run func(context.Context, RunRequest) (RunResponse, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Corpo da requisição inválido."})
			return
		}
		resp, err := run(r.Context(), req)
		if err != nil {
			var rerr *RequestError
			if errors.As(err, &rerr) {
				writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": rerr.Msg})
				return
			}
			shield.GetLogger(r.Context()).Error("api: run", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "Erro ao executar o robô."})
			return
		}
		shield.GetLogger(r.Context()).Info("api: run finished", "status", resp.Status, "files", resp.TotalArquivos)
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	recs, err := s.History(r.Context(), r.URL.Query().Get("empresaId"), limit)
	if err != nil {
		shield.GetLogger(r.Context()).Error("api: history", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "historico": recs})
}

type companyView struct {
	company.Company
	TemSenha bool `json:"temSenha"`
}

func (s *Service) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	owner, _ := kit.GetOwner(r.Context())
	cs, err := s.companies.List(r.Context(), owner)
	if err != nil {
		shield.GetLogger(r.Context()).Error("api: list companies", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "internal error"})
		return
	}
	views := make([]companyView, len(cs))
	for i, c := range cs {
		views[i] = companyView{Company: c, TemSenha: c.HasPassword()}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "empresas": views})
}

func (s *Service) handleCreateCompany(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Nome        string `json:"nome"`
		CNPJ        string `json:"cnpj"`
		LoginPortal string `json:"loginPortal"`
		SenhaPortal string `json:"senhaPortal"`
		Municipio   string `json:"municipio"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "Corpo da requisição inválido."})
		return
	}
	owner, _ := kit.GetOwner(r.Context())
	c, err := s.companies.Create(r.Context(), company.Company{
		OwnerID:        owner,
		Name:           req.Nome,
		CNPJ:           req.CNPJ,
		PortalLogin:    req.LoginPortal,
		PortalPassword: req.SenhaPortal,
		City:           req.Municipio,
	})
	switch {
	case errors.Is(err, company.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "Nome e CNPJ são obrigatórios."})
	case errors.Is(err, company.ErrExists):
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": "Empresa com este CNPJ já cadastrada."})
	case err != nil:
		shield.GetLogger(r.Context()).Error("api: create company", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "internal error"})
	default:
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "empresa": companyView{Company: c, TemSenha: c.HasPassword()}})
	}
}

func (s *Service) handleDeleteCompany(w http.ResponseWriter, r *http.Request) {
	owner, _ := kit.GetOwner(r.Context())
	err := s.companies.Delete(r.Context(), owner, chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, company.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "Empresa não encontrada."})
	case err != nil:
		shield.GetLogger(r.Context()).Error("api: delete company", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "internal error"})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

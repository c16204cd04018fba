package api

import (
	"context"
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/nfsebot/kit"
)

// RegisterMCP registers the nfse tools on srv.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerRunTool(srv, "nfse_run_manual",
		"Download NFS-e XML/PDF files from the national portal for one period (manual run).", s.RunManual)
	s.registerRunTool(srv, "nfse_run_batch",
		"Download NFS-e files for every company registered by the owner.", s.RunBatch)
	s.registerHistoryTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	sch := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sch["required"] = required
	}
	return sch
}

// ownerArg is embedded in every tool's arguments: MCP callers have no proxy
// headers.
type ownerArg struct {
	Owner      string `json:"owner"`
	OwnerLabel string `json:"ownerLabel"`
}

func (o ownerArg) scope(ctx context.Context) (context.Context, error) {
	owner := strings.ToLower(strings.TrimSpace(o.Owner))
	if owner == "" {
		return nil, errors.New("owner is required")
	}
	return kit.WithOwner(ctx, owner, o.OwnerLabel), nil
}

type runArgs struct {
	ownerArg
	RunRequest
}

func (s *Service) registerRunTool(srv *mcp.Server, name, desc string, run func(context.Context, RunRequest) (RunResponse, error)) {
	str := func(d string) map[string]any { return map[string]any{"type": "string", "description": d} }
	boolean := func(d string) map[string]any { return map[string]any{"type": "boolean", "description": d} }
	types := map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": "Note types to process, overrides tipoNota",
	}
	tool := &mcp.Tool{
		Name:        name,
		Description: desc,
		InputSchema: inputSchema(map[string]any{
			"owner":          str("Owner e-mail the run is recorded for"),
			"ownerLabel":     str("Owner display name"),
			"dataInicial":    str("Start date, YYYY-MM-DD"),
			"dataFinal":      str("End date, YYYY-MM-DD"),
			"tipoNota":       str("emitidas or recebidas"),
			"processarTipos": types,
			"baixarXml":      boolean("Download XML files"),
			"baixarPdf":      boolean("Download PDF (DANFS-e) files"),
			"pastaDestino":   str("Destination folder under the downloads root"),
			"login":          str("Portal login (manual runs only)"),
			"senha":          str("Portal password (manual runs only)"),
		}, []string{"owner", "dataInicial", "dataFinal"}),
	}

	kit.RegisterMCPTool(srv, tool,
		func(ctx context.Context, r runArgs) (context.Context, error) { return r.scope(ctx) },
		func(ctx context.Context, r runArgs) (RunResponse, error) { return run(ctx, r.RunRequest) })
}

type historyArgs struct {
	ownerArg
	CompanyID string `json:"empresaId"`
	Limit     int    `json:"limit"`
}

func (s *Service) registerHistoryTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "nfse_history",
		Description: "List the owner's NFS-e download runs, newest first.",
		InputSchema: inputSchema(map[string]any{
			"owner":     map[string]any{"type": "string", "description": "Owner e-mail"},
			"empresaId": map[string]any{"type": "string", "description": "Only runs of this company"},
			"limit":     map[string]any{"type": "integer", "description": "Max records (default 50)"},
		}, []string{"owner"}),
	}

	kit.RegisterMCPTool(srv, tool,
		func(ctx context.Context, r historyArgs) (context.Context, error) { return r.scope(ctx) },
		func(ctx context.Context, r historyArgs) (map[string]any, error) {
			recs, err := s.History(ctx, r.CompanyID, r.Limit)
			if err != nil {
				return nil, err
			}
			return map[string]any{"historico": recs}, nil
		})
}

package bot

import (
	"cmp"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/nfsebot/company"
	"github.com/hazyhaar/nfsebot/horosafe"
)

const separator = "--------------------------------------------------------------"

// RunBatch runs every company in order, one at a time, each with a fresh
// browser session under root/<company-slug>. With automation enabled a
// company without a portal password is skipped: it is neither simulated nor
// recorded. A failing company never stops the batch.
func (d *Dispatcher) RunBatch(ctx context.Context, companies []company.Company, opts BatchOptions) RunResult {
	runID := d.newRunID()
	log := d.runLogger(runID, opts.OnLog, "mode", string(ModeBatch), "owner", opts.OwnerID)
	usePortal := d.usePortal()

	if usePortal {
		log.Info("Iniciando execução em lote (MODO REAL (portal nacional))...")
	} else {
		log.Info("Iniciando execução em lote (SIMULAÇÃO)...")
	}

	res := RunResult{RunID: runID}
	root := cmp.Or(strings.TrimSpace(opts.DestinationFolder), DefaultDestination)
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}

	var processed, skipped, succeeded, completed int
	dirs := make(map[string]int)
	if len(companies) == 0 {
		log.Info("Nenhuma empresa cadastrada para executar em lote.")
	}
	for _, c := range companies {
		log.Raw(separator)
		log.Info("Processando empresa: %s (CNPJ: %s)...", c.Name, c.CNPJ)

		cfg := RunConfig{
			DateFrom:          opts.DateFrom,
			DateTo:            opts.DateTo,
			NoteType:          opts.NoteType,
			WantXML:           opts.WantXML,
			WantPDF:           opts.WantPDF,
			DestinationFolder: filepath.Join(root, companyDir(c, dirs)),
			OwnerID:           opts.OwnerID,
			OwnerLabel:        opts.OwnerLabel,
			CompanyID:         cmp.Or(c.ID, c.CNPJ),
			CompanyName:       c.Name,
			Mode:              ModeBatch,
		}
		if usePortal {
			login := cmp.Or(c.PortalLogin, c.CNPJ)
			if login == "" || c.PortalPassword == "" {
				log.Warn("Login/senha da empresa não configurados. Pulando esta empresa no lote (sem simulação).")
				skipped++
				continue
			}
			cfg.Credentials = &Credentials{Login: login, Password: c.PortalPassword}
		}

		r := d.runSingle(ctx, cfg, log, usePortal)
		processed++
		res.TotalFiles += r.TotalFiles
		res.XMLFiles += r.XMLFiles
		res.PDFFiles += r.PDFFiles
		switch r.Status {
		case StatusSuccess:
			succeeded++
			completed++
		case StatusPartial:
			completed++
		case StatusError:
			log.Warn("Empresa %s terminou com erro; seguindo para a próxima.", c.Name)
		}
	}

	switch {
	case !usePortal:
		res.Status = StatusSimulated
	case len(companies) > 0 && succeeded == len(companies):
		res.Status = StatusSuccess
	case completed == 0:
		res.Status = StatusError
	default:
		res.Status = StatusPartial
	}
	if usePortal && processed > 0 {
		res.OutputDir = root
	}

	log.Raw(separator)
	mode := "simulação"
	if usePortal {
		mode = "modo REAL / portal"
	}
	log.Info("Execução em lote finalizada (%s): %d empresa(s) processada(s), %d pulada(s), %d arquivo(s) no total.",
		mode, processed, skipped, res.TotalFiles)

	res.Lines = log.Lines()
	return res
}

// companyDir names the company's folder, suffixing repeats within a batch.
func companyDir(c company.Company, seen map[string]int) string {
	name := horosafe.Slug(c.Name)
	if name == "" {
		name = cmp.Or(horosafe.Slug(c.CNPJ), horosafe.Slug(c.ID), "empresa")
	}
	seen[name]++
	if n := seen[name]; n > 1 {
		return fmt.Sprintf("%s-%d", name, n)
	}
	return name
}

// Command nfsebot downloads NFS-e files from the national portal.
//
// Usage:
//
//	nfsebot -serve                                     # HTTP API on $PORT
//	nfsebot -mcp                                       # MCP tools over stdio
//	nfsebot -run -from 2026-03-01 -to 2026-03-31 -type recebidas -xml -pdf
//	nfsebot -batch -owner ana@escritorio.com.br -from 2026-03-01 -to 2026-03-31 -xml
package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/nfsebot/api"
	"github.com/hazyhaar/nfsebot/bot"
	"github.com/hazyhaar/nfsebot/capture"
	"github.com/hazyhaar/nfsebot/company"
	"github.com/hazyhaar/nfsebot/dbopen"
	"github.com/hazyhaar/nfsebot/history"
	"github.com/hazyhaar/nfsebot/period"
	"github.com/hazyhaar/nfsebot/portal"
	"github.com/hazyhaar/nfsebot/portal/rodsession"
)

type options struct {
	serve, mcp, run, batch bool
	config                 string
	from, to               string
	noteType               string
	xml, pdf               bool
	dest                   string
	owner                  string
}

func main() {
	var o options
	flag.BoolVar(&o.serve, "serve", false, "serve the HTTP API (default mode)")
	flag.BoolVar(&o.mcp, "mcp", false, "serve MCP tools over stdio")
	flag.BoolVar(&o.run, "run", false, "run one manual download and exit")
	flag.BoolVar(&o.batch, "batch", false, "run every company of -owner and exit")
	flag.StringVar(&o.config, "config", env("PORTAL_CONFIG", ""), "portal YAML config file")
	flag.StringVar(&o.from, "from", "", "start date YYYY-MM-DD")
	flag.StringVar(&o.to, "to", "", "end date YYYY-MM-DD")
	flag.StringVar(&o.noteType, "type", "emitidas", "emitidas or recebidas")
	flag.BoolVar(&o.xml, "xml", false, "download XML files")
	flag.BoolVar(&o.pdf, "pdf", false, "download PDF files")
	flag.StringVar(&o.dest, "dest", "", "destination folder (default $DOWNLOADS_DIR)")
	flag.StringVar(&o.owner, "owner", env("NFSE_OWNER", "cli"), "owner the runs are recorded for")
	flag.Parse()

	var lvl slog.Level
	switch env("LOG_LEVEL", "info") {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	// stdout belongs to the MCP transport and to -run output.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		logger.Error("nfsebot: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	dataDir := env("DATA_DIR", "data")
	downloads := env("DOWNLOADS_DIR", "downloads")

	pcfg, err := portal.LoadFile(o.config)
	if err != nil {
		return err
	}

	dsn := env("HISTORY_DSN", filepath.Join(dataDir, "nfse.db"))
	db, err := dbopen.Open(dsn, dbopen.WithMkdirAll(),
		dbopen.WithSchema(history.Schema), dbopen.WithSchema(company.Schema))
	if err != nil {
		return err
	}
	defer db.Close()
	dialect := dbopen.DetectDialect(dsn)

	hist := history.NewStore(db, dialect)
	var comps *company.Store
	if secret := os.Getenv("NFSE_SECRET"); secret != "" {
		sealer, err := company.NewSealer(secret)
		if err != nil {
			return err
		}
		comps = company.NewStore(db, dialect, sealer)
	} else if o.batch || !o.run {
		return errors.New("NFSE_SECRET is required to read the company registry")
	}

	dispatcher := bot.New(rodsession.Opener(pcfg.Browser, logger),
		bot.WithPortalConfig(pcfg),
		bot.WithRecorder(hist),
		bot.WithLogger(logger),
	)

	switch {
	case o.run:
		return runOnce(ctx, dispatcher, o, downloads)
	case o.batch:
		return runBatch(ctx, dispatcher, comps, o, downloads)
	}

	svc := api.New(api.Config{
		Runner:       dispatcher,
		History:      hist,
		Companies:    comps,
		DownloadsDir: downloads,
	})

	if o.mcp {
		srv := mcp.NewServer(&mcp.Implementation{Name: "nfsebot", Version: "1.0.0"}, nil)
		svc.RegisterMCP(srv)
		logger.Info("MCP stdio starting")
		return srv.Run(ctx, &mcp.StdioTransport{})
	}
	return serve(ctx, logger, svc)
}

func serve(ctx context.Context, logger *slog.Logger, svc *api.Service) error {
	port := env("PORT", "3000")
	// Portal runs take minutes and answer only when finished.
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           api.NewRouter(svc),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

func runOnce(ctx context.Context, d *bot.Dispatcher, o options, downloads string) error {
	from, to, note, err := cliPeriod(o)
	if err != nil {
		return err
	}
	res := d.RunSingle(ctx, bot.RunConfig{
		DateFrom:          from,
		DateTo:            to,
		NoteType:          note,
		WantXML:           o.xml,
		WantPDF:           o.pdf,
		DestinationFolder: cmp.Or(o.dest, downloads),
		OwnerID:           o.owner,
		Mode:              bot.ModeManual,
		OnLog:             func(line string) { fmt.Println(line) },
	})
	return exitStatus(res)
}

func runBatch(ctx context.Context, d *bot.Dispatcher, comps *company.Store, o options, downloads string) error {
	from, to, note, err := cliPeriod(o)
	if err != nil {
		return err
	}
	cs, err := comps.List(ctx, o.owner)
	if err != nil {
		return err
	}
	res := d.RunBatch(ctx, cs, bot.BatchOptions{
		DateFrom:          from,
		DateTo:            to,
		NoteType:          note,
		WantXML:           o.xml,
		WantPDF:           o.pdf,
		DestinationFolder: cmp.Or(o.dest, downloads),
		OwnerID:           o.owner,
		OnLog:             func(line string) { fmt.Println(line) },
	})
	return exitStatus(res)
}

func cliPeriod(o options) (from, to *period.Date, note capture.NoteType, err error) {
	if from, err = period.ParseOptionalISO(o.from); err != nil {
		return nil, nil, note, fmt.Errorf("-from: %w", err)
	}
	if to, err = period.ParseOptionalISO(o.to); err != nil {
		return nil, nil, note, fmt.Errorf("-to: %w", err)
	}
	if note, err = capture.ParseNoteType(o.noteType); err != nil {
		return nil, nil, note, fmt.Errorf("-type: %w", err)
	}
	return from, to, note, nil
}

func exitStatus(res bot.RunResult) error {
	if !res.Success() {
		return fmt.Errorf("run %s ended with status %s", res.RunID, res.Status)
	}
	if res.OutputDir != "" {
		fmt.Printf("%d arquivo(s) em %s\n", res.TotalFiles, res.OutputDir)
	}
	return nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

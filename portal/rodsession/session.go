// Package rodsession implements portal.Session on a real Chrome through
// go-rod: a stealth tab, downloads redirected into a private temp dir and
// download events read from the Browser domain.
package rodsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/nfsebot/capture"
	"github.com/hazyhaar/nfsebot/portal"
)

// Session is one Chrome tab. Close releases the tab, the browser when it was
// launched locally, and the download directory.
type Session struct {
	browser *rod.Browser
	lnch    *launcher.Launcher
	page    *rod.Page
	dir     string
	remote  bool
	log     *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

var _ portal.Session = (*Session)(nil)

// Opener returns a portal.Opener launching one Session per call.
func Opener(cfg portal.BrowserConfig, log *slog.Logger) portal.Opener {
	return func(ctx context.Context) (portal.Session, error) {
		return Open(ctx, cfg, log)
	}
}

// Open launches (or connects to) Chrome and prepares a stealth tab with
// downloads enabled.
func Open(ctx context.Context, cfg portal.BrowserConfig, log *slog.Logger) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Session{log: log, remote: cfg.Remote != ""}

	dir, err := os.MkdirTemp("", "nfsebot-dl-*")
	if err != nil {
		return nil, fmt.Errorf("rodsession: download dir: %w", err)
	}
	s.dir = dir

	if err := s.launch(ctx, cfg); err != nil {
		s.Close()
		return nil, err
	}

	err = proto.BrowserSetDownloadBehavior{
		Behavior:      proto.BrowserSetDownloadBehaviorBehaviorAllowAndName,
		DownloadPath:  dir,
		EventsEnabled: true,
	}.Call(s.browser)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("rodsession: download behavior: %w", err)
	}

	page, err := stealth.Page(s.browser)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("rodsession: create tab: %w", err)
	}
	s.page = page

	if len(cfg.ResourceBlocking) > 0 {
		applyResourceBlocking(page, cfg.ResourceBlocking)
	}
	return s, nil
}

func (s *Session) launch(ctx context.Context, cfg portal.BrowserConfig) error {
	var wsURL string
	if cfg.Remote != "" {
		wsURL = cfg.Remote
		s.log.Info("rodsession: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Context(ctx).
			Headless(!cfg.Headful).
			NoSandbox(true).
			Set("disable-dev-shm-usage").
			Set("disable-blink-features", "AutomationControlled")
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("rodsession: launch: %w", err)
		}
		wsURL = u
		s.lnch = l
		s.log.Info("rodsession: launched local chrome", "url", wsURL, "headful", cfg.Headful)
	}

	b := rod.New().ControlURL(wsURL)
	if cfg.SlowMotion > 0 {
		b = b.SlowMotion(cfg.SlowMotion)
	}
	if err := b.Connect(); err != nil {
		return fmt.Errorf("rodsession: connect: %w", err)
	}
	s.browser = b
	return nil
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("rodsession: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		s.log.Warn("rodsession: wait load", "url", url, "error", err)
	}
	return nil
}

func (s *Session) URL() string {
	info, err := s.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (s *Session) Title(ctx context.Context) string {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "(sem título)"
	}
	return info.Title
}

func (s *Session) Root() portal.Scope { return pageScope{s.page} }

func (s *Session) BodyText(ctx context.Context) (string, error) {
	has, body, err := s.page.Context(ctx).Has("body")
	if err != nil || !has {
		return "", err
	}
	return body.Context(ctx).Text()
}

// ExpectNavigation subscribes to the page lifecycle before the caller
// triggers a navigation.
func (s *Session) ExpectNavigation(ctx context.Context) portal.Expectation[struct{}] {
	nctx, cancel := context.WithCancel(ctx)
	wait := s.page.Context(nctx).WaitNavigation(proto.PageLifecycleEventNameNetworkAlmostIdle)
	return portal.Expectation[struct{}]{
		Wait: func(wctx context.Context) (struct{}, error) {
			stop := context.AfterFunc(wctx, cancel)
			defer stop()
			wait()
			return struct{}{}, nctx.Err()
		},
		Stop: cancel,
	}
}

// ExpectDownload subscribes to Browser.downloadWillBegin and
// Browser.downloadProgress. The file lands in the session directory named
// after the download GUID.
func (s *Session) ExpectDownload(ctx context.Context) portal.Expectation[capture.Download] {
	dctx, cancel := context.WithCancel(ctx)
	var (
		begin proto.BrowserDownloadWillBegin
		state proto.BrowserDownloadProgressState
	)
	wait := s.browser.Context(dctx).EachEvent(
		func(e *proto.BrowserDownloadWillBegin) {
			if begin.GUID == "" {
				begin = *e
			}
		},
		func(e *proto.BrowserDownloadProgress) bool {
			if begin.GUID == "" || e.GUID != begin.GUID {
				return false
			}
			switch e.State {
			case proto.BrowserDownloadProgressStateCompleted, proto.BrowserDownloadProgressStateCanceled:
				state = e.State
				return true
			}
			return false
		},
	)
	return portal.Expectation[capture.Download]{
		Wait: func(wctx context.Context) (capture.Download, error) {
			stop := context.AfterFunc(wctx, cancel)
			defer stop()
			wait()
			if err := dctx.Err(); err != nil {
				return capture.Download{}, err
			}
			if state != proto.BrowserDownloadProgressStateCompleted {
				return capture.Download{}, errors.New("rodsession: download canceled")
			}
			return capture.Download{
				TempPath:      filepath.Join(s.dir, begin.GUID),
				SuggestedName: begin.SuggestedFilename,
				URL:           begin.URL,
			}, nil
		},
		Stop: cancel,
	}
}

// Close is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.page != nil {
			if err := s.page.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.browser != nil && !s.remote {
			if err := s.browser.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.lnch != nil {
			s.lnch.Cleanup()
		}
		if s.dir != "" {
			if err := os.RemoveAll(s.dir); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

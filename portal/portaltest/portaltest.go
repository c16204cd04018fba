// Package portaltest provides an in-memory portal for tests: HTML pages
// served from a map and parsed with goquery, with clicks driven by data
// attributes.
//
//	data-goto="URL"       clicking loads that page
//	data-download="NAME"  clicking emits a download with that suggested name
//	data-download-url     source URL reported with the download
//	data-fail             clicking returns an error
package portaltest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/nfsebot/capture"
	"github.com/hazyhaar/nfsebot/portal"
)

// ErrNotFound is returned when navigating to a URL with no page.
var ErrNotFound = errors.New("portaltest: page not found")

// Session is a fake portal.Session.
type Session struct {
	mu      sync.Mutex
	pages   map[string]string
	url     string
	doc     *goquery.Document
	dir     string
	seq     int
	navs    []chan struct{}
	dls     []chan capture.Download
	closed  bool
	Filled  map[string]string // input id or name -> value
	Clicks  []string          // outer description of clicked elements
	Visited []string
}

var _ portal.Session = (*Session)(nil)

// New returns a Session serving pages. dir receives download temp files.
func New(pages map[string]string, dir string) *Session {
	return &Session{pages: pages, dir: dir, Filled: map[string]string{}}
}

// Opener returns a portal.Opener handing out fresh Sessions over the same
// pages, recording each one in *opened.
func Opener(pages map[string]string, dir string, opened *[]*Session) portal.Opener {
	var mu sync.Mutex
	return func(ctx context.Context) (portal.Session, error) {
		s := New(pages, dir)
		mu.Lock()
		*opened = append(*opened, s)
		mu.Unlock()
		return s, nil
	}
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.load(url)
}

func (s *Session) load(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	html, ok := s.pages[url]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return err
	}
	s.url = url
	s.doc = doc
	s.Visited = append(s.Visited, url)
	for _, ch := range s.navs {
		close(ch)
	}
	s.navs = nil
	return nil
}

func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *Session) Title(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return ""
	}
	return s.doc.Find("title").Text()
}

// Root is bound to the current document at lookup time.
func (s *Session) Root() portal.Scope { return root{s} }

func (s *Session) BodyText(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return "", nil
	}
	return s.doc.Find("body").Text(), nil
}

func (s *Session) ExpectNavigation(ctx context.Context) portal.Expectation[struct{}] {
	ch := make(chan struct{})
	s.mu.Lock()
	s.navs = append(s.navs, ch)
	s.mu.Unlock()
	return portal.Expectation[struct{}]{
		Wait: func(ctx context.Context) (struct{}, error) {
			select {
			case <-ch:
				return struct{}{}, nil
			case <-ctx.Done():
				return struct{}{}, ctx.Err()
			}
		},
		Stop: func() {},
	}
}

func (s *Session) ExpectDownload(ctx context.Context) portal.Expectation[capture.Download] {
	ch := make(chan capture.Download, 1)
	s.mu.Lock()
	s.dls = append(s.dls, ch)
	s.mu.Unlock()
	return portal.Expectation[capture.Download]{
		Wait: func(ctx context.Context) (capture.Download, error) {
			select {
			case dl := <-ch:
				return dl, nil
			case <-ctx.Done():
				return capture.Download{}, ctx.Err()
			}
		},
		Stop: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, c := range s.dls {
				if c == ch {
					s.dls = append(s.dls[:i], s.dls[i+1:]...)
					break
				}
			}
		},
	}
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Session) click(sel *goquery.Selection) error {
	desc := goquery.NodeName(sel)
	if t, ok := sel.Attr("title"); ok {
		desc += `[title="` + t + `"]`
	} else if txt := strings.TrimSpace(sel.Text()); txt != "" {
		desc += ":" + txt
	}
	s.mu.Lock()
	s.Clicks = append(s.Clicks, desc)
	s.mu.Unlock()

	if _, ok := sel.Attr("data-fail"); ok {
		return errors.New("portaltest: click failed")
	}
	if name, ok := sel.Attr("data-download"); ok {
		return s.emitDownload(sel, name)
	}
	if url, ok := sel.Attr("data-goto"); ok {
		return s.load(url)
	}
	return nil
}

func (s *Session) emitDownload(sel *goquery.Selection, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	tmp := filepath.Join(s.dir, fmt.Sprintf("guid-%d", s.seq))
	content := sel.AttrOr("data-content", "<NFSe/>")
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	dl := capture.Download{TempPath: tmp, SuggestedName: name, URL: sel.AttrOr("data-download-url", "")}
	for _, ch := range s.dls {
		select {
		case ch <- dl:
		default:
		}
	}
	return nil
}

type root struct{ s *Session }

func (r root) doc() *goquery.Selection {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.doc == nil {
		return &goquery.Selection{}
	}
	return r.s.doc.Selection
}

func (r root) Find(ctx context.Context, css string) (portal.Element, bool, error) {
	return find(r.s, r.doc(), css)
}

func (r root) FindAll(ctx context.Context, css string) ([]portal.Element, error) {
	return findAll(r.s, r.doc(), css), nil
}

type element struct {
	s   *Session
	sel *goquery.Selection
}

func find(s *Session, sel *goquery.Selection, css string) (portal.Element, bool, error) {
	m := sel.Find(css)
	if m.Length() == 0 {
		return nil, false, nil
	}
	return &element{s, m.First()}, true, nil
}

func findAll(s *Session, sel *goquery.Selection, css string) []portal.Element {
	var out []portal.Element
	sel.Find(css).Each(func(_ int, m *goquery.Selection) {
		out = append(out, &element{s, m})
	})
	return out
}

func (e *element) Find(ctx context.Context, css string) (portal.Element, bool, error) {
	return find(e.s, e.sel, css)
}

func (e *element) FindAll(ctx context.Context, css string) ([]portal.Element, error) {
	return findAll(e.s, e.sel, css), nil
}

func (e *element) Text(ctx context.Context) (string, error) {
	return strings.TrimSpace(e.sel.Text()), nil
}

func (e *element) HTML(ctx context.Context) (string, error) {
	return e.sel.Html()
}

func (e *element) Click(ctx context.Context) error { return e.s.click(e.sel) }

func (e *element) Fill(ctx context.Context, value string) error {
	if _, ok := e.sel.Attr("data-fail"); ok {
		return errors.New("portaltest: fill failed")
	}
	key := e.sel.AttrOr("id", e.sel.AttrOr("name", goquery.NodeName(e.sel)))
	e.sel.SetAttr("value", value)
	e.s.mu.Lock()
	e.s.Filled[key] = value
	e.s.mu.Unlock()
	return nil
}

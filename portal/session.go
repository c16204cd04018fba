// Package portal drives the NFS-e national portal: login, note listing,
// date filtering and per-row downloads.
//
// The portal DOM is not a stable contract. Every element the bot needs is
// found through an ordered chain of Locators, every wait is bounded, and
// row-level problems are logged and skipped rather than aborting the run.
// The browser itself is behind the Session interface; rodsession provides
// the real implementation and portaltest a DOM-backed fake.
package portal

import (
	"context"

	"github.com/hazyhaar/nfsebot/capture"
)

// Scope is a part of the document elements can be searched in.
type Scope interface {
	// Find returns the first element matching css. ok is false when
	// nothing matches; it does not wait.
	Find(ctx context.Context, css string) (el Element, ok bool, err error)
	// FindAll returns every element matching css, in document order.
	FindAll(ctx context.Context, css string) ([]Element, error)
}

// Element is a handle on one DOM node.
type Element interface {
	Scope
	Text(ctx context.Context) (string, error)
	// HTML returns the inner HTML.
	HTML(ctx context.Context) (string, error)
	// Click activates the element even when it is not in the viewport.
	Click(ctx context.Context) error
	// Fill replaces the value of an input.
	Fill(ctx context.Context, value string) error
}

// Expectation is a subscription started before the action that triggers
// it, so that a fast event is never missed. Wait blocks until the event or
// until its context ends. Stop releases the subscription and is safe to
// call more than once.
type Expectation[T any] struct {
	Wait func(ctx context.Context) (T, error)
	Stop func()
}

// Session is one browser tab owned by one run.
type Session interface {
	Navigate(ctx context.Context, url string) error
	URL() string
	Title(ctx context.Context) string
	Root() Scope
	BodyText(ctx context.Context) (string, error)
	ExpectNavigation(ctx context.Context) Expectation[struct{}]
	ExpectDownload(ctx context.Context) Expectation[capture.Download]
	Close() error
}

// Opener creates a fresh Session. Batch runs open one per company.
type Opener func(ctx context.Context) (Session, error)

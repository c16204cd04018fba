package portal

import (
	"context"
	"strings"
	"time"
)

// Locator identifies an element by CSS selector and, optionally, by a text
// fragment the element must contain (case-insensitive).
type Locator struct {
	CSS  string `yaml:"css"`
	Text string `yaml:"text,omitempty"`
}

func (l Locator) String() string {
	if l.Text == "" {
		return l.CSS
	}
	return l.CSS + `:has-text("` + l.Text + `")`
}

// Chain is an ordered list of candidate Locators for one logical element.
type Chain []Locator

// CSS builds a chain of plain selectors.
func CSS(selectors ...string) Chain {
	c := make(Chain, len(selectors))
	for i, s := range selectors {
		c[i] = Locator{CSS: s}
	}
	return c
}

// First evaluates chain in order against scope and returns the first element
// that resolves, with the locator that matched. It does not wait.
func First(ctx context.Context, scope Scope, chain Chain) (Element, Locator, bool, error) {
	for _, loc := range chain {
		el, ok, err := resolve(ctx, scope, loc)
		if err != nil {
			return nil, loc, false, err
		}
		if ok {
			return el, loc, true, nil
		}
	}
	return nil, Locator{}, false, nil
}

func resolve(ctx context.Context, scope Scope, loc Locator) (Element, bool, error) {
	if loc.Text == "" {
		return scope.Find(ctx, loc.CSS)
	}
	els, err := scope.FindAll(ctx, loc.CSS)
	if err != nil {
		return nil, false, err
	}
	want := strings.ToLower(loc.Text)
	for _, el := range els {
		txt, err := el.Text(ctx)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(txt), want) {
			return el, true, nil
		}
	}
	return nil, false, nil
}

// WaitFirst polls First until an element resolves or timeout elapses.
// Lookup errors count as "not yet".
func WaitFirst(ctx context.Context, scope Scope, chain Chain, timeout, interval time.Duration) (Element, bool) {
	el, ok := Await(ctx, timeout, func(ctx context.Context) (Element, error) {
		for {
			el, _, ok, _ := First(ctx, scope, chain)
			if ok {
				return el, nil
			}
			if err := pause(ctx, interval); err != nil {
				return nil, err
			}
		}
	})
	return el, ok
}

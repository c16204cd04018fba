package rodsession

import (
	"context"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/nfsebot/portal"
)

type pageScope struct{ page *rod.Page }

func (p pageScope) Find(ctx context.Context, css string) (portal.Element, bool, error) {
	has, el, err := p.page.Context(ctx).Has(css)
	if err != nil || !has {
		return nil, false, err
	}
	return &element{el}, true, nil
}

func (p pageScope) FindAll(ctx context.Context, css string) ([]portal.Element, error) {
	els, err := p.page.Context(ctx).Elements(css)
	if err != nil {
		return nil, err
	}
	return wrap(els), nil
}

type element struct{ el *rod.Element }

func wrap(els rod.Elements) []portal.Element {
	out := make([]portal.Element, len(els))
	for i, el := range els {
		out[i] = &element{el}
	}
	return out
}

func (e *element) Find(ctx context.Context, css string) (portal.Element, bool, error) {
	has, el, err := e.el.Context(ctx).Has(css)
	if err != nil || !has {
		return nil, false, err
	}
	return &element{el}, true, nil
}

func (e *element) FindAll(ctx context.Context, css string) ([]portal.Element, error) {
	els, err := e.el.Context(ctx).Elements(css)
	if err != nil {
		return nil, err
	}
	return wrap(els), nil
}

func (e *element) Text(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}

func (e *element) HTML(ctx context.Context) (string, error) {
	v, err := e.el.Context(ctx).Property("innerHTML")
	if err != nil {
		return "", err
	}
	return v.Str(), nil
}

// Click dispatches a DOM click. Portal menus are often hidden or
// overlapped, where a mouse click would wait for visibility.
func (e *element) Click(ctx context.Context) error {
	_, err := e.el.Context(ctx).Eval(`() => this.click()`)
	return err
}

// Fill types the value like a user. Inputs that refuse text selection
// (masked date fields) get the value set directly, with input and change
// events.
func (e *element) Fill(ctx context.Context, value string) error {
	el := e.el.Context(ctx)
	if err := el.SelectAllText(); err == nil {
		if err := el.Input(value); err == nil {
			return nil
		}
	}
	_, err := el.Eval(`(v) => {
		this.value = v;
		this.dispatchEvent(new Event('input', {bubbles: true}));
		this.dispatchEvent(new Event('change', {bubbles: true}));
	}`, value)
	return err
}

package navigation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bnema/domain-redirector/internal/models"
	"github.com/bnema/domain-redirector/internal/rewrite"
)

// EventKind names what caused an evaluation
type EventKind string

const (
	EventLoad        EventKind = "load"
	EventHashChange  EventKind = "hashchange"
	EventPopState    EventKind = "popstate"
	EventPushState   EventKind = "pushstate"
	EventStoreChange EventKind = "storechange"
)

// Event is a navigation or rule change notification. A non-empty URL is the
// location the user navigated to.
type Event struct {
	Kind EventKind
	URL  string
}

// RuleLoader provides a fresh rule set for every evaluation
type RuleLoader interface {
	Load() models.RuleSet
}

// Result is the outcome of one evaluation
type Result struct {
	Input       models.EvaluationInput
	Destination string
	Redirected  bool
}

// Trigger wires the rule store, the engine and the navigator together
type Trigger struct {
	rules  RuleLoader
	engine *rewrite.Engine
	nav    Navigator
}

// NewTrigger creates a trigger. A nil engine uses substring mode.
func NewTrigger(rules RuleLoader, engine *rewrite.Engine, nav Navigator) *Trigger {
	if engine == nil {
		engine = rewrite.New(rewrite.ModeSubstring)
	}
	return &Trigger{rules: rules, engine: engine, nav: nav}
}

// Check evaluates the navigator's current location and redirects if a rule
// applies
func (t *Trigger) Check() (Result, error) {
	in := models.InputFromURL(t.nav.Location())
	res := Result{Input: in}

	dest, ok := t.engine.Evaluate(in, t.rules.Load())
	if !ok {
		return res, nil
	}
	res.Destination = dest

	redirected, err := Redirect(t.nav, in.CurrentURL, dest)
	if err != nil {
		return res, fmt.Errorf("navigate to %s: %w", dest, err)
	}
	res.Redirected = redirected
	return res, nil
}

// Reevaluate runs Check and logs the outcome. It is the hook the settings
// service calls after every mutation.
func (t *Trigger) Reevaluate() {
	t.handle(Event{Kind: EventStoreChange})
}

// Run evaluates once for the initial load and then once per event, serially,
// until events is closed or ctx is done
func (t *Trigger) Run(ctx context.Context, events <-chan Event) error {
	t.handle(Event{Kind: EventLoad})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			t.handle(ev)
		}
	}
}

func (t *Trigger) handle(ev Event) {
	if ev.URL != "" && ev.URL != t.nav.Location() {
		if err := t.nav.Navigate(ev.URL); err != nil {
			slog.Error("Navigation failed", slog.String("event", string(ev.Kind)), slog.Any("error", err))
			return
		}
	}

	res, err := t.Check()
	if err != nil {
		slog.Error("Redirect failed", slog.String("event", string(ev.Kind)), slog.Any("error", err))
		return
	}
	if res.Redirected {
		slog.Info("Redirected",
			slog.String("event", string(ev.Kind)),
			slog.String("from", res.Input.CurrentURL),
			slog.String("to", res.Destination),
		)
		return
	}
	slog.Debug("No redirect", slog.String("event", string(ev.Kind)), slog.String("url", res.Input.CurrentURL))
}

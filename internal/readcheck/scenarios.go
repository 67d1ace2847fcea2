package readcheck

import (
	"context"
	"fmt"

	"entitygraph/internal/core"
	"entitygraph/internal/fixtures"
	"entitygraph/pkg/identity"
	"entitygraph/pkg/mapping"
	"entitygraph/pkg/storage"
)

// Result is the outcome of one scenario. Updates counts UPDATE statements
// issued while the entities were only being read.
type Result struct {
	Name       string
	Updates    int
	Statements int
	Err        error
}

// OK reports whether the scenario ran and wrote nothing.
func (r Result) OK() bool { return r.Err == nil && r.Updates == 0 }

type scenario struct {
	name string
	// seed writes the graph and returns the kind and id to read back.
	seed     func(ctx context.Context, s *core.Session) (string, identity.ID, error)
	populate []string
}

func libraryScenarios() []scenario {
	userWithBook := func(decimal any, readBook bool) func(context.Context, *core.Session) (string, identity.ID, error) {
		return func(ctx context.Context, s *core.Session) (string, identity.ID, error) {
			var user, book *core.Entity
			err := s.Transactional(ctx, func(_ context.Context, s *core.Session) error {
				var err error
				user, err = s.Create(fixtures.KindUser, mapping.Values{"name": "Foo Bar", "email": "foo@bar.com", "decimal": decimal})
				if err != nil {
					return err
				}
				book, err = s.Create(fixtures.KindBook, mapping.Values{
					"name":          "b1",
					"decimalAmount": decimal,
					"price":         mapping.Values{"amount": decimal, "currencyCode": "USD"},
					"user":          user,
				})
				return err
			})
			if err != nil {
				return "", identity.ID{}, err
			}
			if readBook {
				return fixtures.KindBook, book.ID(), nil
			}
			return fixtures.KindUser, user.ID(), nil
		}
	}
	return []scenario{
		{name: "user", seed: userWithBook("11.45", false)},
		{name: "book", seed: userWithBook("11.45", true)},
		{name: "user with books", seed: userWithBook("11.45", false), populate: []string{"books"}},
		{name: "book with trailing zeros", seed: userWithBook("11.00", true)},
		{name: "user with integer decimal", seed: userWithBook(11, false), populate: []string{"books"}},
	}
}

func shopScenarios() []scenario {
	invoiceGraph := func(ctx context.Context, s *core.Session) (string, identity.ID, error) {
		var invoice *core.Entity
		err := s.Transactional(ctx, func(_ context.Context, s *core.Session) error {
			author, err := s.New(fixtures.KindAuthor, mapping.Values{"name": "Ann", "metrics": mapping.Values{"metric01": 1, "metric02": 2}})
			if err != nil {
				return err
			}
			book, err := s.New(fixtures.KindBook, mapping.Values{"name": "Go", "author": author})
			if err != nil {
				return err
			}
			buyer, err := s.New(fixtures.KindBuyer, mapping.Values{"name": "Bo"})
			if err != nil {
				return err
			}
			order, err := s.New(fixtures.KindOrder, mapping.Values{"book": book, "buyer": buyer, "author": author})
			if err != nil {
				return err
			}
			invoice, err = s.Create(fixtures.KindInvoice, mapping.Values{"order": order, "author": author})
			return err
		})
		if err != nil {
			return "", identity.ID{}, err
		}
		return fixtures.KindInvoice, invoice.ID(), nil
	}
	return []scenario{
		{name: "invoice", seed: invoiceGraph},
		{name: "invoice with order graph", seed: invoiceGraph, populate: []string{"order.book.author", "order.buyer"}},
		{name: "invoice with author books", seed: invoiceGraph, populate: []string{"author.books", "author.orders"}},
	}
}

// Run executes the scenarios of the environment's fixture set, each in its
// own session.
func (e *Env) Run(ctx context.Context) ([]Result, error) {
	var scenarios []scenario
	switch e.Fixture {
	case fixtures.LibrarySet:
		scenarios = libraryScenarios()
	case fixtures.ShopSet:
		scenarios = shopScenarios()
	default:
		return nil, fmt.Errorf("no scenarios for fixture %q", e.Fixture)
	}
	results := make([]Result, 0, len(scenarios))
	for _, sc := range scenarios {
		res := e.run(ctx, sc)
		e.Logger.InfoContext(ctx, "scenario finished",
			"scenario", res.Name,
			"updates", res.Updates,
			"statements", res.Statements,
			"ok", res.OK(),
		)
		results = append(results, res)
	}
	return results, nil
}

func (e *Env) run(ctx context.Context, sc scenario) Result {
	res := Result{Name: sc.name}
	s := e.Manager.ForkNamed("readcheck/" + sc.name)
	kind, id, err := sc.seed(ctx, s)
	if err != nil {
		res.Err = fmt.Errorf("seed: %w", err)
		return res
	}
	s.Clear()
	mark := len(e.Recorder.Events())
	res.Err = s.Transactional(ctx, func(ctx context.Context, s *core.Session) error {
		_, err := s.FindOne(ctx, kind, id, core.WithPopulate(sc.populate...))
		return err
	})
	for _, ev := range e.Recorder.Events()[mark:] {
		if ev.Label != s.Label() {
			continue
		}
		if ev.Table != "" {
			res.Statements++
		}
		if ev.Kind == storage.EventUpdate {
			res.Updates++
		}
	}
	return res
}

package fixtures

import (
	"time"

	"entitygraph/pkg/mapping"
)

// Shop kinds. Book is shared with the library set by name only.
const (
	KindAuthor  = "Author"
	KindBuyer   = "Buyer"
	KindOrder   = "Order"
	KindInvoice = "Invoice"
)

// Shop registers authors, books, buyers, orders and invoices keyed by
// time-ordered identifiers. Every kind's constructor stamps createdAt with
// now.
func Shop(now func() time.Time) *mapping.Registry {
	created := func() mapping.Values {
		return mapping.Values{"createdAt": now()}
	}
	byID := func(name, target, mappedBy string) mapping.Relation {
		return mapping.Relation{Name: name, Kind: mapping.ToMany, Target: target, MappedBy: mappedBy, OrderBy: "id"}
	}
	owner := func(name, target, inversedBy string) mapping.Relation {
		return mapping.Relation{Name: name, Kind: mapping.ToOne, Target: target, InversedBy: inversedBy, Required: true}
	}
	createdAt := mapping.Field{Name: "createdAt", Type: mapping.Timestamp}
	name := mapping.Field{Name: "name", Type: mapping.String}

	return mapping.NewRegistry().MustRegister(
		mapping.Descriptor{
			Kind:   KindAuthor,
			Table:  "test_author",
			Fields: []mapping.Field{name, createdAt},
			Embedded: []mapping.Embedded{{
				Name: "metrics",
				Fields: []mapping.Field{
					{Name: "metric01", Column: "metric_01", Type: mapping.Integer, Nullable: true},
					{Name: "metric02", Column: "metric_02", Type: mapping.Integer, Nullable: true},
				},
			}},
			Relations: []mapping.Relation{
				byID("books", KindBook, "author"),
				byID("orders", KindOrder, "author"),
				byID("invoices", KindInvoice, "author"),
			},
			Constructor: created,
		},
		mapping.Descriptor{
			Kind:   KindBook,
			Table:  "test_books",
			Fields: []mapping.Field{name, createdAt},
			Relations: []mapping.Relation{
				owner("author", KindAuthor, "books"),
				byID("orders", KindOrder, "book"),
			},
			Constructor: created,
		},
		mapping.Descriptor{
			Kind:   KindBuyer,
			Table:  "test_buyer",
			Fields: []mapping.Field{name, createdAt},
			Relations: []mapping.Relation{
				byID("orders", KindOrder, "buyer"),
			},
			Constructor: created,
		},
		mapping.Descriptor{
			Kind:   KindOrder,
			Table:  "test_orders",
			Fields: []mapping.Field{createdAt},
			Relations: []mapping.Relation{
				owner("book", KindBook, "orders"),
				owner("buyer", KindBuyer, "orders"),
				owner("author", KindAuthor, "orders"),
				{Name: "invoices", Kind: mapping.ToMany, Target: KindInvoice, MappedBy: "order"},
			},
			Constructor: created,
		},
		mapping.Descriptor{
			Kind:   KindInvoice,
			Table:  "test_invoice",
			Fields: []mapping.Field{createdAt},
			Relations: []mapping.Relation{
				owner("order", KindOrder, "invoices"),
				owner("author", KindAuthor, "invoices"),
			},
			Constructor: created,
		},
	)
}

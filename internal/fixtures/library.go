package fixtures

import "entitygraph/pkg/mapping"

// Library kinds.
const (
	KindUser = "User"
	KindBook = "Book"
)

// Money is the embedded price of a library book.
var Money = mapping.Embedded{
	Name:   "price",
	Prefix: "price_",
	Fields: []mapping.Field{
		{Name: "amount", Type: mapping.Decimal(2), Nullable: true},
		{Name: "currencyCode", Type: mapping.Text(3), Nullable: true},
	},
}

// Library registers users owning books priced with embedded Money. Books are
// loaded in id order.
func Library() *mapping.Registry {
	return mapping.NewRegistry().MustRegister(
		mapping.Descriptor{
			Kind:  KindUser,
			Table: "test_user",
			Fields: []mapping.Field{
				{Name: "name", Type: mapping.String},
				{Name: "email", Type: mapping.String, Nullable: true},
				{Name: "decimal", Type: mapping.Decimal(2), Nullable: true},
			},
			Relations: []mapping.Relation{
				{Name: "books", Kind: mapping.ToMany, Target: KindBook, MappedBy: "user", OrderBy: "id"},
			},
		},
		mapping.Descriptor{
			Kind:  KindBook,
			Table: "test_books",
			Fields: []mapping.Field{
				{Name: "name", Type: mapping.String},
				{Name: "decimalAmount", Type: mapping.Decimal(2)},
			},
			Embedded: []mapping.Embedded{Money},
			Relations: []mapping.Relation{
				{Name: "user", Kind: mapping.ToOne, Target: KindUser, InversedBy: "books", Required: true},
			},
		},
	)
}

package fixtures

import (
	"strings"
	"testing"
	"time"
)

func TestRegistriesValidate(t *testing.T) {
	for _, set := range Sets() {
		reg, err := Registry(set)
		if err != nil {
			t.Fatalf("%s: %v", set, err)
		}
		if err := reg.Validate(); err != nil {
			t.Fatalf("%s: validate: %v", set, err)
		}
	}
	if _, err := Registry("garden"); err == nil {
		t.Fatalf("expected unknown set error")
	}
}

func TestShopColumnsMatchDDL(t *testing.T) {
	reg := Shop(time.Now)
	ddl, err := DDL(ShopSet, SQLite)
	if err != nil {
		t.Fatalf("ddl: %v", err)
	}
	for _, kind := range reg.Kinds() {
		desc, _ := reg.Describe(kind)
		if !strings.Contains(ddl, "CREATE TABLE IF NOT EXISTS "+desc.Table) {
			t.Fatalf("missing table %s", desc.Table)
		}
		for _, col := range desc.Columns() {
			if !strings.Contains(ddl, col+" ") {
				t.Fatalf("%s: column %s missing from DDL", kind, col)
			}
		}
	}
}

func TestLibraryColumnsMatchDDL(t *testing.T) {
	reg := Library()
	for _, dialect := range []Dialect{SQLite, Postgres} {
		ddl, err := DDL(LibrarySet, dialect)
		if err != nil {
			t.Fatalf("ddl: %v", err)
		}
		for _, kind := range reg.Kinds() {
			desc, _ := reg.Describe(kind)
			for _, col := range desc.Columns() {
				if !strings.Contains(ddl, col+" ") {
					t.Fatalf("%s/%s: column %s missing from DDL", dialect, kind, col)
				}
			}
		}
	}
}

func TestShopConstructorStampsCreatedAt(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	reg := Shop(func() time.Time { return fixed })
	desc, err := reg.Describe(KindOrder)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if got := desc.Defaults()["createdAt"]; got != fixed {
		t.Fatalf("expected createdAt default %v, got %v", fixed, got)
	}
}

func TestDDLUnknownDialect(t *testing.T) {
	if _, err := DDL(LibrarySet, Dialect("oracle")); err == nil {
		t.Fatalf("expected error")
	}
}

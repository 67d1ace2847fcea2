package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"entitygraph/internal/blob/core"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	if s.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
	md := map[string]string{"label": "default"}
	info, err := s.Put(ctx, "journal/b", strings.NewReader("hello"), core.PutOptions{ContentType: "text/plain", Metadata: md})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	md["label"] = "mutated"
	if info.Size != 5 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "journal/b", strings.NewReader("again"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := s.Put(ctx, "journal/a", strings.NewReader("x"), core.PutOptions{}); err != nil {
		t.Fatalf("put a: %v", err)
	}
	if _, err := s.Put(ctx, "other", strings.NewReader("x"), core.PutOptions{}); err != nil {
		t.Fatalf("put other: %v", err)
	}

	got, rc, err := s.Get(ctx, "journal/b")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "hello" || got.Metadata["label"] != "default" {
		t.Fatalf("unexpected blob %q %+v", body, got)
	}

	list, err := s.List(ctx, "journal/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "journal/a" || list[1].Key != "journal/b" {
		t.Fatalf("unexpected list %+v", list)
	}

	if ok, _ := s.Delete(ctx, "journal/a"); !ok {
		t.Fatalf("expected delete to report existing blob")
	}
	if ok, _ := s.Delete(ctx, "journal/a"); ok {
		t.Fatalf("expected second delete to report missing blob")
	}
	if _, _, err := s.Get(ctx, "journal/a"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("read fail") }

func TestMemoryStorePutReadError(t *testing.T) {
	if _, err := New().Put(context.Background(), "k", failingReader{}, core.PutOptions{}); err == nil {
		t.Fatalf("expected read error")
	}
}

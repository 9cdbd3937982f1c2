package sqlite

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/louisbranch/venue/internal/discovery"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "discovery.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(" "); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestPutListDelete(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	for _, rec := range []discovery.Record{
		{Service: "gateway_b", Addr: "127.0.0.1:2"},
		{Service: "ext_greeter", Addr: "127.0.0.1:1"},
	} {
		if err := store.PutRecord(ctx, rec); err != nil {
			t.Fatalf("put %s: %v", rec.Service, err)
		}
	}

	got, err := store.ListRecords(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []discovery.Record{
		{Service: "ext_greeter", Addr: "127.0.0.1:1"},
		{Service: "gateway_b", Addr: "127.0.0.1:2"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	if err := store.DeleteRecord(ctx, "ext_greeter", "127.0.0.1:9"); err != nil {
		t.Fatalf("delete other owner: %v", err)
	}
	if got, _ := store.ListRecords(ctx); len(got) != 2 {
		t.Fatalf("non-owner delete removed a record: %v", got)
	}
	if err := store.DeleteRecord(ctx, "ext_greeter", "127.0.0.1:1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := store.ListRecords(ctx); len(got) != 1 || got[0].Service != "gateway_b" {
		t.Fatalf("unexpected records after delete: %v", got)
	}
}

func TestPutRecordReplacesAddr(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	_ = store.PutRecord(ctx, discovery.Record{Service: "alpha", Addr: "old:1"})
	if err := store.PutRecord(ctx, discovery.Record{Service: "alpha", Addr: "new:1"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, _ := store.ListRecords(ctx)
	if len(got) != 1 || got[0].Addr != "new:1" {
		t.Fatalf("unexpected records %v", got)
	}
}

func TestReopenKeepsRecords(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "discovery.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.PutRecord(context.Background(), discovery.Record{Service: "alpha", Addr: "a:1"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	_ = store.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.ListRecords(context.Background())
	if err != nil || len(got) != 1 {
		t.Fatalf("expected persisted record, got %v err=%v", got, err)
	}
}

func TestStoreServesHubRestore(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	_ = store.PutRecord(context.Background(), discovery.Record{Service: "alpha", Addr: "a:1"})

	var _ discovery.Store = store
	hub, err := discovery.NewServer(context.Background(), store)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	resp, err := hub.List(context.Background(), nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	records := resp.GetFields()["records"].GetListValue().GetValues()
	if len(records) != 1 {
		t.Fatalf("expected restored record, got %v", records)
	}
}

package source

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/mangafetch/dbopen"
)

func ids(ss []*Source) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRegistry_RegisterRejectsDuplicateAndInvalid(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(testSource("alpha", 1)); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(testSource("alpha", 2)); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	bad := testSource("beta", 1)
	bad.BaseURL = "javascript:alert(1)"
	if err := r.Register(bad); err == nil {
		t.Fatal("invalid source registered")
	}
}

func TestRegistry_ReturnsCopies(t *testing.T) {
	// WHAT: Mutating a source returned by Get does not affect the registry.
	// WHY: Sources are immutable once registered.
	r := NewRegistry()
	r.Register(testSource("alpha", 1))

	s, _ := r.Get("alpha")
	s.Priority = 99
	s.Endpoints["latest"] = Endpoint{Path: "/x", Kind: "manga"}

	again, _ := r.Get("alpha")
	if again.Priority != 1 || again.Endpoints["latest"].Path == "/x" {
		t.Fatalf("registry state mutated: %+v", again)
	}
}

func TestRegistry_Candidates(t *testing.T) {
	r := NewRegistry()
	a := testSource("a", 1)
	b := testSource("b", 2)
	c := testSource("c", 3)
	c.Fallback = false
	d := testSource("d", 0)
	d.Active = false
	e := testSource("e", 4)
	delete(e.Endpoints, "search")
	for _, s := range []*Source{a, b, c, d, e} {
		if err := r.Register(s); err != nil {
			t.Fatal(err)
		}
	}

	got, err := r.Candidates("search", "")
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"a", "b"}; !equal(ids(got), want) {
		t.Fatalf("default order = %v, want %v", ids(got), want)
	}

	// A preferred source leads even when it is not fallback-eligible.
	got, err = r.Candidates("search", "c")
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"c", "a", "b"}; !equal(ids(got), want) {
		t.Fatalf("preferred order = %v, want %v", ids(got), want)
	}

	got, _ = r.Candidates("latest", "")
	if want := []string{"a", "b", "e"}; !equal(ids(got), want) {
		t.Fatalf("latest order = %v, want %v", ids(got), want)
	}

	if _, err := r.Candidates("search", "d"); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("inactive preferred: err = %v", err)
	}
	if _, err := r.Candidates("search", "zzz"); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("unknown preferred: err = %v", err)
	}
	if _, err := r.Candidates("genres", ""); !errors.Is(err, ErrNoCandidate) {
		t.Fatalf("unserved target: err = %v", err)
	}
}

func TestRegistry_ReplaceSkipsInvalidAndNotifies(t *testing.T) {
	r := NewRegistry()
	r.Register(testSource("old", 1))

	var seen []string
	r.OnChange(func(all []*Source) { seen = ids(all) })

	bad := testSource("bad", 0)
	bad.Endpoints = nil
	n := r.Replace([]*Source{testSource("b", 2), bad, testSource("a", 1)})
	if n != 2 {
		t.Fatalf("installed %d, want 2", n)
	}
	if _, ok := r.Get("old"); ok {
		t.Error("old source survived Replace")
	}
	if want := []string{"a", "b"}; !equal(seen, want) {
		t.Fatalf("hook saw %v, want %v", seen, want)
	}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	st := NewStore(dbopen.OpenMemory(t))
	if err := st.Init(ctx); err != nil {
		t.Fatal(err)
	}

	src := testSource("alpha", 3)
	src.RateLimit.Requests = 4
	src.RateLimit.Window = 2 * time.Second
	if err := st.Upsert(ctx, src); err != nil {
		t.Fatal(err)
	}
	src.Priority = 1
	if err := st.Upsert(ctx, src); err != nil {
		t.Fatal(err)
	}

	got, err := st.Get(ctx, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if got.Priority != 1 || got.RateLimit.Window != 2*time.Second || got.RateLimit.Requests != 4 {
		t.Fatalf("got %+v", got)
	}
	if got.Rules["manga"].Item.Primary != ".card" || got.Endpoints["search"].Path != "/search/{query}" {
		t.Fatalf("json columns lost data: %+v", got)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("reloaded source invalid: %v", err)
	}

	if err := st.SetActive(ctx, "alpha", false); err != nil {
		t.Fatal(err)
	}
	all, err := st.List(ctx)
	if err != nil || len(all) != 1 || all[0].Active {
		t.Fatalf("list = %v, %v", all, err)
	}

	if err := st.Delete(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Get(ctx, "alpha"); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("err = %v, want ErrUnknownSource", err)
	}
	if err := st.Delete(ctx, "alpha"); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("second delete err = %v", err)
	}
}

func TestStore_UpsertRejectsInvalid(t *testing.T) {
	st := NewStore(dbopen.OpenMemory(t))
	st.Init(context.Background())
	bad := testSource("alpha", 1)
	bad.Rules = nil
	if err := st.Upsert(context.Background(), bad); err == nil {
		t.Fatal("invalid source stored")
	}
}

func TestWatch_ReloadsOnExternalWrite(t *testing.T) {
	// WHAT: A write from another connection shows up in the registry.
	// WHY: Operators edit the sources table while the service runs.
	path := filepath.Join(t.TempDir(), "sources.db")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	readDB, err := dbopen.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer readDB.Close()
	readDB.SetMaxOpenConns(1)
	reader := NewStore(readDB)
	if err := reader.Init(ctx); err != nil {
		t.Fatal(err)
	}

	writeDB, err := dbopen.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer writeDB.Close()
	writer := NewStore(writeDB)

	reg := NewRegistry()
	done := make(chan struct{})
	go func() {
		reg.Watch(ctx, reader, 20*time.Millisecond)
		close(done)
	}()

	if err := writer.Upsert(ctx, testSource("alpha", 1)); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, ok := reg.Get("alpha"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("registry never picked up the new source")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}

func TestStore_ImportIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	st := NewStore(dbopen.OpenMemory(t))
	st.Init(ctx)

	bad := testSource("bad", 2)
	bad.Endpoints = nil
	if err := st.Import(ctx, []*Source{testSource("a", 1), bad}); err == nil {
		t.Fatal("import with an invalid source succeeded")
	}
	if all, _ := st.List(ctx); len(all) != 0 {
		t.Fatalf("partial import: %d rows", len(all))
	}

	if err := st.Import(ctx, []*Source{testSource("b", 2), testSource("a", 1)}); err != nil {
		t.Fatal(err)
	}
	all, _ := st.List(ctx)
	if want := []string{"a", "b"}; !equal(ids(all), want) {
		t.Fatalf("rows = %v, want %v", ids(all), want)
	}
}

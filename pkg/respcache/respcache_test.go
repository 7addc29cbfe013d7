package respcache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const shiftsURL = "https://api.example/rest/v1/shifts?agent_id=eq.a1&order=shift_date.asc"

func TestCache_PutAndGet(t *testing.T) {
	c, err := New(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	body := []byte(`[{"id":"s1"}]`)
	if err := c.Put(shiftsURL, body, "application/json"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, entry, ok := c.Get(shiftsURL)
	if !ok {
		t.Fatal("Get returned not ok")
	}
	if string(got) != string(body) {
		t.Errorf("body = %s, want %s", got, body)
	}
	if entry.ContentType != "application/json" || entry.Size != int64(len(body)) {
		t.Errorf("entry = %+v", entry)
	}

	if _, _, ok := c.Get("https://api.example/other"); ok {
		t.Error("Get returned ok for unknown key")
	}
}

func TestCache_ReplaceKeepsSizeAccurate(t *testing.T) {
	c, _ := New(t.TempDir(), 1<<20)
	c.Put(shiftsURL, []byte("12345"), "")
	c.Put(shiftsURL, []byte("12"), "")

	size, _, count := c.Stats()
	if size != 2 || count != 1 {
		t.Errorf("Stats = size %d count %d, want 2 and 1", size, count)
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := New(t.TempDir(), 10)

	c.Put("a", []byte("aaaa"), "")
	time.Sleep(2 * time.Millisecond)
	c.Put("b", []byte("bbbb"), "")
	time.Sleep(2 * time.Millisecond)
	c.Get("a") // a is now more recent than b
	time.Sleep(2 * time.Millisecond)

	if err := c.Put("c", []byte("cccc"), ""); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, _, ok := c.Get("a"); !ok {
		t.Error("a should survive eviction")
	}
}

func TestCache_RejectsOversizedBody(t *testing.T) {
	c, _ := New(t.TempDir(), 4)
	if err := c.Put("big", []byte("too large"), ""); err == nil {
		t.Fatal("expected error for body larger than cache")
	}
}

func TestCache_IndexSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	c, _ := New(dir, 1<<20)
	c.Put(shiftsURL, []byte("[]"), "application/json")

	reopened, err := New(dir, 1<<20)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got, _, ok := reopened.Get(shiftsURL); !ok || string(got) != "[]" {
		t.Errorf("Get after reopen = %q, %v", got, ok)
	}
}

func TestCache_CorruptIndexIsDiscarded(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, indexFile), []byte("{"), 0600)

	c, err := New(dir, 1<<20)
	if err != nil {
		t.Fatalf("New with corrupt index: %v", err)
	}
	if _, _, n := c.Stats(); n != 0 {
		t.Errorf("count = %d, want empty cache", n)
	}
}

func TestCache_Purge(t *testing.T) {
	dir := t.TempDir()
	c, _ := New(dir, 1<<20)
	c.Put("a", []byte("x"), "")
	c.Put("b", []byte("y"), "")

	if err := c.Purge(context.Background()); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if size, _, n := c.Stats(); size != 0 || n != 0 {
		t.Errorf("Stats after purge = %d bytes, %d entries", size, n)
	}

	files, _ := os.ReadDir(dir)
	if len(files) != 0 {
		t.Errorf("%d files left after purge", len(files))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Purge(ctx); err == nil {
		t.Error("Purge with cancelled context should fail")
	}
}

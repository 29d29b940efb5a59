package feedcache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestBoltRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := key.BoltPath(dir)

	be, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	c, err := Open(ctx, be, key, quiet(5))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	c.AddItem(item("a", 1))
	c.AddItem(item("b", 2))
	c.SetStatus("busy")
	if err := c.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	be2, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("reopen bolt: %v", err)
	}
	c2, err := Open(ctx, be2, key, quiet(5))
	if err != nil {
		t.Fatalf("reopen cache: %v", err)
	}
	if got := ids(c2); got != "b a " || c2.Status() != "busy" {
		t.Fatalf("restored ids=%q status=%q", got, c2.Status())
	}

	if err := c2.Delete(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("bolt file still present: %v", err)
	}
}

func TestBoltPathIsDeterministic(t *testing.T) {
	got := Key{Account: "me@example.org", Channel: "a/b@example.org"}.BoltPath("/var/cache")
	want := filepath.Join("/var/cache", "me@example.org", "a%2Fb@example.org.db")
	if got != want {
		t.Fatalf("path = %q, want %q", got, want)
	}
}

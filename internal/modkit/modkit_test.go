package modkit

import (
	"net/http"
	"testing"
)

func TestBuild(t *testing.T) {
	noop := func(h http.Handler) http.Handler { return h }
	defaults := Built{Name: "channels", Prefix: "/channels", Mw: []func(http.Handler) http.Handler{noop}}

	b := Build(defaults, WithPrefix("/feeds"), WithMiddlewares(noop), WithPorts("port"))
	if b.Name != "channels" || b.Prefix != "/feeds" || len(b.Mw) != 2 || b.Ports != "port" {
		t.Fatalf("built = %+v", b)
	}
	if len(defaults.Mw) != 1 {
		t.Fatalf("defaults mutated")
	}
	if got := Build(defaults, WithName("x")).Name; got != "x" {
		t.Fatalf("name = %q", got)
	}
}

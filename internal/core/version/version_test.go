package version

import "testing"

func TestInfo(t *testing.T) {
	b := Info("feedthreads-api")
	if b.Service != "feedthreads-api" || b.Version != "dev" {
		t.Fatalf("info = %+v", b)
	}
	if got := b.String(); got != "feedthreads-api dev (none, unknown)" {
		t.Fatalf("String = %q", got)
	}
}

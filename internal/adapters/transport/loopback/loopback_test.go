package loopback

import (
	"context"
	"testing"
	"time"

	perr "feedthreads/internal/platform/errors"
	"feedthreads/internal/platform/logger"
	"feedthreads/internal/platform/testkit"
	"feedthreads/internal/services/channels/domain"
	"feedthreads/internal/services/channels/service"
)

const alice = "alice@example.org"

func running(t *testing.T) (*Transport, *service.Manager) {
	t.Helper()
	tr := New()
	nop := logger.Nop()
	mgr := service.New(service.Options{Transport: tr, Logger: &nop})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Run(ctx, mgr)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = mgr.Close(context.Background())
	})
	testkit.Eventually(t, time.Second, time.Millisecond, func() bool { return tr.Ping(ctx) == nil }, "sink bound")
	return tr, mgr
}

func kinds(p domain.RowsPage) string {
	s := ""
	for _, r := range p.Rows {
		s += r.Kind + " "
	}
	return s
}

func TestPublishRoundTrip(t *testing.T) {
	testkit.Serial(t)
	tick := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	testkit.Swap(t, &now, func() time.Time {
		tick = tick.Add(time.Minute)
		return tick
	})
	_, mgr := running(t)
	ctx := context.Background()

	if _, err := mgr.Activate(ctx, alice); err != nil {
		t.Fatalf("Activate = %v", err)
	}
	root, err := mgr.Publish(ctx, alice, domain.PublishInput{Content: "first"})
	if err != nil {
		t.Fatalf("Publish = %v", err)
	}
	if _, err := mgr.Publish(ctx, alice, domain.PublishInput{Content: "reply", InReplyTo: root.ID}); err != nil {
		t.Fatalf("Publish reply = %v", err)
	}
	page, err := mgr.Rows(ctx, alice, 0)
	if err != nil {
		t.Fatalf("Rows = %v", err)
	}
	if got := kinds(page); got != "root reply divider " {
		t.Fatalf("rows = %q", got)
	}

	if err := mgr.Retract(ctx, alice, root.ID); err != nil {
		t.Fatalf("Retract = %v", err)
	}
	if err := mgr.SetStatus(ctx, alice, domain.StatusInput{Status: "away"}); err != nil {
		t.Fatalf("SetStatus = %v", err)
	}
	if err := mgr.UpdateConfig(ctx, alice, domain.ConfigInput{Config: map[string]string{"title": "Alice"}}); err != nil {
		t.Fatalf("UpdateConfig = %v", err)
	}
	sum := mgr.Channels(ctx)[0]
	if sum.Status != "away" || sum.Title != "Alice" || sum.Items != 1 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestPagesServeOlderHistory(t *testing.T) {
	tr, mgr := running(t)
	ctx := context.Background()
	for _, c := range []string{"a", "b", "c"} {
		if _, err := tr.PublishItem(ctx, alice, domain.PublishInput{Content: c}); err != nil {
			t.Fatalf("PublishItem = %v", err)
		}
	}
	// a fresh view of an uncached channel pulls everything back through pages
	if err := mgr.Reset(ctx, alice); err != nil {
		t.Fatalf("Reset = %v", err)
	}
	if _, err := mgr.Activate(ctx, alice); err != nil {
		t.Fatalf("Activate = %v", err)
	}
	testkit.Eventually(t, time.Second, time.Millisecond, func() bool {
		return mgr.Channels(ctx)[0].Items == 3
	}, "history paged in")
}

func TestUnboundRefuses(t *testing.T) {
	tr := New()
	ctx := context.Background()
	if _, err := tr.PublishItem(ctx, alice, domain.PublishInput{Content: "x"}); !perr.IsCode(err, perr.ErrorCodeUnavailable) {
		t.Fatalf("PublishItem = %v", err)
	}
	if err := tr.RequestMoreItems(ctx, domain.PageRequest{Channel: alice, Max: 5}); !perr.IsCode(err, perr.ErrorCodeUnavailable) {
		t.Fatalf("RequestMoreItems = %v", err)
	}
}

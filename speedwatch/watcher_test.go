package speedwatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/vscd/audit"
	"github.com/hazyhaar/vscd/dbopen"
	"github.com/hazyhaar/vscd/speedwatch/event"
	"github.com/hazyhaar/vscd/speedwatch/internal/config"
	"github.com/hazyhaar/vscd/speedwatch/internal/engine"
	"github.com/hazyhaar/vscd/speedwatch/internal/memdom"
	"github.com/hazyhaar/vscd/speedwatch/internal/settings"
	"github.com/hazyhaar/vscd/speedwatch/internal/speed"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newWatcher(t *testing.T, provider settings.Provider, sinks ...Sink) *Watcher {
	t.Helper()
	w := New(nil, provider, quiet(), sinks...)
	t.Cleanup(w.Stop)
	return w
}

func attach(t *testing.T, w *Watcher, id, markup string) {
	t.Helper()
	doc := memdom.MustParse("https://example.org/"+id, markup)
	if err := w.Attach(context.Background(), id, doc); err != nil {
		t.Fatal(err)
	}
}

// waitFor polls the page's controllers until ok accepts them.
func waitFor(t *testing.T, w *Watcher, id string, ok func([]engine.Controller) bool) []engine.Controller {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		ctrls, err := w.Controllers(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if ok(ctrls) {
			return ctrls
		}
		if time.Now().After(deadline) {
			t.Fatalf("controllers never settled: %+v", ctrls)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func count(n int) func([]engine.Controller) bool {
	return func(c []engine.Controller) bool { return len(c) == n }
}

func TestAttach_DiscoversMedia(t *testing.T) {
	w := newWatcher(t, nil)
	attach(t, w, "p1", `<video src="a.mp4"></video><video src="b.mp4"></video>`)

	ctrls := waitFor(t, w, "p1", count(2))
	for _, c := range ctrls {
		if c.Tag != "video" || c.Speed != 1 {
			t.Fatalf("controller = %+v", c)
		}
	}
	pages := w.Pages()
	if len(pages) != 1 || pages[0].ID != "p1" || pages[0].Remote {
		t.Fatalf("pages = %+v", pages)
	}
}

func TestAttach_Duplicate(t *testing.T) {
	w := newWatcher(t, nil)
	attach(t, w, "p1", `<video src="a.mp4"></video>`)
	doc := memdom.MustParse("https://example.org/", `<video></video>`)
	if err := w.Attach(context.Background(), "p1", doc); !errors.Is(err, ErrPageExists) {
		t.Fatalf("err = %v, want ErrPageExists", err)
	}
}

func TestAttach_DisabledFails(t *testing.T) {
	snap := settings.Defaults()
	snap.Enabled = false
	w := newWatcher(t, settings.NewMemory(snap))
	doc := memdom.MustParse("https://example.org/", `<video src="a.mp4"></video>`)
	if err := w.Attach(context.Background(), "p1", doc); !errors.Is(err, engine.ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
	if len(w.Pages()) != 0 {
		t.Fatal("disabled page registered")
	}
}

func TestRunAction(t *testing.T) {
	w := newWatcher(t, nil)
	attach(t, w, "p1", `<video src="a.mp4"></video>`)
	waitFor(t, w, "p1", count(1))

	ctrls, err := w.RunAction(context.Background(), "p1", speed.ActionFaster, 0.25)
	if err != nil {
		t.Fatal(err)
	}
	if ctrls[0].Speed != 1.25 {
		t.Fatalf("speed = %v, want 1.25", ctrls[0].Speed)
	}

	if _, err := w.RunAction(context.Background(), "p1", "warp", 1); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("err = %v, want ErrUnknownAction", err)
	}
	if _, err := w.RunAction(context.Background(), "nope", speed.ActionFaster, 0.1); !errors.Is(err, ErrPageNotFound) {
		t.Fatalf("err = %v, want ErrPageNotFound", err)
	}
}

func TestSendMessage(t *testing.T) {
	w := newWatcher(t, nil)
	attach(t, w, "p1", `<video src="a.mp4"></video>`)
	waitFor(t, w, "p1", count(1))

	two := 2.0
	ok, err := w.SendMessage(context.Background(), "p1", speed.Message{
		Type:    speed.MessageSetSpeed,
		Payload: speed.MessagePayload{Speed: &two},
	})
	if err != nil || !ok {
		t.Fatalf("ok = %v err = %v", ok, err)
	}
	if c := waitFor(t, w, "p1", count(1)); c[0].Speed != 2 {
		t.Fatalf("speed = %v, want 2", c[0].Speed)
	}

	ok, err = w.SendMessage(context.Background(), "p1", speed.Message{Type: speed.MessageSetSpeed})
	if err != nil || ok {
		t.Fatalf("message without speed: ok = %v err = %v", ok, err)
	}
}

func TestClosePage(t *testing.T) {
	w := newWatcher(t, nil)
	attach(t, w, "p1", `<video src="a.mp4"></video>`)
	if err := w.ClosePage("p1"); err != nil {
		t.Fatal(err)
	}
	if len(w.Pages()) != 0 {
		t.Fatal("page still listed")
	}
	if err := w.ClosePage("p1"); !errors.Is(err, ErrPageNotFound) {
		t.Fatalf("err = %v, want ErrPageNotFound", err)
	}
	if _, err := w.Controllers(context.Background(), "p1"); !errors.Is(err, ErrPageNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestSinks_ReceiveEvents(t *testing.T) {
	got := make(chan event.RateChange, 16)
	cb := NewCallbackSink(func(_ context.Context, ev event.RateChange) error {
		got <- ev
		return nil
	})
	w := newWatcher(t, nil, cb)
	attach(t, w, "p1", `<video src="a.mp4"></video>`)
	waitFor(t, w, "p1", count(1))
	if _, err := w.RunAction(context.Background(), "p1", speed.ActionFaster, 0.1); err != nil {
		t.Fatal(err)
	}

	var attached, rated *event.RateChange
	deadline := time.After(5 * time.Second)
	for attached == nil || rated == nil {
		select {
		case ev := <-got:
			switch {
			case ev.Kind == event.KindAttach:
				attached = &ev
			case ev.Kind == event.KindRate && ev.Speed == 1.1:
				rated = &ev
			}
		case <-deadline:
			t.Fatalf("attach = %+v rate = %+v", attached, rated)
		}
	}
	if attached.PageID != "p1" || attached.Tag != "video" {
		t.Fatalf("attach = %+v", attached)
	}
	if rated.Source != event.SourceInternal || rated.Previous != 1 {
		t.Fatalf("rate = %+v", rated)
	}
}

func TestReload_BroadcastsDefaults(t *testing.T) {
	st, err := settings.NewStore(dbopen.OpenMemory(t), nil, quiet())
	if err != nil {
		t.Fatal(err)
	}
	w := newWatcher(t, st)
	attach(t, w, "p1", `<audio src="a.mp3"></audio>`)
	waitFor(t, w, "p1", func(c []engine.Controller) bool { return len(c) == 1 && !c[0].Hidden })

	cfg, err := config.Parse([]byte("settings:\n  defaults:\n    audioBoolean: false\n"))
	if err != nil {
		t.Fatal(err)
	}
	w.Reload(context.Background(), cfg)

	waitFor(t, w, "p1", func(c []engine.Controller) bool { return len(c) == 1 && c[0].Hidden })
	// The attached page is not in the configuration and stays.
	if len(w.Pages()) != 1 {
		t.Fatalf("pages = %+v", w.Pages())
	}
}

func TestStop_NoLeaks(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	w := New(nil, nil, quiet(), NewCallbackSink(nil))
	attach(t, w, "p1", `<video src="a.mp4"></video>`)
	attach(t, w, "p2", `<audio src="a.mp3"></audio>`)
	waitFor(t, w, "p1", count(1))
	w.Stop()
	if len(w.Pages()) != 0 {
		t.Fatal("pages left after Stop")
	}
}

func TestOpenSettings(t *testing.T) {
	cfg, err := config.Parse([]byte("settings:\n  db: " + t.TempDir() + "/s/speedwatch.db\n  defaults:\n    lastSpeed: 1.5\n"))
	if err != nil {
		t.Fatal(err)
	}
	st, db, err := OpenSettings(cfg, quiet())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	snap, err := st.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.LastSpeed != 1.5 {
		t.Fatalf("lastSpeed = %v, want configured 1.5", snap.LastSpeed)
	}
}

func TestCommand_AuditLogAtCallTime(t *testing.T) {
	w := newWatcher(t, nil)
	attach(t, w, "p1", `<video src="a.mp4"></video>`)
	waitFor(t, w, "p1", count(1))
	ctx := context.Background()
	run := w.command("speedwatch_action", w.actionEndpoint)

	// Built before any log is set: nothing to record yet.
	if _, err := run(ctx, &actionReq{PageID: "p1", Action: speed.ActionFaster, Value: 0.1}); err != nil {
		t.Fatal(err)
	}

	al := audit.NewSQLiteLogger(dbopen.OpenMemory(t, dbopen.WithSchema(audit.Schema)), audit.WithLogger(quiet()))
	w.SetAuditLog(al)
	if _, err := run(ctx, &actionReq{PageID: "p1", Action: speed.ActionSlower, Value: 0.1}); err != nil {
		t.Fatal(err)
	}

	w.SetAuditLog(nil)
	if _, err := run(ctx, &actionReq{PageID: "p1", Action: speed.ActionReset}); err != nil {
		t.Fatal(err)
	}
	al.Close()

	entries, err := al.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %+v, want only the call made while the log was set", entries)
	}
	e := entries[0]
	if e.Action != "speedwatch_action" || e.Transport != "http" || e.Status != "success" {
		t.Fatalf("entry = %+v", e)
	}
	if !strings.Contains(e.Parameters, `"action":"slower"`) {
		t.Fatalf("parameters = %s", e.Parameters)
	}
}

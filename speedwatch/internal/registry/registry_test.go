package registry

import (
	"testing"

	"github.com/hazyhaar/vscd/speedwatch/internal/memdom"
)

func TestAddGetRemove(t *testing.T) {
	doc := memdom.MustParse("https://x.test/", `<video id="a"></video><video id="b"></video>`)
	a, b := doc.GetMedia("#a"), doc.GetMedia("#b")
	r := New()

	if err := r.Add(&Record{ID: "a", Media: a}); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(&Record{ID: "a2", Media: a}); err != ErrAttached {
		t.Fatalf("second add: got %v, want ErrAttached", err)
	}
	r.Add(&Record{ID: "b", Media: b})

	// A fresh wrapper for the same node resolves to the same record.
	if rec, ok := r.Get(doc.GetMedia("#a")); !ok || rec.ID != "a" {
		t.Fatal("lookup by node identity failed")
	}
	if all := r.All(); len(all) != 2 || all[0].ID != "a" || all[1].ID != "b" {
		t.Fatal("creation order")
	}
	if rec, ok := r.ByID("b"); !ok || rec.Media.NodeID() != b.NodeID() {
		t.Fatal("ByID")
	}

	if _, ok := r.Remove(a); !ok {
		t.Fatal("remove")
	}
	if r.Has(a) || r.Len() != 1 {
		t.Fatal("record survived removal")
	}
}

func TestAllMedia_SkipsDisconnected(t *testing.T) {
	doc := memdom.MustParse("https://x.test/", `<video id="a"></video><video id="b"></video>`)
	r := New()
	r.Add(&Record{ID: "a", Media: doc.GetMedia("#a")})
	r.Add(&Record{ID: "b", Media: doc.GetMedia("#b")})

	doc.Get("#a").Remove()
	got := r.AllMedia()
	if len(got) != 1 || got[0].NodeID() != doc.GetMedia("#b").NodeID() {
		t.Fatalf("AllMedia: %d", len(got))
	}
}

func TestRelease_ReverseOnce(t *testing.T) {
	var order []int
	rec := &Record{}
	rec.OnRelease(func() { order = append(order, 1) })
	rec.OnRelease(func() { order = append(order, 2) })
	rec.Release()
	rec.Release()
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("order: %v", order)
	}
}

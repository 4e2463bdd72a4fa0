package watch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/vscd/dbopen"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPragmaUserVersion(t *testing.T) {
	db := dbopen.OpenMemory(t)
	ctx := context.Background()

	v, err := PragmaUserVersion(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Fatalf("expected 0, got %d", v)
	}
	if _, err := db.Exec("PRAGMA user_version = 42"); err != nil {
		t.Fatal(err)
	}
	if v, _ = PragmaUserVersion(ctx, db); v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestOnChange_FiresOnBump(t *testing.T) {
	db := dbopen.OpenMemory(t)
	w := New(db, Options{Interval: 10 * time.Millisecond, Detector: PragmaUserVersion})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var fired atomic.Int64
	go func() {
		defer close(done)
		w.OnChange(ctx, func() error { fired.Add(1); return nil })
	}()

	time.Sleep(30 * time.Millisecond)
	if _, err := db.Exec("PRAGMA user_version = 1"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if fired.Load() != 1 {
		t.Fatalf("fired %d times, want 1", fired.Load())
	}
	if w.Version() != 1 {
		t.Fatalf("version = %d, want 1", w.Version())
	}
}

func TestOnChange_FailedActionRetries(t *testing.T) {
	db := dbopen.OpenMemory(t)
	w := New(db, Options{Interval: 10 * time.Millisecond, Detector: PragmaUserVersion})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var calls atomic.Int64
	go func() {
		defer close(done)
		w.OnChange(ctx, func() error {
			if calls.Add(1) == 1 {
				return errors.New("first attempt fails")
			}
			return nil
		})
	}()

	time.Sleep(30 * time.Millisecond)
	db.Exec(fmt.Sprintf("PRAGMA user_version = %d", 7))

	deadline := time.Now().Add(2 * time.Second)
	for w.Reloads() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if calls.Load() < 2 {
		t.Fatalf("action called %d times, want retry", calls.Load())
	}
	if w.Version() != 7 {
		t.Fatalf("version = %d, want 7", w.Version())
	}
}

func TestOnChange_Debounce(t *testing.T) {
	db := dbopen.OpenMemory(t)
	w := New(db, Options{
		Interval: 5 * time.Millisecond,
		Debounce: 60 * time.Millisecond,
		Detector: PragmaUserVersion,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var fired atomic.Int64
	go func() {
		defer close(done)
		w.OnChange(ctx, func() error { fired.Add(1); return nil })
	}()

	time.Sleep(20 * time.Millisecond)
	for i := 1; i <= 3; i++ {
		db.Exec(fmt.Sprintf("PRAGMA user_version = %d", i))
		time.Sleep(15 * time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if fired.Load() != 1 {
		t.Fatalf("fired %d times, want 1 after debounce", fired.Load())
	}
	if w.Version() != 3 {
		t.Fatalf("version = %d, want 3", w.Version())
	}
}

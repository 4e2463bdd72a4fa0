package settings

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/vscd/speedwatch/internal/loop"
)

// DefaultSaveDelay batches rapid lastSpeed writes.
const DefaultSaveDelay = time.Second

// View is an engine's live settings. It must only be used from the
// engine's loop.
type View struct {
	provider  Provider
	loop      *loop.Loop
	saveDelay time.Duration
	timeout   time.Duration
	logger    *slog.Logger

	snap     Snapshot
	pending  map[string]any
	timer    *loop.Timer
	onError  func(error)
	onChange []func(prev, next Snapshot)
}

// NewView creates a View over provider. Call Load before use.
func NewView(provider Provider, l *loop.Loop, saveDelay time.Duration, logger *slog.Logger) *View {
	if saveDelay <= 0 {
		saveDelay = DefaultSaveDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &View{
		provider:  provider,
		loop:      l,
		saveDelay: saveDelay,
		timeout:   5 * time.Second,
		logger:    logger,
		snap:      Defaults(),
	}
}

// Load replaces the snapshot from the provider.
func (v *View) Load(ctx context.Context) error {
	snap, err := v.provider.Load(ctx)
	if err != nil {
		return err
	}
	v.snap = snap
	return nil
}

// Snapshot returns the current snapshot.
func (v *View) Snapshot() Snapshot { return v.snap }

// LastSpeed is the authoritative last speed.
func (v *View) LastSpeed() float64 { return v.snap.EffectiveLastSpeed() }

// OnError registers the persistence failure callback.
func (v *View) OnError(fn func(error)) { v.onError = fn }

// OnChange registers a callback for snapshot replacements coming from
// Apply.
func (v *View) OnChange(fn func(prev, next Snapshot)) { v.onChange = append(v.onChange, fn) }

// SetLastSpeed records a successful write. It is persisted only when
// RememberSpeed is on.
func (v *View) SetLastSpeed(speed float64) {
	if v.snap.LastSpeed == speed {
		return
	}
	next := v.snap.Clone()
	next.LastSpeed = speed
	v.snap = next
	if next.RememberSpeed {
		v.Save(map[string]any{"lastSpeed": speed})
	}
}

// PendingLastSpeed reports a lastSpeed value waiting for the debounce.
func (v *View) PendingLastSpeed() (float64, bool) {
	s, ok := v.pending["lastSpeed"].(float64)
	return s, ok
}

// Save persists partial. A save touching only lastSpeed is debounced;
// anything else flushes immediately together with what is pending.
func (v *View) Save(partial map[string]any) {
	if v.pending == nil {
		v.pending = make(map[string]any)
	}
	for k, val := range partial {
		v.pending[k] = val
	}
	_, only := partial["lastSpeed"]
	if len(partial) == 1 && only {
		v.timer.Stop()
		v.timer = v.loop.After(v.saveDelay, v.Flush)
		return
	}
	v.Flush()
}

// Flush writes whatever is pending now.
func (v *View) Flush() {
	v.timer.Stop()
	v.timer = nil
	if len(v.pending) == 0 {
		return
	}
	batch := v.pending
	v.pending = nil

	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()
	if err := v.provider.Save(ctx, batch); err != nil {
		v.fail(err)
		return
	}
	v.logger.Debug("settings: saved", "keys", len(batch))
}

// Remove deletes keys from the provider and restores their defaults here.
func (v *View) Remove(keys ...string) {
	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()
	if err := v.provider.Remove(ctx, keys...); err != nil {
		v.fail(err)
		return
	}
	changes := make(map[string]Change, len(keys))
	for _, k := range keys {
		changes[k] = Change{}
	}
	v.Apply(changes)
}

// Clear wipes the provider and resets to defaults.
func (v *View) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()
	if err := v.provider.Clear(ctx); err != nil {
		v.fail(err)
		return
	}
	v.replace(Defaults())
}

// Apply merges a change notification into the snapshot.
func (v *View) Apply(changes map[string]Change) {
	next, err := v.snap.Apply(changes)
	if err != nil {
		v.logger.Warn("settings: ignoring malformed change", "error", err)
		return
	}
	v.replace(next)
}

// Close stops the debounce timer after flushing.
func (v *View) Close() { v.Flush() }

func (v *View) replace(next Snapshot) {
	next.Limits = v.snap.Limits
	prev := v.snap
	v.snap = next
	for _, fn := range v.onChange {
		fn(prev, next)
	}
}

func (v *View) fail(err error) {
	v.logger.Warn("settings: persistence failed", "error", err)
	if v.onError != nil {
		v.onError(err)
	}
}

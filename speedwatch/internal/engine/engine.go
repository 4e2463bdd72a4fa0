// Package engine wires the speedwatch components for one document.
//
// An Engine owns a loop. Every component it builds is only touched from
// loop tasks; methods documented as loop-only must be called from there
// (host callbacks, Do, or tests that Drain the loop themselves).
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/vscd/idgen"
	"github.com/hazyhaar/vscd/speedwatch/dom"
	"github.com/hazyhaar/vscd/speedwatch/event"
	"github.com/hazyhaar/vscd/speedwatch/internal/controller"
	"github.com/hazyhaar/vscd/speedwatch/internal/discovery"
	"github.com/hazyhaar/vscd/speedwatch/internal/input"
	"github.com/hazyhaar/vscd/speedwatch/internal/loop"
	"github.com/hazyhaar/vscd/speedwatch/internal/overlay"
	"github.com/hazyhaar/vscd/speedwatch/internal/reconcile"
	"github.com/hazyhaar/vscd/speedwatch/internal/registry"
	"github.com/hazyhaar/vscd/speedwatch/internal/settings"
	"github.com/hazyhaar/vscd/speedwatch/internal/site"
	"github.com/hazyhaar/vscd/speedwatch/internal/speed"
)

var (
	// ErrDisabled is returned by Start when the settings turn the engine off.
	ErrDisabled = errors.New("engine: disabled by settings")
	// ErrBlacklisted is returned by Start for blacklisted pages.
	ErrBlacklisted = errors.New("engine: page is blacklisted")
)

// Timings groups the engine's delays. Zero fields take the defaults.
type Timings struct {
	Cooldown      time.Duration
	Show          time.Duration
	Blink         time.Duration
	SaveDelay     time.Duration
	IdleDocument  time.Duration
	IdleShadow    time.Duration
	Bootstrap     time.Duration // idle cap before observers start
	LightScan     time.Duration // idle cap before the light scan
	FullScanDelay time.Duration // wait after an empty light scan
}

func (t Timings) withDefaults() Timings {
	def := func(v *time.Duration, d time.Duration) {
		if *v <= 0 {
			*v = d
		}
	}
	def(&t.Cooldown, speed.DefaultCooldown)
	def(&t.Show, input.DefaultShowDuration)
	def(&t.Blink, speed.DefaultBlink)
	def(&t.SaveDelay, settings.DefaultSaveDelay)
	def(&t.IdleDocument, reconcile.DefaultDocumentTimeout)
	def(&t.IdleShadow, reconcile.DefaultShadowTimeout)
	def(&t.Bootstrap, 2*time.Second)
	def(&t.LightScan, 3*time.Second)
	def(&t.FullScanDelay, time.Second)
	return t
}

// Config for creating an Engine.
type Config struct {
	PageID   string
	Doc      dom.Document
	Settings settings.Provider
	// Loop is created with the system clock when nil.
	Loop           *loop.Loop
	Shell          overlay.Shell
	Timings        Timings
	MaxShadowDepth int
	// IDs generates telemetry event IDs. Defaults to UUIDv7.
	IDs    idgen.Generator
	Logger *slog.Logger
}

// Engine runs speedwatch on one document.
type Engine struct {
	pageID  string
	doc     dom.Document
	loop    *loop.Loop
	timings Timings
	ids     idgen.Generator
	logger  *slog.Logger

	view      *settings.View
	reg       *registry.Registry
	resolver  *site.Resolver
	scanner   *discovery.Scanner
	coord     *speed.Coordinator
	router    *input.Router
	lifecycle *controller.Lifecycle
	rc        *reconcile.Reconciler

	// Sequence counter, monotonically increasing per page.
	seq atomic.Uint64

	subMu sync.Mutex
	subs  []func(event.RateChange)

	started  bool
	fullScan *loop.Timer
}

// New builds an Engine. Nothing touches the document until Start.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Loop == nil {
		cfg.Loop = loop.New(loop.WithLogger(cfg.Logger))
	}
	if cfg.IDs == nil {
		cfg.IDs = idgen.UUIDv7()
	}
	if cfg.Settings == nil {
		cfg.Settings = settings.NewMemory(settings.Defaults())
	}
	logger := cfg.Logger.With("page", cfg.PageID)

	e := &Engine{
		pageID:  cfg.PageID,
		doc:     cfg.Doc,
		loop:    cfg.Loop,
		timings: cfg.Timings.withDefaults(),
		ids:     cfg.IDs,
		logger:  logger,
		reg:     registry.New(),
	}
	e.view = settings.NewView(cfg.Settings, e.loop, e.timings.SaveDelay, logger)
	e.resolver = site.NewResolver(cfg.Doc, logger)
	adapter := e.resolver.Adapter
	audio := func() bool { return e.view.Snapshot().AudioEnabled }

	e.scanner = discovery.New(discovery.Options{
		Adapter:        adapter,
		Audio:          audio,
		MaxShadowDepth: cfg.MaxShadowDepth,
		Logger:         logger,
	})
	e.coord = speed.New(speed.Options{
		Loop:     e.loop,
		Registry: e.reg,
		Settings: e.view,
		Adapter:  adapter,
		Cooldown: e.timings.Cooldown,
		Blink:    e.timings.Blink,
		Logger:   logger,
	})
	e.router = input.New(input.Options{
		Doc:          cfg.Doc,
		Loop:         e.loop,
		Registry:     e.reg,
		Settings:     e.view,
		Coordinator:  e.coord,
		ShowDuration: e.timings.Show,
		Logger:       logger,
	})
	e.lifecycle = controller.New(controller.Options{
		Doc:         cfg.Doc,
		Loop:        e.loop,
		Registry:    e.reg,
		Settings:    e.view,
		Coordinator: e.coord,
		Router:      e.router,
		Scanner:     e.scanner,
		Adapter:     adapter,
		Shell:       cfg.Shell,
		Logger:      logger,
		OnAttach:    func(rec *registry.Record) { e.lifecycleEvent(event.KindAttach, rec) },
		OnDetach:    func(rec *registry.Record) { e.lifecycleEvent(event.KindDetach, rec) },
	})
	e.rc = reconcile.New(reconcile.Options{
		Doc:             cfg.Doc,
		Loop:            e.loop,
		Registry:        e.reg,
		Scanner:         e.scanner,
		Lifecycle:       e.lifecycle,
		Adapter:         adapter,
		Found:           e.OnVideoFound,
		Removed:         e.OnVideoRemoved,
		OnReplaced:      func() { e.loop.Post(e.reinit) },
		DocumentTimeout: e.timings.IdleDocument,
		ShadowTimeout:   e.timings.IdleShadow,
		MaxShadowDepth:  cfg.MaxShadowDepth,
		Logger:          logger,
	})

	e.coord.OnRate(e.publish)
	e.view.OnChange(e.settingsChanged)
	e.view.OnError(func(err error) {
		e.logger.Warn("engine: settings persistence failed", "error", err)
	})
	return e
}

// PageID returns the page identifier events are tagged with.
func (e *Engine) PageID() string { return e.pageID }

// Loop returns the engine's task loop.
func (e *Engine) Loop() *loop.Loop { return e.loop }

// Run executes loop tasks until ctx ends.
func (e *Engine) Run(ctx context.Context) error { return e.loop.Run(ctx) }

// Do runs fn on the loop and waits for it. The loop must be running.
func (e *Engine) Do(ctx context.Context, fn func()) error { return e.loop.Do(ctx, fn) }

// Start loads the settings, checks the enabled flag and the blacklist,
// installs the input listeners and schedules the deferred bootstrap.
// Call it before Run, or through Do once the loop runs.
func (e *Engine) Start(ctx context.Context) error {
	if e.started {
		return nil
	}
	if err := e.view.Load(ctx); err != nil {
		return fmt.Errorf("engine: load settings: %w", err)
	}
	snap := e.view.Snapshot()
	if !snap.Enabled {
		e.logger.Info("engine: disabled")
		return ErrDisabled
	}
	if site.Blacklisted(e.doc.URL(), snap.Blacklist, e.logger) {
		e.logger.Info("engine: site is blacklisted", "url", e.doc.URL())
		return ErrBlacklisted
	}
	e.started = true
	e.router.Start()
	e.loop.Idle(e.bootstrap, e.timings.Bootstrap)
	e.logger.Info("engine: started", "url", e.doc.URL(), "adapter", e.resolver.Adapter().Name())
	return nil
}

// bootstrap starts the reconciler and defers the first scan.
func (e *Engine) bootstrap() {
	if !e.started {
		return
	}
	if err := e.rc.Start(); err != nil {
		e.logger.Error("engine: mutation observer failed", "error", err)
	}
	e.loop.Idle(e.lightScan, e.timings.LightScan)
}

func (e *Engine) lightScan() {
	if !e.started {
		return
	}
	found := e.scanner.ScanLight(e.doc)
	for _, m := range found {
		e.OnVideoFound(m, parentOf(m))
	}
	e.logger.Info("engine: light scan", "found", len(found))
	if len(found) == 0 {
		e.fullScan.Stop()
		e.fullScan = e.loop.After(e.timings.FullScanDelay, e.comprehensiveScan)
	}
}

func (e *Engine) comprehensiveScan() {
	if !e.started {
		return
	}
	found := e.scanner.ScanFull(e.doc)
	added := 0
	for _, m := range found {
		if e.reg.Has(m) {
			continue
		}
		e.OnVideoFound(m, parentOf(m))
		added++
	}
	e.logger.Info("engine: full scan", "found", len(found), "added", added)
}

// OnVideoFound attaches a controller to m when it is valid and has none.
// Loop-only.
func (e *Engine) OnVideoFound(m dom.Media, parent dom.Element) {
	if !e.scanner.IsValid(m) {
		e.logger.Debug("engine: element not valid for a controller", "tag", m.Tag())
		return
	}
	if e.reg.Has(m) {
		return
	}
	if _, err := e.lifecycle.Attach(m, parent); err != nil {
		e.logger.Warn("engine: attach failed", "tag", m.Tag(), "error", err)
	}
}

// OnVideoRemoved detaches m's controller. Loop-only.
func (e *Engine) OnVideoRemoved(m dom.Media) {
	e.lifecycle.Remove(m)
}

// RunAction dispatches a named action. Loop-only.
func (e *Engine) RunAction(name string, value float64, origin *dom.Event) {
	e.coord.RunAction(name, value, origin)
}

// HandleMessage applies a remote message. Loop-only.
func (e *Engine) HandleMessage(msg speed.Message) bool {
	return e.coord.HandleMessage(msg)
}

// ApplySettings merges external setting changes. Loop-only.
func (e *Engine) ApplySettings(changes map[string]settings.Change) {
	e.view.Apply(changes)
}

// Navigated re-resolves the site adapter after a single-page navigation
// and rescans. Loop-only.
func (e *Engine) Navigated() {
	if !e.started {
		return
	}
	e.resolver.Refresh()
	e.logger.Info("engine: navigation", "url", e.doc.URL(), "adapter", e.resolver.Adapter().Name())
	e.loop.Idle(e.lightScan, e.timings.LightScan)
}

// reinit runs after the document element was replaced: controllers
// whose media left are dropped and discovery starts over.
func (e *Engine) reinit() {
	if !e.started {
		return
	}
	e.logger.Info("engine: document replaced, reinitializing")
	e.rc.Stop()
	e.fullScan.Stop()
	for _, rec := range e.reg.All() {
		if !rec.Media.Connected() {
			e.lifecycle.Remove(rec.Media)
		}
	}
	e.resolver.Refresh()
	e.bootstrap()
}

// Stop removes every controller, disconnects observers and listeners
// and flushes a pending lastSpeed save. Loop-only.
func (e *Engine) Stop() {
	if !e.started {
		return
	}
	e.started = false
	e.fullScan.Stop()
	e.rc.Stop()
	e.router.Stop()
	for _, rec := range e.reg.All() {
		e.lifecycle.Remove(rec.Media)
	}
	e.view.Close()
	e.logger.Info("engine: stopped")
}

func (e *Engine) settingsChanged(prev, next settings.Snapshot) {
	if !e.started {
		return
	}
	e.router.InterceptForced()
	if prev.AudioEnabled != next.AudioEnabled {
		for _, rec := range e.reg.All() {
			if dom.IsAudio(rec.Media) {
				e.lifecycle.UpdateVisibility(rec.Media)
			}
		}
		if next.AudioEnabled {
			e.comprehensiveScan()
		}
	}
}

// Controller describes one attached controller.
type Controller struct {
	ID      string    `json:"id"`
	Tag     string    `json:"tag"`
	Source  string    `json:"source,omitempty"`
	Speed   float64   `json:"speed"`
	Paused  bool      `json:"paused"`
	Hidden  bool      `json:"hidden"`
	Created time.Time `json:"created"`
}

// Controllers lists the attached controllers. Loop-only.
func (e *Engine) Controllers() []Controller {
	recs := e.reg.All()
	out := make([]Controller, 0, len(recs))
	for _, rec := range recs {
		m := rec.Media
		out = append(out, Controller{
			ID:      rec.ID,
			Tag:     m.Tag(),
			Source:  dom.SourceOf(m),
			Speed:   m.PlaybackRate(),
			Paused:  m.Paused(),
			Hidden:  rec.Overlay.Hidden(),
			Created: rec.Created,
		})
	}
	return out
}

// Subscribe registers fn for every telemetry event. fn runs on the loop
// and must not block.
func (e *Engine) Subscribe(fn func(event.RateChange)) {
	e.subMu.Lock()
	e.subs = append(e.subs, fn)
	e.subMu.Unlock()
}

func (e *Engine) lifecycleEvent(kind event.Kind, rec *registry.Record) {
	e.publish(event.RateChange{
		Kind:         kind,
		ControllerID: rec.ID,
		Tag:          rec.Media.Tag(),
		Timestamp:    e.loop.Now().UnixMilli(),
	})
}

func (e *Engine) publish(ev event.RateChange) {
	ev.ID = e.ids()
	ev.PageID = e.pageID
	ev.PageURL = e.doc.URL()
	ev.Seq = e.seq.Add(1)
	if ev.Timestamp == 0 {
		ev.Timestamp = e.loop.Now().UnixMilli()
	}
	e.subMu.Lock()
	subs := append([]func(event.RateChange){}, e.subs...)
	e.subMu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// parentOf is m's parent element, or its shadow host.
func parentOf(m dom.Media) dom.Element {
	if p := m.Parent(); p != nil {
		return p
	}
	if sr, ok := m.ParentNode().(dom.ShadowRoot); ok {
		return sr.Host()
	}
	return nil
}

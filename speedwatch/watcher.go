// Package speedwatch runs the video speed controller engine against live
// browser pages. Chrome is a disposable component: each configured page
// is opened in a tab, its media are mirrored into an in-memory document,
// and one engine per page discovers them, attaches controllers and keeps
// their playback rates in line with the shared settings.
//
// Rate changes and controller lifecycle are emitted to sinks (stdout,
// webhook, Prometheus, callback). Pages are driven remotely over HTTP,
// MCP or the connectivity router.
package speedwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/vscd/audit"
	"github.com/hazyhaar/vscd/kit"
	"github.com/hazyhaar/vscd/speedwatch/dom"
	"github.com/hazyhaar/vscd/speedwatch/event"
	"github.com/hazyhaar/vscd/speedwatch/internal/browser"
	"github.com/hazyhaar/vscd/speedwatch/internal/cdp"
	"github.com/hazyhaar/vscd/speedwatch/internal/config"
	"github.com/hazyhaar/vscd/speedwatch/internal/engine"
	"github.com/hazyhaar/vscd/speedwatch/internal/loop"
	"github.com/hazyhaar/vscd/speedwatch/internal/settings"
	"github.com/hazyhaar/vscd/speedwatch/internal/sink"
	"github.com/hazyhaar/vscd/speedwatch/internal/speed"
)

var (
	// ErrPageNotFound is returned for unknown page IDs.
	ErrPageNotFound = errors.New("speedwatch: page not found")
	// ErrPageExists is returned when a page ID is already running.
	ErrPageExists = errors.New("speedwatch: page already running")
	// ErrUnknownAction is returned for action names the engine does not know.
	ErrUnknownAction = errors.New("speedwatch: unknown action")
)

// stopTimeout bounds how long a page engine gets to release its document.
const stopTimeout = 5 * time.Second

// Watcher is the top-level orchestrator. It manages the browser, one
// engine per page and the sinks.
type Watcher struct {
	mgr      *browser.Manager
	settings settings.Provider
	sinkR    *sink.Router
	logger   *slog.Logger

	mu     sync.Mutex
	cfg    *config.Config
	audit  audit.Logger // nil: commands are not recorded
	pages  map[string]*page
	ctx    context.Context // set by Start, used to reopen pages after a recycle
	cancel context.CancelFunc

	events       chan event.RateChange
	dispatchOnce sync.Once
	dispatchStop context.CancelFunc
	dispatchDone chan struct{}
	bg           sync.WaitGroup
}

// page is one running engine and what feeds it.
type page struct {
	id     string
	url    string
	engine *engine.Engine
	mirror *cdp.Mirror // nil for attached documents
	tab    *browser.Tab
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// PageInfo describes a running page.
type PageInfo struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Remote bool   `json:"remote"` // backed by a browser tab
}

// New creates a Watcher. provider holds the settings shared by every
// page; nil keeps them in memory.
func New(cfg *config.Config, provider settings.Provider, logger *slog.Logger, sinks ...sink.Sink) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg, _ = config.Parse(nil)
	}
	if provider == nil {
		base, err := cfg.BaseSettings()
		if err != nil {
			logger.Warn("speedwatch: settings defaults ignored", "error", err)
		}
		provider = settings.NewMemory(base)
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		Headless:         cfg.Browser.IsHeadless(),
		Stealth:          cfg.Browser.Stealth,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Logger:           logger,
	})

	return &Watcher{
		mgr:      mgr,
		settings: provider,
		sinkR:    sink.NewRouter(logger, sinks...),
		logger:   logger,
		cfg:      cfg,
		pages:    make(map[string]*page),
		events:   make(chan event.RateChange, 1024),
	}
}

// Start launches the browser, opens every configured page and follows
// settings written by other processes.
func (w *Watcher) Start(ctx context.Context) error {
	w.startDispatch()
	ctx, cancel := context.WithCancel(ctx)
	if _, err := w.mgr.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("speedwatch: start browser: %w", err)
	}

	w.mu.Lock()
	w.ctx = ctx
	w.cancel = cancel
	pages := append([]config.PageConfig(nil), w.cfg.Pages...)
	interval := w.cfg.Settings.WatchInterval
	w.mu.Unlock()

	w.mgr.SetRecycleCallback(&browser.RecycleCallback{
		BeforeRecycle: w.closeRemotePages,
		AfterRecycle:  func(*rod.Browser) { w.reopenPages() },
	})

	if st, ok := w.settings.(*settings.Store); ok {
		w.bg.Add(1)
		go func() {
			defer w.bg.Done()
			st.Watch(ctx, interval, w.Broadcast)
		}()
	}

	for _, pc := range pages {
		if err := w.OpenPage(ctx, pc); err != nil {
			w.logger.Error("speedwatch: failed to open page", "id", pc.ID, "url", pc.URL, "error", err)
		}
	}
	return nil
}

// OpenPage opens pc in a browser tab and starts its engine.
func (w *Watcher) OpenPage(ctx context.Context, pc config.PageConfig) error {
	w.startDispatch()
	if w.has(pc.ID) {
		return ErrPageExists
	}

	lp := loop.New(loop.WithLogger(w.logger))
	p := &page{id: pc.ID, url: pc.URL}
	pctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	setup := func(pg *rod.Page) error {
		if err := cdp.Install(pg); err != nil {
			return err
		}
		conn := cdp.NewRodConn(pg)
		mr, err := cdp.New(cdp.Config{URL: pc.URL, Conn: conn, Loop: lp, Logger: w.logger})
		if err != nil {
			return err
		}
		p.mirror = mr
		p.goRun(func() { conn.Listen(pctx, mr.Receive) })
		p.goRun(func() { mr.Run(pctx) })
		return nil
	}
	tab, err := browser.OpenTab(pctx, w.mgr, pc.ID, pc.URL, setup)
	if err != nil {
		cancel()
		p.wg.Wait()
		return fmt.Errorf("speedwatch: open tab: %w", err)
	}
	p.tab = tab

	if err := cdp.NewRodConn(tab.Page).Inject(pctx); err != nil {
		w.logger.Warn("speedwatch: bridge rescan failed", "id", pc.ID, "error", err)
	}

	if err := w.startPage(pctx, p, p.mirror, lp); err != nil {
		cancel()
		p.wg.Wait()
		tab.Close()
		return err
	}
	w.logger.Info("speedwatch: page open", "id", pc.ID, "url", pc.URL)
	return nil
}

// Attach starts an engine on a document the caller already has, such
// as an in-memory one. The engine's loop runs until ClosePage or Stop.
func (w *Watcher) Attach(ctx context.Context, id string, doc dom.Document) error {
	w.startDispatch()
	if w.has(id) {
		return ErrPageExists
	}
	p := &page{id: id, url: doc.URL()}
	pctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	if err := w.startPage(pctx, p, doc, loop.New(loop.WithLogger(w.logger))); err != nil {
		cancel()
		p.wg.Wait()
		return err
	}
	return nil
}

func (w *Watcher) startPage(ctx context.Context, p *page, doc dom.Document, lp *loop.Loop) error {
	w.mu.Lock()
	ec := w.cfg.Engine
	w.mu.Unlock()

	e := engine.New(engine.Config{
		PageID:   p.id,
		Doc:      doc,
		Settings: w.settings,
		Loop:     lp,
		Timings: engine.Timings{
			Cooldown:      ec.Cooldown,
			Show:          ec.Show,
			SaveDelay:     ec.SaveDelay,
			IdleDocument:  ec.IdleDocument,
			IdleShadow:    ec.IdleShadow,
			Bootstrap:     ec.Bootstrap,
			LightScan:     ec.LightScan,
			FullScanDelay: ec.FullScanDelay,
		},
		MaxShadowDepth: ec.MaxShadowDepth,
		Logger:         w.logger,
	})
	e.Subscribe(w.deliver)
	if p.mirror != nil {
		p.mirror.OnNavigate(func(string) { e.Navigated() })
	}
	p.engine = e
	p.goRun(func() { e.Run(ctx) })

	var startErr error
	if err := e.Do(ctx, func() { startErr = e.Start(ctx) }); err != nil {
		startErr = err
	}
	if startErr != nil {
		return fmt.Errorf("speedwatch: start %s: %w", p.id, startErr)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, dup := w.pages[p.id]; dup {
		w.stopEngine(p)
		return ErrPageExists
	}
	w.pages[p.id] = p
	return nil
}

func (p *page) goRun(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

// ClosePage stops the page's engine and closes its tab.
func (w *Watcher) ClosePage(id string) error {
	w.mu.Lock()
	p, ok := w.pages[id]
	delete(w.pages, id)
	w.mu.Unlock()
	if !ok {
		return ErrPageNotFound
	}
	w.stopPage(p)
	w.logger.Info("speedwatch: page closed", "id", id)
	return nil
}

func (w *Watcher) stopPage(p *page) {
	w.stopEngine(p)
	p.cancel()
	p.wg.Wait()
	if p.tab != nil {
		if err := p.tab.Close(); err != nil {
			w.logger.Debug("speedwatch: close tab", "id", p.id, "error", err)
		}
	}
}

func (w *Watcher) stopEngine(p *page) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := p.engine.Do(ctx, p.engine.Stop); err != nil {
		w.logger.Warn("speedwatch: engine stop", "id", p.id, "error", err)
	}
}

// Stop shuts down every page, the sinks and the browser.
func (w *Watcher) Stop() {
	w.mu.Lock()
	pages := w.pages
	w.pages = make(map[string]*page)
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	for id, p := range pages {
		w.stopPage(p)
		w.logger.Info("speedwatch: stopped page", "id", id)
	}
	w.stopDispatch()
	w.bg.Wait()
	w.sinkR.Close()
	w.mgr.Close()
}

// Reload applies a new configuration: pages are opened or closed to
// match it, and changed settings defaults reach every running engine.
func (w *Watcher) Reload(ctx context.Context, cfg *config.Config) {
	w.mu.Lock()
	old := w.cfg
	w.cfg = cfg
	w.mu.Unlock()

	want := make(map[string]config.PageConfig, len(cfg.Pages))
	for _, pc := range cfg.Pages {
		want[pc.ID] = pc
	}
	for _, pc := range old.Pages {
		if n, ok := want[pc.ID]; !ok || n.URL != pc.URL {
			if err := w.ClosePage(pc.ID); err != nil && !errors.Is(err, ErrPageNotFound) {
				w.logger.Warn("speedwatch: reload close", "id", pc.ID, "error", err)
			}
		}
	}
	for _, pc := range cfg.Pages {
		if w.has(pc.ID) || w.mgr.Browser() == nil {
			continue
		}
		if err := w.OpenPage(ctx, pc); err != nil {
			w.logger.Error("speedwatch: reload open", "id", pc.ID, "error", err)
		}
	}

	w.applyDefaults(ctx, cfg)
}

// defaultsSetter is implemented by providers whose base snapshot can be
// replaced at runtime.
type defaultsSetter interface {
	SetDefaults(settings.Snapshot)
}

func (w *Watcher) applyDefaults(ctx context.Context, cfg *config.Config) {
	ds, ok := w.settings.(defaultsSetter)
	if !ok {
		return
	}
	base, err := cfg.BaseSettings()
	if err != nil {
		w.logger.Warn("speedwatch: settings defaults ignored", "error", err)
		return
	}
	before, err := w.settings.Load(ctx)
	if err != nil {
		w.logger.Warn("speedwatch: settings load", "error", err)
		return
	}
	ds.SetDefaults(base)
	after, err := w.settings.Load(ctx)
	if err != nil {
		w.logger.Warn("speedwatch: settings load", "error", err)
		return
	}
	changes, err := settings.Changes(before, after)
	if err != nil {
		w.logger.Warn("speedwatch: settings diff", "error", err)
		return
	}
	if len(changes) > 0 {
		w.Broadcast(changes)
	}
}

// Broadcast delivers settings changes to every running engine.
func (w *Watcher) Broadcast(changes map[string]settings.Change) {
	for _, p := range w.snapshot() {
		e := p.engine
		e.Loop().Post(func() { e.ApplySettings(changes) })
	}
}

// Pages lists the running pages sorted by ID.
func (w *Watcher) Pages() []PageInfo {
	ps := w.snapshot()
	out := make([]PageInfo, 0, len(ps))
	for _, p := range ps {
		out = append(out, PageInfo{ID: p.id, URL: p.url, Remote: p.tab != nil})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Controllers lists the controllers attached on a page.
func (w *Watcher) Controllers(ctx context.Context, pageID string) ([]engine.Controller, error) {
	p, err := w.page(pageID)
	if err != nil {
		return nil, err
	}
	var out []engine.Controller
	if err := p.engine.Do(ctx, func() { out = p.engine.Controllers() }); err != nil {
		return nil, err
	}
	return out, nil
}

// RunAction runs a named action on every controller of a page and
// returns the controllers afterwards.
func (w *Watcher) RunAction(ctx context.Context, pageID, action string, value float64) ([]engine.Controller, error) {
	if !speed.KnownAction(action) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	p, err := w.page(pageID)
	if err != nil {
		return nil, err
	}
	var out []engine.Controller
	err = p.engine.Do(ctx, func() {
		p.engine.RunAction(action, value, nil)
		out = p.engine.Controllers()
	})
	return out, err
}

// SendMessage delivers a remote speed message to a page. It reports
// whether the message was understood.
func (w *Watcher) SendMessage(ctx context.Context, pageID string, msg speed.Message) (bool, error) {
	p, err := w.page(pageID)
	if err != nil {
		return false, err
	}
	var ok bool
	err = p.engine.Do(ctx, func() { ok = p.engine.HandleMessage(msg) })
	return ok, err
}

// SetAuditLog records every remote command in l. Nil stops auditing.
func (w *Watcher) SetAuditLog(l audit.Logger) {
	w.mu.Lock()
	w.audit = l
	w.mu.Unlock()
}

// command wraps a remote command endpoint with the audit log set at
// call time.
func (w *Watcher) command(action string, ep kit.Endpoint) kit.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		w.mu.Lock()
		l := w.audit
		w.mu.Unlock()
		if l == nil {
			return ep(ctx, req)
		}
		return audit.Middleware(l, action)(ep)(ctx, req)
	}
}

func (w *Watcher) has(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.pages[id]
	return ok
}

func (w *Watcher) page(id string) (*page, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPageNotFound, id)
	}
	return p, nil
}

func (w *Watcher) snapshot() []*page {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*page, 0, len(w.pages))
	for _, p := range w.pages {
		out = append(out, p)
	}
	return out
}

func (w *Watcher) closeRemotePages() {
	for _, p := range w.snapshot() {
		if p.tab == nil {
			continue
		}
		w.mu.Lock()
		delete(w.pages, p.id)
		w.mu.Unlock()
		w.stopPage(p)
	}
}

func (w *Watcher) reopenPages() {
	w.mu.Lock()
	ctx := w.ctx
	pages := append([]config.PageConfig(nil), w.cfg.Pages...)
	w.mu.Unlock()
	if ctx == nil {
		return
	}
	for _, pc := range pages {
		if err := w.OpenPage(ctx, pc); err != nil && !errors.Is(err, ErrPageExists) {
			w.logger.Error("speedwatch: reopen page failed", "id", pc.ID, "error", err)
		}
	}
}

// --- telemetry ---

// deliver runs on a page loop and must not block.
func (w *Watcher) deliver(ev event.RateChange) {
	select {
	case w.events <- ev:
	default:
		w.logger.Warn("speedwatch: event queue full, dropping", "kind", ev.Kind, "page", ev.PageID)
	}
}

func (w *Watcher) startDispatch() {
	w.dispatchOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		w.dispatchStop = cancel
		w.dispatchDone = make(chan struct{})
		go w.dispatch(ctx)
	})
}

func (w *Watcher) dispatch(ctx context.Context) {
	defer close(w.dispatchDone)
	for {
		select {
		case <-ctx.Done():
			// Flush what the engines emitted while stopping.
			for {
				select {
				case ev := <-w.events:
					w.send(context.Background(), ev)
				default:
					return
				}
			}
		case ev := <-w.events:
			w.send(ctx, ev)
		}
	}
}

func (w *Watcher) send(ctx context.Context, ev event.RateChange) {
	if err := w.sinkR.Send(ctx, ev); err != nil {
		w.logger.Debug("speedwatch: sink delivery failed", "kind", ev.Kind, "error", err)
	}
}

func (w *Watcher) stopDispatch() {
	if w.dispatchStop == nil {
		return
	}
	w.dispatchStop()
	<-w.dispatchDone
}

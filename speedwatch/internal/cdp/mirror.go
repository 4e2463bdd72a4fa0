// Package cdp connects the engine to a live Chrome page. An injected
// bridge script reports the page's media elements, their state and the
// user's keys; Mirror replays those reports into an in-memory document
// the engine drives, and sends the engine's writes back to the page.
package cdp

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"

	"github.com/hazyhaar/vscd/speedwatch/dom"
	"github.com/hazyhaar/vscd/speedwatch/internal/loop"
	"github.com/hazyhaar/vscd/speedwatch/internal/memdom"
)

// MediaAttr marks the wrapper that holds one mirrored media element.
const MediaAttr = "data-speedwatch-media"

// Message is one report from the bridge script.
type Message struct {
	T           string   `json:"t"` // hello | media | state | rate | time | gone | key | nav
	ID          string   `json:"id,omitempty"`
	URL         string   `json:"url,omitempty"`
	Tag         string   `json:"tag,omitempty"`
	Src         string   `json:"src,omitempty"`
	CurrentSrc  string   `json:"currentSrc,omitempty"`
	Rate        float64  `json:"rate,omitempty"`
	Paused      bool     `json:"paused,omitempty"`
	ReadyState  int      `json:"readyState,omitempty"`
	Duration    float64  `json:"duration,omitempty"` // -1 when unknown
	CurrentTime float64  `json:"currentTime,omitempty"`
	Muted       bool     `json:"muted,omitempty"`
	Volume      float64  `json:"volume,omitempty"`
	Hidden      bool     `json:"hidden,omitempty"`
	Code        int      `json:"code,omitempty"`
	Mods        []string `json:"mods,omitempty"`
}

// Conn carries writes back to the page.
type Conn interface {
	Apply(ctx context.Context, id, prop string, value any) error
	InterceptKeys(ctx context.Context, codes []int) error
}

// Config for creating a Mirror.
type Config struct {
	URL    string
	Conn   Conn
	Loop   *loop.Loop
	Logger *slog.Logger
	// Queue bounds pending writes to the page. Default: 256.
	Queue int
}

// Mirror is a dom.Document whose media follow a live page. Handle and
// everything the engine calls run on the loop; Run delivers writes from
// its own goroutine.
type Mirror struct {
	*memdom.Document

	conn   Conn
	loop   *loop.Loop
	logger *slog.Logger
	writes chan write

	media map[string]*tracked
	hello bool
	keys  []int
	onNav func(url string)
}

// tracked is one mirrored element and the page state last reported for
// it. A local change equal to the page state is an echo and is not sent.
type tracked struct {
	id     string
	m      *memdom.Media
	wrap   dom.Element
	page   pageState
	detach []func()
}

type pageState struct {
	rate    float64
	paused  bool
	current float64
	muted   bool
	volume  float64
}

type write struct {
	id    string
	prop  string
	value any
	keys  []int
	isKey bool
}

// New creates an empty mirror for cfg.URL.
func New(cfg Config) (*Mirror, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 256
	}
	doc, err := memdom.Parse(cfg.URL, "<html><head></head><body></body></html>")
	if err != nil {
		return nil, err
	}
	return &Mirror{
		Document: doc,
		conn:     cfg.Conn,
		loop:     cfg.Loop,
		logger:   cfg.Logger,
		writes:   make(chan write, cfg.Queue),
		media:    make(map[string]*tracked),
	}, nil
}

// OnNavigate registers fn for same-document navigations. fn runs on the loop.
func (mr *Mirror) OnNavigate(fn func(url string)) { mr.onNav = fn }

// Tracked reports how many page elements are mirrored.
func (mr *Mirror) Tracked() int { return len(mr.media) }

// Receive decodes a bridge payload and posts it onto the loop. Safe from
// any goroutine.
func (mr *Mirror) Receive(payload string) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		mr.logger.Warn("cdp: parse bridge payload", "error", err)
		return
	}
	mr.loop.Post(func() { mr.Handle(msg) })
}

// InterceptKeys forwards the forced key codes to the bridge, which
// swallows them in the page.
func (mr *Mirror) InterceptKeys(codes []int) error {
	mr.keys = append(mr.keys[:0], codes...)
	mr.enqueue(write{keys: append([]int(nil), codes...), isKey: true})
	return nil
}

// Handle applies one bridge report. Must run on the loop.
func (mr *Mirror) Handle(msg Message) {
	switch msg.T {
	case "hello":
		mr.handleHello(msg)
	case "media":
		if tr := mr.media[msg.ID]; tr != nil {
			mr.handleState(tr, msg)
			return
		}
		mr.handleMedia(msg)
	case "state":
		if tr := mr.media[msg.ID]; tr != nil {
			mr.handleState(tr, msg)
		}
	case "rate":
		tr := mr.media[msg.ID]
		if tr == nil || !validRate(msg.Rate) {
			return
		}
		tr.page.rate = msg.Rate
		if tr.m.PlaybackRate() != msg.Rate {
			tr.m.PageSetRate(msg.Rate)
		}
	case "time":
		if tr := mr.media[msg.ID]; tr != nil {
			tr.page.current = msg.CurrentTime
			tr.m.SetPosition(msg.CurrentTime)
		}
	case "gone":
		mr.untrack(msg.ID)
	case "key":
		body := mr.Body()
		if body == nil {
			return
		}
		mr.Fire(&dom.Event{Type: "keydown", Target: body, KeyCode: msg.Code, Modifiers: msg.Mods})
	case "nav":
		if err := mr.SetURL(msg.URL); err != nil {
			mr.logger.Warn("cdp: navigation url", "url", msg.URL, "error", err)
			return
		}
		if mr.onNav != nil {
			mr.onNav(msg.URL)
		}
	default:
		mr.logger.Debug("cdp: unknown bridge message", "type", msg.T)
	}
}

// handleHello marks a fresh page document. After the first one every
// hello means the page reloaded: the old mirror content is discarded
// the way document.open() replaces a tree.
func (mr *Mirror) handleHello(msg Message) {
	if msg.URL != "" {
		if err := mr.SetURL(msg.URL); err != nil {
			mr.logger.Warn("cdp: page url", "url", msg.URL, "error", err)
		}
	}
	if !mr.hello {
		mr.hello = true
		return
	}
	mr.logger.Info("cdp: page document replaced", "url", msg.URL, "mirrored", len(mr.media))
	for id, tr := range mr.media {
		tr.release()
		delete(mr.media, id)
	}
	mr.ReplaceRoot()
	if len(mr.keys) > 0 {
		mr.enqueue(write{keys: append([]int(nil), mr.keys...), isKey: true})
	}
}

func (mr *Mirror) handleMedia(msg Message) {
	if !dom.IsMediaTag(msg.Tag) || msg.ID == "" {
		return
	}
	body := mr.Body()
	if body == nil {
		return
	}
	wrap, err := mr.CreateElement("div")
	if err != nil {
		return
	}
	wrap.SetAttr(MediaAttr, msg.ID)
	el, err := mr.CreateElement(msg.Tag)
	if err != nil {
		return
	}
	m, ok := el.(*memdom.Media)
	if !ok {
		return
	}
	if msg.Src != "" {
		m.SetAttr("src", msg.Src)
	}

	tr := &tracked{id: msg.ID, m: m, wrap: wrap, page: pageState{rate: 1, paused: true, volume: 1}}
	mr.handleState(tr, msg)
	tr.detach = []func(){
		m.On("ratechange", func(ev *dom.Event) { mr.localRate(tr, ev) }),
		m.On("play", func(*dom.Event) { mr.localPaused(tr) }),
		m.On("pause", func(*dom.Event) { mr.localPaused(tr) }),
		m.On("seeked", func(*dom.Event) { mr.localSeek(tr) }),
		m.On("volumechange", func(*dom.Event) { mr.localVolume(tr) }),
	}
	mr.media[msg.ID] = tr

	if err := wrap.Insert(m, nil); err != nil {
		mr.logger.Warn("cdp: mirror insert", "id", msg.ID, "error", err)
		return
	}
	if err := body.Insert(wrap, nil); err != nil {
		mr.logger.Warn("cdp: mirror insert", "id", msg.ID, "error", err)
	}
}

// handleState copies the page's view of an element into the mirror.
// The page state is recorded first so the resulting local events are
// recognised as echoes.
func (mr *Mirror) handleState(tr *tracked, msg Message) {
	m := tr.m
	if validRate(msg.Rate) {
		tr.page.rate = msg.Rate
	}
	tr.page.paused = msg.Paused
	tr.page.current = msg.CurrentTime
	tr.page.muted = msg.Muted
	tr.page.volume = msg.Volume

	m.SetReadyState(msg.ReadyState)
	if msg.Duration >= 0 {
		m.SetDuration(msg.Duration)
	} else {
		m.SetDuration(math.NaN())
	}
	m.SetCurrentSrc(msg.CurrentSrc)
	m.SetPosition(msg.CurrentTime)
	if m.Paused() != msg.Paused {
		if msg.Paused {
			m.Pause()
		} else {
			m.Play()
		}
	}
	m.SetMuted(msg.Muted)
	if msg.Volume >= 0 && msg.Volume <= 1 {
		m.SetVolume(msg.Volume)
	}
	if validRate(msg.Rate) && m.PlaybackRate() != msg.Rate {
		m.PageSetRate(msg.Rate)
	}

	style, _ := m.Attr("style")
	switch {
	case msg.Hidden && style != "display:none":
		m.SetAttr("style", "display:none")
	case !msg.Hidden && style != "":
		m.RemoveAttr("style")
	}
}

func (mr *Mirror) localRate(tr *tracked, ev *dom.Event) {
	if ev.Detail != nil {
		return
	}
	v := tr.m.PlaybackRate()
	if v == tr.page.rate {
		return
	}
	tr.page.rate = v
	mr.enqueue(write{id: tr.id, prop: "playbackRate", value: v})
}

func (mr *Mirror) localPaused(tr *tracked) {
	p := tr.m.Paused()
	if p == tr.page.paused {
		return
	}
	tr.page.paused = p
	mr.enqueue(write{id: tr.id, prop: "paused", value: p})
}

func (mr *Mirror) localSeek(tr *tracked) {
	cur := tr.m.CurrentTime()
	if cur == tr.page.current {
		return
	}
	tr.page.current = cur
	mr.enqueue(write{id: tr.id, prop: "currentTime", value: cur})
}

func (mr *Mirror) localVolume(tr *tracked) {
	if muted := tr.m.Muted(); muted != tr.page.muted {
		tr.page.muted = muted
		mr.enqueue(write{id: tr.id, prop: "muted", value: muted})
	}
	if vol := tr.m.Volume(); vol != tr.page.volume {
		tr.page.volume = vol
		mr.enqueue(write{id: tr.id, prop: "volume", value: vol})
	}
}

func (mr *Mirror) untrack(id string) {
	tr := mr.media[id]
	if tr == nil {
		return
	}
	delete(mr.media, id)
	tr.release()
	if err := tr.wrap.Remove(); err != nil {
		mr.logger.Debug("cdp: mirror remove", "id", id, "error", err)
	}
}

func (tr *tracked) release() {
	for _, fn := range tr.detach {
		fn()
	}
	tr.detach = nil
}

func (mr *Mirror) enqueue(w write) {
	select {
	case mr.writes <- w:
	default:
		mr.logger.Warn("cdp: write queue full, dropping", "id", w.id, "prop", w.prop)
	}
}

// Run delivers queued writes to the page until ctx is done.
func (mr *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case w := <-mr.writes:
			var err error
			if w.isKey {
				err = mr.conn.InterceptKeys(ctx, w.keys)
			} else {
				err = mr.conn.Apply(ctx, w.id, w.prop, w.value)
			}
			if err != nil && ctx.Err() == nil {
				mr.logger.Warn("cdp: page write failed", "id", w.id, "prop", w.prop, "error", err)
			}
		}
	}
}

func validRate(v float64) bool { return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0) }

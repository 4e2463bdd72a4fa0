package site

import (
	"log/slog"
	"strings"

	"github.com/hazyhaar/vscd/speedwatch/dom"
)

type candidate struct {
	match func(host string) bool
	build func(doc dom.Document, base Default) Adapter
}

// priority is the fixed resolution order. The first match wins.
var priority = []candidate{
	{
		match: func(h string) bool { return hostIs(h, "www.netflix.com") },
		build: func(doc dom.Document, base Default) Adapter { return Netflix{Default: base, doc: doc} },
	},
	{
		match: func(h string) bool { return hostIs(h, "www.youtube.com") },
		build: func(_ dom.Document, base Default) Adapter { return YouTube{Default: base} },
	},
	{
		match: func(h string) bool { return hostIs(h, "www.facebook.com") },
		build: func(_ dom.Document, base Default) Adapter { return Facebook{Default: base} },
	},
	{
		match: func(h string) bool {
			return hostIs(h, "www.amazon.com", "www.primevideo.com") ||
				strings.Contains(h, "amazon.") || strings.Contains(h, "primevideo.")
		},
		build: func(_ dom.Document, base Default) Adapter { return Amazon{Default: base} },
	},
	{
		match: func(h string) bool { return hostIs(h, "tv.apple.com") },
		build: func(_ dom.Document, base Default) Adapter { return Apple{Default: base} },
	},
}

// Resolver memoizes one adapter per document.
type Resolver struct {
	logger *slog.Logger
	doc    dom.Document
	cached Adapter
}

// NewResolver returns a Resolver for doc.
func NewResolver(doc dom.Document, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger, doc: doc}
}

// Adapter returns the memoized adapter, resolving on first use.
func (r *Resolver) Adapter() Adapter {
	if r.cached != nil {
		return r.cached
	}
	r.cached = Resolve(r.doc, r.logger)
	r.logger.Debug("site: adapter resolved", "adapter", r.cached.Name(), "host", r.doc.Hostname())
	return r.cached
}

// Refresh drops the memo, for single-page navigation.
func (r *Resolver) Refresh() { r.cached = nil }

// Resolve picks the adapter for doc without memoizing.
func Resolve(doc dom.Document, logger *slog.Logger) Adapter {
	base := Default{Logger: logger}
	host := strings.ToLower(doc.Hostname())
	for _, c := range priority {
		if c.match(host) {
			return c.build(doc, base)
		}
	}
	return base
}

package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// NavigateTimeout bounds the initial page load.
const NavigateTimeout = 30 * time.Second

// Tab is a Rod page opened for one configured page ID.
type Tab struct {
	Page    *rod.Page
	PageURL string
	PageID  string

	hijack *rod.HijackRouter
}

// Setup runs on the blank tab before navigation. Scripts registered with
// EvalOnNewDocument here are present when the first document loads.
type Setup func(page *rod.Page) error

// OpenTab creates a tab, runs setup, and navigates to pageURL.
func OpenTab(ctx context.Context, mgr *Manager, pageID, pageURL string, setup Setup) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var (
		page *rod.Page
		err  error
	)
	if mgr.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	t := &Tab{Page: page, PageURL: pageURL, PageID: pageID}
	if len(mgr.cfg.ResourceBlocking) > 0 {
		t.hijack = applyResourceBlocking(page, mgr.cfg.ResourceBlocking)
	}

	if setup != nil {
		if err := setup(page); err != nil {
			t.Close()
			return nil, fmt.Errorf("browser: setup %s: %w", pageID, err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, NavigateTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	return t, nil
}

// Close stops request interception and closes the tab.
func (t *Tab) Close() error {
	if t.hijack != nil {
		t.hijack.Stop()
		t.hijack = nil
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}

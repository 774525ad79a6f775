package worker

import (
	"encoding/json"
	"sync"

	"github.com/bdgtool/bdg/internal/cdp"
)

// frameNavigatedEvent is the subset of Page.frameNavigated's payload this
// package needs: whether the navigated frame is the top-level frame (no
// parentId) and its resulting URL, for session.meta.json updates.
type frameNavigatedEvent struct {
	Frame struct {
		ID       string `json:"id"`
		ParentID string `json:"parentId,omitempty"`
		URL      string `json:"url"`
	} `json:"frame"`
}

// NavigationTracker assigns a monotonically increasing navigationId to
// each top-frame navigation, matching spec §3.3's "monotonic integer
// assigned by worker per navigation" — kept a plain int counter rather
// than minting a uuid, since telemetry.NetworkCollector.SetNavigationID
// takes an int and every NetworkRequest.NavigationID is *int.
type NavigationTracker struct {
	mu      sync.Mutex
	current int
	onNav   func(id int, url string)
}

// NewNavigationTracker creates a tracker. onNav, if non-nil, is invoked
// (outside the tracker's lock) after each top-frame navigation is
// assigned a new id.
func NewNavigationTracker(onNav func(id int, url string)) *NavigationTracker {
	return &NavigationTracker{onNav: onNav}
}

// Current returns the most recently assigned navigation id (0 before the
// first navigation).
func (t *NavigationTracker) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// HandleFrameNavigated is a cdp.Event handler for "Page.frameNavigated".
// Sub-frame navigations (iframes, etc.) are ignored — only the top frame
// advances the counter.
func (t *NavigationTracker) HandleFrameNavigated(evt cdp.Event) {
	var parsed frameNavigatedEvent
	if err := json.Unmarshal(evt.Params, &parsed); err != nil {
		return
	}
	if parsed.Frame.ParentID != "" {
		return
	}

	t.mu.Lock()
	t.current++
	id := t.current
	t.mu.Unlock()

	if t.onNav != nil {
		t.onNav(id, parsed.Frame.URL)
	}
}
